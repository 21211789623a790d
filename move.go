package treemap

import (
	"fmt"
	"math"
)

// Move is a candidate tree edit found by the optimizer: put Subtree next
// to Above, and with Join set also fuse the two into one leaf.
type Move struct {
	Subtree int
	Above   int
	Join    bool

	// Cost is the worst-case update cost of the optimized node after the
	// move, LCACost that of the new common parent of Subtree and Above.
	Cost    float64
	LCACost float64
}

// EmptyMove returns the "no move" sentinel.
func EmptyMove() Move {
	return Move{Subtree: noNode, Above: noNode, Cost: math.Inf(1), LCACost: math.Inf(1)}
}

// IsEmpty reports whether m is the sentinel.
func (m Move) IsEmpty() bool { return m.Above == noNode }

func (m Move) betterThan(o Move) bool {
	return m.Cost < o.Cost || (m.Cost == o.Cost && m.LCACost < o.LCACost)
}

func (m Move) String() string {
	if m.IsEmpty() {
		return "no move"
	}
	op := "move"
	if m.Join {
		op = "join"
	}
	return fmt.Sprintf("%s %d above %d (cost %g)", op, m.Subtree, m.Above, m.Cost)
}

type editState uint8

const (
	editPending editState = iota
	editTried
	editDone
	editUndone
)

// Relocation moves a subtree next to another node. Its parent p travels
// with it: the subtree's old sibling takes p's place and p is inserted
// above the target with the subtree in its old child slot. A relocation
// can be undone as long as the subtree is still the target's sibling.
type Relocation struct {
	tm      *Treemap
	subtree int
	above   int

	oldAbove int
	slot     int
	state    editState

	// movable is the CanBeMoved bit of the subtree before TryIt.
	movable bool
}

// Relocate prepares moving subtree next to above. It panics if subtree is
// the root or above lies inside the moved part of the tree.
func (tm *Treemap) Relocate(subtree, above int) *Relocation {
	s := tm.node(subtree)
	tm.node(above)
	if s.parent == noNode {
		panicf("cannot relocate the root %d", subtree)
	}
	if above == subtree || above == s.parent || tm.isAncestor(subtree, above) {
		panicf("cannot relocate %d above %d", subtree, above)
	}
	return &Relocation{tm: tm, subtree: subtree, above: above, oldAbove: noNode}
}

// Subtree is the relocated node.
func (r *Relocation) Subtree() int { return r.subtree }

// Above is the node the subtree is moved next to.
func (r *Relocation) Above() int { return r.above }

// TryIt applies the relocation for evaluation. Only IsFeaturePassedValid is
// cleared so the factors survive a later UndoIt. The subtree is not
// movable until undone.
func (r *Relocation) TryIt() {
	if r.state != editPending && r.state != editUndone {
		panicf("relocation of %d applied twice", r.subtree)
	}
	r.apply(IsFeaturePassedValid)
	s := r.tm.nodes[r.subtree]
	r.movable = s.status&CanBeMoved != 0
	s.status &^= CanBeMoved
	r.state = editTried
}

// DoIt applies the relocation for good.
func (r *Relocation) DoIt() {
	if r.state != editPending && r.state != editUndone {
		panicf("relocation of %d applied twice", r.subtree)
	}
	r.apply(IsFeaturePassedValid | IsGaussianValid)
	r.state = editDone
}

// UndoIt restores the adjacency from before TryIt or DoIt.
func (r *Relocation) UndoIt() {
	if r.state != editTried && r.state != editDone {
		panicf("relocation of %d undone without being applied", r.subtree)
	}
	flags := IsFeaturePassedValid
	if r.state == editDone {
		flags |= IsGaussianValid
	}
	r.revert(flags)
	if r.state == editTried && r.movable {
		r.tm.nodes[r.subtree].status |= CanBeMoved
	}
	r.state = editUndone
}

func (r *Relocation) apply(flags Status) {
	tm := r.tm
	p := tm.nodes[r.subtree].parent
	pn := tm.nodes[p]
	r.slot = pn.slotOf(r.subtree)
	r.oldAbove = pn.child[1-r.slot]

	g := pn.parent
	tm.replaceChild(g, p, r.oldAbove)
	tp := tm.nodes[r.above].parent
	tm.replaceChild(tp, r.above, p)
	pn.child[1-r.slot] = r.above
	tm.nodes[r.above].parent = p

	r.touch(g, r.oldAbove, p, flags)
}

func (r *Relocation) revert(flags Status) {
	tm := r.tm
	p := tm.nodes[r.subtree].parent
	pn := tm.nodes[p]
	if pn.child[r.slot] != r.subtree || pn.child[1-r.slot] != r.above {
		panicf("relocation of %d cannot be undone: %d is no longer its sibling", r.subtree, r.above)
	}

	tp := pn.parent
	tm.replaceChild(tp, p, r.above)
	g := tm.nodes[r.oldAbove].parent
	tm.replaceChild(g, r.oldAbove, p)
	pn.child[1-r.slot] = r.oldAbove
	tm.nodes[r.oldAbove].parent = p

	r.touch(tp, r.above, p, flags)
}

// touch invalidates both places the edit changed. left is the node that
// lost a child (or -1 when filler became the root), p the moved parent.
func (r *Relocation) touch(left, filler, p int, flags Status) {
	tm := r.tm
	if left != noNode {
		tm.resetFlagUpToRoot(left, flags)
	} else {
		tm.resetFlagUpToRoot(filler, flags)
	}
	tm.resetFlagUpToRoot(p, flags)
	if flags&IsGaussianValid != 0 {
		tm.deoptimizeUpToRoot(left)
		tm.deoptimizeUpToRoot(p)
	}
}

// Fusion moves one leaf next to another and joins both into a single leaf.
// It cannot be undone.
type Fusion struct {
	rel  *Relocation
	done bool
}

// Fuse prepares fusing leaf subtree with leaf above. Both must be
// CanBeIntegrated leaves.
func (tm *Treemap) Fuse(subtree, above int) *Fusion {
	for _, i := range []int{subtree, above} {
		n := tm.node(i)
		if !n.IsLeaf() || !n.Is(CanBeIntegrated) {
			panicf("node %d is not an integrable leaf", i)
		}
	}
	return &Fusion{rel: tm.Relocate(subtree, above)}
}

// DoIt relocates and joins. It returns the new leaf. If the join fails the
// relocation is undone and the tree is left as before.
func (f *Fusion) DoIt() (int, error) {
	if f.done {
		panicf("fusion of %d applied twice", f.rel.subtree)
	}
	tm := f.rel.tm
	f.rel.DoIt()
	leaf, err := tm.JoinSubtree(tm.nodes[f.rel.subtree].parent)
	if err != nil {
		f.rel.UndoIt()
		return noNode, err
	}
	f.done = true
	return leaf, nil
}
