package treemap

import "math"

// OptimalKLStep finds the best single move of a subtree from one side of
// lca to the other. Moves are scored by the worst-case update cost of lca,
// or of the node replacing lca when the moved subtree is one of its
// children. Only movable nodes sharing features with the other side are
// considered, and only targets sharing features with the moved subtree.
// Fusions of two integrable leaves compete too, but only if their cost is
// below joinOnlyBelow. The tree is left unchanged.
func (tm *Treemap) OptimalKLStep(lca int, joinOnlyBelow float64) Move {
	best := EmptyMove()
	n := tm.node(lca)
	if n.IsLeaf() {
		return best
	}
	children := n.child
	for side := 0; side < 2; side++ {
		tm.recursiveOptimalKL(lca, children[side], children[1-side], joinOnlyBelow, &best)
	}
	return best
}

// recursiveOptimalKL tries every movable node below subtree that shares a
// feature with the other side of lca.
func (tm *Treemap) recursiveOptimalKL(lca, subtree, otherSide int, joinOnlyBelow float64, best *Move) {
	if !tm.shares(subtree, otherSide) {
		return
	}
	n := tm.nodes[subtree]
	if n.Is(CanBeMoved) {
		tm.recursiveOptimalDescend(lca, subtree, otherSide, joinOnlyBelow, best)
	}
	if n.IsLeaf() {
		return
	}
	children := n.child
	for _, c := range children {
		tm.recursiveOptimalKL(lca, c, otherSide, joinOnlyBelow, best)
	}
}

// recursiveOptimalDescend evaluates moving subtree next to target and then
// next to target's children, as long as they share features with subtree
// and the cost does not exceed the best found so far.
func (tm *Treemap) recursiveOptimalDescend(lca, subtree, target int, joinOnlyBelow float64, best *Move) {
	if !tm.shares(subtree, target) {
		return
	}
	t := tm.nodes[target]
	cost := math.Inf(-1)
	if target != tm.sibling(subtree) {
		mv := tm.evaluateMove(lca, subtree, target, false)
		if mv.betterThan(*best) {
			*best = mv
		}
		cost = mv.Cost
		if t.IsLeaf() && tm.nodes[subtree].IsLeaf() &&
			t.Is(CanBeIntegrated) && tm.nodes[subtree].Is(CanBeIntegrated) {
			jm := tm.evaluateMove(lca, subtree, target, true)
			if jm.Cost < joinOnlyBelow && jm.betterThan(*best) {
				*best = jm
			}
		}
	}
	if t.IsLeaf() || cost > best.Cost {
		return
	}
	children := t.child
	for _, c := range children {
		tm.recursiveOptimalDescend(lca, subtree, c, joinOnlyBelow, best)
	}
}

// evaluateMove applies the move tentatively, reads the resulting cost and
// restores the tree.
func (tm *Treemap) evaluateMove(lca, subtree, target int, join bool) Move {
	scored := lca
	if tm.nodes[subtree].parent == lca {
		scored = tm.sibling(subtree)
	}
	before := tm.stats.passedCost
	rel := tm.Relocate(subtree, target)
	rel.apply(IsFeaturePassedValid)
	p := tm.nodes[subtree].parent

	mv := Move{Subtree: subtree, Above: target, Join: join}
	if join {
		mv.Cost, mv.LCACost = tm.joinedWorstCase(p, scored)
	} else {
		mv.Cost = tm.worstCase(scored)
		mv.LCACost = tm.nodes[p].worstCaseUpdateCost
	}
	rel.revert(IsFeaturePassedValid)
	tm.stats.klEvaluations++
	tm.stats.optimizationCost += tm.stats.passedCost - before
	return mv
}

// joinedWorstCase returns the worst-case cost of scored if node p were
// joined into one leaf, together with the cost of that leaf.
func (tm *Treemap) joinedWorstCase(p, scored int) (float64, float64) {
	tm.worstCase(scored)
	leafCost := tm.cost.at(tm.joinedFeatures(p))
	wc := leafCost
	for i := p; i != scored; {
		parent := tm.nodes[i].parent
		pn := tm.nodes[parent]
		other := pn.child[1-pn.slotOf(i)]
		wc = pn.updateCost + max(wc, tm.nodes[other].worstCaseUpdateCost)
		i = parent
	}
	return wc, leafCost
}

// insertOptimally moves a freshly added leaf, which hangs next to the old
// root, to the place below the root that minimizes the root's worst-case
// update cost.
func (tm *Treemap) insertOptimally(leaf int) {
	root := tm.nodes[leaf].parent
	oldRoot := tm.sibling(leaf)
	stay := tm.worstCase(root)
	best := Move{Subtree: leaf, Above: noNode, Cost: stay, LCACost: stay}
	if !tm.nodes[oldRoot].IsLeaf() {
		children := tm.nodes[oldRoot].child
		for _, c := range children {
			tm.recursiveOptimalDescend(root, leaf, c, math.Inf(-1), &best)
		}
	}
	if best.IsEmpty() {
		return
	}
	tm.Relocate(leaf, best.Above).DoIt()
}
