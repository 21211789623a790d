package treemap

import "fmt"

// joinPlan is the partition of the features below a subtree when it is
// joined into one leaf.
type joinPlan struct {
	involved []passedFeature
	discard  []FeatureID
	retain   []FeatureID
	pass     []FeatureID
}

// planJoin partitions the features below subtree. A feature is discarded
// if it is local and may be marginalized out, or flagged for
// sparsification; retained if local and resolvable; passed otherwise.
func (tm *Treemap) planJoin(subtree int) joinPlan {
	plan := joinPlan{involved: tm.involvedBelow(subtree)}
	for _, pf := range plan.involved {
		f := tm.features.at(pf.id)
		local := pf.count >= f.count
		switch {
		case local && f.Flags&FeatureCanBeMarginalizedOut != 0,
			f.Flags&FeatureCanBeSparsified != 0:
			plan.discard = append(plan.discard, pf.id)
		case local && f.Flags.resolvable():
			plan.retain = append(plan.retain, pf.id)
		default:
			plan.pass = append(plan.pass, pf.id)
		}
	}
	return plan
}

// CostOfJoining returns the update cost subtree would have as one joined
// leaf.
func (tm *Treemap) CostOfJoining(subtree int) float64 {
	tm.node(subtree)
	return tm.cost.at(tm.joinedFeatures(subtree))
}

// joinedFeatures is the number of features the leaf replacing subtree
// would carry.
func (tm *Treemap) joinedFeatures(subtree int) int {
	plan := tm.planJoin(subtree)
	return len(plan.retain) + len(plan.pass)
}

// JoinSubtree replaces subtree by a single leaf holding the product of all
// original factors below it, with the discardable features integrated
// out. Every leaf below subtree must be CanBeIntegrated. Discarded local
// features are freed; discarded shared ones are reported to the policy.
// Returns the new leaf.
func (tm *Treemap) JoinSubtree(subtree int) (int, error) {
	if !tm.integrable(subtree) {
		return noNode, ErrNotIntegrable
	}
	tm.UpdateFeaturePassed()
	plan := tm.planJoin(subtree)

	var joint Gaussian
	tm.visitLeaves(subtree, func(n *Node) {
		if joint == nil {
			joint = n.original
		} else {
			joint = joint.Multiply(n.original)
		}
	})
	g, err := joint.MarginalizeAndCondition(plan.discard, plan.retain, plan.pass)
	if err != nil {
		return noNode, fmt.Errorf("treemap: join %d: %w", subtree, err)
	}

	// Leaves outside the subtree that still involve a sparsified feature:
	// the node resolving it may move down once the subtree stops referring
	// to it.
	var elsewhere []int
	sparsified := make(map[FeatureID]bool)
	for _, id := range plan.discard {
		if f := tm.features.at(id); f.Flags&FeatureCanBeSparsified != 0 && !tm.isLocal(plan, id) {
			sparsified[id] = true
			for _, l := range tm.FindLeavesInvolving(id) {
				if l != subtree && !tm.isAncestor(subtree, l) {
					elsewhere = append(elsewhere, l)
				}
			}
		}
	}

	parent := tm.nodes[subtree].parent
	tm.invalidate(parent)
	tm.deleteSubtree(subtree)

	leaf := tm.newNode()
	leaf.original = g
	leaf.status = CanBeIntegrated | CanBeMoved | IsOptimized
	if parent == noNode {
		tm.root = leaf.index
	} else {
		pn := tm.nodes[parent]
		if pn.child[0] == subtree {
			pn.child[0] = leaf.index
		} else {
			pn.child[1] = leaf.index
		}
		leaf.parent = parent
	}

	for _, pf := range plan.involved {
		f := tm.features.at(pf.id)
		f.marginalizationNode = noNode
		f.count -= pf.count
	}
	for _, id := range plan.retain {
		tm.features.at(id).count++
	}
	for _, id := range plan.pass {
		tm.features.at(id).count++
	}
	for _, id := range plan.discard {
		if tm.features.at(id).count == 0 {
			tm.features.release(id)
			continue
		}
		if sparsified[id] {
			tm.policy.HasBeenSparsifiedOut(tm, id)
		}
	}
	for _, l := range elsewhere {
		tm.invalidate(tm.nodes[l].parent)
	}
	tm.invalidate(leaf.index)
	tm.stats.joins++

	tm.log.Debug("treemap: joined subtree",
		"subtree", subtree,
		"leaf", leaf.index,
		"discarded", len(plan.discard),
		"retained", len(plan.retain),
		"passed", len(plan.pass))
	return leaf.index, nil
}

func (tm *Treemap) isLocal(plan joinPlan, id FeatureID) bool {
	for _, pf := range plan.involved {
		if pf.id == id {
			return pf.count >= tm.features.at(id).count
		}
	}
	return false
}

func (tm *Treemap) integrable(subtree int) bool {
	ok := true
	tm.visitLeaves(subtree, func(n *Node) {
		ok = ok && n.Is(CanBeIntegrated)
	})
	return ok
}

func (tm *Treemap) visitLeaves(i int, fn func(*Node)) {
	n := tm.node(i)
	if n.IsLeaf() {
		fn(n)
		return
	}
	tm.visitLeaves(n.child[0], fn)
	tm.visitLeaves(n.child[1], fn)
}

func (tm *Treemap) deleteSubtree(i int) {
	n := tm.nodes[i]
	if !n.IsLeaf() {
		tm.deleteSubtree(n.child[0])
		tm.deleteSubtree(n.child[1])
	}
	tm.deleteNode(i)
}

// SparsifyOut permanently removes features [id, id+n) from the
// representation, trading information for sparsity: every leaf involving
// id is joined with the features discarded. Every feature must be live,
// FeatureCanBeMarginalizedOut and accepted by Policy.CanBeSparsifiedOut;
// otherwise SparsifyOut panics before changing anything.
func (tm *Treemap) SparsifyOut(id FeatureID, n int) error {
	tm.requireIdle("SparsifyOut")
	for k := id; k < id+n; k++ {
		f := tm.features.at(k)
		if f.Flags&FeatureCanBeMarginalizedOut == 0 {
			panicf("feature %d cannot be marginalized out", k)
		}
		if !tm.policy.CanBeSparsifiedOut(tm, k) {
			panicf("feature %d cannot be sparsified out", k)
		}
	}
	leaves := tm.FindLeavesInvolving(id)
	for _, l := range leaves {
		if !tm.nodes[l].Is(CanBeIntegrated) {
			panicf("leaf %d involving feature %d cannot be integrated", l, id)
		}
	}
	for k := id; k < id+n; k++ {
		tm.features.at(k).Flags |= FeatureCanBeSparsified
	}
	for _, l := range leaves {
		if _, err := tm.JoinSubtree(l); err != nil {
			return err
		}
	}
	tm.log.Debug("treemap: sparsified out", "feature", id, "n", n, "leaves", len(leaves))
	return nil
}

// FeaturePair names two ids that turned out to be the same feature.
type FeaturePair struct {
	Old FeatureID
	New FeatureID
}

// IdentifyFeatures closes loops found late: every occurrence of Old is
// replaced by New in all leaves and Old is freed.
func (tm *Treemap) IdentifyFeatures(pairs []FeaturePair) {
	tm.requireIdle("IdentifyFeatures")
	for _, p := range pairs {
		if p.Old == p.New {
			continue
		}
		tm.features.at(p.New)
		leaves := tm.FindLeavesInvolving(p.Old)
		oldNode := tm.features.at(p.Old).marginalizationNode
		newNode := tm.features.at(p.New).marginalizationNode
		for _, l := range leaves {
			n := tm.nodes[l]
			if !involves(n.original.Features(), p.New) {
				tm.features.at(p.New).count++
			}
			n.original = n.original.Rename(p.Old, p.New)
			tm.invalidate(l)
		}
		tm.invalidate(oldNode)
		tm.invalidate(newNode)
		old := tm.features.at(p.Old)
		old.count = 0
		tm.features.release(p.Old)
	}
}
