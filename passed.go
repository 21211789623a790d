package treemap

import "sort"

// UpdateFeaturePassed recomputes the passed and marginalized feature lists
// and the cached costs of every node that is not IsFeaturePassedValid.
func (tm *Treemap) UpdateFeaturePassed() {
	if tm.root != noNode {
		tm.updateFeaturePassed(tm.root)
	}
}

func (tm *Treemap) updateFeaturePassed(i int) {
	n := tm.nodes[i]
	if n.status&IsFeaturePassedValid != 0 {
		return
	}
	var involved []passedFeature
	wc := 0.0
	if n.IsLeaf() {
		involved = leafInvolvement(n.original.Features())
	} else {
		for _, c := range n.child {
			tm.updateFeaturePassed(c)
			wc = max(wc, tm.nodes[c].worstCaseUpdateCost)
		}
		involved = mergePassed(tm.nodes[n.child[0]].passed, tm.nodes[n.child[1]].passed)
	}

	n.passed = n.passed[:0]
	n.marginalized = n.marginalized[:0]
	for _, pf := range involved {
		f := tm.features.at(pf.id)
		if pf.count >= f.count && f.Flags.resolvable() {
			n.marginalized = append(n.marginalized, pf.id)
			f.marginalizationNode = i
			continue
		}
		n.passed = append(n.passed, pf)
	}
	if n.parent == noNode {
		for _, pf := range n.passed {
			tm.features.at(pf.id).marginalizationNode = i
		}
	}
	n.nInvolved = len(involved)
	n.updateCost = tm.cost.at(n.nInvolved)
	tm.stats.passedCost += n.updateCost
	n.worstCaseUpdateCost = n.updateCost + wc
	n.status |= IsFeaturePassedValid
}

// worstCase returns the worst-case update cost of node i, recomputing
// what is stale below it.
func (tm *Treemap) worstCase(i int) float64 {
	tm.updateFeaturePassed(i)
	return tm.nodes[i].worstCaseUpdateCost
}

// shares reports whether nodes a and b pass a common feature.
func (tm *Treemap) shares(a, b int) bool {
	tm.updateFeaturePassed(a)
	tm.updateFeaturePassed(b)
	return sharesPassed(tm.nodes[a].passed, tm.nodes[b].passed)
}

// FindLeavesInvolving returns the leaves whose original factor involves id,
// in tree order. It descends from the marginalization node of id through
// the nodes that pass it.
func (tm *Treemap) FindLeavesInvolving(id FeatureID) []int {
	tm.UpdateFeaturePassed()
	f := tm.features.at(id)
	if f.count == 0 || f.marginalizationNode == noNode {
		return nil
	}
	var out []int
	tm.collectLeaves(f.marginalizationNode, id, &out)
	return out
}

func (tm *Treemap) collectLeaves(i int, id FeatureID, out *[]int) {
	n := tm.nodes[i]
	if n.IsLeaf() {
		if involves(n.original.Features(), id) {
			*out = append(*out, i)
		}
		return
	}
	for _, c := range n.child {
		if cn := tm.nodes[c]; cn.passes(id) {
			tm.collectLeaves(c, id, out)
		}
	}
}

func involves(ids []FeatureID, id FeatureID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// involvedBelow counts, for every feature, the leaves below i that involve
// it. The result is ascending by id.
func (tm *Treemap) involvedBelow(i int) []passedFeature {
	n := tm.nodes[i]
	if n.IsLeaf() {
		return leafInvolvement(n.original.Features())
	}
	return mergePassed(tm.involvedBelow(n.child[0]), tm.involvedBelow(n.child[1]))
}

func sortedIDs(ids []FeatureID) []FeatureID {
	out := append([]FeatureID(nil), ids...)
	sort.Ints(out)
	return out
}
