package treemap

import "fmt"

// UpdateGaussians recomputes the factor of every node that is not
// IsGaussianValid, bottom up.
func (tm *Treemap) UpdateGaussians() error {
	if tm.opt.phase != PhaseIdle {
		return ErrOptimizing
	}
	if tm.root == noNode {
		return nil
	}
	tm.UpdateFeaturePassed()
	return tm.updateGaussian(tm.root)
}

func (tm *Treemap) updateGaussian(i int) error {
	n := tm.nodes[i]
	if n.status&IsGaussianValid != 0 {
		return nil
	}
	var joint Gaussian
	if n.IsLeaf() {
		joint = tm.leafFactor(n)
	} else {
		for _, c := range n.child {
			if err := tm.updateGaussian(c); err != nil {
				return err
			}
		}
		l, r := tm.nodes[n.child[0]], tm.nodes[n.child[1]]
		joint = l.gaussian.Marginal(len(l.passed)).Multiply(r.gaussian.Marginal(len(r.passed)))
	}
	g, err := joint.MarginalizeAndCondition(nil, n.marginalized, n.FeaturesPassed())
	if err != nil {
		return fmt.Errorf("treemap: update node %d: %w", i, err)
	}
	n.gaussian = g
	n.status |= IsGaussianValid
	tm.stats.gaussianUpdates++
	tm.stats.accumulatedUpdateCost += n.updateCost
	return nil
}

// leafFactor returns the factor of a leaf, rotated to the current estimate
// of its linearization point when the policy supports rotation.
func (tm *Treemap) leafFactor(n *Node) Gaussian {
	id, point, ok := n.original.LinearizationPoint()
	if !ok || len(point) == 0 || !tm.features.valid(id) {
		return n.original
	}
	f := tm.features.at(id)
	angle := f.Estimate - point[0]
	if f.Flags&FeatureHasLinearizationPoint == 0 || angle == 0 {
		return n.original
	}
	g, rotated := tm.policy.RotateGaussian(n.original, angle)
	if !rotated {
		return n.original
	}
	k := min(tm.policy.NrOfLinearizationPointFeatures(id), len(point))
	values := make([]float64, k)
	for j := range values {
		if tm.features.valid(id + j) {
			values[j] = tm.features.at(id + j).Estimate
		}
	}
	g.SetLinearizationPoint(id, values)
	n.original = g
	return g
}

// UpdateGaussiansCost returns the modelled cost UpdateGaussians would
// spend right now.
func (tm *Treemap) UpdateGaussiansCost() float64 {
	tm.UpdateFeaturePassed()
	sum := 0.0
	for _, n := range tm.nodes {
		if n != nil && n.status&IsGaussianValid == 0 {
			sum += n.updateCost
		}
	}
	return sum
}

// ComputeLinearEstimate brings all factors up to date and propagates
// estimates from the root to the leaves. Nodes flagged DontUpdateEstimate
// are skipped together with their subtrees.
func (tm *Treemap) ComputeLinearEstimate() error {
	if err := tm.UpdateGaussians(); err != nil {
		return err
	}
	if tm.root == noNode {
		tm.estimateValid = true
		return nil
	}
	complete := true
	if err := tm.recursiveEstimate(tm.root, &complete); err != nil {
		return err
	}
	tm.estimateValid = complete
	return nil
}

func (tm *Treemap) recursiveEstimate(i int, complete *bool) error {
	n := tm.nodes[i]
	if n.status&DontUpdateEstimate != 0 {
		*complete = false
		return nil
	}
	if n.parent == noNode {
		values, err := n.gaussian.Mean(nil)
		if err != nil {
			return fmt.Errorf("treemap: estimate at root %d: %w", i, err)
		}
		for k, id := range n.marginalized {
			tm.features.at(id).Estimate = values[k]
		}
		for k, pf := range n.passed {
			f := tm.features.at(pf.id)
			f.Estimate = values[len(n.marginalized)+k]
			f.Flags |= FeatureHasLinearizationPoint
		}
	} else if len(n.marginalized) > 0 {
		given := make([]float64, len(n.passed))
		for k, pf := range n.passed {
			given[k] = tm.features.at(pf.id).Estimate
		}
		values, err := n.gaussian.Mean(given)
		if err != nil {
			return fmt.Errorf("treemap: estimate at node %d: %w", i, err)
		}
		for k, id := range n.marginalized {
			tm.features.at(id).Estimate = values[k]
		}
	}
	for _, id := range n.marginalized {
		tm.features.at(id).Flags |= FeatureHasLinearizationPoint
	}
	if n.IsLeaf() {
		return nil
	}
	for _, c := range n.child {
		if err := tm.recursiveEstimate(c, complete); err != nil {
			return err
		}
	}
	return nil
}

// FullRecompute discards every cached list and factor and recomputes the
// estimate from scratch.
func (tm *Treemap) FullRecompute() error {
	for _, n := range tm.nodes {
		if n != nil {
			n.status &^= IsFeaturePassedValid | IsGaussianValid
		}
	}
	tm.estimateValid = false
	return tm.ComputeLinearEstimate()
}

// ComputeNonlinearEstimate delegates to the policy. BasePolicy computes
// the linear estimate.
func (tm *Treemap) ComputeNonlinearEstimate() error {
	return tm.policy.ComputeNonlinearEstimate(tm)
}

// OnlyUpdateEstimatesFor restricts estimate propagation to the nodes needed
// for features [from, to): the paths from their marginalization nodes to
// the root. UpdateAllEstimates lifts the restriction.
func (tm *Treemap) OnlyUpdateEstimatesFor(from, to FeatureID) {
	tm.UpdateFeaturePassed()
	for _, n := range tm.nodes {
		if n != nil {
			n.status |= DontUpdateEstimate
		}
	}
	for id := from; id < to; id++ {
		if !tm.features.valid(id) {
			continue
		}
		for i := tm.features.at(id).marginalizationNode; i != noNode; i = tm.nodes[i].parent {
			n := tm.nodes[i]
			if n.status&DontUpdateEstimate == 0 {
				break
			}
			n.status &^= DontUpdateEstimate
		}
	}
}

// UpdateAllEstimates clears DontUpdateEstimate everywhere.
func (tm *Treemap) UpdateAllEstimates() {
	for _, n := range tm.nodes {
		if n != nil {
			n.status &^= DontUpdateEstimate
		}
	}
}

// ComputeEstimateByQR solves the whole problem with one elimination of the
// product of all leaf factors. It is slow and meant for checking the tree
// estimate. The stored estimates are not changed.
func (tm *Treemap) ComputeEstimateByQR() (map[FeatureID]float64, error) {
	leaves := tm.Leaves()
	if len(leaves) == 0 {
		return nil, ErrEmpty
	}
	joint := tm.nodes[leaves[0]].original
	for _, l := range leaves[1:] {
		joint = joint.Multiply(tm.nodes[l].original)
	}
	ids := sortedIDs(joint.Features())
	g, err := joint.MarginalizeAndCondition(nil, ids, nil)
	if err != nil {
		return nil, fmt.Errorf("treemap: estimate by QR: %w", err)
	}
	values, err := g.Mean(nil)
	if err != nil {
		return nil, fmt.Errorf("treemap: estimate by QR: %w", err)
	}
	out := make(map[FeatureID]float64, len(ids))
	for k, id := range ids {
		out[id] = values[k]
	}
	return out, nil
}
