package treemap

import "fmt"

// CheckInvariants verifies the structure of the tree, the feature
// bookkeeping and the upward closure of the validity flags. It is meant
// for tests and debugging and costs O(nodes + features).
func (tm *Treemap) CheckInvariants() error {
	if err := tm.checkStructure(); err != nil {
		return err
	}
	if err := tm.checkFlags(); err != nil {
		return err
	}
	return tm.checkFeatures()
}

func (tm *Treemap) checkStructure() error {
	for _, i := range tm.unusedNodes {
		if tm.nodes[i] != nil {
			return fmt.Errorf("%w: unused slot %d holds a node", ErrBrokenStructure, i)
		}
	}
	if tm.root == noNode {
		if tm.NrOfNodes() != 0 {
			return fmt.Errorf("%w: %d nodes but no root", ErrBrokenStructure, tm.NrOfNodes())
		}
		return nil
	}
	if r := tm.Node(tm.root); r == nil || r.parent != noNode {
		return fmt.Errorf("%w: root %d is missing or has a parent", ErrBrokenStructure, tm.root)
	}
	reached := 0
	var walk func(i int) error
	walk = func(i int) error {
		n := tm.Node(i)
		if n == nil {
			return fmt.Errorf("%w: dangling index %d", ErrBrokenStructure, i)
		}
		if n.index != i {
			return fmt.Errorf("%w: node %d stores index %d", ErrBrokenStructure, i, n.index)
		}
		reached++
		if n.IsLeaf() {
			if n.child[1] != noNode || n.original == nil {
				return fmt.Errorf("%w: malformed leaf %d", ErrBrokenStructure, i)
			}
			return nil
		}
		for _, c := range n.child {
			cn := tm.Node(c)
			if cn == nil || cn.parent != i {
				return fmt.Errorf("%w: child %d of %d does not point back", ErrBrokenStructure, c, i)
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(tm.root); err != nil {
		return err
	}
	if reached != tm.NrOfNodes() {
		return fmt.Errorf("%w: %d nodes reachable, %d allocated", ErrBrokenStructure, reached, tm.NrOfNodes())
	}
	return nil
}

func (tm *Treemap) checkFlags() error {
	for i, n := range tm.nodes {
		if n == nil || n.parent == noNode {
			continue
		}
		p := tm.nodes[n.parent]
		for _, flag := range []Status{IsFeaturePassedValid, IsGaussianValid} {
			if n.status&flag == 0 && p.status&flag != 0 {
				return fmt.Errorf("%w: node %d clear, parent %d set (%b)", ErrBrokenFlags, i, n.parent, flag)
			}
		}
	}
	return nil
}

func (tm *Treemap) checkFeatures() error {
	if !tm.features.check() {
		return fmt.Errorf("%w: free sets disagree with live ids", ErrBrokenFeatures)
	}
	counts := make(map[FeatureID]int)
	for i, n := range tm.nodes {
		if n == nil || !n.IsLeaf() {
			continue
		}
		for _, pf := range leafInvolvement(n.original.Features()) {
			if !tm.features.valid(pf.id) {
				return fmt.Errorf("%w: leaf %d involves dead feature %d", ErrBrokenFeatures, i, pf.id)
			}
			counts[pf.id]++
		}
	}
	rootValid := tm.root != noNode && tm.nodes[tm.root].Is(IsFeaturePassedValid)
	for id := range tm.features.feature {
		f := &tm.features.feature[id]
		if !f.live {
			continue
		}
		if f.count != counts[id] {
			return fmt.Errorf("%w: feature %d counted %d, involved in %d leaves", ErrBrokenFeatures, id, f.count, counts[id])
		}
		if !rootValid || f.count == 0 {
			continue
		}
		m := tm.Node(f.marginalizationNode)
		if m == nil {
			return fmt.Errorf("%w: feature %d has no marginalization node", ErrBrokenFeatures, id)
		}
		resolved := involves(m.marginalized, id) || (m.parent == noNode && m.passes(id))
		if !resolved {
			return fmt.Errorf("%w: feature %d not resolved at node %d", ErrBrokenFeatures, id, f.marginalizationNode)
		}
	}
	return nil
}
