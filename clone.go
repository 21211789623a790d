package treemap

// Clone returns an independent deep copy of the treemap, sharing only the
// policy and logger. Marginalization nodes are arena indices and so refer
// to the copy's own nodes.
func (tm *Treemap) Clone() *Treemap {
	tm.requireIdle("Clone")
	c := &Treemap{
		cfg:           tm.cfg,
		cost:          tm.cost,
		policy:        tm.policy,
		log:           tm.log,
		nodes:         make([]*Node, len(tm.nodes)),
		unusedNodes:   append([]int(nil), tm.unusedNodes...),
		root:          tm.root,
		features:      tm.features.clone(),
		estimateValid: tm.estimateValid,
		stats:         tm.stats,
	}
	c.stats.htp = append([]HTPEntry(nil), tm.stats.htp...)
	for i, n := range tm.nodes {
		if n != nil {
			c.nodes[i] = n.clone()
		}
	}
	c.opt.reset()
	c.opt.queue = append([]int(nil), tm.opt.queue...)
	return c
}
