package treemap

// HTPEntry counts how often the i-th KL step after the last improvement
// succeeded or failed.
type HTPEntry struct {
	Success   int `yaml:"success"`
	NoSuccess int `yaml:"no_success"`
}

// Statistics describes the operation of a treemap since it was created or
// last cleared.
type Statistics struct {
	Nodes           int `yaml:"nodes"`
	Leaves          int `yaml:"leaves"`
	NodesToOptimize int `yaml:"nodes_to_optimize"`
	LiveFeatures    int `yaml:"live_features"`
	FeatureIDs      int `yaml:"feature_ids"`
	Height          int `yaml:"height"`
	LeavesAdded     int `yaml:"leaves_added"`
	Joins           int `yaml:"joins"`
	GaussianUpdates int `yaml:"gaussian_updates"`
	KLEvaluations   int `yaml:"kl_evaluations"`
	OptimizerRuns   int `yaml:"optimizer_runs"`
	AcceptedRuns    int `yaml:"accepted_runs"`

	// AccumulatedUpdateCost is the modelled cost of all Gaussian updates.
	AccumulatedUpdateCost float64 `yaml:"accumulated_update_cost"`

	// AccumulatedOptimizationCost is the modelled cost of the passed lists
	// recomputed while evaluating candidate moves.
	AccumulatedOptimizationCost float64 `yaml:"accumulated_optimization_cost"`

	// RootWorstCaseCost is the worst-case update cost of the whole tree.
	RootWorstCaseCost float64 `yaml:"root_worst_case_cost"`

	// HTP[i] counts the outcomes of the i-th KL step of a run.
	HTP []HTPEntry `yaml:"htp"`
}

// OptimizationCondProb is the observed probability that a run still finds
// an improvement after n unsuccessful KL steps. It returns 0 if no run got
// that far.
func (s *Statistics) OptimizationCondProb(n int) float64 {
	if n < 0 || n >= len(s.HTP) {
		return 0
	}
	reached := s.HTP[n].Success + s.HTP[n].NoSuccess
	if reached == 0 {
		return 0
	}
	succeeded := 0
	for _, e := range s.HTP[n:] {
		succeeded += e.Success
	}
	return float64(succeeded) / float64(reached)
}

type counters struct {
	leavesAdded           int
	joins                 int
	gaussianUpdates       int
	klEvaluations         int
	runs                  int
	acceptedRuns          int
	accumulatedUpdateCost float64
	optimizationCost      float64
	passedCost            float64
	htp                   []HTPEntry
}

// recordRun books a run that tried n KL steps.
func (c *counters) recordRun(n int, success bool) {
	c.runs++
	if success {
		c.acceptedRuns++
	}
	for len(c.htp) < n {
		c.htp = append(c.htp, HTPEntry{})
	}
	for i := 0; i < n; i++ {
		if success && i == n-1 {
			c.htp[i].Success++
		} else {
			c.htp[i].NoSuccess++
		}
	}
}

// Statistics computes the current statistics.
func (tm *Treemap) Statistics() Statistics {
	s := Statistics{
		Nodes:                       tm.NrOfNodes(),
		Leaves:                      len(tm.Leaves()),
		NodesToOptimize:             len(tm.opt.queue),
		LiveFeatures:                tm.features.nLive,
		FeatureIDs:                  len(tm.features.feature),
		LeavesAdded:                 tm.stats.leavesAdded,
		Joins:                       tm.stats.joins,
		GaussianUpdates:             tm.stats.gaussianUpdates,
		KLEvaluations:               tm.stats.klEvaluations,
		OptimizerRuns:               tm.stats.runs,
		AcceptedRuns:                tm.stats.acceptedRuns,
		AccumulatedUpdateCost:       tm.stats.accumulatedUpdateCost,
		AccumulatedOptimizationCost: tm.stats.optimizationCost,
		HTP:                         append([]HTPEntry(nil), tm.stats.htp...),
	}
	if tm.root != noNode && tm.opt.phase == PhaseIdle {
		s.RootWorstCaseCost = tm.worstCase(tm.root)
		s.Height = tm.height(tm.root)
	}
	return s
}

// SlamStatistics returns the application counters of the policy.
func (tm *Treemap) SlamStatistics() SlamStatistics {
	return tm.policy.SlamStatistics(tm)
}

func (tm *Treemap) height(i int) int {
	n := tm.nodes[i]
	if n.IsLeaf() {
		return 1
	}
	return 1 + max(tm.height(n.child[0]), tm.height(n.child[1]))
}
