// Package promstats exports treemap statistics as Prometheus metrics.
package promstats

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TrevorS/treemap"
)

// Snapshot is one reading of a treemap.
type Snapshot struct {
	Stats treemap.Statistics
	Slam  treemap.SlamStatistics
}

// Locked returns a snapshot function for tm that holds mu while reading.
// The caller must hold mu for every other use of tm.
func Locked(mu *sync.Mutex, tm *treemap.Treemap) func() Snapshot {
	return func() Snapshot {
		mu.Lock()
		defer mu.Unlock()
		return Snapshot{Stats: tm.Statistics(), Slam: tm.SlamStatistics()}
	}
}

type gauge struct {
	desc  *prometheus.Desc
	value func(*Snapshot) float64
}

// Collector implements prometheus.Collector over snapshots of a treemap.
// Every scrape takes one snapshot.
type Collector struct {
	read func() Snapshot

	gauges   []gauge
	counters []gauge

	htpSteps *prometheus.Desc
	htpProb  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// New returns a collector whose metric names start with namespace.
func New(namespace string, read func() Snapshot) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }
	desc := func(n, help string) *prometheus.Desc { return prometheus.NewDesc(name(n), help, nil, nil) }

	c := &Collector{read: read}
	c.gauges = []gauge{
		{desc("nodes", "Number of tree nodes."), func(s *Snapshot) float64 { return float64(s.Stats.Nodes) }},
		{desc("leaves", "Number of leaves."), func(s *Snapshot) float64 { return float64(s.Stats.Leaves) }},
		{desc("nodes_to_optimize", "Inner nodes waiting for the optimizer."), func(s *Snapshot) float64 { return float64(s.Stats.NodesToOptimize) }},
		{desc("live_features", "Allocated features."), func(s *Snapshot) float64 { return float64(s.Stats.LiveFeatures) }},
		{desc("feature_ids", "Size of the feature id space."), func(s *Snapshot) float64 { return float64(s.Stats.FeatureIDs) }},
		{desc("height", "Height of the tree."), func(s *Snapshot) float64 { return float64(s.Stats.Height) }},
		{desc("root_worst_case_cost", "Modelled worst-case update cost of the whole tree."), func(s *Snapshot) float64 { return s.Stats.RootWorstCaseCost }},
		{desc("slam_landmarks", "Landmarks known to the policy."), func(s *Snapshot) float64 { return float64(s.Slam.Landmarks) }},
		{desc("slam_measurements", "Measurements known to the policy."), func(s *Snapshot) float64 { return float64(s.Slam.Measurements) }},
		{desc("slam_poses", "Poses known to the policy."), func(s *Snapshot) float64 { return float64(s.Slam.Poses) }},
		{desc("slam_poses_marginalized", "Poses marginalized out."), func(s *Snapshot) float64 { return float64(s.Slam.PosesMarginalized) }},
		{desc("slam_poses_sparsified_out", "Poses sparsified out."), func(s *Snapshot) float64 { return float64(s.Slam.PosesSparsifiedOut) }},
	}
	c.counters = []gauge{
		{desc("leaves_added_total", "Leaves inserted."), func(s *Snapshot) float64 { return float64(s.Stats.LeavesAdded) }},
		{desc("joins_total", "Subtrees joined into a leaf."), func(s *Snapshot) float64 { return float64(s.Stats.Joins) }},
		{desc("gaussian_updates_total", "Node factors recomputed."), func(s *Snapshot) float64 { return float64(s.Stats.GaussianUpdates) }},
		{desc("kl_evaluations_total", "Candidate moves evaluated."), func(s *Snapshot) float64 { return float64(s.Stats.KLEvaluations) }},
		{desc("optimizer_runs_total", "Optimizer runs."), func(s *Snapshot) float64 { return float64(s.Stats.OptimizerRuns) }},
		{desc("accepted_runs_total", "Optimizer runs that changed the tree."), func(s *Snapshot) float64 { return float64(s.Stats.AcceptedRuns) }},
		{desc("update_cost_total", "Modelled cost of all node updates."), func(s *Snapshot) float64 { return s.Stats.AccumulatedUpdateCost }},
		{desc("optimization_cost_total", "Modelled cost of evaluating candidate moves."), func(s *Snapshot) float64 { return s.Stats.AccumulatedOptimizationCost }},
	}
	c.htpSteps = prometheus.NewDesc(name("htp_steps_total"),
		"Outcomes of the n-th KL step of an optimizer run.", []string{"step", "outcome"}, nil)
	c.htpProb = prometheus.NewDesc(name("htp_success_probability"),
		"Probability that a run still improves after n unsuccessful steps.", []string{"step"}, nil)
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
	for _, g := range c.counters {
		ch <- g.desc
	}
	ch <- c.htpSteps
	ch <- c.htpProb
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.read()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value(&s))
	}
	for _, g := range c.counters {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.CounterValue, g.value(&s))
	}
	for i, e := range s.Stats.HTP {
		step := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(c.htpSteps, prometheus.CounterValue, float64(e.Success), step, "success")
		ch <- prometheus.MustNewConstMetric(c.htpSteps, prometheus.CounterValue, float64(e.NoSuccess), step, "no_success")
		ch <- prometheus.MustNewConstMetric(c.htpProb, prometheus.GaugeValue, s.Stats.OptimizationCondProb(i), step)
	}
}
