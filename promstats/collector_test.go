package promstats

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrevorS/treemap"
)

func fixed() Snapshot {
	return Snapshot{
		Stats: treemap.Statistics{
			Nodes:         7,
			Leaves:        4,
			Joins:         2,
			OptimizerRuns: 5,

			AccumulatedOptimizationCost: 1.25,
			HTP:           []treemap.HTPEntry{{Success: 1, NoSuccess: 3}, {Success: 1, NoSuccess: 1}},
		},
		Slam: treemap.SlamStatistics{Poses: 3, Landmarks: 1},
	}
}

func TestCollectorRegisters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(New("tm", fixed)))

	assert.Equal(t, 26, testutil.CollectAndCount(New("tm", fixed)))
}

func TestCollectorValues(t *testing.T) {
	t.Parallel()
	c := New("tm", fixed)

	expected := `
# HELP tm_nodes Number of tree nodes.
# TYPE tm_nodes gauge
tm_nodes 7
# HELP tm_joins_total Subtrees joined into a leaf.
# TYPE tm_joins_total counter
tm_joins_total 2
# HELP tm_optimization_cost_total Modelled cost of evaluating candidate moves.
# TYPE tm_optimization_cost_total counter
tm_optimization_cost_total 1.25
# HELP tm_slam_poses Poses known to the policy.
# TYPE tm_slam_poses gauge
tm_slam_poses 3
# HELP tm_htp_success_probability Probability that a run still improves after n unsuccessful steps.
# TYPE tm_htp_success_probability gauge
tm_htp_success_probability{step="0"} 0.5
tm_htp_success_probability{step="1"} 0.5
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"tm_nodes", "tm_joins_total", "tm_optimization_cost_total", "tm_slam_poses", "tm_htp_success_probability")
	assert.NoError(t, err)
}

func TestLockedReadsLiveTreemap(t *testing.T) {
	t.Parallel()
	tm, err := treemap.New(treemap.Config{ManualOptimize: true})
	require.NoError(t, err)

	var mu sync.Mutex
	read := Locked(&mu, tm)
	assert.Equal(t, 0, read().Stats.Nodes)

	mu.Lock()
	tm.AllocateBlock(3)
	mu.Unlock()
	assert.Equal(t, 3, read().Stats.LiveFeatures)

	// Without any optimizer run the HTP table is empty.
	assert.Equal(t, 20, testutil.CollectAndCount(New("tm", read)))
}
