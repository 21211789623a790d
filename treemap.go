package treemap

import (
	"fmt"
	"log/slog"
	"math"
)

// Config controls how the treemap maintains its tree.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// MovesPerStep is the number of optimizer runs after every AddLeaf.
	// Must be >= 1. Default: 4.
	MovesPerStep int `yaml:"moves_per_step"`

	// MaxUnsuccessfulMoves is the number of non-improving KL steps an
	// optimizer run tries before giving up. Must be >= 1. Default: 3.
	MaxUnsuccessfulMoves int `yaml:"max_unsuccessful_moves"`

	// CostCoefficients are c0..c3 of the node update cost model
	// c0 + c1 k + c2 k^2 + c3 k^3 for k involved features. All zero means
	// DefaultCostCoefficients. Must be >= 0.
	CostCoefficients [4]float64 `yaml:"cost_coefficients"`

	// MaxFullRuns bounds OptimizeFullRuns. 0 means four times the number
	// of nodes. Must be >= 0. Default: 0.
	MaxFullRuns int `yaml:"max_full_runs"`

	// ManualOptimize stops AddLeaf from running optimizer steps; call
	// OptimizeStep or OptimizeFullRuns yourself. Default: false.
	ManualOptimize bool `yaml:"manual_optimize"`

	// Policy supplies application knowledge. Default: BasePolicy.
	Policy Policy `yaml:"-"`

	// Logger receives debug records about optimizer runs and joins.
	// Default: slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with the defaults of the original
// calibration.
func DefaultConfig() Config {
	return Config{
		MovesPerStep:         4,
		MaxUnsuccessfulMoves: 3,
		CostCoefficients:     DefaultCostCoefficients,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.MovesPerStep == 0 {
		cfg.MovesPerStep = 4
	}
	if cfg.MaxUnsuccessfulMoves == 0 {
		cfg.MaxUnsuccessfulMoves = 3
	}
	if cfg.CostCoefficients == [4]float64{} {
		cfg.CostCoefficients = DefaultCostCoefficients
	}
	if cfg.Policy == nil {
		cfg.Policy = BasePolicy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if cfg.MovesPerStep < 1 {
		return fmt.Errorf("treemap: MovesPerStep must be >= 1, got %d", cfg.MovesPerStep)
	}
	if cfg.MaxUnsuccessfulMoves < 1 {
		return fmt.Errorf("treemap: MaxUnsuccessfulMoves must be >= 1, got %d", cfg.MaxUnsuccessfulMoves)
	}
	for i, c := range cfg.CostCoefficients {
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("treemap: CostCoefficients[%d] must be finite and >= 0, got %g", i, c)
		}
	}
	if cfg.MaxFullRuns < 0 {
		return fmt.Errorf("treemap: MaxFullRuns must be >= 0, got %d", cfg.MaxFullRuns)
	}
	return nil
}

// Treemap maintains a factored Gaussian over a changing set of features
// as a self-adjusting binary tree of factors. It is not safe for
// concurrent use.
type Treemap struct {
	cfg    Config
	cost   costModel
	policy Policy
	log    *slog.Logger

	nodes       []*Node
	unusedNodes []int
	root        int

	features featureTable
	opt      optimizer

	estimateValid bool
	stats         counters
}

// New creates an empty treemap. Returns an error if the config is invalid.
func New(cfg Config) (*Treemap, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	tm := &Treemap{
		cfg:      cfg,
		cost:     costModel(cfg.CostCoefficients),
		policy:   cfg.Policy,
		log:      cfg.Logger,
		root:     noNode,
		features: newFeatureTable(),
	}
	tm.opt.reset()
	return tm, nil
}

// Config returns the effective configuration.
func (tm *Treemap) Config() Config { return tm.cfg }

// Policy returns the policy in use.
func (tm *Treemap) Policy() Policy { return tm.policy }

// Clear removes all nodes and features and resets the statistics.
func (tm *Treemap) Clear() {
	tm.nodes = tm.nodes[:0]
	tm.unusedNodes = tm.unusedNodes[:0]
	tm.root = noNode
	tm.features.clear()
	tm.opt.reset()
	tm.estimateValid = false
	tm.stats = counters{}
}

// Root returns the root node index, -1 if the tree is empty.
func (tm *Treemap) Root() int { return tm.root }

// Node returns the node with index i, nil if the slot is unused.
func (tm *Treemap) Node(i int) *Node {
	if i < 0 || i >= len(tm.nodes) {
		return nil
	}
	return tm.nodes[i]
}

// NrOfNodes counts the used node slots.
func (tm *Treemap) NrOfNodes() int { return len(tm.nodes) - len(tm.unusedNodes) }

// Leaves returns the indices of all leaves in ascending order.
func (tm *Treemap) Leaves() []int {
	var out []int
	for i, n := range tm.nodes {
		if n != nil && n.IsLeaf() {
			out = append(out, i)
		}
	}
	return out
}

// IsGaussianValid reports whether every node factor is up to date. It is
// false while an optimizer run has trial moves applied.
func (tm *Treemap) IsGaussianValid() bool {
	if tm.opt.phase == PhaseTrying {
		return false
	}
	return tm.root == noNode || tm.nodes[tm.root].Is(IsGaussianValid)
}

// IsEstimateValid reports whether all estimates reflect the current tree.
func (tm *Treemap) IsEstimateValid() bool { return tm.estimateValid }

func (tm *Treemap) node(i int) *Node {
	if n := tm.Node(i); n != nil {
		return n
	}
	panicf("node %d does not exist", i)
	return nil
}

func (tm *Treemap) newNode() *Node {
	var i int
	if k := len(tm.unusedNodes); k > 0 {
		i = tm.unusedNodes[k-1]
		tm.unusedNodes = tm.unusedNodes[:k-1]
	} else {
		i = len(tm.nodes)
		tm.nodes = append(tm.nodes, nil)
	}
	n := &Node{index: i, parent: noNode, child: [2]int{noNode, noNode}}
	tm.nodes[i] = n
	return n
}

func (tm *Treemap) deleteNode(i int) {
	tm.nodes[i] = nil
	tm.unusedNodes = append(tm.unusedNodes, i)
}

func (tm *Treemap) sibling(i int) int {
	p := tm.nodes[tm.nodes[i].parent]
	return p.child[1-p.slotOf(i)]
}

// isAncestor reports whether a is a proper ancestor of b.
func (tm *Treemap) isAncestor(a, b int) bool {
	for p := tm.nodes[b].parent; p != noNode; p = tm.nodes[p].parent {
		if p == a {
			return true
		}
	}
	return false
}

// replaceChild puts node next where old hangs below parent, or makes next
// the root when parent is -1.
func (tm *Treemap) replaceChild(parent, old, next int) {
	if parent == noNode {
		tm.root = next
	} else {
		pn := tm.nodes[parent]
		pn.child[pn.slotOf(old)] = next
	}
	tm.nodes[next].parent = parent
}

// resetFlagUpToRoot clears flags at node i and at every ancestor, stopping
// at the first ancestor that already has all of them clear. Clearing
// IsGaussianValid also invalidates the estimate.
func (tm *Treemap) resetFlagUpToRoot(i int, flags Status) {
	if i == noNode {
		return
	}
	n := tm.nodes[i]
	n.status &^= flags
	for p := n.parent; p != noNode; p = tm.nodes[p].parent {
		pn := tm.nodes[p]
		if pn.status&flags == 0 {
			break
		}
		pn.status &^= flags
	}
	if flags&IsGaussianValid != 0 {
		tm.estimateValid = false
	}
}

// deoptimizeUpToRoot clears IsOptimized on the whole path from i to the
// root and queues every inner node that had it set.
func (tm *Treemap) deoptimizeUpToRoot(i int) {
	for ; i != noNode; i = tm.nodes[i].parent {
		n := tm.nodes[i]
		if n.IsLeaf() || n.status&IsOptimized == 0 {
			continue
		}
		n.status &^= IsOptimized
		tm.opt.enqueue(i)
	}
}

// invalidate marks the path from i to the root as changed.
func (tm *Treemap) invalidate(i int) {
	tm.resetFlagUpToRoot(i, IsFeaturePassedValid|IsGaussianValid)
	tm.deoptimizeUpToRoot(i)
}

// AllocateBlock reserves n consecutive feature ids and returns the first.
func (tm *Treemap) AllocateBlock(n int) FeatureID {
	return tm.features.allocate(n)
}

// FreeFeature releases id. The feature must not be involved in any leaf.
func (tm *Treemap) FreeFeature(id FeatureID) {
	if f := tm.features.at(id); f.count > 0 {
		panicf("feature %d is still involved in %d leaves", id, f.count)
	}
	tm.features.release(id)
}

// Feature returns a copy of the metadata of a live feature.
func (tm *Treemap) Feature(id FeatureID) Feature { return *tm.features.at(id) }

// IsFeatureLive reports whether id is currently allocated.
func (tm *Treemap) IsFeatureLive(id FeatureID) bool { return tm.features.valid(id) }

// NrOfFeatureIDs is one past the largest id ever handed out.
func (tm *Treemap) NrOfFeatureIDs() int { return len(tm.features.feature) }

// Estimate returns the current estimate of id.
func (tm *Treemap) Estimate(id FeatureID) float64 { return tm.features.at(id).Estimate }

// SetInitialEstimate stores a linearization point for id unless it already
// has one. It does not invalidate the tree.
func (tm *Treemap) SetInitialEstimate(id FeatureID, value float64) {
	f := tm.features.at(id)
	if f.Flags&FeatureHasLinearizationPoint != 0 {
		return
	}
	f.Estimate = value
	f.Flags |= FeatureHasLinearizationPoint
}

// SetFeatureFlags sets flags on id.
func (tm *Treemap) SetFeatureFlags(id FeatureID, flags FeatureFlags) {
	f := tm.features.at(id)
	before := f.Flags.resolvable()
	f.Flags |= flags
	if f.Flags.resolvable() != before {
		tm.invalidateFeature(id)
	}
}

// ClearFeatureFlags clears flags on id.
func (tm *Treemap) ClearFeatureFlags(id FeatureID, flags FeatureFlags) {
	f := tm.features.at(id)
	before := f.Flags.resolvable()
	f.Flags &^= flags
	if f.Flags.resolvable() != before {
		tm.invalidateFeature(id)
	}
}

// NrOfFeatures counts the live features that have every flag of must and
// none of mayNot.
func (tm *Treemap) NrOfFeatures(must, mayNot FeatureFlags) int {
	n := 0
	for id := range tm.features.feature {
		f := &tm.features.feature[id]
		if f.live && f.Flags&must == must && f.Flags&mayNot == 0 {
			n++
		}
	}
	return n
}

// FeatureFragmentation returns the number of free blocks per block size,
// indexed by size.
func (tm *Treemap) FeatureFragmentation() []int { return tm.features.fragmentation() }

// invalidateFeature marks every node whose passed lists may change when
// the resolution of id changes: the paths from the leaves involving it
// and from its current marginalization node.
func (tm *Treemap) invalidateFeature(id FeatureID) {
	f := tm.features.at(id)
	if f.count == 0 {
		return
	}
	for _, l := range tm.FindLeavesInvolving(id) {
		tm.invalidate(tm.nodes[l].parent)
	}
	tm.invalidate(tm.features.at(id).marginalizationNode)
}

// AddLeaf inserts a leaf carrying g into the tree and runs MovesPerStep
// optimizer runs unless ManualOptimize is set. flags may contain
// CanBeIntegrated and DontUpdateEstimate. Every feature of g must be live.
//
// The returned index stays valid until the leaf is joined.
func (tm *Treemap) AddLeaf(g Gaussian, flags Status) (int, error) {
	tm.requireIdle("AddLeaf")
	leaf := tm.addLeaf(g, flags)
	if tm.cfg.ManualOptimize {
		return leaf, nil
	}
	return leaf, tm.OptimizeStep()
}

func (tm *Treemap) addLeaf(g Gaussian, flags Status) int {
	ids := g.Features()
	for _, id := range ids {
		tm.features.at(id)
	}

	leaf := tm.newNode()
	leaf.original = g
	leaf.status = flags&(CanBeIntegrated|DontUpdateEstimate) | CanBeMoved | IsOptimized
	for _, pf := range leafInvolvement(ids) {
		f := tm.features.at(pf.id)
		f.count++
		tm.invalidate(f.marginalizationNode)
	}
	tm.seedLinearizationPoint(g)
	tm.estimateValid = false

	tm.stats.leavesAdded++
	if tm.root == noNode {
		tm.root = leaf.index
		return leaf.index
	}
	p := tm.newNode()
	p.child = [2]int{tm.root, leaf.index}
	p.status = CanBeMoved
	tm.nodes[tm.root].parent = p.index
	leaf.parent = p.index
	tm.root = p.index
	tm.opt.enqueue(p.index)

	tm.insertOptimally(leaf.index)
	return leaf.index
}

// AddNonlinearLeaf linearizes src at the current estimates and inserts the
// result as a leaf that Relinearize can refresh later.
func (tm *Treemap) AddNonlinearLeaf(src NonlinearLeaf, flags Status) (int, error) {
	g, err := src.Linearize(tm.Estimate)
	if err != nil {
		return noNode, fmt.Errorf("treemap: linearize: %w", err)
	}
	tm.requireIdle("AddNonlinearLeaf")
	leaf := tm.addLeaf(g, flags)
	tm.nodes[leaf].nonlinear = src
	if tm.cfg.ManualOptimize {
		return leaf, nil
	}
	return leaf, tm.OptimizeStep()
}

// Relinearize re-derives every nonlinear leaf at the current estimates.
func (tm *Treemap) Relinearize() error {
	tm.requireIdle("Relinearize")
	for i, n := range tm.nodes {
		if n == nil || n.nonlinear == nil {
			continue
		}
		g, err := n.nonlinear.Linearize(tm.Estimate)
		if err != nil {
			return fmt.Errorf("treemap: relinearize leaf %d: %w", i, err)
		}
		tm.ReplaceLeafGaussian(i, g)
	}
	return nil
}

// ReplaceLeafGaussian exchanges the original factor of a leaf. Feature
// involvement counts follow the new factor.
func (tm *Treemap) ReplaceLeafGaussian(leaf int, g Gaussian) {
	tm.requireIdle("ReplaceLeafGaussian")
	n := tm.node(leaf)
	if !n.IsLeaf() {
		panicf("node %d is not a leaf", leaf)
	}
	for _, id := range g.Features() {
		tm.features.at(id)
	}
	before := leafInvolvement(n.original.Features())
	after := leafInvolvement(g.Features())
	for _, pf := range before {
		f := tm.features.at(pf.id)
		tm.invalidate(f.marginalizationNode)
		f.count--
		if f.count == 0 {
			f.marginalizationNode = noNode
		}
	}
	for _, pf := range after {
		f := tm.features.at(pf.id)
		tm.invalidate(f.marginalizationNode)
		f.count++
	}
	n.original = g
	tm.invalidate(leaf)
}

func (tm *Treemap) seedLinearizationPoint(g Gaussian) {
	id, values, ok := g.LinearizationPoint()
	if !ok {
		return
	}
	k := tm.policy.NrOfLinearizationPointFeatures(id)
	for j := 0; j < k && j < len(values); j++ {
		if !tm.features.valid(id + j) {
			continue
		}
		f := tm.features.at(id + j)
		if f.Flags&FeatureHasLinearizationPoint == 0 {
			f.Estimate = values[j]
			f.Flags |= FeatureHasLinearizationPoint
		}
	}
}

func (tm *Treemap) requireIdle(op string) {
	if tm.opt.phase != PhaseIdle {
		panicf("%s called during an optimizer run", op)
	}
}
