package treemap

import "sort"

// Status is the bit-flag status word of a node.
type Status uint32

const (
	// IsFeaturePassedValid: the passed and marginalized feature lists and
	// the cached costs are up to date.
	IsFeaturePassedValid Status = 1 << iota

	// IsGaussianValid: the eliminated factor is up to date.
	IsGaussianValid

	// IsOptimized: the optimizer has treated the node since it last changed.
	IsOptimized

	// CanBeMoved: the node may be relocated by the optimizer.
	CanBeMoved

	// CanBeIntegrated: a leaf whose factor may be merged into a join.
	CanBeIntegrated

	// DontUpdateEstimate: skip the node and its subtree when propagating
	// estimates.
	DontUpdateEstimate
)

const noNode = -1

// passedFeature is a feature passed up from a node together with the
// number of leaves below the node that involve it.
type passedFeature struct {
	id    FeatureID
	count int
}

// Node is a vertex of the tree. Leaves carry an original factor supplied
// by the application, inner nodes the product of their children's passed
// marginals with the locally resolved features eliminated.
type Node struct {
	index  int
	parent int
	child  [2]int
	status Status

	original  Gaussian
	nonlinear NonlinearLeaf
	gaussian  Gaussian

	passed       []passedFeature
	marginalized []FeatureID
	nInvolved    int

	updateCost          float64
	worstCaseUpdateCost float64
}

func (n *Node) Index() int  { return n.index }
func (n *Node) Parent() int { return n.parent }

// Child returns the i-th child index (i is 0 or 1), -1 for leaves.
func (n *Node) Child(i int) int { return n.child[i] }

func (n *Node) IsLeaf() bool { return n.child[0] == noNode }
func (n *Node) IsRoot() bool { return n.parent == noNode }

// Status returns the status word.
func (n *Node) Status() Status { return n.status }

// Is reports whether every bit of flags is set.
func (n *Node) Is(flags Status) bool { return n.status&flags == flags }

// Original is the factor a leaf was created with, nil for inner nodes.
func (n *Node) Original() Gaussian { return n.original }

// Gaussian is the eliminated factor: the conditional of the marginalized
// features followed by the marginal of the passed features.
func (n *Node) Gaussian() Gaussian { return n.gaussian }

// FeaturesPassed lists the features passed to the parent, ascending.
func (n *Node) FeaturesPassed() []FeatureID {
	out := make([]FeatureID, len(n.passed))
	for i, pf := range n.passed {
		out[i] = pf.id
	}
	return out
}

// FeaturesMarginalized lists the features resolved at this node, ascending.
func (n *Node) FeaturesMarginalized() []FeatureID {
	return append([]FeatureID(nil), n.marginalized...)
}

// UpdateCost is the modelled cost of recomputing this node alone.
func (n *Node) UpdateCost() float64 { return n.updateCost }

// WorstCaseUpdateCost is the cost of recomputing this node after a change
// at the most expensive leaf below it.
func (n *Node) WorstCaseUpdateCost() float64 { return n.worstCaseUpdateCost }

func (n *Node) passes(id FeatureID) bool {
	i := sort.Search(len(n.passed), func(i int) bool { return n.passed[i].id >= id })
	return i < len(n.passed) && n.passed[i].id == id
}

func (n *Node) slotOf(child int) int {
	if n.child[0] == child {
		return 0
	}
	if n.child[1] == child {
		return 1
	}
	panicf("node %d is not a child of %d", child, n.index)
	return -1
}

func (n *Node) clone() *Node {
	c := *n
	c.passed = append([]passedFeature(nil), n.passed...)
	c.marginalized = append([]FeatureID(nil), n.marginalized...)
	if n.original != nil {
		c.original = n.original.Clone()
	}
	if n.gaussian != nil {
		c.gaussian = n.gaussian.Clone()
	}
	return &c
}

// sharesPassed reports whether two ascending passed lists intersect.
func sharesPassed(a, b []passedFeature) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].id < b[j].id:
			i++
		case a[i].id > b[j].id:
			j++
		default:
			return true
		}
	}
	return false
}

// mergePassed merges two ascending passed lists, adding counts.
func mergePassed(a, b []passedFeature) []passedFeature {
	out := make([]passedFeature, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i].id < b[j].id):
			out = append(out, a[i])
			i++
		case i == len(a) || b[j].id < a[i].id:
			out = append(out, b[j])
			j++
		default:
			out = append(out, passedFeature{id: a[i].id, count: a[i].count + b[j].count})
			i++
			j++
		}
	}
	return out
}

// leafInvolvement turns the feature list of a leaf factor into an
// ascending passed list with count one.
func leafInvolvement(ids []FeatureID) []passedFeature {
	sorted := append([]FeatureID(nil), ids...)
	sort.Ints(sorted)
	out := make([]passedFeature, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		out = append(out, passedFeature{id: id, count: 1})
	}
	return out
}
