package treemap

import (
	"fmt"
	"math/rand"
	"testing"
)

// symbolic is a Gaussian that only tracks its feature list. It lets the
// tree bookkeeping be tested without numerics.
type symbolic struct {
	ids []FeatureID
}

func sym(ids ...FeatureID) *symbolic { return &symbolic{ids: ids} }

func (g *symbolic) Features() []FeatureID { return append([]FeatureID(nil), g.ids...) }

func (g *symbolic) Multiply(other Gaussian) Gaussian {
	out := append([]FeatureID(nil), g.ids...)
	for _, id := range other.Features() {
		if !involves(out, id) {
			out = append(out, id)
		}
	}
	return &symbolic{ids: out}
}

func (g *symbolic) MarginalizeAndCondition(discard, retain, pass []FeatureID) (Gaussian, error) {
	if len(discard)+len(retain)+len(pass) != len(g.ids) {
		return nil, fmt.Errorf("symbolic: %d features requested, have %v", len(discard)+len(retain)+len(pass), g.ids)
	}
	for _, list := range [][]FeatureID{discard, retain, pass} {
		for _, id := range list {
			if !involves(g.ids, id) {
				return nil, fmt.Errorf("symbolic: feature %d not in %v", id, g.ids)
			}
		}
	}
	out := append(append([]FeatureID(nil), retain...), pass...)
	return &symbolic{ids: out}, nil
}

func (g *symbolic) Marginal(n int) Gaussian {
	return &symbolic{ids: append([]FeatureID(nil), g.ids[len(g.ids)-n:]...)}
}

func (g *symbolic) Mean(given []float64) ([]float64, error) {
	return make([]float64, len(g.ids)-len(given)), nil
}

func (g *symbolic) Rename(from, to FeatureID) Gaussian {
	var out []FeatureID
	for _, id := range g.ids {
		if id == from {
			id = to
		}
		if !involves(out, id) {
			out = append(out, id)
		}
	}
	return &symbolic{ids: out}
}

func (g *symbolic) Clone() Gaussian { return &symbolic{ids: g.Features()} }

func (g *symbolic) LinearizationPoint() (FeatureID, []float64, bool) { return 0, nil, false }

func (g *symbolic) SetLinearizationPoint(FeatureID, []float64) {}

func newManual(t *testing.T) *Treemap {
	t.Helper()
	tm, err := New(Config{ManualOptimize: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tm
}

func mustAdd(t *testing.T, tm *Treemap, g Gaussian, flags Status) int {
	t.Helper()
	leaf, err := tm.AddLeaf(g, flags)
	if err != nil {
		t.Fatalf("AddLeaf(%v): %v", g.Features(), err)
	}
	return leaf
}

func mustCheck(t *testing.T, tm *Treemap) {
	t.Helper()
	if err := tm.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

// buildChain adds a chain of n marginalizable features linked by binary
// leaves, plus a unary leaf on the first one.
func buildChain(t *testing.T, tm *Treemap, n int, flags Status) FeatureID {
	t.Helper()
	first := tm.AllocateBlock(n)
	for id := first; id < first+n; id++ {
		tm.SetFeatureFlags(id, FeatureCanBeMarginalized)
	}
	mustAdd(t, tm, sym(first), flags)
	for id := first + 1; id < first+n; id++ {
		mustAdd(t, tm, sym(id-1, id), flags)
	}
	return first
}

// buildRandom adds leaves over nFeatures features: a chain for
// connectivity and random extra links.
func buildRandom(t *testing.T, tm *Treemap, seed int64, nFeatures, extra int, flags Status) {
	t.Helper()
	first := buildChain(t, tm, nFeatures, flags)
	rng := rand.New(rand.NewSource(seed))
	for k := 0; k < extra; k++ {
		a := first + rng.Intn(nFeatures)
		b := first + rng.Intn(nFeatures)
		if a == b {
			mustAdd(t, tm, sym(a), flags)
			continue
		}
		mustAdd(t, tm, sym(a, b), flags)
	}
}

// adjacency captures parent and children of every node.
func adjacency(tm *Treemap) map[int][3]int {
	out := make(map[int][3]int)
	for i, n := range tm.nodes {
		if n != nil {
			out[i] = [3]int{n.parent, n.child[0], n.child[1]}
		}
	}
	return out
}

func sameAdjacency(a, b map[int][3]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if b[i] != v {
			return false
		}
	}
	return true
}

// lca returns the lowest common ancestor of a set of nodes.
func lca(tm *Treemap, nodes []int) int {
	path := func(i int) []int {
		var p []int
		for ; i != noNode; i = tm.nodes[i].parent {
			p = append([]int{i}, p...)
		}
		return p
	}
	common := path(nodes[0])
	for _, n := range nodes[1:] {
		p := path(n)
		k := 0
		for k < len(common) && k < len(p) && common[k] == p[k] {
			k++
		}
		common = common[:k]
	}
	return common[len(common)-1]
}
