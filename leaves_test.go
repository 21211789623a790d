package treemap_test

import (
	"errors"
	"math"
	"testing"

	"github.com/TrevorS/treemap"
	"github.com/TrevorS/treemap/gaussian"
)

// square measures z = x^2.
type square struct {
	id    treemap.FeatureID
	z     float64
	sigma float64
	calls int
}

func (s *square) Linearize(estimate func(treemap.FeatureID) float64) (treemap.Gaussian, error) {
	s.calls++
	x0 := estimate(s.id)
	j := 2 * x0
	return gaussian.NewMeasurement([]treemap.FeatureID{s.id}, []float64{j}, s.z-x0*x0+j*x0, s.sigma)
}

func TestRelinearizeConverges(t *testing.T) {
	tm, err := treemap.New(treemap.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	id := tm.AllocateBlock(1)
	tm.SetFeatureFlags(id, treemap.FeatureCanBeMarginalized)
	tm.SetInitialEstimate(id, 1.5)

	src := &square{id: id, z: 4, sigma: 0.1}
	if _, err := tm.AddNonlinearLeaf(src, treemap.CanBeIntegrated); err != nil {
		t.Fatalf("AddNonlinearLeaf: %v", err)
	}
	for it := 0; it < 8; it++ {
		mustEstimate(t, tm)
		if err := tm.Relinearize(); err != nil {
			t.Fatalf("Relinearize: %v", err)
		}
	}
	mustEstimate(t, tm)
	if got := tm.Estimate(id); math.Abs(got-2) > 1e-9 {
		t.Errorf("estimate = %g, want 2", got)
	}
	if src.calls != 9 {
		t.Errorf("Linearize called %d times, want 9", src.calls)
	}
	if got := tm.Feature(id).Count(); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
	if err := tm.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

type failing struct{}

func (failing) Linearize(func(treemap.FeatureID) float64) (treemap.Gaussian, error) {
	return nil, errors.New("no model")
}

func TestAddNonlinearLeafError(t *testing.T) {
	tm, err := treemap.New(treemap.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.AddNonlinearLeaf(failing{}, 0); err == nil {
		t.Error("expected error")
	}
	if tm.NrOfNodes() != 0 {
		t.Errorf("%d nodes after failed insert, want 0", tm.NrOfNodes())
	}
}

// rotating accepts every rotation without changing the factor and records
// the angles.
type rotating struct {
	treemap.BasePolicy
	angles []float64
}

func (p *rotating) RotateGaussian(g treemap.Gaussian, angle float64) (treemap.Gaussian, bool) {
	p.angles = append(p.angles, angle)
	return g.Clone(), true
}

func TestLeafRotatedToEstimate(t *testing.T) {
	policy := &rotating{}
	tm, err := treemap.New(treemap.Config{Policy: policy})
	if err != nil {
		t.Fatal(err)
	}
	id := tm.AllocateBlock(1)
	tm.SetFeatureFlags(id, treemap.FeatureCanBeMarginalized)

	first, err := gaussian.NewPrior(id, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	first.SetLinearizationPoint(id, []float64{0})
	leaf, err := tm.AddLeaf(first, 0)
	if err != nil {
		t.Fatal(err)
	}
	if tm.Feature(id).Flags&treemap.FeatureHasLinearizationPoint == 0 {
		t.Error("linearization point not seeded")
	}
	second, err := gaussian.NewPrior(id, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tm.AddLeaf(second, 0); err != nil {
		t.Fatal(err)
	}

	mustEstimate(t, tm)
	if len(policy.angles) != 0 {
		t.Errorf("rotated at the linearization point: %v", policy.angles)
	}
	if got := tm.Estimate(id); math.Abs(got-1) > 1e-9 {
		t.Fatalf("estimate = %g, want 1", got)
	}

	if err := tm.FullRecompute(); err != nil {
		t.Fatal(err)
	}
	if len(policy.angles) != 1 || math.Abs(policy.angles[0]-1) > 1e-9 {
		t.Errorf("angles = %v, want [1]", policy.angles)
	}
	_, point, ok := tm.Node(leaf).Original().LinearizationPoint()
	if !ok || math.Abs(point[0]-1) > 1e-9 {
		t.Errorf("linearization point = %v, want [1]", point)
	}
}

type permissive struct {
	treemap.BasePolicy
	sparsified []treemap.FeatureID
}

func (p *permissive) CanBeSparsifiedOut(*treemap.Treemap, treemap.FeatureID) bool { return true }

func (p *permissive) HasBeenSparsifiedOut(_ *treemap.Treemap, id treemap.FeatureID) {
	p.sparsified = append(p.sparsified, id)
}

func TestSparsifyOutKeepsProblemSolvable(t *testing.T) {
	policy := &permissive{}
	cfg := treemap.DefaultConfig()
	cfg.Policy = policy
	s := build(t, cfg, 8, 15, 6)
	target := s.poses[7]
	s.tm.SetFeatureFlags(target, treemap.FeatureCanBeMarginalizedOut)
	leaves := len(s.tm.FindLeavesInvolving(target))

	if err := s.tm.SparsifyOut(target, 1); err != nil {
		t.Fatalf("SparsifyOut: %v", err)
	}
	if s.tm.IsFeatureLive(target) {
		t.Error("sparsified feature still live")
	}
	if leaves > 1 && len(policy.sparsified) == 0 {
		t.Error("policy not told about the sparsified feature")
	}
	mustEstimate(t, s.tm)
	checkAgainstQR(t, s.tm)
	if err := s.tm.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestIdentifyFeaturesClosesLoop(t *testing.T) {
	s := build(t, treemap.DefaultConfig(), 9, 10, 0)
	tm := s.tm
	a := tm.AllocateBlock(1)
	b := tm.AllocateBlock(1)
	for _, id := range []treemap.FeatureID{a, b} {
		tm.SetFeatureFlags(id, treemap.FeatureCanBeMarginalized)
	}
	s.link(s.poses[2], a, 3, 0.05)
	s.link(s.poses[8], b, -3, 0.05)
	mustEstimate(t, tm)

	tm.IdentifyFeatures([]treemap.FeaturePair{{Old: b, New: a}})
	if tm.IsFeatureLive(b) {
		t.Error("old feature still live")
	}
	if got := tm.Feature(a).Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	mustEstimate(t, tm)
	checkAgainstQR(t, tm)
	if err := tm.CheckInvariants(); err != nil {
		t.Error(err)
	}
}

func TestConnectivity(t *testing.T) {
	s := build(t, treemap.DefaultConfig(), 10, 8, 2)
	if got := len(s.tm.Components()); got != 1 {
		t.Errorf("%d components, want 1", got)
	}
	if err := s.tm.Connectivity(8); err != nil {
		t.Errorf("Connectivity(8): %v", err)
	}

	a := s.tm.AllocateBlock(2)
	s.link(a, a+1, 1, 1)
	comps := s.tm.Components()
	if len(comps) != 2 || len(comps[1]) != 2 || comps[1][0] != a {
		t.Errorf("components = %v, want the island [%d %d] second", comps, a, a+1)
	}
	if err := s.tm.Connectivity(3); !errors.Is(err, treemap.ErrDisconnected) {
		t.Errorf("Connectivity(3): got %v, want ErrDisconnected", err)
	}
}
