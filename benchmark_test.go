package treemap_test

import (
	"math/rand"
	"testing"

	"github.com/TrevorS/treemap"
	"github.com/TrevorS/treemap/gaussian"
)

// benchGraph builds a pose graph with n poses and n/4 loop closures.
func benchGraph(b *testing.B, cfg treemap.Config, n int) *treemap.Treemap {
	b.Helper()
	tm, err := treemap.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	rng := rand.New(rand.NewSource(42))
	ws := gaussian.NewWorkspace()
	add := func(g *gaussian.Dense, err error) {
		if err != nil {
			b.Fatal(err)
		}
		if _, err := tm.AddLeaf(g.WithWorkspace(ws), treemap.CanBeIntegrated); err != nil {
			b.Fatal(err)
		}
	}
	poses := make([]treemap.FeatureID, n)
	for i := range poses {
		poses[i] = tm.AllocateBlock(1)
		tm.SetFeatureFlags(poses[i], treemap.FeatureCanBeMarginalized)
		if i == 0 {
			add(gaussian.NewPrior(poses[0], 0, 1))
			continue
		}
		add(gaussian.NewMeasurement([]treemap.FeatureID{poses[i-1], poses[i]}, []float64{-1, 1}, 1+0.1*rng.NormFloat64(), 0.1))
	}
	for k := 0; k < n/4; k++ {
		i, j := rng.Intn(n), rng.Intn(n)
		if i == j {
			continue
		}
		add(gaussian.NewMeasurement([]treemap.FeatureID{poses[i], poses[j]}, []float64{-1, 1}, float64(j-i), 0.3))
	}
	return tm
}

func benchAddLeaf(b *testing.B, n int) {
	b.Helper()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		benchGraph(b, treemap.DefaultConfig(), n)
	}
}

func BenchmarkAddLeaf_100(b *testing.B)  { benchAddLeaf(b, 100) }
func BenchmarkAddLeaf_500(b *testing.B)  { benchAddLeaf(b, 500) }
func BenchmarkAddLeaf_1000(b *testing.B) { benchAddLeaf(b, 1000) }

func benchFullRecompute(b *testing.B, n int) {
	b.Helper()
	tm := benchGraph(b, treemap.DefaultConfig(), n)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tm.FullRecompute(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFullRecompute_100(b *testing.B)  { benchFullRecompute(b, 100) }
func BenchmarkFullRecompute_1000(b *testing.B) { benchFullRecompute(b, 1000) }

func benchOptimize(b *testing.B, n int) {
	b.Helper()
	cfg := treemap.DefaultConfig()
	cfg.ManualOptimize = true
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		tm := benchGraph(b, cfg, n)
		b.StartTimer()
		if _, err := tm.OptimizeFullRuns(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkOptimizeFullRuns_100(b *testing.B) { benchOptimize(b, 100) }
func BenchmarkOptimizeFullRuns_500(b *testing.B) { benchOptimize(b, 500) }

func BenchmarkComputeEstimateByQR_200(b *testing.B) {
	tm := benchGraph(b, treemap.DefaultConfig(), 200)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tm.ComputeEstimateByQR(); err != nil {
			b.Fatal(err)
		}
	}
}
