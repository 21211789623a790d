package treemap

import (
	"math/rand"
	"testing"
)

func TestFeatureTable_AllocateSequential(t *testing.T) {
	ft := newFeatureTable()
	for want := 0; want < 3; want++ {
		if got := ft.allocate(1); got != want {
			t.Errorf("allocate(1) = %d, want %d", got, want)
		}
	}
	if got := ft.allocate(4); got != 3 {
		t.Errorf("allocate(4) = %d, want 3", got)
	}
	if ft.nLive != 7 {
		t.Errorf("nLive = %d, want 7", ft.nLive)
	}
	if !ft.check() {
		t.Error("check failed")
	}
}

func TestFeatureTable_ReuseSameSize(t *testing.T) {
	ft := newFeatureTable()
	ft.allocate(1)
	ft.allocate(4)
	ft.allocate(1)

	for id := 1; id < 5; id++ {
		ft.release(id)
	}
	if got := ft.fragmentation()[4]; got != 1 {
		t.Fatalf("free blocks of size 4 = %d, want 1", got)
	}
	if got := ft.allocate(4); got != 1 {
		t.Errorf("allocate(4) = %d, want reused 1", got)
	}
	if got := ft.allocate(4); got != 6 {
		t.Errorf("allocate(4) = %d, want appended 6", got)
	}
	if !ft.check() {
		t.Error("check failed")
	}
}

func TestFeatureTable_ReleaseResetsMetadata(t *testing.T) {
	ft := newFeatureTable()
	id := ft.allocate(1)
	f := ft.at(id)
	f.Estimate = 3
	f.Flags = FeatureCanBeMarginalized
	ft.release(id)

	if ft.valid(id) {
		t.Fatal("released id still valid")
	}
	if got := ft.allocate(1); got != id {
		t.Fatalf("allocate(1) = %d, want %d", got, id)
	}
	f = ft.at(id)
	if f.Estimate != 0 || f.Flags != 0 || f.count != 0 || f.marginalizationNode != noNode {
		t.Errorf("reused feature not reset: %+v", *f)
	}
}

func TestFeatureTable_SplitAndCoalesce(t *testing.T) {
	ft := newFeatureTable()
	start := ft.allocate(4)
	for id := start; id < start+4; id++ {
		ft.release(id)
	}

	a := ft.allocate(2)
	b := ft.allocate(2)
	if a != start || b != start+2 {
		t.Fatalf("allocate(2) twice = %d, %d, want %d, %d", a, b, start, start+2)
	}
	if got := len(ft.feature); got != 4 {
		t.Errorf("id space grew to %d, want 4", got)
	}

	ft.release(a)
	ft.release(a + 1)
	if got := ft.fragmentation()[2]; got != 1 {
		t.Errorf("free blocks of size 2 = %d, want 1", got)
	}
	if !ft.check() {
		t.Error("check failed after partial release")
	}

	ft.release(b)
	ft.release(b + 1)
	frag := ft.fragmentation()
	if frag[2] != 0 || frag[4] != 1 {
		t.Errorf("fragmentation = %v, want the block coalesced to one of size 4", frag)
	}
	if !ft.check() {
		t.Error("check failed after coalescing")
	}
	if got := ft.allocate(4); got != start {
		t.Errorf("allocate(4) = %d, want %d", got, start)
	}
}

func TestFeatureTable_LargeBlocksNotReused(t *testing.T) {
	ft := newFeatureTable()
	n := MaxFeatureBlockSize + 4
	start := ft.allocate(n)
	for id := start; id < start+n; id++ {
		ft.release(id)
	}
	if got := ft.allocate(n); got != n {
		t.Errorf("allocate(%d) = %d, want appended %d", n, got, n)
	}
	if !ft.check() {
		t.Error("check failed")
	}
}

func TestFeatureTable_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ft *featureTable)
	}{
		{"zero block", func(ft *featureTable) { ft.allocate(0) }},
		{"double free", func(ft *featureTable) {
			id := ft.allocate(1)
			ft.release(id)
			ft.release(id)
		}},
		{"unknown id", func(ft *featureTable) { ft.at(42) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			ft := newFeatureTable()
			tt.fn(&ft)
		})
	}
}

func TestFreeFeature_InvolvedPanics(t *testing.T) {
	tm := newManual(t)
	id := tm.AllocateBlock(1)
	mustAdd(t, tm, sym(id), CanBeIntegrated)

	defer func() {
		if recover() == nil {
			t.Error("FreeFeature of an involved feature did not panic")
		}
	}()
	tm.FreeFeature(id)
}

func TestFeatureTable_Clone(t *testing.T) {
	ft := newFeatureTable()
	ft.allocate(2)
	ft.release(0)
	ft.release(1)

	c := ft.clone()
	c.allocate(2)
	if got := ft.fragmentation()[2]; got != 1 {
		t.Errorf("original free set changed: %d blocks of size 2, want 1", got)
	}
	if c.valid(0) == ft.valid(0) {
		t.Error("clone shares liveness with original")
	}
}

func TestNrOfFeatures(t *testing.T) {
	tm := newManual(t)
	first := tm.AllocateBlock(3)
	tm.SetFeatureFlags(first, FeatureCanBeMarginalized)
	tm.SetFeatureFlags(first+1, FeatureCanBeMarginalized|FeatureCanBeMarginalizedOut)

	tests := []struct {
		must, mayNot FeatureFlags
		want         int
	}{
		{0, 0, 3},
		{FeatureCanBeMarginalized, 0, 2},
		{FeatureCanBeMarginalized, FeatureCanBeMarginalizedOut, 1},
		{0, FeatureCanBeMarginalized, 1},
	}
	for _, tt := range tests {
		if got := tm.NrOfFeatures(tt.must, tt.mayNot); got != tt.want {
			t.Errorf("NrOfFeatures(%b, %b) = %d, want %d", tt.must, tt.mayNot, got, tt.want)
		}
	}
}

func TestFeatureTable_ClosedSystem(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		ft := newFeatureTable()
		live := make(map[FeatureID]bool)
		var ids []FeatureID

		for step := 0; step < 300; step++ {
			if len(ids) == 0 || rng.Intn(3) > 0 {
				n := 1 + rng.Intn(MaxFeatureBlockSize+4)
				first := ft.allocate(n)
				for id := first; id < first+n; id++ {
					if live[id] {
						t.Fatalf("seed %d step %d: id %d handed out twice", seed, step, id)
					}
					live[id] = true
					ids = append(ids, id)
				}
			} else {
				k := rng.Intn(len(ids))
				id := ids[k]
				ids[k] = ids[len(ids)-1]
				ids = ids[:len(ids)-1]
				ft.release(id)
				delete(live, id)
			}
			if ft.nLive != len(live) {
				t.Fatalf("seed %d step %d: nLive = %d, want %d", seed, step, ft.nLive, len(live))
			}
			if !ft.check() {
				t.Fatalf("seed %d step %d: free sets disagree with live ids", seed, step)
			}
		}
		for id := range ft.feature {
			if ft.valid(id) != live[id] {
				t.Errorf("seed %d: valid(%d) = %v, want %v", seed, id, ft.valid(id), live[id])
			}
		}
	}
}

func TestFeatureAccessors(t *testing.T) {
	tm := newManual(t)
	id := tm.AllocateBlock(1)
	tm.SetFeatureFlags(id, FeatureCanBeMarginalized)
	leaf := mustAdd(t, tm, sym(id), 0)
	tm.UpdateFeaturePassed()

	f := tm.Feature(id)
	if !f.Live() || f.Count() != 1 || f.MarginalizationNode() != leaf {
		t.Errorf("Feature(%d) = live %v, count %d, node %d; want true, 1, %d",
			id, f.Live(), f.Count(), f.MarginalizationNode(), leaf)
	}
}
