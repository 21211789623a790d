package treemap

import "github.com/google/btree"

// FeatureID identifies a scalar random variable. Ids are dense small
// integers; a freed id may be handed out again later.
type FeatureID = int

// MaxFeatureBlockSize is the largest block size whose freed ids are
// recycled. Larger blocks are appended and never reused.
const MaxFeatureBlockSize = 16

// FeatureFlags describe what the engine may do with a feature.
type FeatureFlags uint32

const (
	// FeatureCanBeMarginalized lets the feature be eliminated at the node
	// where all leaves involving it meet. Without it the feature is passed
	// up to the root.
	FeatureCanBeMarginalized FeatureFlags = 1 << iota

	// FeatureCanBeMarginalizedOut lets a join discard the feature for good
	// once it is local to the joined subtree.
	FeatureCanBeMarginalizedOut

	// FeatureCanBeSparsified makes joins discard the feature even when
	// other leaves still refer to it. Set by SparsifyOut.
	FeatureCanBeSparsified

	// FeatureHasLinearizationPoint marks the estimate as a usable
	// linearization point.
	FeatureHasLinearizationPoint
)

func (f FeatureFlags) resolvable() bool {
	return f&(FeatureCanBeMarginalized|FeatureCanBeMarginalizedOut) != 0
}

// Feature is the metadata the treemap keeps for one feature id.
type Feature struct {
	// Estimate is the latest point estimate.
	Estimate float64

	// Flags control marginalization and sparsification.
	Flags FeatureFlags

	marginalizationNode int
	count               int
	live                bool

	// unit is the allocation unit this id was handed out in, block the
	// originally appended range it came from.
	unitStart, unitSize   int
	blockStart, blockSize int
}

// MarginalizationNode is the node where the feature is resolved, or -1.
func (f Feature) MarginalizationNode() int { return f.marginalizationNode }

// Count is the number of leaves that involve the feature.
func (f Feature) Count() int { return f.count }

// Live reports whether the id is currently allocated.
func (f Feature) Live() bool { return f.live }

// featureTable hands out feature ids in blocks. Freed units of size up to
// MaxFeatureBlockSize are kept in one ordered set per size so the lowest
// id is reused first.
type featureTable struct {
	feature []Feature
	free    [MaxFeatureBlockSize + 1]*btree.BTreeG[int]
	nLive   int
}

const freeSetDegree = 8

func newFeatureTable() featureTable {
	var t featureTable
	for k := 1; k <= MaxFeatureBlockSize; k++ {
		t.free[k] = btree.NewOrderedG[int](freeSetDegree)
	}
	return t
}

func (t *featureTable) clear() {
	t.feature = t.feature[:0]
	for k := 1; k <= MaxFeatureBlockSize; k++ {
		t.free[k].Clear(false)
	}
	t.nLive = 0
}

func (t *featureTable) clone() featureTable {
	c := featureTable{
		feature: append([]Feature(nil), t.feature...),
		nLive:   t.nLive,
	}
	for k := 1; k <= MaxFeatureBlockSize; k++ {
		set := btree.NewOrderedG[int](freeSetDegree)
		t.free[k].Ascend(func(start int) bool {
			set.ReplaceOrInsert(start)
			return true
		})
		c.free[k] = set
	}
	return c
}

func (t *featureTable) valid(id FeatureID) bool {
	return id >= 0 && id < len(t.feature) && t.feature[id].live
}

// at returns the live feature id, panicking on dead or unknown ids.
func (t *featureTable) at(id FeatureID) *Feature {
	if !t.valid(id) {
		panicf("feature %d is not allocated", id)
	}
	return &t.feature[id]
}

// allocate reserves n consecutive ids and returns the first.
func (t *featureTable) allocate(n int) FeatureID {
	if n < 1 {
		panicf("cannot allocate a block of %d features", n)
	}
	if n <= MaxFeatureBlockSize {
		if start, ok := t.free[n].DeleteMin(); ok {
			t.activate(start, n)
			return start
		}
		for m := 2 * n; m <= MaxFeatureBlockSize; m += n {
			start, ok := t.free[m].DeleteMin()
			if !ok {
				continue
			}
			for s := start; s < start+m; s += n {
				t.setUnit(s, n)
				if s != start {
					t.free[n].ReplaceOrInsert(s)
				}
			}
			t.activate(start, n)
			return start
		}
	}
	start := len(t.feature)
	for i := 0; i < n; i++ {
		t.feature = append(t.feature, Feature{
			marginalizationNode: noNode,
			unitStart:           start,
			unitSize:            n,
			blockStart:          start,
			blockSize:           n,
		})
	}
	t.activate(start, n)
	return start
}

func (t *featureTable) setUnit(start, n int) {
	for id := start; id < start+n; id++ {
		t.feature[id].unitStart = start
		t.feature[id].unitSize = n
	}
}

func (t *featureTable) activate(start, n int) {
	for id := start; id < start+n; id++ {
		f := &t.feature[id]
		f.Estimate = 0
		f.Flags = 0
		f.marginalizationNode = noNode
		f.count = 0
		f.live = true
	}
	t.nLive += n
}

func (t *featureTable) allDead(start, n int) bool {
	for id := start; id < start+n; id++ {
		if t.feature[id].live {
			return false
		}
	}
	return true
}

// release frees a single id. Once its allocation unit is entirely free the
// unit goes back to the free set of its size; once the whole appended
// block is free its units coalesce back into it.
func (t *featureTable) release(id FeatureID) {
	f := t.at(id)
	f.live = false
	f.marginalizationNode = noNode
	f.count = 0
	t.nLive--

	unitStart, unitSize := f.unitStart, f.unitSize
	blockStart, blockSize := f.blockStart, f.blockSize
	if blockSize > MaxFeatureBlockSize || !t.allDead(unitStart, unitSize) {
		return
	}
	if unitSize != blockSize && t.allDead(blockStart, blockSize) {
		for s := blockStart; s < blockStart+blockSize; s++ {
			if g := &t.feature[s]; g.unitStart == s {
				t.free[g.unitSize].Delete(s)
			}
		}
		t.setUnit(blockStart, blockSize)
		t.free[blockSize].ReplaceOrInsert(blockStart)
		return
	}
	t.free[unitSize].ReplaceOrInsert(unitStart)
}

// fragmentation returns the number of free units per block size.
func (t *featureTable) fragmentation() []int {
	out := make([]int, MaxFeatureBlockSize+1)
	for k := 1; k <= MaxFeatureBlockSize; k++ {
		out[k] = t.free[k].Len()
	}
	return out
}

// check verifies that the free sets agree with the liveness of the ids.
func (t *featureTable) check() bool {
	ok := true
	inSet := make(map[int]bool)
	for k := 1; k <= MaxFeatureBlockSize; k++ {
		t.free[k].Ascend(func(start int) bool {
			if start >= len(t.feature) {
				ok = false
				return false
			}
			f := &t.feature[start]
			if f.unitStart != start || f.unitSize != k || !t.allDead(start, k) {
				ok = false
				return false
			}
			inSet[start] = true
			return true
		})
	}
	live := 0
	for id := range t.feature {
		f := &t.feature[id]
		if f.live {
			live++
			continue
		}
		if f.unitStart != id || f.blockSize > MaxFeatureBlockSize {
			continue
		}
		if t.allDead(id, f.unitSize) && !inSet[id] {
			ok = false
		}
	}
	return ok && live == t.nLive
}
