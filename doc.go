// Package treemap maintains a Gaussian probability distribution over a
// growing set of scalar features as a self-adjusting binary tree of
// factors, the estimation back-end of an online SLAM system.
//
// Measurements enter as leaves. Every inner node multiplies the marginals
// its children pass up and eliminates the features whose leaves all lie
// below it, so a new measurement only touches the nodes on one path, and
// estimates flow back down from the root. A Kernighan–Lin style optimizer
// (hysteretic tree partitioning, HTP) keeps reshaping the tree so that the
// worst-case cost of such an update stays small.
//
// Basic usage:
//
//	tm, err := treemap.New(treemap.DefaultConfig())
//	x := tm.AllocateBlock(2)
//	tm.SetFeatureFlags(x, treemap.FeatureCanBeMarginalized)
//	prior, _ := gaussian.NewPrior(x, 0, 0.1)
//	odo, _ := gaussian.NewMeasurement([]int{x, x + 1}, []float64{-1, 1}, 1.0, 0.2)
//	tm.AddLeaf(prior, treemap.CanBeIntegrated)
//	tm.AddLeaf(odo, treemap.CanBeIntegrated)
//	err = tm.ComputeLinearEstimate()
//	// tm.Estimate(x+1) is about 1.0
//
// # Validity
//
// Each node caches its passed feature lists and its factor. Edits clear the
// IsFeaturePassedValid and IsGaussianValid flags on the path to the root
// and UpdateFeaturePassed, UpdateGaussians and ComputeLinearEstimate
// recompute exactly the invalidated nodes.
//
// # Features
//
// Feature ids are handed out in blocks by AllocateBlock and recycled after
// FreeFeature. Flags decide whether a feature may be eliminated inside the
// tree (FeatureCanBeMarginalized), dropped for good when it becomes local
// (FeatureCanBeMarginalizedOut) or sparsified out (SparsifyOut).
//
// A Treemap is not safe for concurrent use.
package treemap
