package treemap

import "strconv"

// Policy carries the application knowledge the treemap itself lacks: what
// features mean, when they may be sparsified, and how to handle nonlinear
// models. Embed BasePolicy to get the defaults and override what you need.
type Policy interface {
	// HasBeenSparsifiedOut is called after a join discarded feature id
	// although other leaves still involve it.
	HasBeenSparsifiedOut(tm *Treemap, id FeatureID)

	// CanBeSparsifiedOut reports whether id may be sparsified out.
	CanBeSparsifiedOut(tm *Treemap, id FeatureID) bool

	// CheckForSparsification is called whenever the optimizer marks node
	// optimized. It may call tm.SparsifyOut.
	CheckForSparsification(tm *Treemap, node int)

	// ComputeNonlinearEstimate refreshes all estimates.
	ComputeNonlinearEstimate(tm *Treemap) error

	// RotateGaussian rotates g by angle about the origin. It returns
	// false if the model has no notion of rotation.
	RotateGaussian(g Gaussian, angle float64) (Gaussian, bool)

	// NrOfLinearizationPointFeatures is the number of features needed to
	// specify a linearization point starting at id.
	NrOfLinearizationPointFeatures(id FeatureID) int

	// NameOfFeature returns a display name for id and the number of
	// consecutive ids the name covers.
	NameOfFeature(id FeatureID) (string, int)

	// SlamStatistics reports application level counters.
	SlamStatistics(tm *Treemap) SlamStatistics
}

// SlamStatistics counts the entities of a SLAM problem. The treemap only
// knows scalar features, so BasePolicy reports zeros.
type SlamStatistics struct {
	Landmarks          int `yaml:"landmarks"`
	Measurements       int `yaml:"measurements"`
	Poses              int `yaml:"poses"`
	PosesMarginalized  int `yaml:"poses_marginalized"`
	PosesSparsifiedOut int `yaml:"poses_sparsified_out"`
}

// BasePolicy never sparsifies, treats the problem as linear and names
// features by number.
type BasePolicy struct{}

func (BasePolicy) HasBeenSparsifiedOut(*Treemap, FeatureID) {}

func (BasePolicy) CanBeSparsifiedOut(*Treemap, FeatureID) bool { return false }

func (BasePolicy) CheckForSparsification(*Treemap, int) {}

func (BasePolicy) ComputeNonlinearEstimate(tm *Treemap) error {
	return tm.ComputeLinearEstimate()
}

func (BasePolicy) RotateGaussian(g Gaussian, _ float64) (Gaussian, bool) { return g, false }

func (BasePolicy) NrOfLinearizationPointFeatures(FeatureID) int { return 1 }

func (BasePolicy) NameOfFeature(id FeatureID) (string, int) {
	return "f" + strconv.Itoa(id), 1
}

func (BasePolicy) SlamStatistics(*Treemap) SlamStatistics { return SlamStatistics{} }
