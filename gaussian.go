package treemap

// Gaussian is a factor of the joint distribution over a set of features.
// The treemap never looks inside a factor; package gaussian provides a
// dense square-root information implementation.
//
// Feature order matters: MarginalizeAndCondition returns a factor whose
// features are retain followed by pass, and Marginal(n) keeps the last n
// features. Implementations must not modify their receiver.
type Gaussian interface {
	// Features lists the features the factor is defined over.
	Features() []FeatureID

	// Multiply returns the product of two factors over the union of their
	// features.
	Multiply(other Gaussian) Gaussian

	// MarginalizeAndCondition integrates out discard and returns the
	// conditional of retain given pass stacked on the marginal of pass.
	// discard, retain and pass must partition Features().
	MarginalizeAndCondition(discard, retain, pass []FeatureID) (Gaussian, error)

	// Marginal returns the marginal over the last n features of a factor
	// produced by MarginalizeAndCondition.
	Marginal(n int) Gaussian

	// Mean solves for the leading features given values for the trailing
	// len(given) features.
	Mean(given []float64) ([]float64, error)

	// Rename replaces feature from by to, merging the two if the factor
	// already involves to.
	Rename(from, to FeatureID) Gaussian

	// Clone returns an independent copy.
	Clone() Gaussian

	// LinearizationPoint reports the feature and values the factor was
	// linearized at, if any.
	LinearizationPoint() (FeatureID, []float64, bool)

	// SetLinearizationPoint records a new linearization point.
	SetLinearizationPoint(id FeatureID, values []float64)
}

// NonlinearLeaf is a leaf the application can re-derive from its own
// measurement data at the current estimates.
type NonlinearLeaf interface {
	Linearize(estimate func(FeatureID) float64) (Gaussian, error)
}

// costModel estimates the time to eliminate a node with k involved
// features as a cubic polynomial in k.
type costModel [4]float64

// DefaultCostCoefficients were calibrated on a dense Cholesky/QR kernel.
var DefaultCostCoefficients = [4]float64{1.543037e-6, 1.154801e-6, 44.716e-9, 1.799e-9}

func (c costModel) at(k int) float64 {
	x := float64(k)
	return c[0] + x*(c[1]+x*(c[2]+x*c[3]))
}
