// Package gaussian implements treemap.Gaussian as a dense factor in square
// root information form: a stack of rows [A | b] with
//
//	-log p(x) = 1/2 |A x - b|^2 + const.
//
// Marginalization and conditioning are one QR triangularization with the
// columns ordered discard, retain, pass; estimates are back-substitution.
package gaussian

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/TrevorS/treemap"
)

var (
	// ErrSingular indicates that a factor carries too little information to
	// determine its features.
	ErrSingular = errors.New("gaussian: singular information matrix")

	// ErrFeatures indicates feature lists that do not match the factor.
	ErrFeatures = errors.New("gaussian: feature mismatch")

	// ErrShape indicates malformed coefficients.
	ErrShape = errors.New("gaussian: dimension mismatch")
)

// singularTol is the relative size below which a pivot counts as zero.
const singularTol = 1e-12

// Dense is a Gaussian factor over len(Features()) scalar features stored as
// Rows() rows of coefficients followed by the right-hand side.
type Dense struct {
	features []treemap.FeatureID
	nrows    int
	data     []float64 // row-major, stride len(features)+1

	linID     treemap.FeatureID
	linValues []float64
	hasLin    bool

	ws *Workspace
}

var _ treemap.Gaussian = (*Dense)(nil)

// New builds a factor from rows a and right-hand side b. Every row of a has
// one coefficient per feature; features must be distinct.
func New(features []treemap.FeatureID, a [][]float64, b []float64) (*Dense, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: %d rows but %d right-hand sides", ErrShape, len(a), len(b))
	}
	seen := make(map[treemap.FeatureID]bool, len(features))
	for _, id := range features {
		if seen[id] {
			return nil, fmt.Errorf("%w: feature %d listed twice", ErrFeatures, id)
		}
		seen[id] = true
	}
	k := len(features)
	g := &Dense{
		features: append([]treemap.FeatureID(nil), features...),
		nrows:    len(a),
		data:     make([]float64, len(a)*(k+1)),
	}
	for i, row := range a {
		if len(row) != k {
			return nil, fmt.Errorf("%w: row %d has %d coefficients, want %d", ErrShape, i, len(row), k)
		}
		copy(g.data[i*(k+1):], row)
		g.data[i*(k+1)+k] = b[i]
	}
	return g, nil
}

// NewMeasurement builds the factor of one scalar measurement
// z = sum coeffs[i] * x[ids[i]] + noise with standard deviation sigma.
func NewMeasurement(ids []treemap.FeatureID, coeffs []float64, z, sigma float64) (*Dense, error) {
	if !(sigma > 0) {
		return nil, fmt.Errorf("%w: sigma must be > 0, got %g", ErrShape, sigma)
	}
	row := make([]float64, len(coeffs))
	copy(row, coeffs)
	floats.Scale(1/sigma, row)
	return New(ids, [][]float64{row}, []float64{z / sigma})
}

// NewPrior builds the factor x[id] ~ N(mean, sigma^2).
func NewPrior(id treemap.FeatureID, mean, sigma float64) (*Dense, error) {
	return NewMeasurement([]treemap.FeatureID{id}, []float64{1}, mean, sigma)
}

// WithWorkspace returns g sharing scratch memory with ws. Factors derived
// from the result inherit ws.
func (g *Dense) WithWorkspace(ws *Workspace) *Dense {
	c := *g
	c.ws = ws
	return &c
}

// Rows returns the number of rows.
func (g *Dense) Rows() int { return g.nrows }

// Row returns the coefficients and right-hand side of row i.
func (g *Dense) Row(i int) ([]float64, float64) {
	r := g.row(i)
	k := len(g.features)
	return append([]float64(nil), r[:k]...), r[k]
}

func (g *Dense) row(i int) []float64 {
	s := len(g.features) + 1
	return g.data[i*s : (i+1)*s]
}

func (g *Dense) Features() []treemap.FeatureID {
	return append([]treemap.FeatureID(nil), g.features...)
}

func (g *Dense) column(id treemap.FeatureID) int {
	for j, x := range g.features {
		if x == id {
			return j
		}
	}
	return -1
}

func (g *Dense) workspace(other *Dense) *Workspace {
	if g.ws != nil {
		return g.ws
	}
	if other != nil {
		return other.ws
	}
	return nil
}

// Multiply stacks the rows of both factors over the union of their
// features. It panics if other is not a *Dense.
func (g *Dense) Multiply(other treemap.Gaussian) treemap.Gaussian {
	o, ok := other.(*Dense)
	if !ok {
		panic(fmt.Sprintf("gaussian: cannot multiply *Dense with %T", other))
	}
	features := append([]treemap.FeatureID(nil), g.features...)
	cols := make([]int, len(o.features))
	for j, id := range o.features {
		c := g.column(id)
		if c < 0 {
			c = len(features)
			features = append(features, id)
		}
		cols[j] = c
	}
	k := len(features)
	out := &Dense{
		features: features,
		nrows:    g.nrows + o.nrows,
		data:     make([]float64, (g.nrows+o.nrows)*(k+1)),
		ws:       g.workspace(o),
	}
	for i := 0; i < g.nrows; i++ {
		src, dst := g.row(i), out.row(i)
		copy(dst, src[:len(g.features)])
		dst[k] = src[len(g.features)]
	}
	for i := 0; i < o.nrows; i++ {
		src, dst := o.row(i), out.row(g.nrows+i)
		for j, c := range cols {
			dst[c] = src[j]
		}
		dst[k] = src[len(o.features)]
	}
	return out
}

// MarginalizeAndCondition triangularizes the factor with columns ordered
// discard, retain, pass and drops the rows of discard. The result has
// features retain followed by pass, in upper triangular form: its first
// len(retain) rows are the conditional of retain given pass, the rest the
// marginal of pass.
func (g *Dense) MarginalizeAndCondition(discard, retain, pass []treemap.FeatureID) (treemap.Gaussian, error) {
	order := make([]treemap.FeatureID, 0, len(discard)+len(retain)+len(pass))
	order = append(order, discard...)
	order = append(order, retain...)
	order = append(order, pass...)
	cols, err := g.permutation(order)
	if err != nil {
		return nil, err
	}

	k, nd := len(order), len(discard)
	nk := k - nd
	out := &Dense{
		features: append(append([]treemap.FeatureID(nil), retain...), pass...),
		nrows:    nk,
		data:     make([]float64, nk*(nk+1)),
		ws:       g.ws,
	}
	if k == 0 || g.nrows == 0 {
		return out, nil
	}

	ws := g.ws
	if ws == nil {
		ws = NewWorkspace()
	}
	stack := ws.matrix(max(g.nrows, k+1), k+1)
	for i := 0; i < g.nrows; i++ {
		src := g.row(i)
		for j, c := range cols {
			stack.Set(i, j, src[c])
		}
		stack.Set(i, k, src[len(g.features)])
	}
	ws.qr.Factorize(stack)
	ws.r.Reset()
	ws.qr.RTo(&ws.r)
	for i := 0; i < nk; i++ {
		dst := out.row(i)
		for j := range dst {
			dst[j] = ws.r.At(nd+i, nd+j)
		}
	}
	return out, nil
}

// permutation maps each id of order to its column and checks that order
// lists every feature exactly once.
func (g *Dense) permutation(order []treemap.FeatureID) ([]int, error) {
	if len(order) != len(g.features) {
		return nil, fmt.Errorf("%w: %d features requested, factor has %d", ErrFeatures, len(order), len(g.features))
	}
	used := make([]bool, len(g.features))
	cols := make([]int, len(order))
	for j, id := range order {
		c := g.column(id)
		if c < 0 || used[c] {
			return nil, fmt.Errorf("%w: feature %d missing or repeated", ErrFeatures, id)
		}
		used[c] = true
		cols[j] = c
	}
	return cols, nil
}

// Marginal returns the trailing n x n block of a triangular factor: the
// marginal over its last n features.
func (g *Dense) Marginal(n int) treemap.Gaussian {
	k := len(g.features)
	if n < 0 || n > k {
		panic(fmt.Sprintf("gaussian: marginal over %d of %d features", n, k))
	}
	if g.nrows != k {
		panic("gaussian: marginal of a factor that is not triangular")
	}
	out := &Dense{
		features: append([]treemap.FeatureID(nil), g.features[k-n:]...),
		nrows:    n,
		data:     make([]float64, n*(n+1)),
		ws:       g.ws,
	}
	for i := 0; i < n; i++ {
		copy(out.row(i), g.row(k-n+i)[k-n:])
	}
	return out
}

// Mean back-substitutes a triangular factor: it returns the values of the
// leading features given values for the trailing len(given) ones.
func (g *Dense) Mean(given []float64) ([]float64, error) {
	k := len(g.features)
	if len(given) > k {
		return nil, fmt.Errorf("%w: %d given values for %d features", ErrShape, len(given), k)
	}
	if g.nrows != k {
		return nil, fmt.Errorf("%w: factor with %d rows over %d features is not triangular", ErrShape, g.nrows, k)
	}
	u := k - len(given)
	x := make([]float64, u)
	for i := u - 1; i >= 0; i-- {
		r := g.row(i)
		d := r[i]
		if math.Abs(d) <= singularTol*math.Max(1, floats.Norm(r[:k], math.Inf(1))) {
			return nil, fmt.Errorf("%w: pivot %d of feature %d", ErrSingular, i, g.features[i])
		}
		s := r[k] - floats.Dot(r[i+1:u], x[i+1:u]) - floats.Dot(r[u:k], given)
		x[i] = s / d
	}
	return x, nil
}

// Rename replaces feature from by to. If the factor already involves to,
// the two columns are added.
func (g *Dense) Rename(from, to treemap.FeatureID) treemap.Gaussian {
	fi := g.column(from)
	if fi < 0 || from == to {
		return g.Clone()
	}
	ti := g.column(to)
	if ti < 0 {
		c := g.clone()
		c.features[fi] = to
		if c.hasLin && c.linID == from {
			c.linID = to
		}
		return c
	}
	k := len(g.features)
	out := &Dense{
		nrows:     g.nrows,
		data:      make([]float64, g.nrows*k),
		linID:     g.linID,
		linValues: append([]float64(nil), g.linValues...),
		hasLin:    g.hasLin,
		ws:        g.ws,
	}
	for j, id := range g.features {
		if j != fi {
			out.features = append(out.features, id)
		}
	}
	for i := 0; i < g.nrows; i++ {
		src, dst := g.row(i), out.row(i)
		d := 0
		for j := 0; j <= k; j++ {
			if j == fi {
				continue
			}
			dst[d] = src[j]
			if j == ti {
				dst[d] += src[fi]
			}
			d++
		}
	}
	if out.hasLin && out.linID == from {
		out.linID = to
	}
	return out
}

func (g *Dense) Clone() treemap.Gaussian { return g.clone() }

func (g *Dense) clone() *Dense {
	c := *g
	c.features = append([]treemap.FeatureID(nil), g.features...)
	c.data = append([]float64(nil), g.data...)
	c.linValues = append([]float64(nil), g.linValues...)
	return &c
}

func (g *Dense) LinearizationPoint() (treemap.FeatureID, []float64, bool) {
	return g.linID, g.linValues, g.hasLin
}

func (g *Dense) SetLinearizationPoint(id treemap.FeatureID, values []float64) {
	g.linID = id
	g.linValues = append(g.linValues[:0], values...)
	g.hasLin = true
}

// Workspace holds scratch memory reused across eliminations. Factors that
// share a workspace must be used from one goroutine.
type Workspace struct {
	buf []float64
	qr  mat.QR
	r   mat.Dense
}

// NewWorkspace returns an empty workspace.
func NewWorkspace() *Workspace { return &Workspace{} }

// matrix returns a zeroed rows x cols matrix backed by the workspace.
func (w *Workspace) matrix(rows, cols int) *mat.Dense {
	n := rows * cols
	if cap(w.buf) < n {
		w.buf = make([]float64, n)
	}
	b := w.buf[:n]
	clear(b)
	return mat.NewDense(rows, cols, b)
}
