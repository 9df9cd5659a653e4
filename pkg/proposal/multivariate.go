package proposal

import (
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/scanmc/scanmc/pkg/param"
)

// Acceptance-rate band the covariance scale is tuned toward. The
// optimal rate for high-dimensional gaussian targets is about 0.234.
const (
	acceptanceMin = 0.15
	acceptanceMax = 0.35
	scaleStep     = 1.5
	scaleFloor    = 1e-8
	scaleCeil     = 1e2
)

// Multivariate is the adaptive random-walk block: candidates are drawn
// as current + sqrt(scale) * L * z with L the Cholesky factor of the
// estimated covariance. With DegreesOfFreedom > 0 the draw gains the
// student-t tail factor sqrt(dof/chi2); the random-walk form stays
// symmetric either way.
type Multivariate struct {
	dims   []int
	cov    *mat.SymDense
	chol   *mat.TriDense
	scale  float64
	dof    float64
	logger *slog.Logger
}

// NewMultivariateGaussian creates an adaptive gaussian block over the
// given full-vector dimensions, seeded with a diagonal covariance.
func NewMultivariateGaussian(dims []int, diag []float64, logger *slog.Logger) (*Multivariate, error) {
	return newMultivariate(dims, diag, 0, logger)
}

// NewMultivariateStudentT creates an adaptive student-t block. It fails
// when the degrees of freedom are not positive.
func NewMultivariateStudentT(dims []int, diag []float64, dof float64, logger *slog.Logger) (*Multivariate, error) {
	if dof <= 0 {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidDegreesOfFreedom, dof)
	}

	return newMultivariate(dims, diag, dof, logger)
}

func newMultivariate(dims []int, diag []float64, dof float64, logger *slog.Logger) (*Multivariate, error) {
	if len(dims) == 0 {
		return nil, ErrNoDimensions
	}

	if len(diag) != len(dims) {
		return nil, fmt.Errorf("%w: %d dims, %d diagonal entries", ErrStateMismatch, len(dims), len(diag))
	}

	if logger == nil {
		logger = slog.Default()
	}

	d := len(dims)

	cov := mat.NewSymDense(d, nil)
	for i, v := range diag {
		cov.SetSym(i, i, v)
	}

	m := &Multivariate{
		dims:   dims,
		cov:    cov,
		scale:  initialScale(d),
		dof:    dof,
		logger: logger,
	}

	err := m.refactorize()
	if err != nil {
		return nil, err
	}

	return m, nil
}

// initialScale is the classic 2.38^2/d tuning for random-walk
// Metropolis with gaussian targets.
func initialScale(d int) float64 {
	return 2.38 * 2.38 / float64(d)
}

// refactorize recomputes the cached Cholesky factor from the current
// covariance.
func (m *Multivariate) refactorize() error {
	var chol mat.Cholesky
	if ok := chol.Factorize(m.cov); !ok {
		return fmt.Errorf("%w: covariance not positive definite", ErrStateMismatch)
	}

	d := len(m.dims)
	if m.chol == nil {
		m.chol = mat.NewTriDense(d, mat.Lower, nil)
	}

	chol.LTo(m.chol)

	return nil
}

func (m *Multivariate) Propose(dst, current param.Vector, rng *rand.Rand) {
	d := len(m.dims)

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	z := make([]float64, d)
	for i := range z {
		z[i] = norm.Rand()
	}

	factor := math.Sqrt(m.scale)

	if m.dof > 0 {
		chi2 := distuv.ChiSquared{K: m.dof, Src: rng}
		factor *= math.Sqrt(m.dof / chi2.Rand())
	}

	// dst[dims] = current[dims] + factor * L * z.
	for i := 0; i < d; i++ {
		step := 0.0
		for j := 0; j <= i; j++ {
			step += m.chol.At(i, j) * z[j]
		}

		dst[m.dims[i]] = current[m.dims[i]] + factor*step
	}
}

func (m *Multivariate) Symmetric() bool { return true }

func (m *Multivariate) LogRatio(_, _ param.Vector) float64 { return 0 }

// Adapt re-estimates the covariance from the interval's samples and
// nudges the scale toward the target acceptance band. A non-positive-
// definite empirical covariance keeps the previous factorization and
// logs a warning; adaptation is never fatal.
func (m *Multivariate) Adapt(history []param.Vector, acceptanceRate float64) error {
	m.adaptScale(acceptanceRate)

	d := len(m.dims)
	if len(history) <= d {
		m.logger.Debug("proposal adaptation skipped", "samples", len(history), "dim", d)

		return nil
	}

	data := mat.NewDense(len(history), d, nil)
	for r, v := range history {
		for c, dim := range m.dims {
			data.Set(r, c, v[dim])
		}
	}

	empirical := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(empirical, data, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(empirical); !ok {
		m.logger.Warn("empirical covariance not positive definite, keeping previous proposal covariance",
			"samples", len(history), "dim", d)

		return nil
	}

	m.cov.CopySym(empirical)
	chol.LTo(m.chol)

	return nil
}

func (m *Multivariate) adaptScale(acceptanceRate float64) {
	switch {
	case acceptanceRate < acceptanceMin:
		m.scale = math.Max(m.scale/scaleStep, scaleFloor)
	case acceptanceRate > acceptanceMax:
		m.scale = math.Min(m.scale*scaleStep, scaleCeil)
	}
}

// Scale returns the current covariance tuning factor.
func (m *Multivariate) Scale() float64 { return m.scale }

// Covariance returns a copy of the current (unscaled) covariance.
func (m *Multivariate) Covariance() *mat.SymDense {
	out := mat.NewSymDense(len(m.dims), nil)
	out.CopySym(m.cov)

	return out
}

// Snapshot exports the adaptive state for checkpointing.
func (m *Multivariate) Snapshot() Snapshot {
	d := len(m.dims)

	flat := make([]float64, 0, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			flat = append(flat, m.cov.At(i, j))
		}
	}

	return Snapshot{Dim: d, Scale: m.scale, Covariance: flat}
}

// RestoreSnapshot reinstates adaptive state from a checkpoint.
func (m *Multivariate) RestoreSnapshot(s Snapshot) error {
	d := len(m.dims)
	if s.Dim != d || len(s.Covariance) != d*d {
		return fmt.Errorf("%w: snapshot dim %d, proposal dim %d", ErrStateMismatch, s.Dim, d)
	}

	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			m.cov.SetSym(i, j, s.Covariance[i*d+j])
		}
	}

	m.scale = s.Scale

	return m.refactorize()
}
