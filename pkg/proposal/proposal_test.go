package proposal

import (
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/prior"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func nopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestMultivariate_ProposeTouchesOnlyItsDims(t *testing.T) {
	t.Parallel()

	m, err := NewMultivariateGaussian([]int{0, 2}, []float64{1, 1}, nopLogger())
	require.NoError(t, err)

	current := param.Vector{1, 2, 3}
	dst := current.Clone()

	m.Propose(dst, current, newRand(1))

	assert.NotEqual(t, current[0], dst[0])
	assert.Equal(t, current[1], dst[1])
	assert.NotEqual(t, current[2], dst[2])

	assert.True(t, m.Symmetric())
	assert.Zero(t, m.LogRatio(current, dst))
}

func TestMultivariate_ConstructionErrors(t *testing.T) {
	t.Parallel()

	_, err := NewMultivariateGaussian(nil, nil, nopLogger())
	require.ErrorIs(t, err, ErrNoDimensions)

	_, err = NewMultivariateGaussian([]int{0, 1}, []float64{1}, nopLogger())
	require.ErrorIs(t, err, ErrStateMismatch)

	_, err = NewMultivariateStudentT([]int{0}, []float64{1}, 0, nopLogger())
	require.ErrorIs(t, err, ErrInvalidDegreesOfFreedom)

	_, err = NewMultivariateStudentT([]int{0}, []float64{1}, -3, nopLogger())
	require.ErrorIs(t, err, ErrInvalidDegreesOfFreedom)
}

func TestMultivariate_StudentT(t *testing.T) {
	t.Parallel()

	m, err := NewMultivariateStudentT([]int{0}, []float64{1}, 2, nopLogger())
	require.NoError(t, err)

	current := param.Vector{0}
	dst := param.Vector{0}

	rng := newRand(42)
	for range 100 {
		m.Propose(dst, current, rng)
		assert.False(t, math.IsNaN(dst[0]))
	}

	assert.True(t, m.Symmetric())
}

func TestMultivariate_AdaptScale(t *testing.T) {
	t.Parallel()

	m, err := NewMultivariateGaussian([]int{0}, []float64{1}, nopLogger())
	require.NoError(t, err)

	s0 := m.Scale()

	// Too few samples still adapts the scale.
	require.NoError(t, m.Adapt(nil, 0.05))
	assert.Less(t, m.Scale(), s0)

	require.NoError(t, m.Adapt(nil, 0.9))
	require.NoError(t, m.Adapt(nil, 0.9))
	assert.Greater(t, m.Scale(), s0)

	// Inside the band the scale is left alone.
	s := m.Scale()
	require.NoError(t, m.Adapt(nil, 0.25))
	assert.Equal(t, s, m.Scale())
}

func TestMultivariate_AdaptCovariance(t *testing.T) {
	t.Parallel()

	m, err := NewMultivariateGaussian([]int{0, 1}, []float64{1, 1}, nopLogger())
	require.NoError(t, err)

	// Strongly correlated history.
	rng := newRand(3)
	history := make([]param.Vector, 500)

	for i := range history {
		x := rng.NormFloat64()
		history[i] = param.Vector{x, 2*x + 0.1*rng.NormFloat64()}
	}

	require.NoError(t, m.Adapt(history, 0.25))

	cov := m.Covariance()
	assert.Greater(t, cov.At(0, 1), 1.0)
	assert.InDelta(t, 2.0, cov.At(0, 1)/cov.At(0, 0), 0.2)
}

func TestMultivariate_DegenerateCovarianceRetained(t *testing.T) {
	t.Parallel()

	m, err := NewMultivariateGaussian([]int{0, 1}, []float64{1, 4}, nopLogger())
	require.NoError(t, err)

	before := m.Covariance()

	// A stuck chain yields a singular empirical covariance; the previous
	// factorization stays in force and adaptation reports no error.
	history := make([]param.Vector, 100)
	for i := range history {
		history[i] = param.Vector{1, 2}
	}

	require.NoError(t, m.Adapt(history, 0.25))

	after := m.Covariance()
	assert.Equal(t, before.At(0, 0), after.At(0, 0))
	assert.Equal(t, before.At(1, 1), after.At(1, 1))
}

func TestMultivariate_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := NewMultivariateGaussian([]int{0, 1}, []float64{1, 2}, nopLogger())
	require.NoError(t, err)

	rng := newRand(5)
	history := make([]param.Vector, 200)

	for i := range history {
		history[i] = param.Vector{rng.NormFloat64(), 3 * rng.NormFloat64()}
	}

	require.NoError(t, m.Adapt(history, 0.05))
	snap := m.Snapshot()

	restored, err := NewMultivariateGaussian([]int{0, 1}, []float64{1, 1}, nopLogger())
	require.NoError(t, err)
	require.NoError(t, restored.RestoreSnapshot(snap))

	assert.Equal(t, m.Scale(), restored.Scale())
	assert.Equal(t, m.Covariance().RawSymmetric().Data, restored.Covariance().RawSymmetric().Data)

	// Identical RNG streams now produce identical candidates.
	cur := param.Vector{0.5, -0.5}
	a, b := cur.Clone(), cur.Clone()
	m.Propose(a, cur, newRand(9))
	restored.Propose(b, cur, newRand(9))
	assert.Equal(t, a, b)
}

func TestMultivariate_RestoreSnapshotMismatch(t *testing.T) {
	t.Parallel()

	m, err := NewMultivariateGaussian([]int{0}, []float64{1}, nopLogger())
	require.NoError(t, err)

	err = m.RestoreSnapshot(Snapshot{Dim: 2, Scale: 1, Covariance: []float64{1, 0, 0, 1}})
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestDiscrete(t *testing.T) {
	t.Parallel()

	p, err := prior.NewDiscrete("n", []float64{0, 1, 2})
	require.NoError(t, err)

	d := NewDiscrete(1, p)

	current := param.Vector{0.4, 1, 0.6}
	dst := current.Clone()
	rng := newRand(2)

	seen := map[float64]bool{}
	for range 200 {
		d.Propose(dst, current, rng)
		assert.True(t, p.Contains(dst[1]))
		seen[dst[1]] = true
	}

	// Every support value gets proposed eventually.
	assert.Len(t, seen, 3)

	assert.Equal(t, current[0], dst[0])
	assert.True(t, d.Symmetric())
	assert.Zero(t, d.LogRatio(current, dst))
}

func TestPriorDraw(t *testing.T) {
	t.Parallel()

	g, err := prior.NewGauss("y", param.Range{Min: -10, Max: 10}, -1, 0, 2)
	require.NoError(t, err)

	pd := NewPriorDraw(0, g)
	assert.False(t, pd.Symmetric())

	current := param.Vector{1.5}
	dst := current.Clone()
	pd.Propose(dst, current, newRand(8))

	want := g.LogDensity(current[0]) - g.LogDensity(dst[0])
	assert.InDelta(t, want, pd.LogRatio(current, dst), 1e-12)
}

func TestBlock(t *testing.T) {
	t.Parallel()

	mv, err := NewMultivariateGaussian([]int{0}, []float64{1}, nopLogger())
	require.NoError(t, err)

	dp, err := prior.NewDiscrete("n", []float64{1, 2})
	require.NoError(t, err)

	g, err := prior.NewGauss("y", param.Range{Min: -10, Max: 10}, -1, 0, 1)
	require.NoError(t, err)

	b := NewBlock(mv, NewDiscrete(1, dp), NewPriorDraw(2, g))

	// A prior-draw component makes the composite asymmetric.
	assert.False(t, b.Symmetric())

	current := param.Vector{0, 1, 0.5}
	dst := make(param.Vector, 3)
	b.Propose(dst, current, newRand(4))

	assert.NotEqual(t, current[0], dst[0])
	assert.True(t, dp.Contains(dst[1]))

	want := g.LogDensity(current[2]) - g.LogDensity(dst[2])
	assert.InDelta(t, want, b.LogRatio(current, dst), 1e-12)

	// Snapshot passes through to the multivariate component.
	snap := b.Snapshot()
	assert.Equal(t, 1, snap.Dim)
	require.NoError(t, b.RestoreSnapshot(snap))
}

func TestBlock_AllSymmetric(t *testing.T) {
	t.Parallel()

	mv, err := NewMultivariateGaussian([]int{0}, []float64{1}, nopLogger())
	require.NoError(t, err)

	b := NewBlock(mv)
	assert.True(t, b.Symmetric())
	assert.Zero(t, b.LogRatio(param.Vector{0}, param.Vector{1}))
}
