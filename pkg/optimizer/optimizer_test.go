package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/scanmc/scanmc/pkg/analysis"
	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/prior"
)

// bowlAnalysis is a 2-D gaussian bowl with its mode at (1, -2).
func bowlAnalysis(t *testing.T) *analysis.Analysis {
	t.Helper()

	a := analysis.New(func(v param.Vector) float64 {
		dx := v[0] - 1
		dy := v[1] + 2

		return -0.5*dx*dx - 0.5*dy*dy/4
	})

	for _, name := range []string{"x", "y"} {
		flat, err := prior.NewFlat(name, param.Range{Min: -20, Max: 20})
		require.NoError(t, err)
		require.NoError(t, a.Add(flat, false))
	}

	return a
}

func TestOptimize_FindsMode(t *testing.T) {
	t.Parallel()

	a := bowlAnalysis(t)

	res, err := Optimize(a.Posterior(), param.Vector{5, 5}, 0)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.Point[0], 1e-3)
	assert.InDelta(t, -2.0, res.Point[1], 1e-3)

	// The curvature of the negative log posterior reflects the widths.
	assert.InDelta(t, 1.0, res.Curvature.At(0, 0), 0.05)
	assert.InDelta(t, 0.25, res.Curvature.At(1, 1), 0.05)
}

func TestOptimize_StartDimension(t *testing.T) {
	t.Parallel()

	a := bowlAnalysis(t)

	_, err := Optimize(a.Posterior(), param.Vector{0}, 100)
	require.ErrorIs(t, err, ErrStartDimension)
}

func TestFindModes(t *testing.T) {
	t.Parallel()

	a := bowlAnalysis(t)

	starts := []param.Vector{{10, 10}, {1.2, -1.8}, {-10, 0}}
	results, best, err := FindModes(a.Posterior(), starts, 500)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// All searches reach the single mode; the best index is valid.
	assert.GreaterOrEqual(t, best, 0)
	assert.Less(t, best, 3)

	for _, res := range results {
		assert.InDelta(t, 1.0, res.Point[0], 0.01)
		assert.InDelta(t, -2.0, res.Point[1], 0.01)
	}
}

func TestFindModes_NoStarts(t *testing.T) {
	t.Parallel()

	a := bowlAnalysis(t)

	_, _, err := FindModes(a.Posterior(), nil, 100)
	require.Error(t, err)
}

func TestGoodnessOfFit(t *testing.T) {
	t.Parallel()

	a := bowlAnalysis(t)
	rng := rand.New(rand.NewSource(1))

	// Very few prior draws beat the mode itself.
	atMode, err := GoodnessOfFit(a, param.Vector{1, -2}, 2000, rng)
	require.NoError(t, err)
	assert.Less(t, atMode, 0.05)

	// A point far in the tail is beaten by most draws.
	inTail, err := GoodnessOfFit(a, param.Vector{15, 15}, 2000, rng)
	require.NoError(t, err)
	assert.Greater(t, inTail, 0.5)

	_, err = GoodnessOfFit(a, param.Vector{0}, 100, rng)
	require.ErrorIs(t, err, ErrStartDimension)
}
