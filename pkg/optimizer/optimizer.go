// Package optimizer seeds sampling with local mode searches and
// answers standalone point-estimation and goodness-of-fit requests. It
// is a collaborator of the sampler, not part of the stepping loop.
package optimizer

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/scanmc/scanmc/pkg/analysis"
	"github.com/scanmc/scanmc/pkg/param"
)

// ErrStartDimension reports a starting point of the wrong size.
var ErrStartDimension = errors.New("starting point dimension does not match analysis")

// DefaultMaxIterations bounds one local mode search.
const DefaultMaxIterations = 2000

// Result is a refined point estimate with a curvature description.
type Result struct {
	Point        param.Vector
	LogPosterior float64
	// Curvature is the finite-difference Hessian of the negative log
	// posterior at the point; its inverse approximates the local
	// covariance.
	Curvature *mat.SymDense
}

// Optimize refines start with a Nelder-Mead search on the negative log
// posterior.
func Optimize(post *analysis.Posterior, start param.Vector, maxIterations int) (Result, error) {
	if len(start) != post.Dim() {
		return Result{}, fmt.Errorf("%w: got %d, want %d", ErrStartDimension, len(start), post.Dim())
	}

	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	objective := func(x []float64) float64 {
		v := post.Evaluate(x)
		if math.IsInf(v, -1) {
			// Out-of-domain points get a large finite penalty so the
			// simplex can contract back inside.
			return math.MaxFloat64
		}

		return -v
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{MajorIterations: maxIterations}

	res, err := optimize.Minimize(problem, start.Clone(), settings, &optimize.NelderMead{})
	if err != nil {
		return Result{}, fmt.Errorf("mode search: %w", err)
	}

	point := param.Vector(res.X)

	curvature := mat.NewSymDense(len(point), nil)
	fd.Hessian(curvature, objective, point, nil)

	return Result{
		Point:        point,
		LogPosterior: post.Evaluate(point),
		Curvature:    curvature,
	}, nil
}

// FindModes runs one mode search per starting point and returns the
// results ordered as given, plus the index of the best one. It backs
// both prerun seeding and the massive mode-finding command.
func FindModes(post *analysis.Posterior, starts []param.Vector, maxIterations int) ([]Result, int, error) {
	if len(starts) == 0 {
		return nil, -1, errors.New("no starting points for mode finding")
	}

	results := make([]Result, len(starts))
	best := 0

	for i, start := range starts {
		res, err := Optimize(post, start, maxIterations)
		if err != nil {
			return nil, -1, err
		}

		results[i] = res
		if res.LogPosterior > results[best].LogPosterior {
			best = i
		}
	}

	return results, best, nil
}

// GoodnessOfFit estimates a prior-predictive p-value for a point: the
// fraction of n prior draws whose posterior exceeds the point's.
func GoodnessOfFit(a *analysis.Analysis, point param.Vector, n int, rng *rand.Rand) (float64, error) {
	post := a.Posterior()

	if len(point) != post.Dim() {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrStartDimension, len(point), post.Dim())
	}

	reference := post.Evaluate(point)

	exceed := 0

	for range n {
		draw := a.SamplePoint(rng)
		if post.Evaluate(draw) > reference {
			exceed++
		}
	}

	return float64(exceed) / float64(n), nil
}
