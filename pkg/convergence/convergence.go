// Package convergence computes the Gelman-Rubin scale-reduction
// statistic diagnosing multi-chain convergence.
package convergence

import (
	"math"

	"github.com/scanmc/scanmc/pkg/mathutil"
)

// ScaleReduction computes R-hat for one scalar quantity from the
// per-chain traces. All traces are truncated to the shortest one. The
// statistic is undefined for fewer than two chains or fewer than two
// samples; those cases, and a vanishing within-chain variance, report
// +Inf so the ensemble is judged not converged.
func ScaleReduction(traces [][]float64) float64 {
	m := len(traces)
	if m < 2 {
		return math.Inf(1)
	}

	n := len(traces[0])
	for _, t := range traces[1:] {
		n = min(n, len(t))
	}

	if n < 2 {
		return math.Inf(1)
	}

	means := make([]float64, m)
	within := 0.0

	for i, t := range traces {
		t = t[len(t)-n:]
		means[i] = mathutil.Mean(t)
		within += mathutil.Variance(t)
	}

	within /= float64(m)
	if within <= 0 {
		return math.Inf(1)
	}

	// Between-chain variance of the chain means, scaled by the trace
	// length.
	between := float64(n) * mathutil.Variance(means)

	nf := float64(n)
	pooled := (nf-1)/nf*within + between/nf

	return math.Sqrt(pooled / within)
}

// Converged reports whether every tracked quantity's R-hat lies below
// the threshold.
func Converged(rs []float64, threshold float64) bool {
	if len(rs) == 0 {
		return false
	}

	for _, r := range rs {
		if !(r < threshold) {
			return false
		}
	}

	return true
}
