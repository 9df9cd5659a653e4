// Package mathutil provides small numeric helper routines shared by the
// sampling packages.
package mathutil

// Mean calculates the arithmetic mean of xs. It returns 0 for an empty
// slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	sum := 0.0
	for _, x := range xs {
		sum += x
	}

	return sum / float64(len(xs))
}

// Variance calculates the unbiased sample variance of xs. It returns 0
// for fewer than two samples.
func Variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	m := Mean(xs)

	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}

	return sum / float64(len(xs)-1)
}

// Moments tracks running mean and variance with Welford's algorithm, so
// chain statistics can be maintained without retaining every sample.
type Moments struct {
	n    int
	mean float64
	m2   float64
}

// Add folds one observation into the running moments.
func (m *Moments) Add(x float64) {
	m.n++
	delta := x - m.mean
	m.mean += delta / float64(m.n)
	m.m2 += delta * (x - m.mean)
}

// Count returns the number of observations seen.
func (m *Moments) Count() int { return m.n }

// Mean returns the running mean.
func (m *Moments) Mean() float64 { return m.mean }

// Variance returns the unbiased running variance.
func (m *Moments) Variance() float64 {
	if m.n < 2 {
		return 0
	}

	return m.m2 / float64(m.n-1)
}
