// Package param defines parameter vectors, ranges and partitions of the
// scan parameter space.
package param

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for partition application.
var (
	ErrUnknownParameter = errors.New("partition references unknown parameter")
	ErrEmptyRange       = errors.New("partition yields empty range")
)

// Vector is an ordered point in parameter space. Its dimensionality is
// fixed for the lifetime of a run.
type Vector []float64

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)

	return out
}

// Range holds hard per-parameter bounds. A posterior evaluation outside
// the range is treated as probability zero.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether x lies within the closed interval [Min, Max].
func (r Range) Contains(x float64) bool {
	return x >= r.Min && x <= r.Max
}

// Width returns the length of the interval.
func (r Range) Width() float64 {
	return r.Max - r.Min
}

// Unbounded returns a range covering the full float64 domain.
func Unbounded() Range {
	return Range{Min: -math.MaxFloat64, Max: math.MaxFloat64}
}

// NamedRange restricts one named parameter to a sub-interval.
type NamedRange struct {
	Name string  `json:"name" yaml:"name"`
	Min  float64 `json:"min"  yaml:"min"`
	Max  float64 `json:"max"  yaml:"max"`
}

// Partition is an ordered list of per-parameter restrictions describing
// one sub-rectangle of the scan domain. Separate sampler invocations
// select different partitions to explore disjoint regions independently.
type Partition []NamedRange

// Apply narrows the given ranges, keyed by parameter name, to the
// partition. Restrictions only ever narrow: the result is the
// intersection of the declared range and the partition bound, never a
// widened interval. A partition entry naming an unknown parameter, or
// one whose intersection is empty, is a configuration error.
func (p Partition) Apply(ranges map[string]Range) error {
	for _, nr := range p {
		r, ok := ranges[nr.Name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownParameter, nr.Name)
		}

		narrowed := Range{
			Min: math.Max(r.Min, nr.Min),
			Max: math.Min(r.Max, nr.Max),
		}
		if narrowed.Min >= narrowed.Max {
			return fmt.Errorf("%w: %q [%g, %g]", ErrEmptyRange, nr.Name, narrowed.Min, narrowed.Max)
		}

		ranges[nr.Name] = narrowed
	}

	return nil
}
