// Package analysis assembles the declared scan and nuisance parameters,
// their priors and an opaque log-likelihood into the posterior the
// sampler explores.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/prior"
)

// Sentinel errors for analysis construction.
var (
	ErrDuplicateParameter = errors.New("parameter declared twice")
	ErrNoParameters       = errors.New("analysis declares no parameters")
	ErrDimensionMismatch  = errors.New("vector dimension does not match analysis")
)

// LogLikelihood evaluates the opaque physics model at a point. It must
// be safe for concurrent use; chains share it read-only.
type LogLikelihood func(param.Vector) float64

// Description pairs one free parameter's prior with its role.
type Description struct {
	Prior    prior.Prior
	Nuisance bool
	Discrete bool
}

// Analysis owns the ordered parameter descriptions and the effective
// per-parameter ranges. Ranges start at the priors' hard bounds and may
// only be narrowed afterwards (partition selection).
type Analysis struct {
	likelihood   LogLikelihood
	descriptions []Description
	ranges       []param.Range
	index        map[string]int
}

// New creates an empty analysis around the given log-likelihood.
func New(likelihood LogLikelihood) *Analysis {
	return &Analysis{
		likelihood: likelihood,
		index:      make(map[string]int),
	}
}

// Add declares one more parameter with its prior. Declaring the same
// parameter twice is an error.
func (a *Analysis) Add(p prior.Prior, nuisance bool) error {
	name := p.Name()
	if _, dup := a.index[name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateParameter, name)
	}

	_, discrete := p.(*prior.Discrete)

	a.index[name] = len(a.descriptions)
	a.descriptions = append(a.descriptions, Description{Prior: p, Nuisance: nuisance, Discrete: discrete})
	a.ranges = append(a.ranges, p.Range())

	return nil
}

// Dim returns the number of free parameters.
func (a *Analysis) Dim() int { return len(a.descriptions) }

// Names returns the ordered parameter names.
func (a *Analysis) Names() []string {
	names := make([]string, len(a.descriptions))
	for i, d := range a.descriptions {
		names[i] = d.Prior.Name()
	}

	return names
}

// Descriptions returns the ordered parameter descriptions.
func (a *Analysis) Descriptions() []Description { return a.descriptions }

// LogPrior returns the prior for a parameter name, or nil.
func (a *Analysis) LogPrior(name string) prior.Prior {
	i, ok := a.index[name]
	if !ok {
		return nil
	}

	return a.descriptions[i].Prior
}

// Index returns the position of a named parameter and whether it exists.
func (a *Analysis) Index(name string) (int, bool) {
	i, ok := a.index[name]

	return i, ok
}

// Range returns the effective range of parameter i.
func (a *Analysis) Range(i int) param.Range { return a.ranges[i] }

// Ranges returns a copy of the effective per-parameter ranges.
func (a *Analysis) Ranges() []param.Range {
	out := make([]param.Range, len(a.ranges))
	copy(out, a.ranges)

	return out
}

// ApplyPartition narrows the effective ranges to the partition. The
// rule is narrowing-only: a partition bound wider than the declared
// range leaves the declared range in place.
func (a *Analysis) ApplyPartition(p param.Partition) error {
	byName := make(map[string]param.Range, len(a.ranges))
	for i, d := range a.descriptions {
		byName[d.Prior.Name()] = a.ranges[i]
	}

	err := p.Apply(byName)
	if err != nil {
		return err
	}

	for i, d := range a.descriptions {
		a.ranges[i] = byName[d.Prior.Name()]
	}

	return nil
}

// SamplePoint draws one point from the priors, respecting the effective
// ranges. It is used to seed chain starting positions.
func (a *Analysis) SamplePoint(rng *rand.Rand) param.Vector {
	const attempts = 1000

	v := make(param.Vector, len(a.descriptions))

	for i, d := range a.descriptions {
		x := d.Prior.Sample(rng)
		for range attempts {
			if a.ranges[i].Contains(x) {
				break
			}

			x = d.Prior.Sample(rng)
		}

		v[i] = x
	}

	return v
}

// Posterior returns the stateless posterior evaluator over this
// analysis. The evaluator is safe for concurrent use.
func (a *Analysis) Posterior() *Posterior {
	return &Posterior{analysis: a}
}

// Posterior evaluates log-likelihood plus log-priors at a point.
type Posterior struct {
	analysis *Analysis
}

// Dim returns the expected vector dimensionality.
func (p *Posterior) Dim() int { return p.analysis.Dim() }

// Evaluate computes the log-posterior at v. It returns -Inf, never NaN,
// when any component lies outside its effective range or off a discrete
// prior's support.
func (p *Posterior) Evaluate(v param.Vector) float64 {
	if len(v) != p.analysis.Dim() {
		panic(fmt.Sprintf("analysis: %v: got %d, want %d", ErrDimensionMismatch, len(v), p.analysis.Dim()))
	}

	logPost := 0.0

	for i, d := range p.analysis.descriptions {
		if !p.analysis.ranges[i].Contains(v[i]) {
			return math.Inf(-1)
		}

		lp := d.Prior.LogDensity(v[i])
		if math.IsInf(lp, -1) {
			return math.Inf(-1)
		}

		logPost += lp
	}

	if p.analysis.likelihood != nil {
		ll := p.analysis.likelihood(v)
		if math.IsNaN(ll) {
			return math.Inf(-1)
		}

		logPost += ll
	}

	return logPost
}
