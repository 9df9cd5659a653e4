package analysis

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/prior"
)

// Sentinel errors for definition files.
var (
	ErrUnknownPriorType   = errors.New("unknown prior type")
	ErrSigmasWithFlat     = errors.New("sigmas cannot be combined with a flat prior")
	ErrConstraintTarget   = errors.New("constraint references undeclared parameter")
	ErrInvalidSigmas      = errors.New("sigmas must lie in (0, 10]")
	ErrNothingToConstrain = errors.New("definition declares no constraints")
)

// maxSigmas bounds the n-sigma range tightening.
const maxSigmas = 10

// Definition is the YAML analysis description: which parameters are
// scanned, their priors, the gaussian constraint terms forming the
// built-in likelihood, fixed parameters and declared partitions.
type Definition struct {
	Parameters  []ParameterDef  `yaml:"parameters"`
	Constraints []ConstraintDef `yaml:"constraints"`
	Partitions  []PartitionDef  `yaml:"partitions"`
}

// ParameterDef declares one parameter of the scan.
type ParameterDef struct {
	Name     string    `yaml:"name"`
	Min      *float64  `yaml:"min"`
	Max      *float64  `yaml:"max"`
	Prior    string    `yaml:"prior"`
	Lower    float64   `yaml:"lower"`
	Central  float64   `yaml:"central"`
	Upper    float64   `yaml:"upper"`
	Sigmas   float64   `yaml:"sigmas"`
	Values   []float64 `yaml:"values"`
	Nuisance bool      `yaml:"nuisance"`
	Fix      *float64  `yaml:"fix"`
}

// ConstraintDef is one gaussian measurement term of the built-in
// likelihood: the parameter's value is constrained to (lower, central,
// upper) with asymmetric uncertainties.
type ConstraintDef struct {
	Parameter string  `yaml:"parameter"`
	Lower     float64 `yaml:"lower"`
	Central   float64 `yaml:"central"`
	Upper     float64 `yaml:"upper"`
}

// PartitionDef is one declared sub-rectangle of the scan domain.
type PartitionDef []param.NamedRange

// LoadDefinition reads and parses an analysis definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	var def Definition

	err = yaml.Unmarshal(data, &def)
	if err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	return &def, nil
}

// Build assembles the analysis: priors from the parameter declarations
// and a likelihood summing the gaussian constraint terms. A definition
// with no constraint terms is rejected. Fixed parameters are excluded
// from the free vector; constraints on them contribute a constant
// dropped from the likelihood.
func (d *Definition) Build() (*Analysis, []param.Partition, error) {
	fixed := make(map[string]float64)

	for _, p := range d.Parameters {
		if p.Fix != nil {
			fixed[p.Name] = *p.Fix
		}
	}

	free := make([]ParameterDef, 0, len(d.Parameters))

	for _, p := range d.Parameters {
		if p.Fix == nil {
			free = append(free, p)
		}
	}

	if len(free) == 0 {
		return nil, nil, ErrNoParameters
	}

	if len(d.Constraints) == 0 {
		return nil, nil, ErrNothingToConstrain
	}

	likelihood, err := d.buildLikelihood(free, fixed)
	if err != nil {
		return nil, nil, err
	}

	a := New(likelihood)

	for _, p := range free {
		pr, err := p.buildPrior()
		if err != nil {
			return nil, nil, err
		}

		err = a.Add(pr, p.Nuisance)
		if err != nil {
			return nil, nil, err
		}
	}

	partitions := make([]param.Partition, len(d.Partitions))
	for i, pd := range d.Partitions {
		partitions[i] = param.Partition(pd)
	}

	return a, partitions, nil
}

// buildPrior constructs the prior for one free parameter, applying the
// n-sigma range tightening: the hard range shrinks toward the central
// value but never widens beyond the declared bounds.
func (p ParameterDef) buildPrior() (prior.Prior, error) {
	r := param.Unbounded()
	if p.Min != nil {
		r.Min = *p.Min
	}

	if p.Max != nil {
		r.Max = *p.Max
	}

	if p.Sigmas < 0 || p.Sigmas > maxSigmas {
		return nil, fmt.Errorf("%w: %q: %g", ErrInvalidSigmas, p.Name, p.Sigmas)
	}

	if p.Sigmas > 0 {
		if p.Prior == "flat" {
			return nil, fmt.Errorf("%w: %q", ErrSigmasWithFlat, p.Name)
		}

		r.Min = math.Max(r.Min, p.Central-p.Sigmas*(p.Central-p.Lower))
		r.Max = math.Min(r.Max, p.Central+p.Sigmas*(p.Upper-p.Central))
	}

	switch p.Prior {
	case "flat", "":
		return prior.NewFlat(p.Name, r)
	case "gaussian":
		return prior.NewGauss(p.Name, r, p.Lower, p.Central, p.Upper)
	case "log-gamma":
		return prior.NewLogGamma(p.Name, r, p.Lower, p.Central, p.Upper)
	case "discrete":
		return prior.NewDiscrete(p.Name, p.Values)
	default:
		return nil, fmt.Errorf("%w: %q for %q", ErrUnknownPriorType, p.Prior, p.Name)
	}
}

// gaussTerm is one resolved constraint over a free-vector index.
type gaussTerm struct {
	index      int
	central    float64
	sigmaMinus float64
	sigmaPlus  float64
	logNorm    float64
}

func (d *Definition) buildLikelihood(free []ParameterDef, fixed map[string]float64) (LogLikelihood, error) {
	index := make(map[string]int, len(free))
	for i, p := range free {
		index[p.Name] = i
	}

	terms := make([]gaussTerm, 0, len(d.Constraints))

	for _, c := range d.Constraints {
		if !(c.Lower < c.Central && c.Central < c.Upper) {
			return nil, fmt.Errorf("%w: %q (%g, %g, %g)", prior.ErrInvalidQuantiles, c.Parameter, c.Lower, c.Central, c.Upper)
		}

		if _, isFixed := fixed[c.Parameter]; isFixed {
			// Constant likelihood contribution; irrelevant for sampling.
			continue
		}

		i, ok := index[c.Parameter]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrConstraintTarget, c.Parameter)
		}

		sm := c.Central - c.Lower
		sp := c.Upper - c.Central

		terms = append(terms, gaussTerm{
			index:      i,
			central:    c.Central,
			sigmaMinus: sm,
			sigmaPlus:  sp,
			logNorm:    math.Log(2.0/(sm+sp)) - 0.5*math.Log(2.0*math.Pi),
		})
	}

	return func(v param.Vector) float64 {
		ll := 0.0

		for _, t := range terms {
			sigma := t.sigmaPlus
			if v[t.index] < t.central {
				sigma = t.sigmaMinus
			}

			z := (v[t.index] - t.central) / sigma
			ll += t.logNorm - 0.5*z*z
		}

		return ll
	}, nil
}
