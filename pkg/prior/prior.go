// Package prior implements the one-dimensional prior distributions a
// scan declares per parameter: flat, (asymmetric) gaussian, log-gamma
// and discrete. Priors contribute additively to the log-posterior and
// double as sampling sources for starting points and prior-draw
// proposals.
package prior

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/scanmc/scanmc/pkg/param"
)

// Sentinel errors for prior construction.
var (
	ErrInvalidQuantiles  = errors.New("prior quantiles must satisfy lower < central < upper")
	ErrSymmetricLogGamma = errors.New("log-gamma prior needs an asymmetric interval, use gaussian instead")
	ErrEmptySupport      = errors.New("discrete prior needs a non-empty support set")
	ErrInvalidRange      = errors.New("prior range must satisfy min < max")
)

// sampleAttempts bounds rejection sampling against the hard range.
const sampleAttempts = 1000

// Standard-normal quantile probabilities for the 68.27% interval.
const (
	p16 = 0.15865525393145705
	p84 = 0.8413447460685429
)

// Prior is a named distribution over one parameter.
type Prior interface {
	// Name returns the governed parameter's name.
	Name() string
	// Range returns the hard bounds; LogDensity is -Inf outside.
	Range() param.Range
	// LogDensity evaluates the log prior density at x.
	LogDensity(x float64) float64
	// Sample draws one value from the prior, respecting the range.
	Sample(rng *rand.Rand) float64
	// String renders a one-line human-readable description.
	String() string
}

// Flat is a uniform prior over its range.
type Flat struct {
	name string
	rng  param.Range
	logp float64
}

// NewFlat constructs a flat prior over r.
func NewFlat(name string, r param.Range) (*Flat, error) {
	if r.Min >= r.Max {
		return nil, fmt.Errorf("%w: %q [%g, %g]", ErrInvalidRange, name, r.Min, r.Max)
	}

	return &Flat{name: name, rng: r, logp: -math.Log(r.Width())}, nil
}

func (f *Flat) Name() string       { return f.name }
func (f *Flat) Range() param.Range { return f.rng }

func (f *Flat) LogDensity(x float64) float64 {
	if !f.rng.Contains(x) {
		return math.Inf(-1)
	}

	return f.logp
}

func (f *Flat) Sample(rng *rand.Rand) float64 {
	u := distuv.Uniform{Min: f.rng.Min, Max: f.rng.Max, Src: rng}

	return u.Rand()
}

func (f *Flat) String() string {
	return fmt.Sprintf("Parameter: %s, prior type: flat, range: [%g, %g]", f.name, f.rng.Min, f.rng.Max)
}

// Gauss is an asymmetric gaussian prior described by the quantiles
// (lower, central, upper): central is the mode, lower and upper the
// 16%/84% points. The two branches share a common normalization so the
// density is continuous at the mode.
type Gauss struct {
	name       string
	rng        param.Range
	central    float64
	sigmaMinus float64
	sigmaPlus  float64
	logNorm    float64
}

// NewGauss constructs a gaussian prior from its quantile description.
func NewGauss(name string, r param.Range, lower, central, upper float64) (*Gauss, error) {
	if !(lower < central && central < upper) {
		return nil, fmt.Errorf("%w: %q (%g, %g, %g)", ErrInvalidQuantiles, name, lower, central, upper)
	}

	sm := central - lower
	sp := upper - central

	return &Gauss{
		name:       name,
		rng:        r,
		central:    central,
		sigmaMinus: sm,
		sigmaPlus:  sp,
		logNorm:    math.Log(2.0/(sm+sp)) - 0.5*math.Log(2.0*math.Pi),
	}, nil
}

func (g *Gauss) Name() string       { return g.name }
func (g *Gauss) Range() param.Range { return g.rng }

func (g *Gauss) LogDensity(x float64) float64 {
	if !g.rng.Contains(x) {
		return math.Inf(-1)
	}

	sigma := g.sigmaPlus
	if x < g.central {
		sigma = g.sigmaMinus
	}

	d := (x - g.central) / sigma

	return g.logNorm - 0.5*d*d
}

func (g *Gauss) Sample(rng *rand.Rand) float64 {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}

	for range sampleAttempts {
		z := math.Abs(norm.Rand())

		// Branch weight is proportional to the branch width.
		x := g.central + z*g.sigmaPlus
		if rng.Float64() < g.sigmaMinus/(g.sigmaMinus+g.sigmaPlus) {
			x = g.central - z*g.sigmaMinus
		}

		if g.rng.Contains(x) {
			return x
		}
	}

	return clamp(g.central, g.rng)
}

func (g *Gauss) String() string {
	return fmt.Sprintf("Parameter: %s, prior type: gaussian, range: [%g, %g], x = %g + %g - %g",
		g.name, g.rng.Min, g.rng.Max, g.central, g.sigmaPlus, g.sigmaMinus)
}

// LogGamma is a log-gamma prior fitted to an asymmetric (lower,
// central, upper) quantile description: x = nu + lambda*ln(g) with
// g ~ Gamma(alpha, 1), mirrored about the mode when the long tail lies
// on the right. The shape alpha is solved by bisection so the model's
// 16%/84% asymmetry matches the requested one.
type LogGamma struct {
	name    string
	rng     param.Range
	central float64
	nu      float64
	lambda  float64
	alpha   float64
	mirror  bool
}

// symmetryTolerance rejects intervals too symmetric for a log-gamma
// fit; the bisection degenerates as alpha runs away to infinity.
const symmetryTolerance = 0.02

// NewLogGamma fits a log-gamma prior to the quantile description.
func NewLogGamma(name string, r param.Range, lower, central, upper float64) (*LogGamma, error) {
	if !(lower < central && central < upper) {
		return nil, fmt.Errorf("%w: %q (%g, %g, %g)", ErrInvalidQuantiles, name, lower, central, upper)
	}

	sigmaMinus := central - lower
	sigmaPlus := upper - central

	ratio := sigmaPlus / sigmaMinus
	if math.Abs(ratio-1) < symmetryTolerance {
		return nil, fmt.Errorf("%w: %q (%g, %g, %g)", ErrSymmetricLogGamma, name, lower, central, upper)
	}

	// The un-mirrored parameterization puts the long tail on the left
	// (ratio < 1). Mirror about the mode otherwise.
	mirror := false
	if ratio > 1 {
		mirror = true
		ratio = 1 / ratio
		sigmaMinus, sigmaPlus = sigmaPlus, sigmaMinus
	}

	alpha, err := solveAlpha(ratio)
	if err != nil {
		return nil, fmt.Errorf("log-gamma fit for %q: %w", name, err)
	}

	lambda := sigmaPlus / (logGammaQuantile(alpha, p84) - math.Log(alpha))
	nu := central - lambda*math.Log(alpha)

	return &LogGamma{
		name:    name,
		rng:     r,
		central: central,
		nu:      nu,
		lambda:  lambda,
		alpha:   alpha,
		mirror:  mirror,
	}, nil
}

// logGammaQuantile returns the p-quantile of ln(g), g ~ Gamma(alpha, 1).
func logGammaQuantile(alpha, p float64) float64 {
	g := distuv.Gamma{Alpha: alpha, Beta: 1}

	return math.Log(g.Quantile(p))
}

// solveAlpha finds the shape whose 84%/16% spread ratio about the mode
// matches the target. The ratio grows monotonically with alpha from
// heavily skewed toward 1.
func solveAlpha(target float64) (float64, error) {
	ratio := func(logAlpha float64) float64 {
		a := math.Exp(logAlpha)
		mode := math.Log(a)

		return (logGammaQuantile(a, p84) - mode) / (mode - logGammaQuantile(a, p16))
	}

	lo, hi := math.Log(1e-3), math.Log(1e9)
	if ratio(hi) < target {
		return 0, ErrSymmetricLogGamma
	}

	const bisectionSteps = 200

	for range bisectionSteps {
		mid := 0.5 * (lo + hi)
		if ratio(mid) < target {
			lo = mid
		} else {
			hi = mid
		}
	}

	return math.Exp(0.5 * (lo + hi)), nil
}

func (l *LogGamma) Name() string       { return l.name }
func (l *LogGamma) Range() param.Range { return l.rng }

func (l *LogGamma) LogDensity(x float64) float64 {
	if !l.rng.Contains(x) {
		return math.Inf(-1)
	}

	if l.mirror {
		x = 2*l.central - x
	}

	z := (x - l.nu) / l.lambda
	lg, _ := math.Lgamma(l.alpha)

	return l.alpha*z - math.Exp(z) - lg - math.Log(l.lambda)
}

func (l *LogGamma) Sample(rng *rand.Rand) float64 {
	g := distuv.Gamma{Alpha: l.alpha, Beta: 1, Src: rng}

	for range sampleAttempts {
		x := l.nu + l.lambda*math.Log(g.Rand())
		if l.mirror {
			x = 2*l.central - x
		}

		if l.rng.Contains(x) {
			return x
		}
	}

	return clamp(l.central, l.rng)
}

func (l *LogGamma) String() string {
	return fmt.Sprintf("Parameter: %s, prior type: log-gamma, range: [%g, %g], nu = %g, lambda = %g, alpha = %g",
		l.name, l.rng.Min, l.rng.Max, l.nu, l.lambda, l.alpha)
}

// Discrete is a uniform prior over a finite explicit support set.
type Discrete struct {
	name   string
	values []float64
	logp   float64
}

// supportTolerance is the absolute slack for support membership tests.
const supportTolerance = 1e-12

// NewDiscrete constructs a discrete prior over the given support. The
// support is deduplicated and sorted.
func NewDiscrete(name string, values []float64) (*Discrete, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptySupport, name)
	}

	vs := make([]float64, len(values))
	copy(vs, values)
	sort.Float64s(vs)

	dedup := vs[:1]
	for _, v := range vs[1:] {
		if v != dedup[len(dedup)-1] {
			dedup = append(dedup, v)
		}
	}

	return &Discrete{
		name:   name,
		values: dedup,
		logp:   -math.Log(float64(len(dedup))),
	}, nil
}

func (d *Discrete) Name() string { return d.name }

// Range spans the support's extremes.
func (d *Discrete) Range() param.Range {
	return param.Range{Min: d.values[0], Max: d.values[len(d.values)-1]}
}

// Values returns the sorted support set.
func (d *Discrete) Values() []float64 { return d.values }

// Contains reports support membership within tolerance.
func (d *Discrete) Contains(x float64) bool {
	i := sort.SearchFloat64s(d.values, x-supportTolerance)

	return i < len(d.values) && math.Abs(d.values[i]-x) <= supportTolerance
}

func (d *Discrete) LogDensity(x float64) float64 {
	if !d.Contains(x) {
		return math.Inf(-1)
	}

	return d.logp
}

func (d *Discrete) Sample(rng *rand.Rand) float64 {
	return d.values[rng.Intn(len(d.values))]
}

func (d *Discrete) String() string {
	return fmt.Sprintf("Parameter: %s, prior type: discrete, %d values in [%g, %g]",
		d.name, len(d.values), d.values[0], d.values[len(d.values)-1])
}

func clamp(x float64, r param.Range) float64 {
	return math.Min(math.Max(x, r.Min), r.Max)
}
