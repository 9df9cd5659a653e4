// Package proposal implements the candidate-generating distributions of
// the Metropolis-Hastings walk: adaptive multivariate gaussian and
// student-t blocks, discrete draws over a finite support, prior draws
// for blocked parameters, and the block composite combining them.
package proposal

import (
	"errors"

	"golang.org/x/exp/rand"

	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/prior"
)

// Sentinel errors for proposal construction and state restore.
var (
	ErrInvalidDegreesOfFreedom = errors.New("student-t degrees of freedom must be positive")
	ErrNoDimensions            = errors.New("proposal needs at least one dimension")
	ErrStateMismatch           = errors.New("proposal state does not match configuration")
)

// Proposal generates candidate points from a current point. Propose
// writes the candidate into dst, which the caller pre-fills with the
// current point; a proposal only touches the dimensions it governs.
type Proposal interface {
	Propose(dst, current param.Vector, rng *rand.Rand)

	// Symmetric reports whether q(a|b) == q(b|a); symmetric proposals
	// need no density correction in the acceptance ratio.
	Symmetric() bool

	// LogRatio returns log q(current|candidate) - log q(candidate|current).
	// It is zero for symmetric proposals.
	LogRatio(current, candidate param.Vector) float64

	// Adapt re-tunes the proposal from an interval's samples and its
	// observed acceptance rate. Non-adaptive proposals ignore it.
	Adapt(history []param.Vector, acceptanceRate float64) error
}

// Adaptive is implemented by proposals carrying tunable state that must
// survive a checkpoint.
type Adaptive interface {
	Snapshot() Snapshot
	RestoreSnapshot(Snapshot) error
}

// Snapshot is a proposal's adaptive state: the scaled covariance of the
// multivariate block plus its tuning factor. It is empty for proposals
// without adaptive state.
type Snapshot struct {
	Dim        int       `json:"dim"`
	Scale      float64   `json:"scale"`
	Covariance []float64 `json:"covariance"` // row-major Dim x Dim
}

// Discrete proposes uniformly among a finite fixed set of values for
// one dimension. It is never adapted.
type Discrete struct {
	dim    int
	values []float64
}

// NewDiscrete creates a discrete proposal for dimension dim over the
// prior's support set.
func NewDiscrete(dim int, p *prior.Discrete) *Discrete {
	return &Discrete{dim: dim, values: p.Values()}
}

func (d *Discrete) Propose(dst, _ param.Vector, rng *rand.Rand) {
	dst[d.dim] = d.values[rng.Intn(len(d.values))]
}

func (d *Discrete) Symmetric() bool { return true }

func (d *Discrete) LogRatio(_, _ param.Vector) float64 { return 0 }

func (d *Discrete) Adapt(_ []param.Vector, _ float64) error { return nil }

// PriorDraw proposes one dimension directly from its prior each step,
// independent of the current point. It decouples slow-converging
// nuisance directions from the adaptive covariance estimate.
type PriorDraw struct {
	dim int
	p   prior.Prior
}

// NewPriorDraw creates a prior-draw proposal for dimension dim.
func NewPriorDraw(dim int, p prior.Prior) *PriorDraw {
	return &PriorDraw{dim: dim, p: p}
}

func (pd *PriorDraw) Propose(dst, _ param.Vector, rng *rand.Rand) {
	dst[pd.dim] = pd.p.Sample(rng)
}

// Symmetric is false: the draw ignores the current point, so the
// forward and reverse densities differ.
func (pd *PriorDraw) Symmetric() bool { return false }

func (pd *PriorDraw) LogRatio(current, candidate param.Vector) float64 {
	return pd.p.LogDensity(current[pd.dim]) - pd.p.LogDensity(candidate[pd.dim])
}

func (pd *PriorDraw) Adapt(_ []param.Vector, _ float64) error { return nil }
