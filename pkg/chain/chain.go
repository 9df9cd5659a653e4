// Package chain implements a single Markov-chain random walk: current
// state, Metropolis-Hastings stepping, acceptance bookkeeping and the
// sample history the coordinator uses for adaptation and convergence.
package chain

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/scanmc/scanmc/pkg/analysis"
	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/proposal"
)

// Sentinel errors for state restore.
var (
	ErrDimensionMismatch = errors.New("checkpoint position dimension mismatch")
	ErrRNGState          = errors.New("invalid checkpoint rng state")
)

// Stats counts accepted and rejected steps.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Total returns the number of steps taken.
func (s Stats) Total() uint64 { return s.Accepted + s.Rejected }

// AcceptanceRate returns accepted/total, or 0 before the first step.
func (s Stats) AcceptanceRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}

	return float64(s.Accepted) / float64(total)
}

// Chain owns one random walk. It is never shared between goroutines;
// the sampler runs each chain on its own worker and synchronizes only
// at chunk boundaries.
type Chain struct {
	id       int
	post     *analysis.Posterior
	prop     proposal.Proposal
	src      *rand.PCGSource
	rng      *rand.Rand
	current  param.Vector
	logPost  float64
	scratch  param.Vector
	stats    Stats
	history  []param.Vector
	logHist  []float64
	intStats Stats

	recordProps bool
	propHist    []param.Vector
}

// New creates a chain at the given starting point with a deterministic
// per-chain RNG seed.
func New(id int, post *analysis.Posterior, prop proposal.Proposal, start param.Vector, seed uint64) *Chain {
	src := &rand.PCGSource{}
	src.Seed(seed)

	c := &Chain{
		id:      id,
		post:    post,
		prop:    prop,
		src:     src,
		rng:     rand.New(src),
		current: start.Clone(),
		scratch: make(param.Vector, len(start)),
	}
	c.logPost = post.Evaluate(c.current)

	return c
}

// ID returns the chain index within the ensemble.
func (c *Chain) ID() int { return c.id }

// Current returns the chain's current position. The caller must not
// mutate it.
func (c *Chain) Current() param.Vector { return c.current }

// LogPosterior returns the log-posterior at the current position.
func (c *Chain) LogPosterior() float64 { return c.logPost }

// Stats returns the lifetime acceptance counters.
func (c *Chain) Stats() Stats { return c.stats }

// RNG exposes the chain's generator for start-point sampling.
func (c *Chain) RNG() *rand.Rand { return c.rng }

// SetStart moves the chain to a new starting point, re-evaluating the
// posterior there. It is called before the first step only.
func (c *Chain) SetStart(start param.Vector) {
	copy(c.current, start)
	c.logPost = c.post.Evaluate(c.current)
}

// RecordProposals enables recording of every proposed candidate, for
// runs that store auxiliary proposal data.
func (c *Chain) RecordProposals(enabled bool) {
	c.recordProps = enabled
}

// ProposalHistory returns the candidates proposed since the last reset.
// It is empty unless RecordProposals was enabled.
func (c *Chain) ProposalHistory() []param.Vector { return c.propHist }

// Step advances the walk by one Metropolis-Hastings step and reports
// whether the candidate was accepted.
func (c *Chain) Step() bool {
	c.prop.Propose(c.scratch, c.current, c.rng)

	if c.recordProps {
		c.propHist = append(c.propHist, c.scratch.Clone())
	}

	candidate := c.post.Evaluate(c.scratch)
	delta := candidate - c.logPost + c.prop.LogRatio(c.current, c.scratch)

	if math.Log(c.rng.Float64()) < delta {
		copy(c.current, c.scratch)
		c.logPost = candidate
		c.stats.Accepted++
		c.intStats.Accepted++

		return true
	}

	c.stats.Rejected++
	c.intStats.Rejected++

	return false
}

// Run advances n steps, recording each visited state (accepted or not)
// into the interval history.
func (c *Chain) Run(n int) {
	for range n {
		c.Step()
		c.history = append(c.history, c.current.Clone())
		c.logHist = append(c.logHist, c.logPost)
	}
}

// History returns the positions recorded since the last reset.
func (c *Chain) History() []param.Vector { return c.history }

// LogPosteriorHistory returns the log-posterior trace since the last
// reset.
func (c *Chain) LogPosteriorHistory() []float64 { return c.logHist }

// ParameterHistory extracts the trace of one dimension from the
// interval history.
func (c *Chain) ParameterHistory(dim int) []float64 {
	out := make([]float64, len(c.history))
	for i, v := range c.history {
		out[i] = v[dim]
	}

	return out
}

// IntervalStats returns the acceptance counters since the last reset.
func (c *Chain) IntervalStats() Stats { return c.intStats }

// ResetInterval clears the history buffer and interval counters. The
// coordinator calls it after each adaptation window or chunk flush.
func (c *Chain) ResetInterval() {
	c.history = c.history[:0]
	c.logHist = c.logHist[:0]
	c.propHist = c.propHist[:0]
	c.intStats = Stats{}
}

// Adapt re-tunes the chain's proposal from the interval history. Only
// the coordinator calls it, with all chains quiesced at the barrier.
func (c *Chain) Adapt() error {
	return c.prop.Adapt(c.history, c.intStats.AcceptanceRate())
}

// State is a chain's checkpointable snapshot.
type State struct {
	ID           int               `json:"id"`
	Position     []float64         `json:"position"`
	LogPosterior float64           `json:"log_posterior"`
	Stats        Stats             `json:"stats"`
	RNGState     []byte            `json:"rng_state"`
	Proposal     proposal.Snapshot `json:"proposal"`
}

// Export snapshots the chain for a checkpoint.
func (c *Chain) Export() (State, error) {
	rngState, err := c.src.MarshalBinary()
	if err != nil {
		return State{}, fmt.Errorf("marshal rng state: %w", err)
	}

	s := State{
		ID:           c.id,
		Position:     c.current.Clone(),
		LogPosterior: c.logPost,
		Stats:        c.stats,
		RNGState:     rngState,
	}

	if a, ok := c.prop.(proposal.Adaptive); ok {
		s.Proposal = a.Snapshot()
	}

	return s, nil
}

// Restore reinstates a checkpointed snapshot. The position dimension
// must match the chain's.
func (c *Chain) Restore(s State) error {
	if len(s.Position) != len(c.current) {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(s.Position), len(c.current))
	}

	err := c.src.UnmarshalBinary(s.RNGState)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRNGState, err)
	}

	copy(c.current, s.Position)
	c.logPost = s.LogPosterior
	c.stats = s.Stats
	c.ResetInterval()

	if a, ok := c.prop.(proposal.Adaptive); ok && s.Proposal.Dim > 0 {
		err := a.RestoreSnapshot(s.Proposal)
		if err != nil {
			return err
		}
	}

	return nil
}
