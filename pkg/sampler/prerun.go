package sampler

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/scanmc/scanmc/pkg/convergence"
	"github.com/scanmc/scanmc/pkg/optimizer"
	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/store"
)

// runPrerun drives the burn-in: lockstep windows of update-interval
// steps, proposal adaptation and convergence checks at each barrier.
// The run must last at least the configured minimum, stops early once
// converged, and gives up at the maximum with a non-fatal warning.
func (s *Sampler) runPrerun(ctx context.Context) error {
	if s.cfg.FindModes {
		err := s.seedFromModes()
		if err != nil {
			return err
		}
	}

	s.logger.Info("prerun starting",
		"chains", len(s.chains),
		"min", s.cfg.PrerunIterationsMin,
		"max", s.cfg.PrerunIterationsMax,
		"update", s.cfg.PrerunIterationsUpdate,
		"threshold", s.cfg.ScaleReduction)

	iterations := 0
	converged := false

	for iterations < s.cfg.PrerunIterationsMax {
		err := ctx.Err()
		if err != nil {
			return err
		}

		window := min(s.cfg.PrerunIterationsUpdate, s.cfg.PrerunIterationsMax-iterations)
		s.runWindow(window)
		iterations += window

		rs := s.scaleReductions()
		converged = convergence.Converged(rs, s.cfg.ScaleReduction)

		s.logger.Info("prerun window complete",
			"iterations", humanize.Comma(int64(iterations)),
			"max_rhat", maxOf(rs),
			"converged", converged)

		if s.cfg.StorePrerun && s.st != nil {
			err := s.flushPrerun()
			if err != nil {
				return err
			}
		}

		if converged && iterations >= s.cfg.PrerunIterationsMin {
			break
		}

		// Adapt with all chains quiesced at the barrier, then start a
		// fresh window.
		for _, c := range s.chains {
			err := c.Adapt()
			if err != nil {
				return err
			}

			c.ResetInterval()
		}

		converged = false
	}

	if converged {
		s.logger.Info("prerun converged", "iterations", humanize.Comma(int64(iterations)))
	} else {
		s.logger.Warn("prerun exhausted maximum iterations without convergence, proceeding to main run",
			"iterations", humanize.Comma(int64(iterations)),
			"threshold", s.cfg.ScaleReduction)
	}

	for _, c := range s.chains {
		c.ResetInterval()
	}

	s.prerunDone = true

	return nil
}

// seedFromModes replaces each chain's prior-drawn start with a local
// mode found by the optimizer. Convergence logic is unaffected.
func (s *Sampler) seedFromModes() error {
	starts := make([]param.Vector, len(s.chains))
	for i, c := range s.chains {
		starts[i] = c.Current().Clone()
	}

	results, _, err := optimizer.FindModes(s.post, starts, s.cfg.ModeFindingIterations)
	if err != nil {
		return err
	}

	for i, c := range s.chains {
		c.SetStart(results[i].Point)
		s.logger.Debug("chain seeded from mode",
			"chain", i, "log_posterior", results[i].LogPosterior)
	}

	return nil
}

// scaleReductions computes R-hat per tracked parameter from the current
// window's histories and mirrors them to the metrics registry.
func (s *Sampler) scaleReductions() []float64 {
	dim := s.analysis.Dim()
	names := s.analysis.Names()
	rs := make([]float64, dim)

	for d := 0; d < dim; d++ {
		traces := make([][]float64, len(s.chains))
		for i, c := range s.chains {
			traces[i] = c.ParameterHistory(d)
		}

		rs[d] = convergence.ScaleReduction(traces)

		if s.metrics != nil {
			s.metrics.ObserveScaleReduction(names[d], rs[d])
		}
	}

	return rs
}

// flushPrerun persists the current window's samples as prerun chunks.
func (s *Sampler) flushPrerun() error {
	window := uint64(len(s.chains[0].History()))

	for _, c := range s.chains {
		rec := store.ChunkRecord{
			Chain:          c.ID(),
			FirstIteration: s.prerunIteration,
			LastIteration:  s.prerunIteration + window - 1,
			Prerun:         true,
			Positions:      c.History(),
			LogPosteriors:  c.LogPosteriorHistory(),
		}

		if s.cfg.StoreObservablesAndProposals {
			rec.Proposals = c.ProposalHistory()
		}

		err := s.st.WriteChunk(rec)
		if err != nil {
			return err
		}
	}

	s.prerunIteration += window

	return nil
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}

	m := xs[0]
	for _, x := range xs[1:] {
		m = max(m, x)
	}

	return m
}
