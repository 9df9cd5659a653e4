// Package sampler orchestrates the chain ensemble: partition selection,
// the adaptive burn-in phase, the main sampling run with chunked
// persistence, and checkpoint/resume.
package sampler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/scanmc/scanmc/pkg/analysis"
	"github.com/scanmc/scanmc/pkg/chain"
	"github.com/scanmc/scanmc/pkg/checkpoint"
	"github.com/scanmc/scanmc/pkg/convergence"
	"github.com/scanmc/scanmc/pkg/mathutil"
	"github.com/scanmc/scanmc/pkg/observability"
	"github.com/scanmc/scanmc/pkg/param"
	"github.com/scanmc/scanmc/pkg/prior"
	"github.com/scanmc/scanmc/pkg/proposal"
	"github.com/scanmc/scanmc/pkg/store"
)

// Dependencies are the sampler's external collaborators. Store may be
// nil for prerun-only runs that do not persist; Metrics may be nil.
// SummaryWriter, when set, receives the end-of-run summary tables.
type Dependencies struct {
	Logger        *slog.Logger
	Store         store.Store
	Metrics       *observability.Metrics
	SummaryWriter io.Writer
}

// Sampler owns the chain ensemble and drives the run.
type Sampler struct {
	cfg      Config
	analysis *analysis.Analysis
	post     *analysis.Posterior
	chains   []*chain.Chain
	logger   *slog.Logger
	metrics  *observability.Metrics
	st       store.Store
	ckpt     *checkpoint.Manager
	summaryW io.Writer

	runID           string
	iteration       uint64 // completed main-run steps per chain
	prerunIteration uint64
	completedChunks int
	prerunDone      bool
	resumed         bool

	// posterior summary across all main-run samples, per dimension
	moments []mathutil.Moments
	finalR  []float64
}

// New builds the ensemble: applies partition selection, constructs
// per-chain proposals and deterministically seeded chains, and restores
// a checkpoint when resuming. Configuration mistakes fail here, before
// any sampling.
func New(a *analysis.Analysis, cfg Config, deps Dependencies) (*Sampler, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if a.Dim() == 0 {
		return nil, analysis.ErrNoParameters
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = observability.ComponentLogger(logger, "sampler")

	if cfg.PartitionIndex != nil {
		err := a.ApplyPartition(cfg.Partitions[*cfg.PartitionIndex])
		if err != nil {
			return nil, fmt.Errorf("select partition %d: %w", *cfg.PartitionIndex, err)
		}

		logger.Info("partition selected", "index", *cfg.PartitionIndex)
	}

	s := &Sampler{
		cfg:      cfg,
		analysis: a,
		post:     a.Posterior(),
		logger:   logger,
		metrics:  deps.Metrics,
		st:       deps.Store,
		summaryW: deps.SummaryWriter,
		moments:  make([]mathutil.Moments, a.Dim()),
	}

	if cfg.CheckpointDir != "" {
		s.ckpt = checkpoint.NewManager(cfg.CheckpointDir)
	}

	err = s.buildChains()
	if err != nil {
		return nil, err
	}

	if cfg.ResumeFrom != "" {
		err = s.resume()
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// buildChains constructs one proposal and one chain per ensemble slot.
// Chain i's RNG is seeded with seed+i, and its starting point is drawn
// from the priors through that RNG, so trajectories are reproducible
// from (seed, chain count) alone.
func (s *Sampler) buildChains() error {
	s.chains = make([]*chain.Chain, s.cfg.Chains)

	for i := range s.chains {
		prop, err := s.buildProposal()
		if err != nil {
			return err
		}

		c := chain.New(i, s.post, prop, make(param.Vector, s.analysis.Dim()), s.cfg.Seed+uint64(i))
		c.SetStart(s.analysis.SamplePoint(c.RNG()))

		if s.cfg.StoreObservablesAndProposals {
			c.RecordProposals(true)
		}

		s.chains[i] = c
	}

	return nil
}

// buildProposal assembles the per-chain proposal: discrete dimensions
// draw from their support, blocked parameters from their priors, and
// the remaining continuous dimensions form one adaptive multivariate
// block seeded with flat-prior variances.
func (s *Sampler) buildProposal() (proposal.Proposal, error) {
	blocked := make(map[string]bool, len(s.cfg.BlockedProposalParameters))
	for _, name := range s.cfg.BlockedProposalParameters {
		if _, ok := s.analysis.Index(name); !ok {
			return nil, fmt.Errorf("%w: %q", ErrBlockedNotDeclared, name)
		}

		blocked[name] = true
	}

	var (
		components []proposal.Proposal
		freeDims   []int
		freeVars   []float64
	)

	for i, d := range s.analysis.Descriptions() {
		switch {
		case d.Discrete:
			components = append(components, proposal.NewDiscrete(i, d.Prior.(*prior.Discrete)))
		case blocked[d.Prior.Name()]:
			components = append(components, proposal.NewPriorDraw(i, d.Prior))
		default:
			width := s.analysis.Range(i).Width()
			freeDims = append(freeDims, i)
			freeVars = append(freeVars, width*width/12)
		}
	}

	if len(freeDims) > 0 {
		var (
			mv  *proposal.Multivariate
			err error
		)

		switch s.cfg.Proposal {
		case ProposalStudentT:
			mv, err = proposal.NewMultivariateStudentT(freeDims, freeVars, s.cfg.StudentTDegreesOfFreedom, s.logger)
		default:
			mv, err = proposal.NewMultivariateGaussian(freeDims, freeVars, s.logger)
		}

		if err != nil {
			return nil, err
		}

		components = append(components, mv)
	}

	if len(components) == 1 {
		return components[0], nil
	}

	return proposal.NewBlock(components...), nil
}

// resume restores every chain from the checkpoint and skips the prerun.
func (s *Sampler) resume() error {
	mgr := checkpoint.NewManager(s.cfg.ResumeFrom)
	if !mgr.Exists() {
		return fmt.Errorf("%w: %q", ErrResumeWithoutSource, s.cfg.ResumeFrom)
	}

	meta, states, err := mgr.Load()
	if err != nil {
		return err
	}

	err = checkpoint.Validate(meta, s.cfg.Chains, s.analysis.Dim())
	if err != nil {
		return err
	}

	for i, c := range s.chains {
		err := c.Restore(states[i])
		if err != nil {
			return fmt.Errorf("restore chain %d: %w", i, err)
		}
	}

	s.runID = meta.RunID
	s.completedChunks = meta.CompletedChunks
	s.iteration = uint64(meta.CompletedChunks) * uint64(s.cfg.ChunkSize)
	s.prerunDone = true
	s.resumed = true

	s.logger.Info("resumed from checkpoint",
		"run_id", meta.RunID, "completed_chunks", meta.CompletedChunks)

	return nil
}

// RunID returns the store run identifier, set once Run begins.
func (s *Sampler) RunID() string { return s.runID }

// Chains exposes the ensemble for diagnostics and tests.
func (s *Sampler) Chains() []*chain.Chain { return s.chains }

// Run drives the whole scan: optional burn-in, then the main sampling
// phase with chunked persistence. Cancelling the context stops the run
// at the next chunk boundary; completed chunks stay persisted.
func (s *Sampler) Run(ctx context.Context) error {
	if s.st != nil {
		if s.resumed {
			err := s.st.Resume(s.runID)
			if err != nil {
				return fmt.Errorf("resume store run %s: %w", s.runID, err)
			}
		} else {
			meta := store.NewMeta("scanmc", s.cfg.Seed, s.cfg.Chains, s.analysis.Names(), s.analysis.Ranges())
			s.runID = meta.RunID

			err := s.st.Begin(meta)
			if err != nil {
				return fmt.Errorf("begin store run: %w", err)
			}
		}
	}

	if s.cfg.NeedPrerun && !s.prerunDone {
		err := s.runPrerun(ctx)
		if err != nil {
			return err
		}
	}

	if s.cfg.NeedMainRun {
		err := s.runMain(ctx)
		if err != nil {
			return err
		}
	}

	s.logSummary()

	return nil
}

// runWindow advances every chain n steps, in parallel when configured.
// It returns only when all chains have reached the barrier.
func (s *Sampler) runWindow(n int) {
	if !s.cfg.Parallelize {
		for _, c := range s.chains {
			c.Run(n)
		}

		return
	}

	var wg sync.WaitGroup

	for _, c := range s.chains {
		wg.Add(1)

		go func() {
			defer wg.Done()
			c.Run(n)
		}()
	}

	wg.Wait()
}

// runMain executes the configured number of chunks, flushing samples
// and writing a checkpoint at every boundary.
func (s *Sampler) runMain(ctx context.Context) error {
	if s.st == nil {
		return ErrStoreRequiredForMain
	}

	s.logger.Info("main run starting",
		"chunks", s.cfg.Chunks, "chunk_size", s.cfg.ChunkSize, "completed", s.completedChunks)

	for chunkIdx := s.completedChunks; chunkIdx < s.cfg.Chunks; chunkIdx++ {
		err := ctx.Err()
		if err != nil {
			s.logger.Warn("run cancelled at chunk boundary", "completed_chunks", s.completedChunks)

			return err
		}

		s.runWindow(s.cfg.ChunkSize)

		err = s.flushChunk(chunkIdx)
		if err != nil {
			return err
		}

		s.observeChains()
		s.accumulateMoments()
		s.updateFinalR()

		err = s.writeCheckpoint(chunkIdx + 1)
		if err != nil {
			return err
		}

		for _, c := range s.chains {
			c.ResetInterval()
		}

		s.iteration += uint64(s.cfg.ChunkSize)
		s.completedChunks = chunkIdx + 1

		s.logger.Info("chunk complete",
			"chunk", chunkIdx+1, "of", s.cfg.Chunks,
			"acceptance", observability.Rate(s.meanAcceptance()))
	}

	return nil
}

// flushChunk writes one ChunkRecord per chain. A write failure is fatal
// for the run; the store guarantees previously written chunks survive.
func (s *Sampler) flushChunk(chunkIdx int) error {
	for _, c := range s.chains {
		rec := store.ChunkRecord{
			Chain:          c.ID(),
			FirstIteration: s.iteration,
			LastIteration:  s.iteration + uint64(s.cfg.ChunkSize) - 1,
			Positions:      c.History(),
			LogPosteriors:  c.LogPosteriorHistory(),
		}

		if s.cfg.StoreObservablesAndProposals {
			rec.Proposals = c.ProposalHistory()
		}

		err := s.st.WriteChunk(rec)
		if err != nil {
			return fmt.Errorf("flush chunk %d chain %d: %w", chunkIdx, c.ID(), err)
		}
	}

	if s.metrics != nil {
		s.metrics.ChunksFlushed.Inc()
	}

	return nil
}

func (s *Sampler) writeCheckpoint(completedChunks int) error {
	if s.ckpt == nil {
		return nil
	}

	states := make([]chain.State, len(s.chains))

	for i, c := range s.chains {
		state, err := c.Export()
		if err != nil {
			return fmt.Errorf("export chain %d: %w", i, err)
		}

		states[i] = state
	}

	meta := checkpoint.Metadata{
		RunID:           s.runID,
		Seed:            s.cfg.Seed,
		Chains:          s.cfg.Chains,
		Dimension:       s.analysis.Dim(),
		ParameterNames:  s.analysis.Names(),
		CompletedChunks: completedChunks,
		PrerunDone:      s.prerunDone,
	}

	return s.ckpt.Save(meta, states)
}

func (s *Sampler) observeChains() {
	if s.metrics == nil {
		return
	}

	for _, c := range s.chains {
		interval := c.IntervalStats()
		s.metrics.ObserveChain(c.ID(), interval.Total(), interval.Accepted, c.Stats().AcceptanceRate())
	}
}

func (s *Sampler) accumulateMoments() {
	for _, c := range s.chains {
		for _, v := range c.History() {
			for dim, x := range v {
				s.moments[dim].Add(x)
			}
		}
	}
}

func (s *Sampler) updateFinalR() {
	dim := s.analysis.Dim()
	s.finalR = make([]float64, dim)

	for d := 0; d < dim; d++ {
		traces := make([][]float64, len(s.chains))
		for i, c := range s.chains {
			traces[i] = c.ParameterHistory(d)
		}

		s.finalR[d] = convergence.ScaleReduction(traces)
	}
}

func (s *Sampler) meanAcceptance() float64 {
	sum := 0.0
	for _, c := range s.chains {
		sum += c.Stats().AcceptanceRate()
	}

	return sum / float64(len(s.chains))
}
