// Package commands implements the scanmc CLI command handlers.
package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scanmc/scanmc/pkg/analysis"
	"github.com/scanmc/scanmc/pkg/config"
	"github.com/scanmc/scanmc/pkg/observability"
	"github.com/scanmc/scanmc/pkg/sampler"
	"github.com/scanmc/scanmc/pkg/store"
)

// ScanOptions holds all scan command flags.
type ScanOptions struct {
	AnalysisFile string
	ConfigFile   string
	Output       string
	StoreBackend string

	Chains    int
	ChunkSize int
	Chunks    int
	Seed      uint64

	NoPrerun     bool
	PrerunOnly   bool
	PrerunMin    int
	PrerunMax    int
	PrerunUpdate int
	FindModes    bool

	ScaleReduction float64
	Proposal       string
	StudentTDoF    float64
	Blocked        []string

	PartitionIndex int
	Parallel       bool

	Resume        string
	CheckpointDir string

	StorePrerun                  bool
	StoreObservablesAndProposals bool
}

// NewScanCommand creates the scan command.
func NewScanCommand() *cobra.Command {
	opts := &ScanOptions{PartitionIndex: -1}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the MCMC posterior scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.AnalysisFile, "analysis", "a", "", "analysis definition file (required)")
	flags.StringVar(&opts.ConfigFile, "config", "", "run configuration file")
	flags.StringVarP(&opts.Output, "output", "o", "", "store output path (overrides config)")
	flags.StringVar(&opts.StoreBackend, "store-backend", "", "store backend: file or sqlite (overrides config)")
	flags.IntVar(&opts.Chains, "chains", 0, "number of chains (overrides config)")
	flags.IntVar(&opts.ChunkSize, "chunk-size", 0, "steps per chain between flushes (overrides config)")
	flags.IntVar(&opts.Chunks, "chunks", 0, "number of main-run chunks (overrides config)")
	flags.Uint64Var(&opts.Seed, "seed", 0, "global RNG seed")
	flags.BoolVar(&opts.NoPrerun, "no-prerun", false, "skip the burn-in phase")
	flags.BoolVar(&opts.PrerunOnly, "prerun-only", false, "run only the burn-in phase and store it")
	flags.IntVar(&opts.PrerunMin, "prerun-min", 0, "minimum prerun iterations (overrides config)")
	flags.IntVar(&opts.PrerunMax, "prerun-max", 0, "maximum prerun iterations (overrides config)")
	flags.IntVar(&opts.PrerunUpdate, "prerun-update", 0, "prerun adaptation interval (overrides config)")
	flags.BoolVar(&opts.FindModes, "prerun-find-modes", false, "seed chain starts with local mode searches")
	flags.Float64Var(&opts.ScaleReduction, "scale-reduction", 0, "convergence threshold (overrides config)")
	flags.StringVar(&opts.Proposal, "proposal", "", "proposal kind: MultivariateGaussian or MultivariateStudentT")
	flags.Float64Var(&opts.StudentTDoF, "dof", 0, "student-t degrees of freedom")
	flags.StringArrayVar(&opts.Blocked, "prior-as-proposal", nil, "parameter drawing proposals from its prior")
	flags.IntVar(&opts.PartitionIndex, "partition-index", -1, "select one declared partition")
	flags.BoolVar(&opts.Parallel, "parallel", true, "run chains in parallel")
	flags.StringVar(&opts.Resume, "resume", "", "checkpoint directory to resume from")
	flags.StringVar(&opts.CheckpointDir, "checkpoint-dir", "", "directory for checkpoints")
	flags.BoolVar(&opts.StorePrerun, "store-prerun", false, "persist burn-in samples")
	flags.BoolVar(&opts.StoreObservablesAndProposals, "store-observables-and-proposals", false,
		"persist auxiliary proposal data")

	cmd.MarkFlagRequired("analysis")

	return cmd
}

func runScan(cmd *cobra.Command, opts *ScanOptions) error {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	def, err := analysis.LoadDefinition(opts.AnalysisFile)
	if err != nil {
		return err
	}

	ana, partitions, err := def.Build()
	if err != nil {
		return err
	}

	samplerCfg := buildSamplerConfig(cmd, cfg, opts)
	samplerCfg.Partitions = partitions

	deps := sampler.Dependencies{Logger: logger, SummaryWriter: cmd.OutOrStdout()}

	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics()
		deps.Metrics = metrics

		go func() {
			err := <-metrics.Serve(cfg.Metrics.Addr)
			logger.Warn("metrics endpoint stopped", "error", err)
		}()
	}

	needStore := samplerCfg.NeedMainRun || samplerCfg.StorePrerun
	if needStore {
		backend := cfg.Store.Backend
		if opts.StoreBackend != "" {
			backend = opts.StoreBackend
		}

		path := cfg.Store.Path
		if opts.Output != "" {
			path = opts.Output
		}

		st, err := store.Open(backend, path)
		if err != nil {
			return err
		}
		defer st.Close()

		deps.Store = st
	}

	s, err := sampler.New(ana, samplerCfg, deps)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// buildSamplerConfig merges file configuration with explicit flag
// overrides; a flag the user did not set never clobbers the file value.
func buildSamplerConfig(cmd *cobra.Command, cfg *config.Config, opts *ScanOptions) sampler.Config {
	sc := sampler.Quick()

	sc.Chains = cfg.Sampling.Chains
	sc.ChunkSize = cfg.Sampling.ChunkSize
	sc.Chunks = cfg.Sampling.Chunks
	sc.Seed = cfg.Sampling.Seed
	sc.Parallelize = cfg.Sampling.Parallelize
	sc.NeedPrerun = cfg.Sampling.NeedPrerun
	sc.PrerunIterationsMin = cfg.Sampling.PrerunMin
	sc.PrerunIterationsMax = cfg.Sampling.PrerunMax
	sc.PrerunIterationsUpdate = cfg.Sampling.PrerunUpdate
	sc.ScaleReduction = cfg.Sampling.ScaleReduction
	sc.Proposal = cfg.Sampling.Proposal
	sc.StudentTDegreesOfFreedom = cfg.Sampling.StudentTDoF

	flags := cmd.Flags()

	if flags.Changed("chains") {
		sc.Chains = opts.Chains
	}

	if flags.Changed("chunk-size") {
		sc.ChunkSize = opts.ChunkSize
	}

	if flags.Changed("chunks") {
		sc.Chunks = opts.Chunks
	}

	if flags.Changed("seed") {
		sc.Seed = opts.Seed
	}

	if flags.Changed("prerun-min") {
		sc.PrerunIterationsMin = opts.PrerunMin
	}

	if flags.Changed("prerun-max") {
		sc.PrerunIterationsMax = opts.PrerunMax
	}

	if flags.Changed("prerun-update") {
		sc.PrerunIterationsUpdate = opts.PrerunUpdate
	}

	if flags.Changed("scale-reduction") {
		sc.ScaleReduction = opts.ScaleReduction
	}

	if flags.Changed("proposal") {
		sc.Proposal = opts.Proposal
	}

	if flags.Changed("dof") {
		sc.StudentTDegreesOfFreedom = opts.StudentTDoF
	}

	if flags.Changed("parallel") {
		sc.Parallelize = opts.Parallel
	}

	sc.BlockedProposalParameters = opts.Blocked
	sc.FindModes = opts.FindModes
	sc.StorePrerun = opts.StorePrerun
	sc.StoreObservablesAndProposals = opts.StoreObservablesAndProposals
	sc.CheckpointDir = opts.CheckpointDir

	if opts.NoPrerun {
		sc.NeedPrerun = false
	}

	if opts.PrerunOnly {
		sc.NeedPrerun = true
		sc.NeedMainRun = false
		sc.StorePrerun = true
	}

	if opts.PartitionIndex >= 0 {
		idx := opts.PartitionIndex
		sc.PartitionIndex = &idx

		// A partition scan explores its sub-domain during the prerun
		// only, as the original scanner does.
		sc.NeedMainRun = false
		sc.StorePrerun = true
	}

	if opts.Resume != "" {
		sc.ResumeFrom = opts.Resume
		sc.NeedPrerun = false
	}

	return sc
}

// parsePoint splits a comma-separated list of parameter values.
func parsePoint(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}

	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))

	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid point component %q: %w", field, err)
		}

		out = append(out, v)
	}

	return out, nil
}
