package sampler

import (
	"errors"
	"fmt"

	"github.com/scanmc/scanmc/pkg/param"
)

// Sentinel configuration errors, all fatal before sampling starts.
var (
	ErrInvalidChains        = errors.New("chain count must be positive")
	ErrInvalidChunkSize     = errors.New("chunk size must be positive")
	ErrInvalidChunks        = errors.New("chunk count must be positive")
	ErrInvalidThreshold     = errors.New("scale-reduction threshold must exceed 1")
	ErrInvalidPrerunBounds  = errors.New("prerun iteration bounds must satisfy 0 < update <= min <= max")
	ErrUnknownProposal      = errors.New("unknown proposal kind")
	ErrNoPartitions         = errors.New("cannot select a partition index: no partitions declared")
	ErrPartitionIndexRange  = errors.New("partition index out of range")
	ErrNothingToRun         = errors.New("configuration disables both prerun and main run")
	ErrTooFewChainsForRhat  = errors.New("convergence diagnosis needs at least two chains")
	ErrBlockedNotDeclared   = errors.New("blocked proposal parameter not declared")
	ErrResumeWithoutSource  = errors.New("resume path does not contain a checkpoint")
	ErrStoreRequiredForMain = errors.New("main run requires a persistence store")
)

// Proposal kind names, matching the original scanner's vocabulary.
const (
	ProposalGaussian = "MultivariateGaussian"
	ProposalStudentT = "MultivariateStudentT"
)

// Config holds every run parameter of the sampler. It is built once,
// validated, and read-only afterwards; the sampler receives it by
// value.
type Config struct {
	Chains    int
	ChunkSize int
	Chunks    int

	NeedPrerun  bool
	NeedMainRun bool

	PrerunIterationsMin    int
	PrerunIterationsMax    int
	PrerunIterationsUpdate int

	ScaleReduction float64

	Proposal                 string
	StudentTDegreesOfFreedom float64

	// BlockedProposalParameters use the fixed-to-prior proposal variant
	// instead of the adaptive block.
	BlockedProposalParameters []string

	Partitions     []param.Partition
	PartitionIndex *int

	Seed        uint64
	Parallelize bool

	ResumeFrom    string
	CheckpointDir string

	StorePrerun                  bool
	StoreObservablesAndProposals bool

	FindModes             bool
	ModeFindingIterations int
}

// Quick returns the default configuration used by the command line
// client: four parallel chains, a thousand-step chunk, prerun enabled.
func Quick() Config {
	return Config{
		Chains:                 4,
		ChunkSize:              1000,
		Chunks:                 100,
		NeedPrerun:             true,
		NeedMainRun:            true,
		PrerunIterationsMin:    1000,
		PrerunIterationsMax:    100000,
		PrerunIterationsUpdate: 500,
		ScaleReduction:         1.1,
		Proposal:               ProposalGaussian,
		Parallelize:            true,
		ModeFindingIterations:  2000,
	}
}

// Validate checks the configuration before any sampling starts.
func (c Config) Validate() error {
	if c.Chains <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChains, c.Chains)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChunkSize, c.ChunkSize)
	}

	if c.NeedMainRun && c.Chunks <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChunks, c.Chunks)
	}

	if !c.NeedPrerun && !c.NeedMainRun {
		return ErrNothingToRun
	}

	if c.NeedPrerun {
		if c.Chains < 2 {
			return fmt.Errorf("%w: got %d", ErrTooFewChainsForRhat, c.Chains)
		}

		if c.PrerunIterationsUpdate <= 0 ||
			c.PrerunIterationsMin < c.PrerunIterationsUpdate ||
			c.PrerunIterationsMax < c.PrerunIterationsMin {
			return fmt.Errorf("%w: update %d, min %d, max %d",
				ErrInvalidPrerunBounds, c.PrerunIterationsUpdate, c.PrerunIterationsMin, c.PrerunIterationsMax)
		}

		if c.ScaleReduction <= 1 {
			return fmt.Errorf("%w: got %g", ErrInvalidThreshold, c.ScaleReduction)
		}
	}

	switch c.Proposal {
	case ProposalGaussian, ProposalStudentT, "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProposal, c.Proposal)
	}

	if c.PartitionIndex != nil {
		if len(c.Partitions) == 0 {
			return fmt.Errorf("%w: index %d", ErrNoPartitions, *c.PartitionIndex)
		}

		if *c.PartitionIndex < 0 || *c.PartitionIndex >= len(c.Partitions) {
			return fmt.Errorf("%w: index %d of %d partitions", ErrPartitionIndexRange, *c.PartitionIndex, len(c.Partitions))
		}
	}

	return nil
}
