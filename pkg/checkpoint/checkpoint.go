// Package checkpoint persists and restores sampler state at chunk
// boundaries: run metadata for validation plus every chain's snapshot.
// A run interrupted mid-chunk resumes from the last completed boundary.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/scanmc/scanmc/pkg/chain"
	"github.com/scanmc/scanmc/pkg/persist"
)

// MetadataVersion is the current checkpoint format version.
const MetadataVersion = 1

// Sentinel errors for resume validation.
var (
	ErrVersionMismatch   = errors.New("checkpoint format version mismatch")
	ErrChainCountChanged = errors.New("checkpoint chain count does not match configuration")
	ErrDimensionChanged  = errors.New("checkpoint dimensionality does not match configuration")
	ErrIncomplete        = errors.New("checkpoint is missing chain state")
)

const (
	metadataBasename = "checkpoint"
	statesBasename   = "chains"
	dirPerm          = 0o750
)

// Metadata describes a checkpoint for resume validation.
type Metadata struct {
	Version         int      `json:"version"`
	RunID           string   `json:"run_id"`
	CreatedAt       string   `json:"created_at"`
	Seed            uint64   `json:"seed"`
	Chains          int      `json:"chains"`
	Dimension       int      `json:"dimension"`
	ParameterNames  []string `json:"parameter_names"`
	CompletedChunks int      `json:"completed_chunks"`
	PrerunDone      bool     `json:"prerun_done"`
}

// Manager reads and writes checkpoints in a directory.
type Manager struct {
	Dir string

	metaCodec  persist.Codec
	stateCodec persist.Codec
}

// NewManager creates a checkpoint manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{
		Dir:        dir,
		metaCodec:  persist.NewJSONCodec(),
		stateCodec: persist.NewGobCodec(),
	}
}

// Exists reports whether a checkpoint is present.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Dir)

	return err == nil
}

// Save writes metadata and chain states. The metadata file is written
// last, so a checkpoint with valid metadata always has matching states.
func (m *Manager) Save(meta Metadata, states []chain.State) error {
	err := os.MkdirAll(m.Dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	meta.Version = MetadataVersion
	meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	err = persist.SaveState(m.Dir, statesBasename, m.stateCodec, states)
	if err != nil {
		return fmt.Errorf("save chain states: %w", err)
	}

	err = persist.SaveState(m.Dir, metadataBasename, m.metaCodec, &meta)
	if err != nil {
		return fmt.Errorf("save checkpoint metadata: %w", err)
	}

	return nil
}

// Load reads metadata and chain states back.
func (m *Manager) Load() (Metadata, []chain.State, error) {
	var meta Metadata

	err := persist.LoadState(m.Dir, metadataBasename, m.metaCodec, &meta)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("load checkpoint metadata: %w", err)
	}

	if meta.Version != MetadataVersion {
		return Metadata{}, nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, meta.Version, MetadataVersion)
	}

	var states []chain.State

	err = persist.LoadState(m.Dir, statesBasename, m.stateCodec, &states)
	if err != nil {
		return Metadata{}, nil, fmt.Errorf("load chain states: %w", err)
	}

	if len(states) != meta.Chains {
		return Metadata{}, nil, fmt.Errorf("%w: %d states for %d chains", ErrIncomplete, len(states), meta.Chains)
	}

	return meta, states, nil
}

// Validate checks a loaded checkpoint against the current run
// configuration. A mismatch is fatal before any sampling starts.
func Validate(meta Metadata, chains, dimension int) error {
	if meta.Chains != chains {
		return fmt.Errorf("%w: checkpoint %d, config %d", ErrChainCountChanged, meta.Chains, chains)
	}

	if meta.Dimension != dimension {
		return fmt.Errorf("%w: checkpoint %d, config %d", ErrDimensionChanged, meta.Dimension, dimension)
	}

	return nil
}

// Clear removes the checkpoint directory.
func (m *Manager) Clear() error {
	err := os.RemoveAll(m.Dir)
	if err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	return nil
}
