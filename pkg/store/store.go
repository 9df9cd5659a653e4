// Package store persists accepted chain samples in append-only chunks.
// Two backends are provided: a file store writing lz4-compressed gob
// frames per chain, and a sqlite store. Writes are chunk-atomic: a
// failed write never corrupts previously persisted chunks.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/scanmc/scanmc/pkg/param"
)

// Sentinel errors.
var (
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrNotStarted     = errors.New("store has no active run")
	ErrRunNotFound    = errors.New("run not found in store")
	ErrLengthMismatch = errors.New("chunk positions and posteriors differ in length")
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Meta describes one sampling run.
type Meta struct {
	RunID      string        `json:"run_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Creator    string        `json:"creator"`
	Seed       uint64        `json:"seed"`
	Chains     int           `json:"chains"`
	Parameters []string      `json:"parameters"`
	Ranges     []param.Range `json:"ranges"`
}

// NewMeta builds run metadata with a fresh ULID run id.
func NewMeta(creator string, seed uint64, chains int, parameters []string, ranges []param.Range) Meta {
	return Meta{
		RunID:      ulid.Make().String(),
		CreatedAt:  time.Now().UTC(),
		Creator:    creator,
		Seed:       seed,
		Chains:     chains,
		Parameters: parameters,
		Ranges:     ranges,
	}
}

// ChunkRecord is one chain's worth of samples between two chunk
// boundaries. Observables and Proposals are populated only when the
// run stores auxiliary quantities.
type ChunkRecord struct {
	Chain          int
	FirstIteration uint64
	LastIteration  uint64
	Prerun         bool
	Positions      []param.Vector
	LogPosteriors  []float64
	Observables    [][]float64
	Proposals      []param.Vector
}

func (r ChunkRecord) validate() error {
	if len(r.Positions) != len(r.LogPosteriors) {
		return fmt.Errorf("%w: %d positions, %d posteriors", ErrLengthMismatch, len(r.Positions), len(r.LogPosteriors))
	}

	return nil
}

// Store is the append-only persistence collaborator of the sampler.
type Store interface {
	// Begin opens a new run. It must be called before WriteChunk.
	Begin(meta Meta) error
	// Resume re-attaches to a previously begun run so later chunks
	// append to it. Called instead of Begin when continuing from a
	// checkpoint.
	Resume(runID string) error
	// WriteChunk appends one chain's chunk. The write is atomic with
	// respect to previously written chunks.
	WriteChunk(rec ChunkRecord) error
	// Close flushes and releases the backend.
	Close() error
}

// Open creates a store of the named backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
