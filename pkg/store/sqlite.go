package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists runs, chunks and samples in a sqlite database.
// Each chunk is written in one transaction, so an interrupted run
// leaves only whole chunks behind.
type SQLiteStore struct {
	db    *sql.DB
	runID string
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	s := &SQLiteStore{db: db}

	err = s.migrate()
	if err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		created_at  TEXT NOT NULL,
		creator     TEXT NOT NULL,
		seed        INTEGER NOT NULL,
		chains      INTEGER NOT NULL,
		parameters  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunks (
		run_id      TEXT NOT NULL REFERENCES runs(id),
		chain       INTEGER NOT NULL,
		first_iter  INTEGER NOT NULL,
		last_iter   INTEGER NOT NULL,
		prerun      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, chain, first_iter)
	);
	CREATE TABLE IF NOT EXISTS samples (
		run_id        TEXT NOT NULL,
		chain         INTEGER NOT NULL,
		iteration     INTEGER NOT NULL,
		position      TEXT NOT NULL,
		log_posterior REAL NOT NULL,
		PRIMARY KEY (run_id, chain, iteration)
	);`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("migrate store schema: %w", err)
	}

	return nil
}

// Begin records the run's metadata row.
func (s *SQLiteStore) Begin(meta Meta) error {
	params, err := json.Marshal(meta.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameter names: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO runs (id, created_at, creator, seed, chains, parameters) VALUES (?, ?, ?, ?, ?, ?)`,
		meta.RunID, meta.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), meta.Creator,
		int64(meta.Seed), meta.Chains, string(params),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	s.runID = meta.RunID

	return nil
}

// Resume re-attaches to a persisted run so later chunks append to it.
func (s *SQLiteStore) Resume(runID string) error {
	var n int

	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&n)
	if err != nil {
		return fmt.Errorf("look up run: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	s.runID = runID

	return nil
}

// WriteChunk appends one chunk and its samples in a single transaction.
func (s *SQLiteStore) WriteChunk(rec ChunkRecord) error {
	if s.runID == "" {
		return ErrNotStarted
	}

	err := rec.validate()
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin chunk transaction: %w", err)
	}

	err = s.writeChunkTx(tx, rec)
	if err != nil {
		tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit chunk: %w", err)
	}

	return nil
}

func (s *SQLiteStore) writeChunkTx(tx *sql.Tx, rec ChunkRecord) error {
	prerun := 0
	if rec.Prerun {
		prerun = 1
	}

	_, err := tx.Exec(
		`INSERT INTO chunks (run_id, chain, first_iter, last_iter, prerun) VALUES (?, ?, ?, ?, ?)`,
		s.runID, rec.Chain, int64(rec.FirstIteration), int64(rec.LastIteration), prerun,
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO samples (run_id, chain, iteration, position, log_posterior) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, pos := range rec.Positions {
		encoded, err := json.Marshal(pos)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}

		_, err = stmt.Exec(s.runID, rec.Chain, int64(rec.FirstIteration)+int64(i), string(encoded), rec.LogPosteriors[i])
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}

	return nil
}

// CountSamples returns the number of persisted samples for one chain of
// the active run.
func (s *SQLiteStore) CountSamples(chainID int) (int, error) {
	var n int

	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM samples WHERE run_id = ? AND chain = ?`, s.runID, chainID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}

	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite store: %w", err)
	}

	return nil
}
