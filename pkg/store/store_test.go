package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanmc/scanmc/pkg/param"
)

func testMeta() Meta {
	return NewMeta("scanmc-test", 42, 2, []string{"x", "y"}, []param.Range{
		{Min: -1, Max: 1},
		{Min: 0, Max: 5},
	})
}

func testRecord(chainID int, first uint64, n int) ChunkRecord {
	rec := ChunkRecord{
		Chain:          chainID,
		FirstIteration: first,
		LastIteration:  first + uint64(n) - 1,
		Positions:      make([]param.Vector, n),
		LogPosteriors:  make([]float64, n),
	}

	for i := range n {
		x := float64(i) * 0.01
		rec.Positions[i] = param.Vector{x, 2 * x}
		rec.LogPosteriors[i] = -x * x
	}

	return rec
}

func TestOpen(t *testing.T) {
	t.Parallel()

	s, err := Open(BackendFile, filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open("", filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(BackendSQLite, filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("etcd", "x")
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "run")
	s := NewFileStore(dir)

	meta := testMeta()
	require.NoError(t, s.Begin(meta))

	require.NoError(t, s.WriteChunk(testRecord(0, 0, 100)))
	require.NoError(t, s.WriteChunk(testRecord(0, 100, 100)))
	require.NoError(t, s.WriteChunk(testRecord(1, 0, 50)))
	require.NoError(t, s.Close())

	got, err := ReadMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, meta.RunID, got.RunID)
	assert.Equal(t, meta.Parameters, got.Parameters)
	assert.Equal(t, meta.Ranges, got.Ranges)

	recs, err := ReadChunks(dir, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(100), recs[1].FirstIteration)
	assert.Equal(t, uint64(199), recs[1].LastIteration)
	assert.Equal(t, testRecord(0, 0, 100).Positions, recs[0].Positions)
	assert.Equal(t, testRecord(0, 0, 100).LogPosteriors, recs[0].LogPosteriors)

	recs, err = ReadChunks(dir, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Positions, 50)
}

func TestFileStore_AuxiliaryQuantities(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "run")
	s := NewFileStore(dir)
	require.NoError(t, s.Begin(testMeta()))

	rec := testRecord(0, 0, 10)
	rec.Prerun = true
	rec.Observables = [][]float64{{1, 2}, {3, 4}}
	rec.Proposals = []param.Vector{{0.1, 0.2}}

	require.NoError(t, s.WriteChunk(rec))
	require.NoError(t, s.Close())

	recs, err := ReadChunks(dir, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Prerun)
	assert.Equal(t, rec.Observables, recs[0].Observables)
	assert.Equal(t, rec.Proposals, recs[0].Proposals)
}

func TestFileStore_LengthMismatch(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, s.Begin(testMeta()))

	rec := testRecord(0, 0, 10)
	rec.LogPosteriors = rec.LogPosteriors[:5]

	require.ErrorIs(t, s.WriteChunk(rec), ErrLengthMismatch)
}

func TestFileStore_TruncatedTrailingFrameIgnored(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "run")
	s := NewFileStore(dir)
	require.NoError(t, s.Begin(testMeta()))
	require.NoError(t, s.WriteChunk(testRecord(0, 0, 100)))
	require.NoError(t, s.WriteChunk(testRecord(0, 100, 100)))
	require.NoError(t, s.Close())

	// Chop bytes off the tail, simulating an interrupted append.
	path := filepath.Join(dir, "chain-0000.chunks")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-7], 0o640))

	recs, err := ReadChunks(dir, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(0), recs[0].FirstIteration)
}

func TestFileStore_CompressionRoundTrip(t *testing.T) {
	t.Parallel()

	// Highly repetitive positions compress; the raw fallback is covered
	// by the tiny-record tests above either way.
	rec := ChunkRecord{
		Chain:         0,
		LastIteration: 999,
		Positions:     make([]param.Vector, 1000),
		LogPosteriors: make([]float64, 1000),
	}
	for i := range rec.Positions {
		rec.Positions[i] = param.Vector{1, 1}
	}

	dir := filepath.Join(t.TempDir(), "run")
	s := NewFileStore(dir)
	require.NoError(t, s.Begin(testMeta()))
	require.NoError(t, s.WriteChunk(rec))
	require.NoError(t, s.Close())

	recs, err := ReadChunks(dir, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.Positions, recs[0].Positions)
}

func TestFileStore_Resume(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "run")
	meta := testMeta()

	s := NewFileStore(dir)
	require.NoError(t, s.Begin(meta))
	require.NoError(t, s.WriteChunk(testRecord(0, 0, 100)))
	require.NoError(t, s.Close())

	// A fresh store over the same directory appends after Resume.
	s = NewFileStore(dir)
	require.NoError(t, s.Resume(meta.RunID))
	require.NoError(t, s.WriteChunk(testRecord(0, 100, 100)))
	require.NoError(t, s.Close())

	recs, err := ReadChunks(dir, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(100), recs[1].FirstIteration)

	require.ErrorIs(t, NewFileStore(dir).Resume("some-other-run"), ErrRunNotFound)
	require.ErrorIs(t, NewFileStore(filepath.Join(t.TempDir(), "empty")).Resume(meta.RunID), ErrRunNotFound)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Begin(testMeta()))

	require.NoError(t, s.WriteChunk(testRecord(0, 0, 100)))
	require.NoError(t, s.WriteChunk(testRecord(0, 100, 100)))
	require.NoError(t, s.WriteChunk(testRecord(1, 0, 25)))

	n, err := s.CountSamples(0)
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	n, err = s.CountSamples(1)
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestSQLiteStore_Resume(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run.db")
	meta := testMeta()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Begin(meta))
	require.NoError(t, s.WriteChunk(testRecord(0, 0, 100)))
	require.NoError(t, s.Close())

	// Reopening the database loses the in-memory run id; Resume
	// re-attaches so writes keep going to the same run.
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	require.ErrorIs(t, s.WriteChunk(testRecord(0, 100, 100)), ErrNotStarted)

	require.ErrorIs(t, s.Resume("some-other-run"), ErrRunNotFound)

	require.NoError(t, s.Resume(meta.RunID))
	require.NoError(t, s.WriteChunk(testRecord(0, 100, 100)))

	n, err := s.CountSamples(0)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
}

func TestSQLiteStore_WriteBeforeBegin(t *testing.T) {
	t.Parallel()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "run.db"))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	require.ErrorIs(t, s.WriteChunk(testRecord(0, 0, 10)), ErrNotStarted)
}

func TestNewMeta(t *testing.T) {
	t.Parallel()

	a := testMeta()
	b := testMeta()

	assert.NotEmpty(t, a.RunID)
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, uint64(42), a.Seed)
	assert.Equal(t, param.Range{Min: -1, Max: 1}, a.Ranges[0])
}
