package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	metaFilename = "meta.json"
	chunkPattern = "chain-%04d.chunks"
	filePerm     = 0o640
	dirPerm      = 0o750
)

// ErrCorruptFrame indicates a damaged or truncated chunk frame.
var ErrCorruptFrame = errors.New("corrupt chunk frame")

// frameHeaderSize is two little-endian uint32s: uncompressed and
// compressed payload lengths. A compressed length of zero marks a raw
// (incompressible) payload.
const frameHeaderSize = 8

// FileStore appends length-prefixed lz4 frames, one file per chain,
// under a per-run directory. Each frame holds one gob-encoded
// ChunkRecord and is appended with a single write followed by a sync,
// so partial frames from an interrupted run are detectable and
// previously written frames stay intact.
type FileStore struct {
	dir   string
	files map[int]*os.File
}

// NewFileStore creates a file store rooted at dir. The directory is
// created by Begin.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, files: make(map[int]*os.File)}
}

// Begin creates the run directory and writes the run metadata.
func (s *FileStore) Begin(meta Meta) error {
	err := os.MkdirAll(s.dir, dirPerm)
	if err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run meta: %w", err)
	}

	err = os.WriteFile(filepath.Join(s.dir, metaFilename), data, filePerm)
	if err != nil {
		return fmt.Errorf("write run meta: %w", err)
	}

	return nil
}

// Resume verifies the directory holds the named run. Chunk files are
// opened in append mode, so later writes continue where the
// interrupted run stopped.
func (s *FileStore) Resume(runID string) error {
	meta, err := ReadMeta(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrRunNotFound, runID, err)
	}

	if meta.RunID != runID {
		return fmt.Errorf("%w: directory holds run %s, want %s", ErrRunNotFound, meta.RunID, runID)
	}

	return nil
}

// WriteChunk appends one frame to the chain's chunk file.
func (s *FileStore) WriteChunk(rec ChunkRecord) error {
	err := rec.validate()
	if err != nil {
		return err
	}

	file, err := s.chunkFile(rec.Chain)
	if err != nil {
		return err
	}

	frame, err := encodeFrame(rec)
	if err != nil {
		return err
	}

	_, err = file.Write(frame)
	if err != nil {
		return fmt.Errorf("append chunk: %w", err)
	}

	err = file.Sync()
	if err != nil {
		return fmt.Errorf("sync chunk file: %w", err)
	}

	return nil
}

func (s *FileStore) chunkFile(chainID int) (*os.File, error) {
	if file, ok := s.files[chainID]; ok {
		return file, nil
	}

	if s.dir == "" {
		return nil, ErrNotStarted
	}

	path := filepath.Join(s.dir, fmt.Sprintf(chunkPattern, chainID))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}

	s.files[chainID] = file

	return file, nil
}

// Close closes all open chunk files.
func (s *FileStore) Close() error {
	var firstErr error

	for id, file := range s.files {
		err := file.Close()
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close chunk file %d: %w", id, err)
		}

		delete(s.files, id)
	}

	return firstErr
}

// encodeFrame gob-encodes the record and wraps it in a length-prefixed
// lz4 frame. Incompressible payloads are stored raw with a zero
// compressed length.
func encodeFrame(rec ChunkRecord) ([]byte, error) {
	var payload bytes.Buffer

	err := gob.NewEncoder(&payload).Encode(rec)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}

	raw := payload.Bytes()
	compressed, compLen := compressPayload(raw)

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(raw)))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(compLen))

	return append(frame, compressed...), nil
}

// ReadChunks reads every complete frame of one chain back. A trailing
// partial frame from an interrupted run is ignored; corruption within
// a complete frame is an error.
func ReadChunks(dir string, chainID int) ([]ChunkRecord, error) {
	path := filepath.Join(dir, fmt.Sprintf(chunkPattern, chainID))

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	defer file.Close()

	var records []ChunkRecord

	header := make([]byte, frameHeaderSize)

	for {
		_, err := io.ReadFull(file, header)
		if errors.Is(err, io.EOF) {
			return records, nil
		}

		if err != nil {
			// Truncated header: interrupted mid-append.
			return records, nil
		}

		rawLen := binary.LittleEndian.Uint32(header[0:4])
		compLen := binary.LittleEndian.Uint32(header[4:8])

		payloadLen := compLen
		if compLen == 0 {
			payloadLen = rawLen
		}

		payload := make([]byte, payloadLen)

		_, err = io.ReadFull(file, payload)
		if err != nil {
			// Truncated payload: interrupted mid-append.
			return records, nil
		}

		raw, err := decompressPayload(payload, rawLen, compLen)
		if err != nil {
			return nil, err
		}

		var rec ChunkRecord

		err = gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		}

		records = append(records, rec)
	}
}

// ReadMeta reads a run directory's metadata back.
func ReadMeta(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFilename))
	if err != nil {
		return Meta{}, fmt.Errorf("read run meta: %w", err)
	}

	var meta Meta

	err = json.Unmarshal(data, &meta)
	if err != nil {
		return Meta{}, fmt.Errorf("parse run meta: %w", err)
	}

	return meta, nil
}
