package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/oakmund/sprout/internal/companion"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists the companion state as a single versioned JSON file.
//
// Saves never mutate the durable record in place: the new record is written
// to a temporary file in the same directory, flushed to disk, and renamed
// over the old record. A crash at any point leaves either the old record or
// the new one — never a partial mix.
//
// All methods are safe for concurrent use.
type FileStore struct {
	mu       sync.Mutex
	path     string
	fallback companion.State
}

// NewFileStore creates a FileStore writing to path. fallback is the state
// returned by Load when no durable record exists or the existing record is
// unreadable.
func NewFileStore(path string, fallback companion.State) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path must not be empty")
	}
	return &FileStore{path: path, fallback: fallback}, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, state companion.State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeState(state)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file store: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	// Any failure from here on must not leave the temp file behind.
	if err := writeAndSync(tmp, data); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: write temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: replace record: %w", err)
	}

	// Persist the rename itself. Failure here is logged rather than returned:
	// the data file is fully written and most filesystems order the rename
	// after its data anyway.
	if err := syncDir(dir); err != nil {
		slog.Warn("file store: sync directory after rename", "dir", dir, "err", err)
	}
	return nil
}

// Load implements Store. It never returns an error for a missing or corrupt
// record; corruption is logged and the fallback state is returned so a
// damaged file cannot take the companion down.
func (s *FileStore) Load(ctx context.Context) (companion.State, error) {
	if err := ctx.Err(); err != nil {
		return companion.State{}, fmt.Errorf("file store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("file store: no durable record, starting fresh", "path", s.path)
		return s.fallback.Clone(), nil
	}
	if err != nil {
		slog.Warn("file store: durable record unreadable, falling back to default state",
			"path", s.path, "err", err)
		return s.fallback.Clone(), nil
	}

	state, err := decodeState(data)
	if err != nil {
		slog.Warn("file store: durable record invalid, falling back to default state",
			"path", s.path, "err", err)
		return s.fallback.Clone(), nil
	}
	return state, nil
}

// Reset implements Store. Removing a record that does not exist is not an
// error.
func (s *FileStore) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file store: remove record: %w", err)
	}
	return nil
}

// Close implements Store. FileStore holds no open resources.
func (s *FileStore) Close() error { return nil }

// writeAndSync writes data to f, flushes it to stable storage, and closes f.
func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// syncDir fsyncs the directory containing the record so the rename survives
// power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
