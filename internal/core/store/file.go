// Package store persists the shared window record on the filesystem.
//
// The record lives in a single JSON file. Writes go through a
// write-temp-then-rename replace so a process crash mid-commit can never
// expose a torn file: readers observe either the previous complete record or
// the new one. Callers are expected to hold the advisory lock around every
// load-modify-commit cycle; the store itself does no locking.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ratefence/ratefence/internal/core"
)

// FileStore reads and writes the durable window record at a fixed path.
type FileStore struct {
	Path string
}

// New returns a store rooted at path.
func New(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the current record. A missing or malformed file is treated as
// an empty window rather than an error: the record is created lazily by the
// first commit, and after corruption availability wins over history.
func (s *FileStore) Load(ctx context.Context) (*core.WindowRecord, error) {
	if s == nil || s.Path == "" {
		return nil, errors.New("store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &core.WindowRecord{}, nil
		}
		return nil, fmt.Errorf("read window record: %w", err)
	}

	record := &core.WindowRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		// Corrupted record: start from an empty window.
		return &core.WindowRecord{}, nil
	}
	return record, nil
}

// Commit atomically replaces the record on disk.
func (s *FileStore) Commit(ctx context.Context, record *core.WindowRecord) error {
	if s == nil || s.Path == "" {
		return errors.New("store is not initialized")
	}
	if record == nil {
		return errors.New("window record is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode window record: %w", err)
	}

	if err := renameio.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("write window record: %w", err)
	}
	return nil
}

// Reset removes the durable record. It reports whether a record existed.
func (s *FileStore) Reset(ctx context.Context) (bool, error) {
	if s == nil || s.Path == "" {
		return false, errors.New("store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := os.Remove(s.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reset window record: %w", err)
	}
	return true, nil
}
