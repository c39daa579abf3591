// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists snapshots keyed by run ID.
//
// Implementations must make Save atomic with respect to Load: a crashed
// Save must never leave a Load-able half-written snapshot.
type Store interface {
	// Save persists the snapshot, replacing any previous one for the run.
	Save(ctx context.Context, snap *Snapshot) error

	// Load retrieves the latest snapshot for the run ID.
	// Returns ErrNotFound if none exists.
	Load(ctx context.Context, runID string) (*Snapshot, error)

	// Close releases store resources.
	Close() error
}

// -----------------------------------------------------------------------------
// FileStore
// -----------------------------------------------------------------------------

// FileStore keeps one run directory per run ID under a base directory,
// with the snapshot at <dir>/<runID>/checkpoint.json. Saves go through a
// temp file plus rename, so a crash mid-write leaves the previous
// snapshot intact.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint: directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the snapshot atomically into the run directory.
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.RunID == "" {
		return errors.New("checkpoint: snapshot has no run ID")
	}

	runDir := filepath.Join(s.dir, snap.RunID)
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return fmt.Errorf("create run directory %s: %w", runDir, err)
	}

	data, err := snap.Encode()
	if err != nil {
		return err
	}

	tmp := filepath.Join(runDir, "checkpoint.json.tmp")
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	final := filepath.Join(runDir, "checkpoint.json")
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Load reads and verifies the snapshot for a run ID.
func (s *FileStore) Load(ctx context.Context, runID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, runID, "checkpoint.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return Decode(data)
}

// Close is a no-op for FileStore.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
