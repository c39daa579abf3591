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
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/reactivens/pkg/logging"
)

// BadgerConfig configures the embedded Badger-backed store.
type BadgerConfig struct {
	// Path is the on-disk database directory. Required unless InMemory.
	Path string

	// InMemory runs Badger without touching disk. Useful for tests.
	InMemory bool

	// SyncWrites makes every Save durable before returning. Slower, but a
	// crash cannot lose an acknowledged checkpoint.
	SyncWrites bool

	// Logger receives Badger's internal log output. Defaults to the
	// package default logger.
	Logger *logging.Logger
}

// BadgerStore persists snapshots in an embedded Badger database, one key
// per run ID. Suited to long runs with frequent checkpoint intervals
// where rewriting a JSON file each time would churn the filesystem.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger adapts Badger's internal logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens (creating if necessary) the checkpoint database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("checkpoint: badger path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	sl := logger.Slog().With("component", "checkpoint.badger")

	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: sl})

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db, logger: sl}, nil
}

func badgerKey(runID string) []byte {
	return []byte("checkpoint/" + runID)
}

// Save writes the snapshot under its run ID in a single transaction.
func (s *BadgerStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.RunID == "" {
		return errors.New("checkpoint: snapshot has no run ID")
	}
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(snap.RunID), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint for run %s: %w", snap.RunID, err)
	}
	return nil
}

// Load retrieves and verifies the snapshot for a run ID.
func (s *BadgerStore) Load(ctx context.Context, runID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(runID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("load checkpoint for run %s: %w", runID, err)
	}
	return Decode(data)
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
