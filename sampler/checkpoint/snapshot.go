// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package checkpoint persists a resumable snapshot of a sampling run.
//
// A snapshot carries the complete Run State: dead-point sequence, live
// set, volume/evidence accumulators, likelihood call count, and the RNG
// state, plus a format version and a SHA256 checksum over the serialized
// state. Loading a snapshot and resuming reproduces the exact sampling
// trajectory the interrupted run would have taken.
package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/reactivens/sampler/points"
)

// Version is the current checkpoint format version (semver).
const Version = "1.0.0"

var (
	// ErrNotFound is returned when no checkpoint exists for a run ID.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrChecksumMismatch is returned when a loaded snapshot fails
	// integrity verification.
	ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")

	// ErrVersionMismatch is returned for an unsupported format version.
	ErrVersionMismatch = errors.New("unsupported checkpoint version")
)

// F64 is a float64 that survives JSON round-trips for non-finite values,
// which encoding/json rejects outright.
type F64 float64

// MarshalJSON encodes non-finite values as quoted sentinels.
func (f F64) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsNaN(v):
		return []byte(`"nan"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes numbers and the non-finite sentinels.
func (f *F64) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"-inf"`:
		*f = F64(math.Inf(-1))
		return nil
	case `"inf"`:
		*f = F64(math.Inf(1))
		return nil
	case `"nan"`:
		*f = F64(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = F64(v)
	return nil
}

// State is the JSON-serializable copy of a Run State. The sampler builds
// it when saving and consumes it when resuming; it carries everything
// needed to continue SAMPLING from the exact point of interruption.
type State struct {
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Iteration uint64 `json:"iteration"`
	NCalls    uint64 `json:"n_calls"`

	// Integration accumulators.
	LogVolume    F64 `json:"log_volume"`
	LogZ         F64 `json:"log_z"`
	LogZVar      F64 `json:"log_z_var"`
	Information  F64 `json:"information"`
	LogSumWt     F64 `json:"log_sum_wt"`
	LogSumWt2    F64 `json:"log_sum_wt2"`
	LastLogLStar F64 `json:"last_logl_star"`

	// Population.
	Dead []points.DeadPoint `json:"dead"`
	Live []points.LivePoint `json:"live"`

	// RNG is the serialized PCG state for deterministic resumption.
	RNG []byte `json:"rng"`
}

// Snapshot wraps a State with format metadata and an integrity checksum.
type Snapshot struct {
	Version  string    `json:"version"`
	RunID    string    `json:"run_id"`
	SavedAt  time.Time `json:"saved_at"`
	Checksum string    `json:"checksum"`
	State    State     `json:"state"`
}

// NewSnapshot builds a snapshot for the given state, computing the
// checksum over its canonical JSON encoding.
func NewSnapshot(state State) (*Snapshot, error) {
	sum, err := stateChecksum(state)
	if err != nil {
		return nil, fmt.Errorf("checksum state: %w", err)
	}
	return &Snapshot{
		Version:  Version,
		RunID:    state.RunID,
		SavedAt:  time.Now().UTC(),
		Checksum: sum,
		State:    state,
	}, nil
}

// Verify checks the format version and the state checksum.
func (s *Snapshot) Verify() error {
	if s.Version != Version {
		return fmt.Errorf("%w: %q", ErrVersionMismatch, s.Version)
	}
	sum, err := stateChecksum(s.State)
	if err != nil {
		return fmt.Errorf("checksum state: %w", err)
	}
	if sum != s.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

// Encode serializes the snapshot to JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes and verifies a snapshot.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return &s, nil
}

// stateChecksum returns the hex SHA256 of the state's JSON encoding.
func stateChecksum(state State) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
