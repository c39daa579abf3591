// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

func TestLoadRunConfig_Valid(t *testing.T) {
	path := writeConfig(t, `
problem: eggbox
live_points: 400
dlogz: 0.1
min_ess: 1000
workers: 4
seed: 42
checkpoint:
  backend: badger
  dir: ./runs
  interval: 500
output: results.json
`)

	cfg, err := LoadRunConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "eggbox", cfg.Problem)
	assert.Equal(t, 400, cfg.LivePoints)
	assert.Equal(t, 0.1, cfg.DlogZ)
	assert.Equal(t, 1000.0, cfg.MinESS)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, uint64(42), cfg.Seed)
	assert.Equal(t, "badger", cfg.Checkpoint.Backend)
	assert.Equal(t, uint64(500), cfg.Checkpoint.Interval)
	assert.Equal(t, "results.json", cfg.Output)

	// Defaults survive partial configs.
	assert.Equal(t, 2, cfg.Dimensions)
	assert.Equal(t, 0.1, cfg.Sigma)
}

func TestLoadRunConfig_UnknownProblem(t *testing.T) {
	path := writeConfig(t, "problem: rosenbrock\n")
	_, err := LoadRunConfig(path)
	assert.Error(t, err)
}

func TestLoadRunConfig_BadBackend(t *testing.T) {
	path := writeConfig(t, `
problem: gaussian
checkpoint:
  backend: redis
  dir: ./runs
`)
	_, err := LoadRunConfig(path)
	assert.Error(t, err)
}

func TestLoadRunConfig_MissingFile(t *testing.T) {
	_, err := LoadRunConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRunConfig_DefaultsValidate(t *testing.T) {
	cfg := DefaultRunConfig()
	assert.NoError(t, cfg.Validate())
}
