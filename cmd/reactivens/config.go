// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// RUN CONFIGURATION
// =============================================================================

// CheckpointConfig selects and configures the checkpoint backend.
type CheckpointConfig struct {
	// Backend is "file" or "badger".
	Backend string `yaml:"backend" validate:"omitempty,oneof=file badger"`

	// Dir is the store directory. Required when Backend is set.
	Dir string `yaml:"dir" validate:"required_with=Backend"`

	// Interval is the checkpoint period in iterations.
	Interval uint64 `yaml:"interval" validate:"gte=0"`

	// Sync enables durable writes for the badger backend.
	Sync bool `yaml:"sync"`
}

// RunConfig is the YAML-loadable run configuration. Flag values override
// file values; unset fields fall back to sampler defaults.
type RunConfig struct {
	// Problem names a built-in problem.
	Problem string `yaml:"problem" validate:"required,oneof=gaussian eggbox ring"`

	// Dimensions applies to problems with a free dimensionality.
	Dimensions int `yaml:"dimensions" validate:"gte=1,lte=50"`

	// Sigma is the gaussian problem's likelihood width.
	Sigma float64 `yaml:"sigma" validate:"gt=0"`

	LivePoints    int     `yaml:"live_points" validate:"gte=0"`
	MaxLivePoints int     `yaml:"max_live_points" validate:"gte=0"`
	GrowthStep    int     `yaml:"growth_step" validate:"gte=0"`
	DlogZ         float64 `yaml:"dlogz" validate:"gte=0"`
	MinESS        float64 `yaml:"min_ess" validate:"gte=0"`
	MaxIterations uint64  `yaml:"max_iterations" validate:"gte=0"`
	MaxCalls      uint64  `yaml:"max_calls" validate:"gte=0"`
	Workers       int     `yaml:"workers" validate:"gte=0"`
	Seed          uint64  `yaml:"seed"`
	Enlarge       float64 `yaml:"enlarge" validate:"eq=0|gte=1"`

	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Output is the results JSON path; "-" or empty writes to stdout.
	Output string `yaml:"output"`
}

// DefaultRunConfig returns the baseline configuration for the built-in
// problems.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Problem:    "gaussian",
		Dimensions: 2,
		Sigma:      0.1,
		Output:     "-",
	}
}

// LoadRunConfig reads and validates a YAML run configuration.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration with struct tags.
func (c *RunConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
