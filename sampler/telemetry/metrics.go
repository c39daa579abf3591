// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry provides Prometheus metrics for sampler runs.
//
// All metrics use the "nested_" prefix for consistent naming. A Metrics
// value built with a nil registerer is fully usable but unregistered,
// which is the mode library consumers get by default.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains pre-defined metrics for a nested sampling run.
//
// Description:
//
//	Provides counters and gauges covering the hot paths of a run:
//	likelihood evaluations, iterations, proposal rejections, region
//	rebuilds/fallbacks, and the reactive live-point count.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// LikelihoodCalls counts likelihood evaluations (including infeasible ones).
	LikelihoodCalls prometheus.Counter

	// InfeasibleEvals counts evaluations mapped to -Inf.
	InfeasibleEvals prometheus.Counter

	// Iterations counts dead-point removals.
	Iterations prometheus.Counter

	// ProposalRejections counts candidates rejected below the threshold.
	ProposalRejections prometheus.Counter

	// RegionRebuilds counts proposal-region reconstructions.
	RegionRebuilds prometheus.Counter

	// RegionFallbacks counts degenerate regions replaced by the cube fallback.
	RegionFallbacks prometheus.Counter

	// ProposalStuck counts rejection-ceiling events.
	ProposalStuck prometheus.Counter

	// ReactiveExpansions counts reactive live-set growth events.
	ReactiveExpansions prometheus.Counter

	// LivePoints tracks the current live-set size.
	LivePoints prometheus.Gauge

	// LogEvidence tracks the running log-evidence estimate.
	LogEvidence prometheus.Gauge
}

// New creates the run metrics and registers them with reg.
//
// Inputs:
//   - reg: Prometheus registerer. May be nil, in which case the metrics
//     are created but not registered (safe to use, invisible to scrapes).
//
// Outputs:
//   - *Metrics: The created metrics. Never nil on success.
//   - error: Non-nil if registration fails (e.g., duplicate registration).
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		LikelihoodCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_likelihood_calls_total",
			Help: "Total likelihood evaluations, including infeasible ones.",
		}),
		InfeasibleEvals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_infeasible_evals_total",
			Help: "Likelihood evaluations mapped to -Inf (non-finite or panicking).",
		}),
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_iterations_total",
			Help: "Dead-point removals (sampler iterations).",
		}),
		ProposalRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_proposal_rejections_total",
			Help: "Candidate points rejected at or below the likelihood threshold.",
		}),
		RegionRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_region_rebuilds_total",
			Help: "Proposal-region reconstructions from the live set.",
		}),
		RegionFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_region_fallbacks_total",
			Help: "Degenerate regions replaced by the unit-cube fallback.",
		}),
		ProposalStuck: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_proposal_stuck_total",
			Help: "Rejection-ceiling (stuck proposal) events.",
		}),
		ReactiveExpansions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nested_reactive_expansions_total",
			Help: "Reactive live-set growth events.",
		}),
		LivePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nested_live_points",
			Help: "Current live-set size.",
		}),
		LogEvidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nested_log_evidence",
			Help: "Running log-evidence estimate.",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.LikelihoodCalls, m.InfeasibleEvals, m.Iterations,
			m.ProposalRejections, m.RegionRebuilds, m.RegionFallbacks,
			m.ProposalStuck, m.ReactiveExpansions, m.LivePoints, m.LogEvidence,
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("register metric: %w", err)
			}
		}
	}
	return m, nil
}

// Nop returns unregistered metrics for callers that don't scrape.
func Nop() *Metrics {
	m, _ := New(nil)
	return m
}
