// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import "fmt"

// Status is the run lifecycle state.
//
// Transitions: Initializing -> Sampling -> (ReactiveExpand -> Sampling)*
// -> Converged | Stopped | Failed. The three terminal states are final;
// a resumed run re-enters Sampling.
type Status int

const (
	// StatusInitializing means the initial live population is being drawn.
	StatusInitializing Status = iota

	// StatusSampling means the shrink-and-replace loop is running.
	StatusSampling

	// StatusReactiveExpand means the live set is being grown to raise the
	// posterior effective sample size.
	StatusReactiveExpand

	// StatusConverged means all enabled stopping criteria were met.
	StatusConverged

	// StatusStopped means the run ended early: budget exhausted or
	// cancelled. Results are valid for the work completed.
	StatusStopped

	// StatusFailed means the run cannot proceed: initialization found too
	// few feasible points, or exploration stayed stuck at the widening cap.
	StatusFailed
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusSampling:
		return "sampling"
	case StatusReactiveExpand:
		return "reactive_expand"
	case StatusConverged:
		return "converged"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is final.
func (s Status) IsTerminal() bool {
	return s == StatusConverged || s == StatusStopped || s == StatusFailed
}

// ParseStatus converts a checkpointed state name back to a Status.
func ParseStatus(name string) (Status, error) {
	for _, s := range []Status{
		StatusInitializing, StatusSampling, StatusReactiveExpand,
		StatusConverged, StatusStopped, StatusFailed,
	} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}
