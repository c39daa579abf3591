// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sampler

import "errors"

var (
	// ErrInvalidConfig indicates a problem or options validation failure.
	// Not recoverable; fix the configuration.
	ErrInvalidConfig = errors.New("invalid sampler configuration")

	// ErrInitInfeasible indicates initialization exhausted its draw budget
	// before finding enough feasible live points. Usually means the prior
	// transform and the likelihood disagree about the support.
	ErrInitInfeasible = errors.New("initialization found too few feasible points")

	// ErrExplorationStuck indicates repeated proposal failures at the
	// maximum region widening. The run is failed; the likelihood surface
	// is likely pathological at the current threshold.
	ErrExplorationStuck = errors.New("exploration stuck at maximum region widening")

	// ErrRunFinished indicates Run was called on a sampler already in a
	// terminal state.
	ErrRunFinished = errors.New("run already reached a terminal state")
)
