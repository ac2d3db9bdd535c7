// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the data types shared by the goal planner: world and
// goal states, actions and their costs, plans, execution outcomes and the
// context signature that keys learned patterns.
package model

import "errors"

var (
	// ErrInvalidValue indicates a property value that is not a string,
	// number or boolean.
	ErrInvalidValue = errors.New("invalid state value")

	// ErrInvalidAction indicates an action that failed validation.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidOutcome indicates an execution outcome that failed validation.
	ErrInvalidOutcome = errors.New("invalid execution outcome")
)
