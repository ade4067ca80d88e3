// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import "errors"

// Sentinel errors for sandbox execution.
//
// Tool failures and timeouts are NOT errors here: they come back inside a
// Result so the parsers can classify them. These sentinels cover the cases
// where no trustworthy Result could be produced at all.
var (
	// ErrInvalidInput is returned for nil contexts or empty stage
	// definitions.
	ErrInvalidInput = errors.New("invalid input")

	// ErrToolNotFound is returned when the tool binary is not on PATH.
	ErrToolNotFound = errors.New("tool not found on PATH")

	// ErrMaterialize is returned when the file set cannot be written
	// into the sandbox directory.
	ErrMaterialize = errors.New("materializing file set")
)
