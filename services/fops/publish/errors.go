// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import "errors"

// Sentinel errors for the publish layer.
var (
	// ErrUnsupportedPlatform indicates no publisher is registered for
	// the repository or proposal URL.
	ErrUnsupportedPlatform = errors.New("unsupported repository platform")

	// ErrInvalidRepoURL indicates the URL did not match the strict
	// repository or proposal URL shape. Fail-closed: a URL we cannot
	// parse is a URL we refuse to publish to.
	ErrInvalidRepoURL = errors.New("invalid repository url")

	// ErrMissingCredential indicates a publisher was constructed without
	// its API token. Raised at construction, not first use, so a
	// misconfigured deployment fails at startup.
	ErrMissingCredential = errors.New("missing platform credential")

	// ErrInvalidInput indicates a malformed publish request.
	ErrInvalidInput = errors.New("invalid input")
)
