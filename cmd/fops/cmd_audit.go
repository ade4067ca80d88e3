// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// runAudit lists audit trail entries, newest first.
func runAudit(cmd *cobra.Command, args []string) {
	query := url.Values{}
	if auditDate != "" {
		query.Set("date", auditDate)
	}
	if auditType != "" {
		query.Set("type", auditType)
	}
	if auditAgent != "" {
		query.Set("agent", auditAgent)
	}
	query.Set("limit", strconv.Itoa(auditLimit))

	getJSON("/v1/fops/audit", query)
}

// runAuditStats shows aggregated per-day operation counts.
func runAuditStats(cmd *cobra.Command, args []string) {
	query := url.Values{}
	if auditDate != "" {
		query.Set("date", auditDate)
	}

	getJSON("/v1/fops/audit/stats", query)
}
