// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the F-Ops pipeline service.
//
// Description:
//
//	Provides standard counters and histograms for HTTP requests, proposal
//	flows, sandbox validations, publishing, knowledge base retrieval, and
//	audit writes. All metrics use the "fops_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// --- Proposal Metrics ---

	// ProposalsTotal counts proposal flows by kind (infrastructure, pipeline)
	// and outcome.
	ProposalsTotal metric.Int64Counter

	// ProposalDuration records end-to-end proposal flow duration in seconds.
	ProposalDuration metric.Float64Histogram

	// GuardRejectionsTotal counts proposals rejected by the repository guard.
	GuardRejectionsTotal metric.Int64Counter

	// --- Sandbox Metrics ---

	// SandboxStagesTotal counts sandbox stage executions by tool and status.
	SandboxStagesTotal metric.Int64Counter

	// SandboxStageDuration records sandbox stage duration in seconds.
	SandboxStageDuration metric.Float64Histogram

	// --- Publish Metrics ---

	// PublishTotal counts proposal publications by platform and status.
	PublishTotal metric.Int64Counter

	// PublishDuration records publication duration in seconds.
	PublishDuration metric.Float64Histogram

	// --- Knowledge Base Metrics ---

	// KBSearchesTotal counts knowledge base searches by collection and status.
	KBSearchesTotal metric.Int64Counter

	// KBSearchDuration records knowledge base search duration in seconds.
	KBSearchDuration metric.Float64Histogram

	// --- Audit Metrics ---

	// AuditAppendsTotal counts audit trail appends by operation type.
	AuditAppendsTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by type and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"fops_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"fops_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	// --- Proposal Metrics ---
	m.ProposalsTotal, err = meter.Int64Counter(
		"fops_proposals_total",
		metric.WithDescription("Total proposal flows"),
		metric.WithUnit("{proposal}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create proposals_total: %w", err)
	}

	m.ProposalDuration, err = meter.Float64Histogram(
		"fops_proposal_duration_seconds",
		metric.WithDescription("End-to-end proposal flow duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, fmt.Errorf("create proposal_duration: %w", err)
	}

	m.GuardRejectionsTotal, err = meter.Int64Counter(
		"fops_guard_rejections_total",
		metric.WithDescription("Proposals rejected by the repository guard"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create guard_rejections_total: %w", err)
	}

	// --- Sandbox Metrics ---
	m.SandboxStagesTotal, err = meter.Int64Counter(
		"fops_sandbox_stages_total",
		metric.WithDescription("Total sandbox stage executions"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sandbox_stages_total: %w", err)
	}

	m.SandboxStageDuration, err = meter.Float64Histogram(
		"fops_sandbox_stage_duration_seconds",
		metric.WithDescription("Sandbox stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create sandbox_stage_duration: %w", err)
	}

	// --- Publish Metrics ---
	m.PublishTotal, err = meter.Int64Counter(
		"fops_publish_total",
		metric.WithDescription("Total proposal publications"),
		metric.WithUnit("{publication}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create publish_total: %w", err)
	}

	m.PublishDuration, err = meter.Float64Histogram(
		"fops_publish_duration_seconds",
		metric.WithDescription("Publication duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create publish_duration: %w", err)
	}

	// --- Knowledge Base Metrics ---
	m.KBSearchesTotal, err = meter.Int64Counter(
		"fops_kb_searches_total",
		metric.WithDescription("Total knowledge base searches"),
		metric.WithUnit("{search}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create kb_searches_total: %w", err)
	}

	m.KBSearchDuration, err = meter.Float64Histogram(
		"fops_kb_search_duration_seconds",
		metric.WithDescription("Knowledge base search duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kb_search_duration: %w", err)
	}

	// --- Audit Metrics ---
	m.AuditAppendsTotal, err = meter.Int64Counter(
		"fops_audit_appends_total",
		metric.WithDescription("Total audit trail appends"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit_appends_total: %w", err)
	}

	// --- Error Metrics ---
	m.ErrorsTotal, err = meter.Int64Counter(
		"fops_errors_total",
		metric.WithDescription("Total errors by type and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}
