// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report defines the normalized validation report produced by the
// tool output parsers.
//
// A ValidationReport is the only representation of a dry-run outcome the rest
// of the pipeline is allowed to act on. Raw sandbox results are ephemeral and
// survive only as the RawOutput field. Reports are treated as immutable once
// a parser returns them: exactly one report drives each proposal.
package report

// Status is the overall outcome of a validation run.
type Status string

const (
	// StatusSuccess indicates the tool ran cleanly (helm dry-run).
	StatusSuccess Status = "success"

	// StatusNoChanges indicates a clean plan with nothing to do
	// (terraform exit code 0).
	StatusNoChanges Status = "no_changes"

	// StatusChangesRequired indicates a valid plan that would change
	// resources (terraform exit code 2). This is not a failure.
	StatusChangesRequired Status = "changes_required"

	// StatusFailed indicates the tool failed, timed out, or emitted
	// error-level diagnostics.
	StatusFailed Status = "failed"
)

// Action is the planned operation on a single resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ResourceChange is one planned change from a terraform plan stream.
type ResourceChange struct {
	// Type is the resource type (e.g. "aws_s3_bucket").
	Type string `json:"type"`

	// Name is the resource name within its module.
	Name string `json:"name"`

	// Action is the planned operation.
	Action Action `json:"action"`

	// Provider is the owning provider, when the plan message carries it.
	Provider string `json:"provider,omitempty"`

	// Address is the full resource address (e.g. "aws_s3_bucket.logs").
	Address string `json:"address,omitempty"`
}

// ManifestRecord is one Kubernetes resource extracted from a rendered
// manifest stream.
type ManifestRecord struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// ManifestSummary aggregates extracted manifests for policy checks.
type ManifestSummary struct {
	TotalCount    int            `json:"total_count"`
	ByKind        map[string]int `json:"by_kind"`
	ByNamespace   map[string]int `json:"by_namespace"`
	ResourceNames []string       `json:"resource_names"`
	HasSecrets    bool           `json:"has_secrets"`
	HasConfigMaps bool           `json:"has_configmaps"`
	HasServices   bool           `json:"has_services"`
	HasIngress    bool           `json:"has_ingress"`
}

// LintReport is the parsed outcome of a lint stage.
type LintReport struct {
	// Passed is true when the lint exit code was zero and no [ERROR]
	// lines appeared in the output.
	Passed bool `json:"passed"`

	// Warnings holds [WARNING] lines with the marker stripped.
	Warnings []string `json:"warnings"`

	// Info holds [INFO] lines with the marker stripped.
	Info []string `json:"info"`

	ErrorCount   int    `json:"error_count"`
	WarningCount int    `json:"warning_count"`
	Output       string `json:"output"`
	Errors       string `json:"errors,omitempty"`
}

// ValidationReport is the normalized, typed result of a dry-run.
//
// Invariant: Add+Change+Destroy always equals len(ResourceChanges). Drift
// entries are tracked separately and never contribute to the counters.
type ValidationReport struct {
	// Status is the overall outcome.
	Status Status `json:"status"`

	// Tool is the external tool that produced the raw output
	// ("terraform", "helm").
	Tool string `json:"tool"`

	// Stage names the execution stage that terminated the run, when the
	// run failed before its final stage ("init", "lint", "dry-run").
	Stage string `json:"stage,omitempty"`

	// Add, Change, Destroy are the partitioned counts of ResourceChanges.
	Add     int `json:"add"`
	Change  int `json:"change"`
	Destroy int `json:"destroy"`

	// ResourceChanges lists planned changes in plan emission order.
	ResourceChanges []ResourceChange `json:"resource_changes"`

	// Drift lists out-of-band resource drift, kept apart from the
	// planned change counters.
	Drift []ResourceChange `json:"drift,omitempty"`

	// Manifests lists rendered Kubernetes resources in stream order.
	Manifests []ManifestRecord `json:"manifests,omitempty"`

	// ManifestSummary aggregates Manifests; nil when Tool is not helm.
	ManifestSummary *ManifestSummary `json:"manifest_summary,omitempty"`

	// Lint is the lint stage outcome; nil when no lint stage ran.
	Lint *LintReport `json:"lint,omitempty"`

	// Notes is the rendered NOTES section, when present.
	Notes string `json:"notes,omitempty"`

	// RawOutput preserves the tool stdout for reviewer inspection.
	RawOutput string `json:"raw_output"`

	// Errors holds error-level diagnostics extracted from the stream,
	// plus stderr when the run failed.
	Errors []string `json:"errors,omitempty"`

	// TimedOut is true when the underlying stage hit its wall clock
	// limit. A timed-out run is always StatusFailed.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Succeeded reports whether the validation outcome permits treating the
// change set as reviewable without a failure banner.
func (r *ValidationReport) Succeeded() bool {
	switch r.Status {
	case StatusSuccess, StatusNoChanges, StatusChangesRequired:
		return true
	default:
		return false
	}
}

// Summary returns the compact counters used in proposal bodies and audit
// entries.
func (r *ValidationReport) Summary() map[string]any {
	s := map[string]any{
		"status":  string(r.Status),
		"add":     r.Add,
		"change":  r.Change,
		"destroy": r.Destroy,
	}
	if r.ManifestSummary != nil {
		s["manifests"] = r.ManifestSummary.TotalCount
	}
	if r.Lint != nil {
		s["lint_passed"] = r.Lint.Passed
	}
	return s
}
