// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs the end-to-end proposal flows.
//
// A flow is: guard check, generation (when the caller did not bring
// artifacts), sandbox validation, report parsing, citation binding,
// publication, artifact attachment. The model is proposal-only
// throughout: a failed validation does not stop the flow, it rides along
// in the proposal so the reviewer sees exactly what the dry run said.
// Only the inability to produce or publish anything at all is an error.
//
// # Thread Safety
//
// Orchestrator is safe for concurrent use; per-branch serialization
// happens in the publish router.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/citation"
	"github.com/AleutianAI/fops/services/fops/fileset"
	"github.com/AleutianAI/fops/services/fops/generator"
	"github.com/AleutianAI/fops/services/fops/guard"
	"github.com/AleutianAI/fops/services/fops/kb"
	"github.com/AleutianAI/fops/services/fops/publish"
	"github.com/AleutianAI/fops/services/fops/report"
	"github.com/AleutianAI/fops/services/fops/sandbox"
	"github.com/AleutianAI/fops/services/fops/telemetry"
)

// Sentinel errors for proposal flows.
var (
	ErrInvalidProposal = errors.New("invalid proposal")
	ErrGeneration      = errors.New("artifact generation failed")
)

// stageRunner is the sandbox surface the orchestrator needs.
// *sandbox.Runner satisfies it.
type stageRunner interface {
	ExecuteStages(ctx context.Context, files fileset.FileSet, stages []sandbox.Stage) ([]*sandbox.Result, error)
}

// Outcome is the fixed success shape of a proposal flow.
type Outcome struct {
	// ProposalURL is the opened PR/MR.
	ProposalURL string `json:"proposal_url"`
	// Branch is the proposal branch that was created.
	Branch string `json:"branch"`
	// Platform is "github" or "gitlab".
	Platform string `json:"platform"`

	// Terraform and Helm are the dry-run reports, nil when the flow did
	// not run the tool.
	Terraform *report.ValidationReport `json:"terraform,omitempty"`
	Helm      *report.ValidationReport `json:"helm,omitempty"`

	// PipelineValid is the pipeline syntax check result; only meaningful
	// for pipeline flows.
	PipelineValid bool `json:"pipeline_valid,omitempty"`

	// Citations lists the KB references behind the generated artifacts.
	Citations []string `json:"citations"`
}

// Orchestrator wires the proposal flows together.
type Orchestrator struct {
	guard  *guard.Guard
	runner stageRunner
	router *publish.Router
	trail  *audit.Trail
	gen    generator.Generator

	// Optional collaborators.
	kb      kb.Store
	usage   *citation.UsageStore
	metrics *telemetry.Metrics

	terraformTimeout time.Duration
	helmTimeout      time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithKB enables knowledge base retrieval for generation guidance.
func WithKB(store kb.Store) Option {
	return func(o *Orchestrator) { o.kb = store }
}

// WithUsageStore enables citation usage tracking.
func WithUsageStore(store *citation.UsageStore) Option {
	return func(o *Orchestrator) { o.usage = store }
}

// WithMetrics enables flow metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTimeouts overrides the per-stage sandbox timeouts.
func WithTimeouts(terraform, helm time.Duration) Option {
	return func(o *Orchestrator) {
		if terraform > 0 {
			o.terraformTimeout = terraform
		}
		if helm > 0 {
			o.helmTimeout = helm
		}
	}
}

// WithLogger sets the logger for flow progress.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Orchestrator. All four core collaborators are required;
// the flows cannot run unguarded, unvalidated, unpublished, or unaudited.
func New(g *guard.Guard, runner stageRunner, router *publish.Router, trail *audit.Trail, gen generator.Generator, opts ...Option) (*Orchestrator, error) {
	if g == nil || runner == nil || router == nil || trail == nil || gen == nil {
		return nil, fmt.Errorf("%w: guard, runner, router, trail, and generator are required", ErrInvalidProposal)
	}

	o := &Orchestrator{
		guard:  g,
		runner: runner,
		router: router,
		trail:  trail,
		gen:    gen,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Guard returns the repository guard, so callers can refresh the
// allow-list at runtime (config reload).
func (o *Orchestrator) Guard() *guard.Guard {
	return o.guard
}

// branchSuffix yields the timestamp fragment shared by all proposal
// branch names.
func (o *Orchestrator) branchSuffix() string {
	return o.now().Format("20060102-150405")
}

// retrieve fetches KB guidance for a generation and audits the search.
// A retrieval failure degrades to no guidance; generation proceeds.
func (o *Orchestrator) retrieve(ctx context.Context, collection, query, agent string, k int) []kb.Result {
	if o.kb == nil || query == "" {
		return nil
	}

	start := o.now()
	results, err := o.kb.Search(ctx, collection, query, k)
	if err != nil {
		o.logger.Warn("KB retrieval failed, generating without guidance",
			slog.String("collection", collection),
			"error", err)
		o.countError("kb_retrieval", agent)
		return nil
	}

	entry := audit.Entry{
		OperationType: audit.OpKBSearch,
		Agent:         agent,
		Inputs: map[string]interface{}{
			"collection": collection,
			"query":      query,
			"k":          k,
		},
		Outputs: map[string]interface{}{"results": len(results)},
	}
	if _, err := o.trail.Append(entry); err != nil {
		o.logger.Error("Audit append failed for kb search", "error", err)
	}

	if o.metrics != nil {
		o.metrics.KBSearchesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("collection", collection),
			attribute.String("status", "ok"),
		))
		o.metrics.KBSearchDuration.Record(ctx, o.now().Sub(start).Seconds())
	}
	return results
}

// sourcesOf converts retrieval hits to citation sources.
func sourcesOf(results []kb.Result) []citation.Source {
	sources := make([]citation.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, citation.Source{Citation: r.Citation, Title: r.Title})
	}
	return sources
}

// bindAndTrack appends the citation footer and records usage. Tracking
// failures are logged, never propagated: binding happened either way.
func (o *Orchestrator) bindAndTrack(content string, sources []citation.Source) citation.Bound {
	bound := citation.Bind(content, sources)

	if o.usage != nil {
		if err := o.usage.Track(bound); err != nil {
			o.logger.Warn("Citation usage tracking failed", "error", err)
		}
	}
	return bound
}

// auditValidation writes the validation_run entry for one report.
func (o *Orchestrator) auditValidation(agent, tool string, rep *report.ValidationReport) {
	entry := audit.Entry{
		OperationType: audit.OpValidationRun,
		Agent:         agent,
		Inputs:        map[string]interface{}{"tool": tool},
		Outputs:       rep.Summary(),
	}
	if !rep.Succeeded() {
		entry.Status = "failed"
	}
	if _, err := o.trail.Append(entry); err != nil {
		o.logger.Error("Audit append failed for validation run", "error", err)
	}
}

// failedReport synthesizes a report when the sandbox could not produce
// one (missing binary, materialization failure). The flow still
// publishes; the reviewer sees why validation never ran.
func failedReport(tool string, err error) *report.ValidationReport {
	return &report.ValidationReport{
		Tool:            tool,
		Status:          report.StatusFailed,
		ResourceChanges: []report.ResourceChange{},
		Errors:          []string{err.Error()},
	}
}

// withTimeout overrides stage timeouts in place when configured.
func withTimeout(stages []sandbox.Stage, timeout time.Duration) []sandbox.Stage {
	if timeout <= 0 {
		return stages
	}
	for i := range stages {
		stages[i].Timeout = timeout
	}
	return stages
}

func (o *Orchestrator) countError(kind, component string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ErrorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", kind),
		attribute.String("component", component),
	))
}

func (o *Orchestrator) observeFlow(ctx context.Context, kind, outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.ProposalsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
	o.metrics.ProposalDuration.Record(ctx, o.now().Sub(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)))
}

// checkGuard enforces the allow-list before any sandbox work. The
// router checks again at publish time; this early check keeps rejected
// targets from consuming sandbox slots, and audits the rejection.
func (o *Orchestrator) checkGuard(ctx context.Context, repoURL, agent string) error {
	err := o.guard.Check(repoURL)
	if err == nil {
		return nil
	}

	if _, aerr := o.trail.Append(audit.Entry{
		OperationType: audit.OpGuardRejected,
		Agent:         agent,
		Inputs:        map[string]interface{}{"repo_url": repoURL},
		Status:        "rejected",
	}); aerr != nil {
		o.logger.Error("Audit append failed for guard rejection", "error", aerr)
	}

	if o.metrics != nil {
		o.metrics.GuardRejectionsTotal.Add(ctx, 1)
	}
	return err
}

// numberedCitations renders the PR body citation list.
func numberedCitations(citations []string) string {
	if len(citations) == 0 {
		return "No knowledge base sources referenced."
	}
	lines := make([]string, 0, len(citations))
	for i, c := range citations {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, c))
	}
	return strings.Join(lines, "\n")
}

// platformOf infers the proposal platform from the repository URL.
func platformOf(repoURL string) string {
	if strings.Contains(repoURL, "gitlab") {
		return "gitlab"
	}
	return "github"
}
