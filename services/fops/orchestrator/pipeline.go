// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/citation"
	"github.com/AleutianAI/fops/services/fops/fileset"
	"github.com/AleutianAI/fops/services/fops/generator"
	"github.com/AleutianAI/fops/services/fops/kb"
	"github.com/AleutianAI/fops/services/fops/publish"
	"github.com/AleutianAI/fops/services/fops/telemetry"
)

const pipelineAgent = "pipeline"

// PipelineProposal describes one CI/CD pipeline proposal flow.
type PipelineProposal struct {
	// RepoURL is the target repository; it also selects the pipeline
	// dialect (GitHub Actions or GitLab CI).
	RepoURL string
	// Language drives the generated build/test commands.
	Language string
	// Target is the deployment target recorded in the pipeline.
	Target string
	// Environments each get a deploy job.
	Environments []string

	// Content is a caller-supplied pipeline definition. Empty means
	// generate one.
	Content string

	// Sources are caller-supplied citation sources. When empty and a KB
	// is configured, sources come from retrieval.
	Sources []citation.Source
}

func (p PipelineProposal) validate() error {
	if p.RepoURL == "" {
		return fmt.Errorf("%w: repo url is required", ErrInvalidProposal)
	}
	if p.Content == "" && len(p.Environments) == 0 {
		return fmt.Errorf("%w: at least one environment", ErrInvalidProposal)
	}
	return nil
}

// ProposePipeline runs the full pipeline flow.
//
// Description:
//
//	Guard check, generation (unless content was supplied), YAML syntax
//	validation, citation binding, publication of the single pipeline
//	file at its platform-conventional path, and artifact attachment. An
//	invalid pipeline is still proposed; the syntax check result rides
//	along for the reviewer.
//
// Errors:
//
//	ErrInvalidProposal - Malformed proposal.
//	guard.ErrNotAllowListed - Repository is outside the allow-list.
//	ErrGeneration - No pipeline could be produced.
//	Publish errors pass through from the router.
func (o *Orchestrator) ProposePipeline(ctx context.Context, p PipelineProposal) (*Outcome, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	start := o.now()
	ctx, span := telemetry.StartSpan(ctx, "fops.orchestrator", "Orchestrator.ProposePipeline")
	defer span.End()
	span.SetAttributes(attribute.String("repo_url", p.RepoURL))

	if err := o.checkGuard(ctx, p.RepoURL, pipelineAgent); err != nil {
		telemetry.RecordError(span, err)
		o.observeFlow(ctx, "pipeline", "rejected", start)
		return nil, err
	}

	platform := platformOf(p.RepoURL)
	path, err := generator.PipelinePath(platform)
	if err != nil {
		return nil, err
	}

	sources := p.Sources
	if p.Content == "" {
		guidance := o.retrieve(ctx, kb.CollectionPipelines,
			fmt.Sprintf("%s ci/cd pipeline %s %s", platform, p.Language, p.Target),
			pipelineAgent, 5)
		if len(sources) == 0 {
			sources = sourcesOf(guidance)
		}

		art, err := o.gen.Pipeline(ctx, generator.PipelineRequest{
			Platform:     platform,
			Language:     p.Language,
			Target:       p.Target,
			Environments: p.Environments,
			Guidance:     guidance,
		})
		if err != nil {
			telemetry.RecordError(span, err)
			o.countError("generation", pipelineAgent)
			o.observeFlow(ctx, "pipeline", "failed", start)
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		p.Content = art.Content
		path = art.Path
	}

	bound := o.bindAndTrack(p.Content, sources)

	// Validate after binding: the footer ships in the proposal, so the
	// footer is what must parse.
	validationErr := generator.ValidateYAML(bound.Content)
	valid := validationErr == nil
	status := "valid"
	if !valid {
		status = "invalid"
	}

	validation := map[string]interface{}{
		"status": status,
		"parsed": valid,
	}
	if validationErr != nil {
		validation["error"] = validationErr.Error()
	}

	entry := audit.Entry{
		OperationType: audit.OpValidationRun,
		Agent:         pipelineAgent,
		Inputs:        map[string]interface{}{"tool": "yaml"},
		Outputs:       validation,
	}
	if !valid {
		entry.Status = "failed"
	}
	if _, err := o.trail.Append(entry); err != nil {
		o.logger.Error("Audit append failed for validation run", "error", err)
	}

	branch := "fops-pipeline-" + o.branchSuffix()
	proposal, err := o.router.Publish(ctx, publish.Request{
		RepoURL:    p.RepoURL,
		BranchName: branch,
		Title:      "[F-Ops] Add CI/CD Pipeline",
		Body:       pipelineBody(bound.Citations, status, valid),
		Files:      fileset.FileSet{path: bound.Content},
		Agent:      pipelineAgent,
		Citations:  bound.Citations,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		o.observeFlow(ctx, "pipeline", "failed", start)
		return nil, err
	}

	artifacts := publish.Artifacts{
		"pipeline_validation": validation,
		"kb_citations":        bound.Citations,
		"generation_info": map[string]interface{}{
			"agent":             pipelineAgent,
			"citations_count":   len(bound.Citations),
			"validation_status": status,
		},
	}
	if err := o.router.Attach(ctx, proposal.URL, artifacts, pipelineAgent); err != nil {
		o.logger.Warn("Proposal created but artifact attachment failed",
			slog.String("proposal_url", proposal.URL),
			"error", err)
	}

	if _, err := o.trail.Append(audit.Entry{
		OperationType: audit.OpProposalCreated,
		Agent:         pipelineAgent,
		Inputs: map[string]interface{}{
			"repo_url": p.RepoURL,
			"path":     path,
		},
		Outputs: map[string]interface{}{
			"pr_url": proposal.URL,
			"branch": proposal.Branch,
		},
		Citations: bound.Citations,
		PRURL:     proposal.URL,
	}); err != nil {
		o.logger.Error("Audit append failed for proposal", "error", err)
	}

	telemetry.SetSpanOK(span)
	o.observeFlow(ctx, "pipeline", "published", start)

	return &Outcome{
		ProposalURL:   proposal.URL,
		Branch:        proposal.Branch,
		Platform:      proposal.Platform,
		PipelineValid: valid,
		Citations:     bound.Citations,
	}, nil
}

// pipelineBody renders the proposal description.
func pipelineBody(citations []string, status string, parsed bool) string {
	syntax := "Failed"
	if parsed {
		syntax = "Passed"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `# F-Ops Generated CI/CD Pipeline

This PR adds a CI/CD pipeline generated by F-Ops with the following features:

## Pipeline Features
- Security scanning integration
- SLO gates and monitoring
- Multi-environment deployment support

## Knowledge Base Citations
%s

## Validation Results
- **Status**: %s
- **Syntax Check**: %s

---
*Generated by F-Ops Pipeline Agent*
*Review all changes before merging*
`, numberedCitations(citations), status, syntax)

	return sb.String()
}
