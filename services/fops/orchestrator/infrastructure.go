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
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/citation"
	"github.com/AleutianAI/fops/services/fops/fileset"
	"github.com/AleutianAI/fops/services/fops/generator"
	"github.com/AleutianAI/fops/services/fops/helm"
	"github.com/AleutianAI/fops/services/fops/kb"
	"github.com/AleutianAI/fops/services/fops/publish"
	"github.com/AleutianAI/fops/services/fops/report"
	"github.com/AleutianAI/fops/services/fops/sandbox"
	"github.com/AleutianAI/fops/services/fops/telemetry"
	"github.com/AleutianAI/fops/services/fops/terraform"
)

const infraAgent = "infrastructure"

// InfrastructureProposal describes one infrastructure proposal flow.
type InfrastructureProposal struct {
	// RepoURL is the target repository.
	RepoURL string
	// Target is the deployment target ("k8s", "serverless", "vms").
	Target string
	// Environments each get environment-specific configuration.
	Environments []string
	// Domain and Registry parameterize the generated modules.
	Domain   string
	Registry string
	// AppName names the Helm chart; also the default release name.
	AppName string

	// Terraform and Helm are caller-supplied file sets. When Terraform is
	// nil, both are generated.
	Terraform fileset.FileSet
	Helm      fileset.FileSet

	// ReleaseName and Namespace parameterize the helm dry-run. Empty
	// values default to AppName (or "fops-release") and "default".
	ReleaseName string
	Namespace   string

	// Sources are caller-supplied citation sources. When empty and a KB
	// is configured, sources come from retrieval.
	Sources []citation.Source
}

func (p InfrastructureProposal) validate() error {
	if p.RepoURL == "" {
		return fmt.Errorf("%w: repo url is required", ErrInvalidProposal)
	}
	if p.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidProposal)
	}
	if len(p.Environments) == 0 {
		return fmt.Errorf("%w: at least one environment", ErrInvalidProposal)
	}
	return nil
}

// ProposeInfrastructure runs the full infrastructure flow.
//
// Description:
//
//	Guard check, generation (unless file sets were supplied), parallel
//	terraform plan and helm dry-run in sandboxes, citation binding on
//	the root module, publication with "infra/" and "deploy/chart/"
//	prefixes, and artifact attachment. Validation failure does not stop
//	publication: the failed report is part of the proposal.
//
// Errors:
//
//	ErrInvalidProposal - Malformed proposal.
//	guard.ErrNotAllowListed - Repository is outside the allow-list.
//	ErrGeneration - No artifacts could be produced.
//	Publish errors pass through from the router.
func (o *Orchestrator) ProposeInfrastructure(ctx context.Context, p InfrastructureProposal) (*Outcome, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	start := o.now()
	ctx, span := telemetry.StartSpan(ctx, "fops.orchestrator", "Orchestrator.ProposeInfrastructure")
	defer span.End()
	span.SetAttributes(
		attribute.String("repo_url", p.RepoURL),
		attribute.String("target", p.Target),
	)

	if err := o.checkGuard(ctx, p.RepoURL, infraAgent); err != nil {
		telemetry.RecordError(span, err)
		o.observeFlow(ctx, "infrastructure", "rejected", start)
		return nil, err
	}

	sources := p.Sources
	if p.Terraform == nil {
		guidance := o.retrieve(ctx, kb.CollectionIaC,
			fmt.Sprintf("terraform %s infrastructure %s", p.Target, p.Domain),
			infraAgent, 5)
		if len(sources) == 0 {
			sources = sourcesOf(guidance)
		}

		art, err := o.gen.Infrastructure(ctx, generator.InfraRequest{
			Target:       p.Target,
			Environments: p.Environments,
			Domain:       p.Domain,
			Registry:     p.Registry,
			AppName:      p.AppName,
			Guidance:     guidance,
		})
		if err != nil {
			telemetry.RecordError(span, err)
			o.countError("generation", infraAgent)
			o.observeFlow(ctx, "infrastructure", "failed", start)
			return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		p.Terraform = art.Terraform
		if p.Helm == nil {
			p.Helm = art.Helm
		}
	}

	citations := o.bindRootModule(p.Terraform, sources)

	tfReport, helmReport := o.validateInfrastructure(ctx, p)
	o.auditValidation(infraAgent, terraform.Tool, tfReport)
	if helmReport != nil {
		o.auditValidation(infraAgent, helm.Tool, helmReport)
	}

	files := p.Terraform.WithPrefix("infra/")
	if len(p.Helm) > 0 {
		files = files.Merge(p.Helm.WithPrefix("deploy/chart/"))
	}

	branch := fmt.Sprintf("fops-infrastructure-%s-%s", p.Target, o.branchSuffix())
	proposal, err := o.router.Publish(ctx, publish.Request{
		RepoURL:    p.RepoURL,
		BranchName: branch,
		Title:      fmt.Sprintf("[F-Ops] Add %s infrastructure configuration", p.Target),
		Body:       infrastructureBody(p, tfReport, helmReport, citations),
		Files:      files,
		Agent:      infraAgent,
		Citations:  citations,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		o.observeFlow(ctx, "infrastructure", "failed", start)
		return nil, err
	}

	artifacts := publish.Artifacts{
		"terraform_plan": tfReport,
		"infrastructure_info": map[string]interface{}{
			"agent":           infraAgent,
			"target":          p.Target,
			"environments":    p.Environments,
			"domain":          p.Domain,
			"citations_count": len(citations),
		},
		"citations": citations,
	}
	if helmReport != nil {
		artifacts["helm_dry_run"] = helmReport
	}
	if err := o.router.Attach(ctx, proposal.URL, artifacts, infraAgent); err != nil {
		// The proposal exists; losing the comment is not worth failing it.
		o.logger.Warn("Proposal created but artifact attachment failed",
			slog.String("proposal_url", proposal.URL),
			"error", err)
	}

	if _, err := o.trail.Append(audit.Entry{
		OperationType: audit.OpProposalCreated,
		Agent:         infraAgent,
		Inputs: map[string]interface{}{
			"repo_url":     p.RepoURL,
			"target":       p.Target,
			"environments": p.Environments,
		},
		Outputs: map[string]interface{}{
			"pr_url": proposal.URL,
			"branch": proposal.Branch,
		},
		Citations: citations,
		PRURL:     proposal.URL,
	}); err != nil {
		o.logger.Error("Audit append failed for proposal", "error", err)
	}

	telemetry.SetSpanOK(span)
	o.observeFlow(ctx, "infrastructure", "published", start)

	return &Outcome{
		ProposalURL: proposal.URL,
		Branch:      proposal.Branch,
		Platform:    proposal.Platform,
		Terraform:   tfReport,
		Helm:        helmReport,
		Citations:   citations,
	}, nil
}

// bindRootModule appends the citation footer to the terraform root module
// and tracks usage. Returns the flow's citation list either way.
func (o *Orchestrator) bindRootModule(tf fileset.FileSet, sources []citation.Source) []string {
	if content, ok := tf["main.tf"]; ok {
		bound := o.bindAndTrack(content, sources)
		tf["main.tf"] = bound.Content
		return bound.Citations
	}

	citations := make([]string, 0, len(sources))
	for _, s := range sources {
		citations = append(citations, s.Citation)
	}
	return citations
}

// validateInfrastructure runs the terraform and helm dry runs in
// parallel. Always returns reports, never errors: a sandbox that could
// not run at all yields a failed report with the cause.
func (o *Orchestrator) validateInfrastructure(ctx context.Context, p InfrastructureProposal) (*report.ValidationReport, *report.ValidationReport) {
	var tfReport, helmReport *report.ValidationReport

	var g errgroup.Group
	g.Go(func() error {
		stages := withTimeout(terraform.PlanStages(), o.terraformTimeout)
		results, err := o.runner.ExecuteStages(ctx, p.Terraform, stages)
		if err != nil {
			o.countError("sandbox", infraAgent)
			tfReport = failedReport(terraform.Tool, err)
			return nil
		}
		o.observeStages(ctx, results)
		tfReport = terraform.ParsePlan(results)
		return nil
	})

	if len(p.Helm) > 0 {
		g.Go(func() error {
			if err := helm.ValidateChart(p.Helm); err != nil {
				helmReport = failedReport(helm.Tool, err)
				return nil
			}

			release := p.ReleaseName
			if release == "" {
				release = p.AppName
			}
			if release == "" {
				release = "fops-release"
			}
			namespace := p.Namespace
			if namespace == "" {
				namespace = "default"
			}

			// The stage chain addresses the chart at ./chart inside the
			// sandbox.
			stages := withTimeout(helm.DryRunStages(release, namespace), o.helmTimeout)
			results, err := o.runner.ExecuteStages(ctx, p.Helm.WithPrefix(helm.ChartDir+"/"), stages)
			if err != nil {
				o.countError("sandbox", infraAgent)
				helmReport = failedReport(helm.Tool, err)
				return nil
			}
			o.observeStages(ctx, results)
			helmReport = helm.ParseDryRun(results)
			return nil
		})
	}

	_ = g.Wait()
	return tfReport, helmReport
}

// observeStages records sandbox stage metrics.
func (o *Orchestrator) observeStages(ctx context.Context, results []*sandbox.Result) {
	if o.metrics == nil {
		return
	}
	for _, res := range results {
		status := "ok"
		if res.Failed {
			status = "failed"
		}
		o.metrics.SandboxStagesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", res.Tool),
			attribute.String("stage", res.Stage),
			attribute.String("status", status),
		))
		o.metrics.SandboxStageDuration.Record(ctx, res.Duration.Seconds(),
			metric.WithAttributes(attribute.String("tool", res.Tool)))
	}
}

// infrastructureBody renders the proposal description.
func infrastructureBody(p InfrastructureProposal, tf, hm *report.ValidationReport, citations []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `# F-Ops Generated Infrastructure Configuration

This PR adds infrastructure configuration for **%s** deployment generated by F-Ops.

## Configuration Summary
- **Target Platform**: %s
- **Environments**: %s
- **Domain**: %s

## Generated Components
`, p.Target, p.Target, strings.Join(p.Environments, ", "), p.Domain)

	if len(p.Terraform) > 0 {
		sb.WriteString(`
### Terraform Infrastructure
- Network modules (VPC, subnets)
- Container registry
- DNS configuration and SSL certificates
- Secrets management integration
`)
	}
	if len(p.Helm) > 0 {
		sb.WriteString(`
### Helm Chart
- Kubernetes deployment configuration
- Service and ingress definitions
- ConfigMaps and environment-specific values
- Autoscaling and resource limits
`)
	}

	fmt.Fprintf(&sb, `
## Validation Results

### Terraform Plan
- **Status**: %s
- **Resources to add**: %d
- **Resources to change**: %d
- **Resources to destroy**: %d
`, tf.Status, tf.Add, tf.Change, tf.Destroy)

	if hm != nil {
		lintPassed := "no"
		if hm.Lint != nil && hm.Lint.Passed {
			lintPassed = "yes"
		}
		fmt.Fprintf(&sb, `
### Helm Dry-Run
- **Status**: %s
- **Lint passed**: %s
- **Manifests generated**: %d
`, hm.Status, lintPassed, len(hm.Manifests))
	}

	fmt.Fprintf(&sb, `
## Knowledge Base Citations
%s

---
*Generated by F-Ops Infrastructure Agent*
*Review all changes and plan outputs before merging*
`, numberedCitations(citations))

	return sb.String()
}
