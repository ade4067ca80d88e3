// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package terraform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fops/services/fops/fileset"
	"github.com/AleutianAI/fops/services/fops/report"
	"github.com/AleutianAI/fops/services/fops/sandbox"
)

func plannedChange(action, rtype, rname string) string {
	return `{"@level":"info","@message":"planned","type":"planned_change","change":{"action":"` + action +
		`","resource":{"resource":"` + rtype + `.` + rname + `","resource_type":"` + rtype +
		`","resource_name":"` + rname + `","provider_name":"registry.terraform.io/hashicorp/aws"}}}`
}

func planResult(stdout string, exitCode int) []*sandbox.Result {
	return []*sandbox.Result{
		{Tool: Tool, Stage: StageInit, ExitCode: 0},
		{Tool: Tool, Stage: StagePlan, ExitCode: exitCode, Stdout: stdout},
	}
}

func TestParsePlan_CountsPartitionResources(t *testing.T) {
	lines := []string{
		plannedChange("create", "aws_s3_bucket", "logs"),
		plannedChange("create", "aws_s3_bucket", "data"),
		plannedChange("update", "aws_iam_role", "deploy"),
		plannedChange("delete", "aws_instance", "old"),
	}
	rep := ParsePlan(planResult(strings.Join(lines, "\n"), 2))

	assert.Equal(t, report.StatusChangesRequired, rep.Status)
	assert.Equal(t, 2, rep.Add)
	assert.Equal(t, 1, rep.Change)
	assert.Equal(t, 1, rep.Destroy)

	// Partition invariant: counts sum to the resource list length, and
	// the list preserves emission order.
	require.Len(t, rep.ResourceChanges, rep.Add+rep.Change+rep.Destroy)
	assert.Equal(t, "logs", rep.ResourceChanges[0].Name)
	assert.Equal(t, "data", rep.ResourceChanges[1].Name)
	assert.Equal(t, report.ActionUpdate, rep.ResourceChanges[2].Action)
	assert.Equal(t, report.ActionDelete, rep.ResourceChanges[3].Action)
	assert.Equal(t, "registry.terraform.io/hashicorp/aws", rep.ResourceChanges[0].Provider)
}

func TestParsePlan_ExitCodeMapping(t *testing.T) {
	tests := []struct {
		name     string
		exitCode int
		want     report.Status
	}{
		{"exit 0 is no changes", 0, report.StatusNoChanges},
		{"exit 2 is changes required, not failure", 2, report.StatusChangesRequired},
		{"exit 1 is failed", 1, report.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := ParsePlan(planResult("", tt.exitCode))
			assert.Equal(t, tt.want, rep.Status)
		})
	}
}

func TestParsePlan_MalformedLinesSkipped(t *testing.T) {
	stdout := strings.Join([]string{
		"this is not json",
		plannedChange("create", "aws_s3_bucket", "logs"),
		"{truncated",
		plannedChange("update", "aws_iam_role", "deploy"),
	}, "\n")

	rep := ParsePlan(planResult(stdout, 2))

	assert.Equal(t, report.StatusChangesRequired, rep.Status)
	assert.Equal(t, 1, rep.Add)
	assert.Equal(t, 1, rep.Change)
	assert.Len(t, rep.ResourceChanges, 2)
}

func TestParsePlan_ErrorLevelForcesFailed(t *testing.T) {
	stdout := strings.Join([]string{
		plannedChange("create", "aws_s3_bucket", "logs"),
		`{"@level":"error","@message":"Error: invalid reference","diagnostic":{"summary":"Invalid reference","detail":"..."}}`,
	}, "\n")

	// Exit code 2 would normally mean changes_required; an error-level
	// message wins regardless.
	rep := ParsePlan(planResult(stdout, 2))

	assert.Equal(t, report.StatusFailed, rep.Status)
	assert.Contains(t, rep.Errors, "Invalid reference")
	assert.Equal(t, 1, rep.Add, "changes seen before the error are still counted")
}

func TestParsePlan_DriftSeparateFromCounters(t *testing.T) {
	stdout := strings.Join([]string{
		`{"@level":"info","type":"resource_drift","change":{"action":"update","resource":{"resource_type":"aws_instance","resource_name":"web"}}}`,
		plannedChange("create", "aws_s3_bucket", "logs"),
	}, "\n")

	rep := ParsePlan(planResult(stdout, 2))

	assert.Equal(t, 1, rep.Add)
	assert.Equal(t, 0, rep.Change, "drift must never reach the change counter")
	require.Len(t, rep.Drift, 1)
	assert.Equal(t, "aws_instance", rep.Drift[0].Type)
	require.Len(t, rep.ResourceChanges, 1)
}

func TestParsePlan_InitFailureShortCircuit(t *testing.T) {
	rep := ParsePlan([]*sandbox.Result{
		{Tool: Tool, Stage: StageInit, ExitCode: 1, Stderr: "Error: Failed to install provider", Failed: true},
	})

	assert.Equal(t, report.StatusFailed, rep.Status)
	assert.Equal(t, StageInit, rep.Stage, "failure location comes from the stage marker")
	assert.Contains(t, rep.Errors, "Error: Failed to install provider")
}

func TestParsePlan_TimeoutIsTerminal(t *testing.T) {
	rep := ParsePlan([]*sandbox.Result{
		{Tool: Tool, Stage: StageInit, ExitCode: 0},
		{Tool: Tool, Stage: StagePlan, ExitCode: -1, TimedOut: true, Failed: true,
			Stdout: plannedChange("create", "aws_s3_bucket", "x")},
	})

	assert.Equal(t, report.StatusFailed, rep.Status)
	assert.True(t, rep.TimedOut)
	// Partial output from a timed-out run is never trusted for success.
	assert.Equal(t, 0, rep.Add)
}

func TestParsePlan_Idempotent(t *testing.T) {
	results := planResult(strings.Join([]string{
		plannedChange("create", "aws_s3_bucket", "logs"),
		plannedChange("delete", "aws_instance", "old"),
	}, "\n"), 2)

	first := ParsePlan(results)
	second := ParsePlan(results)
	assert.Equal(t, first, second)
}

func TestParsePlan_SingleCreateScenario(t *testing.T) {
	// One main.tf declaring one resource, canned plan with one create
	// message, detailed exit code 2.
	rep := ParsePlan(planResult(plannedChange("create", "aws_s3_bucket", "b"), 2))

	assert.Equal(t, report.StatusChangesRequired, rep.Status)
	assert.Equal(t, 1, rep.Add)
	assert.Equal(t, 0, rep.Change)
	assert.Equal(t, 0, rep.Destroy)
}

func TestPlanStages_Shape(t *testing.T) {
	stages := PlanStages()
	require.Len(t, stages, 2)

	assert.Equal(t, StageInit, stages[0].Name)
	assert.Contains(t, stages[0].Args, "-backend=false")

	assert.Equal(t, StagePlan, stages[1].Name)
	assert.Contains(t, stages[1].Args, "-detailed-exitcode")
	assert.Equal(t, []int{0, 2}, stages[1].OKExitCodes)
}

func TestProviders(t *testing.T) {
	files := fileset.FileSet{
		"main.tf": `
provider "aws" {
  region = "us-east-1"
}

terraform {
  required_providers {
    google = {
      source = "hashicorp/google"
    }
  }
}
`,
		"readme.md": `provider "fake" {}`,
	}

	providers := Providers(files)
	assert.Contains(t, providers, "aws")
	assert.Contains(t, providers, "google")
	assert.NotContains(t, providers, "fake", "non-.tf files are ignored")
}
