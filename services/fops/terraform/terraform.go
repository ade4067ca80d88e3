// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package terraform defines the terraform plan sandbox stages and the parser
// that turns the machine-readable plan stream into a ValidationReport.
//
// Terraform with -json emits newline-delimited JSON messages. Parsing is
// best-effort at line granularity: a malformed line is skipped, never fatal,
// so one corrupt fragment cannot invalidate an otherwise-valid plan. The
// parser always returns a report; tool failure is report data, not an error.
package terraform

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/fops/services/fops/fileset"
	"github.com/AleutianAI/fops/services/fops/report"
	"github.com/AleutianAI/fops/services/fops/sandbox"
)

// Tool is the binary name resolved against PATH.
const Tool = "terraform"

// Stage names used in results and reports.
const (
	StageInit = "init"
	StagePlan = "plan"
)

// PlanStages returns the standard init-then-plan chain.
//
// Init runs with -backend=false: validation never touches remote state.
// Plan runs with -detailed-exitcode, so exit 2 means "valid plan with
// changes" and is tolerated by the stage chain.
func PlanStages() []sandbox.Stage {
	return []sandbox.Stage{
		{
			Name:    StageInit,
			Tool:    Tool,
			Args:    []string{"init", "-backend=false", "-input=false", "-no-color"},
			Timeout: 60 * time.Second,
		},
		{
			Name:        StagePlan,
			Tool:        Tool,
			Args:        []string{"plan", "-json", "-detailed-exitcode", "-input=false"},
			Timeout:     120 * time.Second,
			OKExitCodes: []int{0, 2},
		},
	}
}

// planMessage is the subset of terraform's JSON stream we classify.
type planMessage struct {
	Level   string `json:"@level"`
	Message string `json:"@message"`
	Type    string `json:"type"`
	Change  struct {
		Action   string `json:"action"`
		Resource struct {
			Addr         string `json:"resource"`
			ResourceType string `json:"resource_type"`
			ResourceName string `json:"resource_name"`
			ProviderName string `json:"provider_name"`
		} `json:"resource"`
	} `json:"change"`
	Diagnostic struct {
		Summary string `json:"summary"`
		Detail  string `json:"detail"`
	} `json:"diagnostic"`
}

// ParsePlan normalizes a staged terraform run into a ValidationReport.
//
// Description:
//
//	Classifies planned_change messages by action into add/change/destroy
//	counters and an ordered resource list (plan emission order, for
//	deterministic diffing). resource_drift messages go into a separate
//	drift list and never touch the counters. Any error-level message
//	forces StatusFailed regardless of exit code. Exit codes 0/2/other
//	map to no_changes/changes_required/failed. An init-stage failure or
//	a timeout is terminal and reported with its stage marker.
//
// Inputs:
//
//	results - The stage results from sandbox.ExecuteStages(PlanStages()).
//
// Outputs:
//
//	*report.ValidationReport - Always non-nil. Parsing is idempotent:
//	identical input yields a structurally equal report.
func ParsePlan(results []*sandbox.Result) *report.ValidationReport {
	rep := &report.ValidationReport{
		Tool:            Tool,
		Status:          report.StatusFailed,
		ResourceChanges: []report.ResourceChange{},
	}

	if len(results) == 0 {
		rep.Errors = append(rep.Errors, "no terraform stages executed")
		return rep
	}

	last := results[len(results)-1]
	rep.RawOutput = last.Stdout
	rep.TimedOut = last.TimedOut

	// Init failure short-circuits before any plan stream exists.
	if last.Stage == StageInit {
		rep.Stage = StageInit
		rep.Errors = appendNonEmpty(rep.Errors, strings.TrimSpace(last.Stderr))
		if last.TimedOut {
			rep.Errors = append(rep.Errors, "terraform init timed out")
		}
		return rep
	}

	rep.Stage = StagePlan

	if last.TimedOut {
		rep.Errors = append(rep.Errors, "terraform plan timed out")
		return rep
	}

	sawError := false
	for _, line := range strings.Split(last.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var msg planMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// Malformed line: skip, never fatal.
			continue
		}

		switch {
		case msg.Level == "error":
			sawError = true
			text := msg.Diagnostic.Summary
			if text == "" {
				text = msg.Message
			}
			rep.Errors = appendNonEmpty(rep.Errors, text)

		case msg.Type == "planned_change":
			change := toResourceChange(msg)
			switch change.Action {
			case report.ActionCreate:
				rep.Add++
			case report.ActionUpdate:
				rep.Change++
			case report.ActionDelete:
				rep.Destroy++
			}
			rep.ResourceChanges = append(rep.ResourceChanges, change)

		case msg.Type == "resource_drift":
			rep.Drift = append(rep.Drift, toResourceChange(msg))
		}
	}

	switch {
	case sawError:
		rep.Status = report.StatusFailed
	case last.ExitCode == 0:
		rep.Status = report.StatusNoChanges
	case last.ExitCode == 2:
		rep.Status = report.StatusChangesRequired
	default:
		rep.Status = report.StatusFailed
		rep.Errors = appendNonEmpty(rep.Errors, strings.TrimSpace(last.Stderr))
	}

	return rep
}

func toResourceChange(msg planMessage) report.ResourceChange {
	return report.ResourceChange{
		Type:     msg.Change.Resource.ResourceType,
		Name:     msg.Change.Resource.ResourceName,
		Action:   report.Action(msg.Change.Action),
		Provider: msg.Change.Resource.ProviderName,
		Address:  msg.Change.Resource.Addr,
	}
}

func appendNonEmpty(errs []string, s string) []string {
	if s == "" {
		return errs
	}
	return append(errs, s)
}

var (
	providerBlockRe  = regexp.MustCompile(`provider\s+"([^"]+)"`)
	requiredSourceRe = regexp.MustCompile(`(\w+)\s*=\s*\{[^}]*source\s*=\s*"[^"]+"`)
)

// Providers extracts provider names referenced by .tf files in the set.
//
// Both `provider "name"` blocks and required_providers entries are counted.
// Purely lexical; terraform itself is the authority at plan time.
func Providers(files fileset.FileSet) []string {
	seen := make(map[string]bool)
	var providers []string

	for _, p := range files.Paths() {
		if !strings.HasSuffix(p, ".tf") {
			continue
		}
		content := files[p]

		for _, m := range providerBlockRe.FindAllStringSubmatch(content, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				providers = append(providers, m[1])
			}
		}
		for _, m := range requiredSourceRe.FindAllStringSubmatch(content, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				providers = append(providers, m[1])
			}
		}
	}

	return providers
}
