// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package helm defines the helm lint/dry-run sandbox stages and the parsers
// that normalize helm's human-oriented output into a ValidationReport.
//
// Helm output is not machine-readable: lint findings are bracketed text
// lines and rendered manifests are a `---`-separated YAML stream with a
// NOTES section at the end. Both are parsed with explicit line-based state
// machines, best-effort at document granularity: one unparseable document is
// discarded without aborting the report.
package helm

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/fops/services/fops/report"
	"github.com/AleutianAI/fops/services/fops/sandbox"
)

// Tool is the binary name resolved against PATH.
const Tool = "helm"

// ChartDir is the subdirectory the chart file set is materialized under.
// The values file and other sandbox-local artifacts live beside it.
const ChartDir = "chart"

// Stage names used in results and reports.
const (
	StageLint   = "lint"
	StageDryRun = "dry-run"
)

// DryRunStages returns the standard lint-then-dry-run chain.
//
// A lint failure short-circuits before the dry-run; --dry-run guarantees
// nothing is ever submitted to a cluster.
func DryRunStages(releaseName, namespace string) []sandbox.Stage {
	return []sandbox.Stage{
		{
			Name:    StageLint,
			Tool:    Tool,
			Args:    []string{"lint", "./" + ChartDir},
			Timeout: 30 * time.Second,
		},
		{
			Name: StageDryRun,
			Tool: Tool,
			Args: []string{
				"install", releaseName, "./" + ChartDir,
				"--dry-run", "--debug", "--namespace", namespace,
			},
			Timeout: 60 * time.Second,
		},
	}
}

// ParseDryRun normalizes a staged helm run into a ValidationReport.
//
// Description:
//
//	Buckets lint output by [WARNING]/[ERROR]/[INFO] markers; lint passes
//	only when the exit code was zero AND no [ERROR] line appeared. The
//	dry-run stream is fed through the manifest state machine; documents
//	without a kind field (template preamble) are silently discarded.
//	Manifest counts are then aggregated by kind and namespace with the
//	policy flags, and the NOTES section is captured verbatim.
//
// Outputs:
//
//	*report.ValidationReport - Always non-nil, idempotent on identical
//	input.
func ParseDryRun(results []*sandbox.Result) *report.ValidationReport {
	rep := &report.ValidationReport{
		Tool:            Tool,
		Status:          report.StatusFailed,
		ResourceChanges: []report.ResourceChange{},
	}

	if len(results) == 0 {
		rep.Errors = append(rep.Errors, "no helm stages executed")
		return rep
	}

	lintRes := results[0]
	rep.Lint = ParseLint(lintRes)

	if lintRes.Failed {
		rep.Stage = StageLint
		rep.RawOutput = lintRes.Stdout
		rep.TimedOut = lintRes.TimedOut
		if s := strings.TrimSpace(lintRes.Stderr); s != "" {
			rep.Errors = append(rep.Errors, s)
		}
		if lintRes.TimedOut {
			rep.Errors = append(rep.Errors, "helm lint timed out")
		}
		return rep
	}

	if len(results) < 2 {
		rep.Errors = append(rep.Errors, "helm dry-run stage missing")
		return rep
	}

	dryRes := results[1]
	rep.Stage = StageDryRun
	rep.RawOutput = dryRes.Stdout
	rep.TimedOut = dryRes.TimedOut

	// Extraction is best-effort even on failure: partial renders help
	// reviewers, but never upgrade the status.
	rep.Manifests = ExtractManifests(dryRes.Stdout)
	rep.ManifestSummary = Summarize(rep.Manifests)
	rep.Notes = ExtractNotes(dryRes.Stdout)

	switch {
	case dryRes.TimedOut:
		rep.Errors = append(rep.Errors, "helm dry-run timed out")
	case dryRes.ExitCode != 0:
		if s := strings.TrimSpace(dryRes.Stderr); s != "" {
			rep.Errors = append(rep.Errors, s)
		}
	default:
		rep.Status = report.StatusSuccess
	}

	return rep
}

// ParseLint buckets helm lint output into a LintReport.
func ParseLint(res *sandbox.Result) *report.LintReport {
	lint := &report.LintReport{
		Warnings: []string{},
		Info:     []string{},
		Output:   res.Stdout,
		Errors:   strings.TrimSpace(res.Stderr),
	}

	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "[WARNING]"):
			lint.Warnings = append(lint.Warnings, strings.TrimSpace(strings.Replace(line, "[WARNING]", "", 1)))
			lint.WarningCount++
		case strings.Contains(line, "[INFO]"):
			lint.Info = append(lint.Info, strings.TrimSpace(strings.Replace(line, "[INFO]", "", 1)))
		case strings.Contains(line, "[ERROR]"):
			lint.ErrorCount++
		}
	}

	lint.Passed = res.ExitCode == 0 && !res.TimedOut && lint.ErrorCount == 0
	return lint
}

// manifestDoc is the subset of a rendered resource we record.
type manifestDoc struct {
	Kind     string `yaml:"kind"`
	Metadata struct {
		Name      string `yaml:"name"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metadata"`
}

// manifestExtractor is the line state machine for `---`-separated streams.
//
// A line starting with "---" closes the current buffer (parsed as one
// document if non-empty) and opens a new one. Lines before the first
// separator are dry-run preamble (NAME, LAST DEPLOYED, ...) and ignored.
// Comment-only and blank lines are skipped. A "NOTES:" line ends manifest
// mode entirely: helm prints it after the last document without a closing
// separator, and letting it bleed into the buffer would make the final
// document unparseable.
type manifestExtractor struct {
	records    []report.ManifestRecord
	current    []string
	inManifest bool
}

func (e *manifestExtractor) feed(line string) {
	if strings.HasPrefix(line, "---") && !strings.HasPrefix(line, "---#") {
		e.flush()
		e.inManifest = true
		return
	}
	if strings.HasPrefix(line, "NOTES:") {
		e.flush()
		e.inManifest = false
		return
	}
	if e.inManifest && strings.TrimSpace(line) != "" && !strings.HasPrefix(line, "#") {
		e.current = append(e.current, line)
	}
}

func (e *manifestExtractor) flush() {
	if len(e.current) == 0 {
		return
	}
	text := strings.Join(e.current, "\n")
	e.current = nil

	var doc manifestDoc
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		// One bad document never aborts the stream.
		return
	}
	if doc.Kind == "" {
		// Template preamble or a source comment block, not a resource.
		return
	}

	ns := doc.Metadata.Namespace
	if ns == "" {
		ns = "default"
	}
	name := doc.Metadata.Name
	if name == "" {
		name = "unknown"
	}

	e.records = append(e.records, report.ManifestRecord{
		Kind:      doc.Kind,
		Namespace: ns,
		Name:      name,
	})
}

// ExtractManifests parses rendered Kubernetes resources out of dry-run
// output, in stream order.
func ExtractManifests(output string) []report.ManifestRecord {
	e := &manifestExtractor{records: []report.ManifestRecord{}}
	for _, line := range strings.Split(output, "\n") {
		e.feed(line)
	}
	e.flush()
	return e.records
}

// Summarize aggregates manifest records for policy checks.
func Summarize(manifests []report.ManifestRecord) *report.ManifestSummary {
	s := &report.ManifestSummary{
		TotalCount:    len(manifests),
		ByKind:        make(map[string]int),
		ByNamespace:   make(map[string]int),
		ResourceNames: make([]string, 0, len(manifests)),
	}

	for _, m := range manifests {
		s.ByKind[m.Kind]++
		s.ByNamespace[m.Namespace]++
		s.ResourceNames = append(s.ResourceNames, fmt.Sprintf("%s/%s", m.Kind, m.Name))

		switch m.Kind {
		case "Secret":
			s.HasSecrets = true
		case "ConfigMap":
			s.HasConfigMaps = true
		case "Service":
			s.HasServices = true
		case "Ingress":
			s.HasIngress = true
		}
	}

	return s
}

// ExtractNotes captures the NOTES section from dry-run output.
//
// Scans for the literal "NOTES:" marker and collects lines until the next
// document separator or an apiVersion line.
func ExtractNotes(output string) string {
	lines := strings.Split(output, "\n")

	start := -1
	for i, line := range lines {
		if strings.Contains(line, "NOTES:") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}

	var notes []string
	for _, line := range lines[start:] {
		if strings.HasPrefix(line, "---") || strings.HasPrefix(line, "apiVersion:") {
			break
		}
		notes = append(notes, line)
	}

	return strings.TrimSpace(strings.Join(notes, "\n"))
}
