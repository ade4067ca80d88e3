// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publish turns generated file sets into pull/merge request
// proposals on GitHub and GitLab.
//
// This is the only package that talks to the outside world, and it only
// ever OPENS proposals: branch, commit, PR/MR, comment. Nothing here
// merges, pushes to a default branch, or applies infrastructure. The
// Router fronts the platform publishers with the allow-list guard, a
// shared rate limiter, and the audit trail, so no caller can reach a
// platform API without passing all three.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/fops/services/fops/fileset"
)

// Request describes one proposal to open.
type Request struct {
	// RepoURL is the full https URL of the target repository.
	RepoURL string
	// BranchName is the proposal branch to create. Required.
	BranchName string
	// BaseBranch is the branch to fork from and merge into.
	// Defaults to "main".
	BaseBranch string
	// Title and Body are the PR/MR title and description.
	Title string
	Body  string
	// Files are committed to the proposal branch, one commit per file.
	Files fileset.FileSet
	// Agent names the originator for the audit trail.
	Agent string
	// Citations are the KB references behind the generated files,
	// recorded in the audit entry.
	Citations []string
}

// validate rejects requests the platform publishers cannot act on.
func (r Request) validate() error {
	if r.RepoURL == "" {
		return fmt.Errorf("%w: repo url is required", ErrInvalidInput)
	}
	if r.BranchName == "" {
		return fmt.Errorf("%w: branch name is required", ErrInvalidInput)
	}
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := r.Files.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// base returns the effective base branch.
func (r Request) base() string {
	if r.BaseBranch == "" {
		return "main"
	}
	return r.BaseBranch
}

// Proposal identifies an opened PR/MR.
type Proposal struct {
	// URL is the human-facing proposal URL.
	URL string `json:"url"`
	// Number is the PR number or MR IID.
	Number int `json:"number"`
	// Branch is the proposal branch that was created.
	Branch string `json:"branch"`
	// Platform is "github" or "gitlab".
	Platform string `json:"platform"`
}

// Artifacts are validation outputs attached to a proposal as a comment.
// Keys become section headings; values are rendered fenced.
type Artifacts map[string]interface{}

// Publisher opens proposals on one platform.
type Publisher interface {
	// Publish creates the branch, commits the files, and opens the
	// proposal. Never merges.
	Publish(ctx context.Context, req Request) (*Proposal, error)

	// Attach posts the artifacts comment on an existing proposal.
	Attach(ctx context.Context, proposalURL string, artifacts Artifacts) error
}

// FormatArtifacts renders the dry-run artifacts comment.
//
// Description:
//
//	Sections are emitted in sorted key order so the comment is
//	deterministic across runs. String values are embedded as-is;
//	structured values are rendered as indented JSON inside the fence.
func FormatArtifacts(artifacts Artifacts) string {
	var sb strings.Builder
	sb.WriteString("## F-Ops Dry-Run Artifacts\n\n")

	keys := make([]string, 0, len(artifacts))
	for k := range artifacts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&sb, "### %s\n\n", headingFor(k))
		sb.WriteString("```\n")
		sb.WriteString(renderValue(artifacts[k]))
		sb.WriteString("\n```\n\n")
	}

	sb.WriteString("---\n*Generated by F-Ops Pipeline Agent*")
	return sb.String()
}

// headingFor turns a snake_case artifact key into a title heading.
func headingFor(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func renderValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
