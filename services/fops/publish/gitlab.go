// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	gitlab "github.com/xanzy/go-gitlab"
)

// GitLab MR URLs use the /-/ separator; project paths may nest groups.
var gitlabMRRe = regexp.MustCompile(`^https?://[^/]+/(.+?)/-/merge_requests/(\d+)$`)

// GitLab publishes proposals via the GitLab REST API.
type GitLab struct {
	client *gitlab.Client
	logger *slog.Logger
}

// GitLabConfig configures the GitLab publisher.
type GitLabConfig struct {
	// Token is the API token. Required.
	Token string
	// BaseURL overrides the gitlab.com API endpoint for self-hosted
	// instances or tests.
	BaseURL string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewGitLab creates a GitLab publisher.
//
// Errors:
//
//	ErrMissingCredential - Token is empty.
func NewGitLab(cfg GitLabConfig) (*GitLab, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: gitlab token", ErrMissingCredential)
	}

	var opts []gitlab.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
	}

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GitLab{client: client, logger: logger}, nil
}

// Publish creates the proposal branch, commits each file, and opens an MR.
//
// Same tolerance rules as the GitHub publisher: an existing branch is
// reused with a warning, existing paths get "Update" commits and new
// paths "Add" commits, in sorted path order.
func (g *GitLab) Publish(ctx context.Context, req Request) (*Proposal, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	project, err := parseGitLabProject(req.RepoURL)
	if err != nil {
		return nil, err
	}

	_, _, err = g.client.Branches.CreateBranch(project, &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(req.BranchName),
		Ref:    gitlab.Ptr(req.base()),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return nil, fmt.Errorf("creating branch %s: %w", req.BranchName, err)
		}
		g.logger.Warn("Proposal branch already exists, reusing",
			slog.String("branch", req.BranchName))
	}

	for _, path := range req.Files.Paths() {
		if err := g.putFile(ctx, project, req.BranchName, path, req.Files[path]); err != nil {
			return nil, err
		}
	}

	mr, _, err := g.client.MergeRequests.CreateMergeRequest(project, &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(req.Title),
		Description:  gitlab.Ptr(req.Body),
		SourceBranch: gitlab.Ptr(req.BranchName),
		TargetBranch: gitlab.Ptr(req.base()),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("opening merge request: %w", err)
	}

	g.logger.Info("Merge request opened",
		slog.String("project", project),
		slog.String("branch", req.BranchName),
		slog.String("url", mr.WebURL),
	)

	return &Proposal{
		URL:      mr.WebURL,
		Number:   mr.IID,
		Branch:   req.BranchName,
		Platform: "gitlab",
	}, nil
}

func (g *GitLab) putFile(ctx context.Context, project, branch, path, content string) error {
	_, _, err := g.client.RepositoryFiles.GetFile(project, path,
		&gitlab.GetFileOptions{Ref: gitlab.Ptr(branch)}, gitlab.WithContext(ctx))

	if err == nil {
		_, _, err = g.client.RepositoryFiles.UpdateFile(project, path,
			&gitlab.UpdateFileOptions{
				Branch:        gitlab.Ptr(branch),
				Content:       gitlab.Ptr(content),
				CommitMessage: gitlab.Ptr("Update " + path),
			}, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("updating %s: %w", path, err)
		}
		return nil
	}

	_, _, err = g.client.RepositoryFiles.CreateFile(project, path,
		&gitlab.CreateFileOptions{
			Branch:        gitlab.Ptr(branch),
			Content:       gitlab.Ptr(content),
			CommitMessage: gitlab.Ptr("Add " + path),
		}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

// Attach posts the artifacts comment as an MR note.
func (g *GitLab) Attach(ctx context.Context, proposalURL string, artifacts Artifacts) error {
	m := gitlabMRRe.FindStringSubmatch(proposalURL)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrInvalidRepoURL, proposalURL)
	}
	project := m[1]
	iid, err := strconv.Atoi(m[2])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRepoURL, proposalURL)
	}

	body := FormatArtifacts(artifacts)
	_, _, err = g.client.Notes.CreateMergeRequestNote(project, iid,
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)},
		gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("attaching artifacts to %s: %w", proposalURL, err)
	}

	g.logger.Info("Artifacts attached", slog.String("url", proposalURL))
	return nil
}

// parseGitLabProject extracts the (possibly nested) project path from a
// repository URL.
func parseGitLabProject(repoURL string) (string, error) {
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, repoURL)
	}

	project := strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/")
	if project == "" || !strings.Contains(project, "/") {
		return "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, repoURL)
	}
	return project, nil
}
