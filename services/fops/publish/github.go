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

	"github.com/google/go-github/v66/github"
)

// Strict URL shapes. Anything that does not match is refused outright.
var (
	githubRepoRe = regexp.MustCompile(`^https?://[^/]+/([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)
	githubPRRe   = regexp.MustCompile(`^https?://[^/]+/([\w.-]+)/([\w.-]+)/pull/(\d+)$`)
)

// GitHub publishes proposals via the GitHub REST API.
type GitHub struct {
	client *github.Client
	logger *slog.Logger
}

// GitHubOption configures the GitHub publisher.
type GitHubOption func(*GitHub) error

// WithGitHubBaseURL points the client at a non-github.com API endpoint
// (GitHub Enterprise, or a test server).
func WithGitHubBaseURL(raw string) GitHubOption {
	return func(g *GitHub) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing github base url: %w", err)
		}
		g.client.BaseURL = u
		g.client.UploadURL = u
		return nil
	}
}

// WithGitHubLogger sets the logger for publish operations.
func WithGitHubLogger(logger *slog.Logger) GitHubOption {
	return func(g *GitHub) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// NewGitHub creates a GitHub publisher.
//
// Errors:
//
//	ErrMissingCredential - token is empty. Checked here so a
//	misconfigured deployment fails at startup, not on the first publish.
func NewGitHub(token string, opts ...GitHubOption) (*GitHub, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: github token", ErrMissingCredential)
	}

	g := &GitHub{
		client: github.NewClient(nil).WithAuthToken(token),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Publish creates the proposal branch, commits each file, and opens a PR.
//
// Description:
//
//	The branch is forked from the base branch head. A pre-existing
//	branch with the same name is tolerated with a warning: the name
//	embeds a second-resolution timestamp, so a collision means a retry
//	of the same proposal and reusing the branch is the desired outcome.
//	Files are committed one by one in sorted path order; a path that
//	already exists on the branch gets an "Update" commit, a new path an
//	"Add" commit.
func (g *GitHub) Publish(ctx context.Context, req Request) (*Proposal, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	owner, repo, err := parseGitHubRepo(req.RepoURL)
	if err != nil {
		return nil, err
	}

	base, _, err := g.client.Repositories.GetBranch(ctx, owner, repo, req.base(), 0)
	if err != nil {
		return nil, fmt.Errorf("resolving base branch %s: %w", req.base(), err)
	}

	if _, _, err := g.client.Repositories.GetBranch(ctx, owner, repo, req.BranchName, 0); err == nil {
		g.logger.Warn("Proposal branch already exists, reusing",
			slog.String("branch", req.BranchName))
	} else {
		_, _, err := g.client.Git.CreateRef(ctx, owner, repo, &github.Reference{
			Ref:    github.String("refs/heads/" + req.BranchName),
			Object: &github.GitObject{SHA: base.Commit.SHA},
		})
		if err != nil {
			return nil, fmt.Errorf("creating branch %s: %w", req.BranchName, err)
		}
	}

	for _, path := range req.Files.Paths() {
		if err := g.putFile(ctx, owner, repo, req.BranchName, path, req.Files[path]); err != nil {
			return nil, err
		}
	}

	pr, _, err := g.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.BranchName),
		Base:  github.String(req.base()),
		Body:  github.String(req.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("opening pull request: %w", err)
	}

	g.logger.Info("Pull request opened",
		slog.String("repo", owner+"/"+repo),
		slog.String("branch", req.BranchName),
		slog.String("url", pr.GetHTMLURL()),
	)

	return &Proposal{
		URL:      pr.GetHTMLURL(),
		Number:   pr.GetNumber(),
		Branch:   req.BranchName,
		Platform: "github",
	}, nil
}

// putFile commits one file, updating in place when the path already exists
// on the branch.
func (g *GitHub) putFile(ctx context.Context, owner, repo, branch, path, content string) error {
	existing, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})

	if err == nil && existing != nil {
		_, _, err = g.client.Repositories.UpdateFile(ctx, owner, repo, path,
			&github.RepositoryContentFileOptions{
				Message: github.String("Update " + path),
				Content: []byte(content),
				SHA:     existing.SHA,
				Branch:  github.String(branch),
			})
		if err != nil {
			return fmt.Errorf("updating %s: %w", path, err)
		}
		return nil
	}

	_, _, err = g.client.Repositories.CreateFile(ctx, owner, repo, path,
		&github.RepositoryContentFileOptions{
			Message: github.String("Add " + path),
			Content: []byte(content),
			Branch:  github.String(branch),
		})
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

// Attach posts the artifacts comment on an existing pull request.
func (g *GitHub) Attach(ctx context.Context, proposalURL string, artifacts Artifacts) error {
	m := githubPRRe.FindStringSubmatch(proposalURL)
	if m == nil {
		return fmt.Errorf("%w: %s", ErrInvalidRepoURL, proposalURL)
	}
	owner, repo := m[1], m[2]
	number, err := strconv.Atoi(m[3])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRepoURL, proposalURL)
	}

	body := FormatArtifacts(artifacts)
	_, _, err = g.client.Issues.CreateComment(ctx, owner, repo, number,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("attaching artifacts to %s: %w", proposalURL, err)
	}

	g.logger.Info("Artifacts attached", slog.String("url", proposalURL))
	return nil
}

func parseGitHubRepo(repoURL string) (owner, repo string, err error) {
	m := githubRepoRe.FindStringSubmatch(repoURL)
	if m == nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, repoURL)
	}
	return m[1], m[2], nil
}
