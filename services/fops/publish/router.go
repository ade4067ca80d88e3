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
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/guard"
	"github.com/AleutianAI/fops/services/fops/telemetry"
)

// route binds a URL substring to a platform publisher. First match wins.
type route struct {
	match string
	pub   Publisher
}

// Router is the single entry point for outbound publishing.
//
// Every call passes, in order: the allow-list guard, the shared rate
// limiter, a per-repo/branch mutex (two concurrent proposals for the same
// branch would race on branch creation), the platform publisher, and
// finally exactly one audit append. The audit entry is written for
// failures too; a rejected or failed publish is still an event the trail
// must show.
//
// # Thread Safety
//
// Safe for concurrent use.
type Router struct {
	guard   *guard.Guard
	trail   *audit.Trail
	routes  []route
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu       sync.Mutex
	branchMu map[string]*branchLock
}

// branchLock is a refcounted per-branch mutex. The refcount lets the last
// unlocker remove the map entry: branch names embed timestamps, so without
// reclamation the map would grow by one entry per publish, forever.
type branchLock struct {
	mu   sync.Mutex
	refs int
}

// RouterOption configures the Router.
type RouterOption func(*Router)

// WithGitHub registers a publisher for URLs containing "github".
func WithGitHub(pub Publisher) RouterOption {
	return WithRoute("github", pub)
}

// WithGitLab registers a publisher for URLs containing "gitlab".
func WithGitLab(pub Publisher) RouterOption {
	return WithRoute("gitlab", pub)
}

// WithRoute registers a publisher for URLs containing the given substring.
// Self-hosted instances route by their hostname fragment.
func WithRoute(match string, pub Publisher) RouterOption {
	return func(r *Router) {
		if match != "" && pub != nil {
			r.routes = append(r.routes, route{match: match, pub: pub})
		}
	}
}

// WithRateLimit caps outbound API call bursts across all publishers.
func WithRateLimit(limit rate.Limit, burst int) RouterOption {
	return func(r *Router) {
		r.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithRouterLogger sets the logger for routing decisions.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRouterMetrics enables publish counters and duration histograms.
func WithRouterMetrics(m *telemetry.Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter creates a Router. Guard and trail are mandatory: a router
// without them would be an unaudited, unguarded path to the platforms.
func NewRouter(g *guard.Guard, trail *audit.Trail, opts ...RouterOption) (*Router, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: guard is required", ErrInvalidInput)
	}
	if trail == nil {
		return nil, fmt.Errorf("%w: audit trail is required", ErrInvalidInput)
	}

	r := &Router{
		guard:    g,
		trail:    trail,
		limiter:  rate.NewLimiter(rate.Limit(2), 5),
		logger:   slog.Default(),
		branchMu: make(map[string]*branchLock),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Publish routes a proposal to its platform publisher.
//
// Description:
//
//	Guard rejection short-circuits before any network traffic and is
//	itself audited. On success the audit entry records the repo, file
//	paths, citations, and the proposal URL; on failure it records the
//	error with status "failed". Exactly one entry per call either way.
//
// Errors:
//
//	guard.ErrNotAllowListed - Repository is outside the allow-list.
//	ErrUnsupportedPlatform - No route matched the repository URL.
//	ErrInvalidInput - Malformed request.
func (r *Router) Publish(ctx context.Context, req Request) (*Proposal, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if err := r.guard.Check(req.RepoURL); err != nil {
		r.append(audit.Entry{
			OperationType: audit.OpGuardRejected,
			Agent:         agentOr(req.Agent),
			Inputs:        map[string]interface{}{"repo_url": req.RepoURL},
			Status:        "rejected",
		})
		return nil, err
	}

	pub, platform, err := r.match(req.RepoURL)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for publish slot: %w", err)
	}

	unlock := r.lockBranch(req.RepoURL + "#" + req.BranchName)
	defer unlock()

	start := time.Now()
	proposal, err := pub.Publish(ctx, req)
	r.recordPublish(ctx, platform, time.Since(start), err)

	entry := audit.Entry{
		OperationType: audit.OpPublish,
		Agent:         agentOr(req.Agent),
		Inputs: map[string]interface{}{
			"repo_url": req.RepoURL,
			"files":    req.Files.Paths(),
		},
		Citations: req.Citations,
	}
	if err != nil {
		entry.Status = "failed"
		entry.Outputs = map[string]interface{}{"error": err.Error()}
		r.append(entry)
		return nil, err
	}

	entry.PRURL = proposal.URL
	entry.Outputs = map[string]interface{}{
		"pr_url":     proposal.URL,
		"branch":     proposal.Branch,
		"file_count": len(req.Files),
	}
	r.append(entry)

	return proposal, nil
}

// Attach routes an artifacts comment to the proposal's platform.
func (r *Router) Attach(ctx context.Context, proposalURL string, artifacts Artifacts, agent string) error {
	pub, _, err := r.match(proposalURL)
	if err != nil {
		return err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for publish slot: %w", err)
	}

	attachErr := pub.Attach(ctx, proposalURL, artifacts)

	entry := audit.Entry{
		OperationType: audit.OpAttach,
		Agent:         agentOr(agent),
		PRURL:         proposalURL,
		Inputs:        map[string]interface{}{"artifacts": artifactKeys(artifacts)},
	}
	if attachErr != nil {
		entry.Status = "failed"
		entry.Outputs = map[string]interface{}{"error": attachErr.Error()}
	}
	r.append(entry)

	return attachErr
}

func (r *Router) match(u string) (Publisher, string, error) {
	for _, rt := range r.routes {
		if strings.Contains(u, rt.match) {
			return rt.pub, rt.match, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedPlatform, u)
}

// lockBranch serializes work on one repo/branch pair. The returned unlock
// drops the lock's refcount and removes the map entry once nobody holds or
// waits on it.
func (r *Router) lockBranch(key string) func() {
	r.mu.Lock()
	l, ok := r.branchMu[key]
	if !ok {
		l = &branchLock{}
		r.branchMu[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.branchMu, key)
		}
		r.mu.Unlock()
	}
}

func (r *Router) recordPublish(ctx context.Context, platform string, d time.Duration, err error) {
	if r.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("status", status),
	)
	r.metrics.PublishTotal.Add(ctx, 1, attrs)
	r.metrics.PublishDuration.Record(ctx, d.Seconds(), attrs)
}

// append writes the audit entry; an audit failure is logged loudly but
// does not mask the publish result the caller is waiting on.
func (r *Router) append(entry audit.Entry) {
	if _, err := r.trail.Append(entry); err != nil {
		r.logger.Error("Audit append failed for publish operation",
			slog.String("operation_type", entry.OperationType),
			"error", err,
		)
	}
}

func agentOr(agent string) string {
	if agent == "" {
		return "pr_orchestrator"
	}
	return agent
}

func artifactKeys(a Artifacts) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	return keys
}
