// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard enforces the repository allow-list that gates every outbound
// publish.
//
// Matching is plain substring containment against the full repository URL.
// A pattern like "github.com/acme/" therefore scopes an entire organization
// while "gitlab.internal.example.com" scopes a whole host. No globbing, no
// regex: the failure modes of pattern languages are not worth it for a list
// operators keep short.
//
// # Thread Safety
//
// Guard is safe for concurrent use. The allow-list can be swapped at
// runtime (config reload) while checks are in flight.
package guard

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrNotAllowListed indicates the target repository matched no allow-list
// entry. The caller must not attempt the publish.
var ErrNotAllowListed = errors.New("repository not allow-listed")

// Guard answers whether a repository URL may receive proposals.
type Guard struct {
	mu       sync.RWMutex
	patterns []string
	logger   *slog.Logger
}

// Option configures the Guard.
type Option func(*Guard)

// WithLogger sets the logger for guard decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Guard with the initial allow-list.
func New(patterns []string, opts ...Option) *Guard {
	g := &Guard{
		patterns: normalize(patterns),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetAllowList atomically replaces the allow-list.
//
// Checks already past their read see the old list; the next check sees the
// new one. Used by the config watcher on file change.
func (g *Guard) SetAllowList(patterns []string) {
	cleaned := normalize(patterns)

	g.mu.Lock()
	g.patterns = cleaned
	g.mu.Unlock()

	g.logger.Info("Allow-list replaced", slog.Int("patterns", len(cleaned)))
}

// AllowList returns a copy of the current patterns.
func (g *Guard) AllowList() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.patterns...)
}

// Check returns nil when repoURL may receive a proposal.
//
// Description:
//
//	Matches repoURL against every pattern by substring containment. An
//	EMPTY allow-list permits everything: that preserves first-run
//	usability, but it is logged loudly as a warning every time because an
//	accidentally-empty list in production is indistinguishable from a
//	deliberate one.
//
// Errors:
//
//	ErrNotAllowListed - No pattern matched; wrapped with the URL.
func (g *Guard) Check(repoURL string) error {
	g.mu.RLock()
	patterns := g.patterns
	g.mu.RUnlock()

	if len(patterns) == 0 {
		g.logger.Warn("Allow-list is empty, permitting all repositories",
			slog.String("repo_url", repoURL))
		return nil
	}

	for _, p := range patterns {
		if strings.Contains(repoURL, p) {
			g.logger.Debug("Repository allow-listed",
				slog.String("repo_url", repoURL),
				slog.String("pattern", p))
			return nil
		}
	}

	g.logger.Warn("Repository rejected by allow-list",
		slog.String("repo_url", repoURL),
		slog.Int("patterns", len(patterns)))
	return fmt.Errorf("%w: %s", ErrNotAllowListed, repoURL)
}

// normalize drops blank patterns so a stray empty line in config cannot
// silently allow-list the universe (an empty string is a substring of
// every URL).
func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
