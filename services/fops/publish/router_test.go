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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/guard"
	"github.com/AleutianAI/fops/services/fops/telemetry"
)

// stubPublisher records calls and returns canned results.
type stubPublisher struct {
	publishes []Request
	attaches  []string
	proposal  *Proposal
	err       error
}

func (s *stubPublisher) Publish(_ context.Context, req Request) (*Proposal, error) {
	s.publishes = append(s.publishes, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.proposal, nil
}

func (s *stubPublisher) Attach(_ context.Context, url string, _ Artifacts) error {
	s.attaches = append(s.attaches, url)
	return s.err
}

func newTestRouter(t *testing.T, g *guard.Guard, opts ...RouterOption) (*Router, *audit.Trail) {
	t.Helper()
	trail, err := audit.New(t.TempDir())
	require.NoError(t, err)

	r, err := NewRouter(g, trail, opts...)
	require.NoError(t, err)
	return r, trail
}

func validRequest() Request {
	return Request{
		RepoURL:    "https://github.com/acme/platform",
		BranchName: "fops-pipeline-20250701-100000",
		Title:      "[F-Ops] Add CI/CD Pipeline",
		Files:      map[string]string{".github/workflows/deploy.yml": "on: push\n"},
		Agent:      "pipeline",
		Citations:  []string{"[kb:pipelines:001]"},
	}
}

func TestRouter_PublishRoutesAndAudits(t *testing.T) {
	stub := &stubPublisher{proposal: &Proposal{
		URL: "https://github.com/acme/platform/pull/7", Number: 7,
		Branch: "fops-pipeline-20250701-100000", Platform: "github",
	}}
	r, trail := newTestRouter(t, guard.New([]string{"github.com/acme/"}), WithGitHub(stub))

	proposal, err := r.Publish(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, 7, proposal.Number)
	require.Len(t, stub.publishes, 1)

	entries, err := trail.Read(audit.Query{OperationType: audit.OpPublish})
	require.NoError(t, err)
	require.Len(t, entries, 1, "exactly one audit entry per publish")
	assert.Equal(t, "pipeline", entries[0].Agent)
	assert.Equal(t, proposal.URL, entries[0].PRURL)
	assert.Equal(t, []string{"[kb:pipelines:001]"}, entries[0].Citations)
}

func TestRouter_GuardRejectionShortCircuits(t *testing.T) {
	stub := &stubPublisher{}
	r, trail := newTestRouter(t, guard.New([]string{"github.com/acme/"}), WithGitHub(stub))

	req := validRequest()
	req.RepoURL = "https://github.com/stranger/repo"

	_, err := r.Publish(context.Background(), req)
	assert.ErrorIs(t, err, guard.ErrNotAllowListed)
	assert.Empty(t, stub.publishes, "no platform traffic after guard rejection")

	entries, aerr := trail.Read(audit.Query{OperationType: audit.OpGuardRejected})
	require.NoError(t, aerr)
	require.Len(t, entries, 1)
	assert.Equal(t, "rejected", entries[0].Status)
}

func TestRouter_UnsupportedPlatform(t *testing.T) {
	r, _ := newTestRouter(t, guard.New(nil), WithGitHub(&stubPublisher{proposal: &Proposal{}}))

	req := validRequest()
	req.RepoURL = "https://bitbucket.org/acme/platform"

	_, err := r.Publish(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestRouter_FailedPublishAuditedAsFailed(t *testing.T) {
	stub := &stubPublisher{err: errors.New("api down")}
	r, trail := newTestRouter(t, guard.New(nil), WithGitHub(stub))

	_, err := r.Publish(context.Background(), validRequest())
	require.Error(t, err)

	entries, aerr := trail.Read(audit.Query{OperationType: audit.OpPublish})
	require.NoError(t, aerr)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed", entries[0].Status)
}

func TestRouter_AttachRoutesByProposalURL(t *testing.T) {
	ghStub := &stubPublisher{}
	glStub := &stubPublisher{}
	r, trail := newTestRouter(t, guard.New(nil), WithGitHub(ghStub), WithGitLab(glStub))

	err := r.Attach(context.Background(),
		"https://gitlab.com/infra/terraform/-/merge_requests/3",
		Artifacts{"terraform_plan": "x"}, "infrastructure")
	require.NoError(t, err)

	assert.Empty(t, ghStub.attaches)
	require.Len(t, glStub.attaches, 1)

	entries, aerr := trail.Read(audit.Query{OperationType: audit.OpAttach})
	require.NoError(t, aerr)
	require.Len(t, entries, 1)
	assert.Equal(t, "infrastructure", entries[0].Agent)
}

func TestRouter_SelfHostedRoute(t *testing.T) {
	stub := &stubPublisher{proposal: &Proposal{URL: "https://gitlab.internal.example.com/infra/tf/-/merge_requests/1"}}
	r, _ := newTestRouter(t, guard.New(nil),
		WithRoute("gitlab.internal.example.com", stub))

	req := validRequest()
	req.RepoURL = "https://gitlab.internal.example.com/infra/tf"

	_, err := r.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, stub.publishes, 1)
}

// slowPublisher holds each Publish open long enough to detect overlapping
// calls.
type slowPublisher struct {
	mu       sync.Mutex
	inFlight int
	overlap  bool
	calls    int
}

func (s *slowPublisher) Publish(_ context.Context, req Request) (*Proposal, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > 1 {
		s.overlap = true
	}
	s.calls++
	s.mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()

	return &Proposal{
		URL:      "https://github.com/acme/platform/pull/9",
		Number:   9,
		Branch:   req.BranchName,
		Platform: "github",
	}, nil
}

func (s *slowPublisher) Attach(context.Context, string, Artifacts) error {
	return nil
}

func TestRouter_ConcurrentSameBranchSerialized(t *testing.T) {
	stub := &slowPublisher{}
	r, trail := newTestRouter(t, guard.New(nil), WithGitHub(stub))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Publish(context.Background(), validRequest())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 2, stub.calls, "both publishes must reach the platform")
	assert.False(t, stub.overlap,
		"publishes for the same repo and branch must not overlap")

	entries, err := trail.Read(audit.Query{OperationType: audit.OpPublish})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRouter_BranchLocksReclaimed(t *testing.T) {
	stub := &stubPublisher{proposal: &Proposal{
		URL: "https://github.com/acme/platform/pull/7", Platform: "github",
	}}
	r, _ := newTestRouter(t, guard.New(nil), WithGitHub(stub))

	// Branch names embed timestamps, so every publish uses a fresh key.
	// The lock table must not keep an entry per key afterwards.
	for i := 0; i < 5; i++ {
		req := validRequest()
		req.BranchName = req.BranchName + string(rune('a'+i))
		_, err := r.Publish(context.Background(), req)
		require.NoError(t, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.branchMu, "branch lock table must drain after publishes")
}

func TestRouter_PublishRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := telemetry.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	stub := &stubPublisher{proposal: &Proposal{
		URL: "https://github.com/acme/platform/pull/7", Platform: "github",
	}}
	r, _ := newTestRouter(t, guard.New(nil), WithGitHub(stub), WithRouterMetrics(m))

	_, err = r.Publish(context.Background(), validRequest())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, int64(1), counterValue(rm, "fops_publish_total"))
	assert.True(t, metricPresent(rm, "fops_publish_duration_seconds"))
}

func counterValue(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func metricPresent(rm metricdata.ResourceMetrics, name string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}

func TestNewRouter_RequiresGuardAndTrail(t *testing.T) {
	trail, err := audit.New(t.TempDir())
	require.NoError(t, err)

	_, err = NewRouter(nil, trail)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewRouter(guard.New(nil), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
