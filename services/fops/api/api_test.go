// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/guard"
	"github.com/AleutianAI/fops/services/fops/orchestrator"
	"github.com/AleutianAI/fops/services/fops/telemetry"
)

type stubProposer struct {
	infra    []orchestrator.InfrastructureProposal
	pipeline []orchestrator.PipelineProposal
	outcome  *orchestrator.Outcome
	err      error
}

func (s *stubProposer) ProposeInfrastructure(_ context.Context, p orchestrator.InfrastructureProposal) (*orchestrator.Outcome, error) {
	s.infra = append(s.infra, p)
	return s.outcome, s.err
}

func (s *stubProposer) ProposePipeline(_ context.Context, p orchestrator.PipelineProposal) (*orchestrator.Outcome, error) {
	s.pipeline = append(s.pipeline, p)
	return s.outcome, s.err
}

func newTestServer(t *testing.T, stub *stubProposer) (*gin.Engine, *audit.Trail) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	trail, err := audit.New(t.TempDir())
	require.NoError(t, err)

	return NewRouter(NewHandlers(stub, trail)), trail
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInfrastructureProposal_OK(t *testing.T) {
	stub := &stubProposer{outcome: &orchestrator.Outcome{
		ProposalURL: "https://github.com/acme/infra/pull/7",
		Branch:      "fops-infrastructure-k8s-20260115-103000",
		Platform:    "github",
		Citations:   []string{"[iac:tf-001]"},
	}}
	r, _ := newTestServer(t, stub)

	w := doJSON(t, r, http.MethodPost, "/v1/fops/proposals/infrastructure",
		`{"repo_url":"https://github.com/acme/infra","target":"k8s","environments":["staging","prod"],"domain":"example.com"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out orchestrator.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "https://github.com/acme/infra/pull/7", out.ProposalURL)

	require.Len(t, stub.infra, 1)
	assert.Equal(t, "k8s", stub.infra[0].Target)
	assert.Equal(t, []string{"staging", "prod"}, stub.infra[0].Environments)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestInfrastructureProposal_BadBody(t *testing.T) {
	r, _ := newTestServer(t, &stubProposer{})

	tests := []string{
		`{`,
		`{"repo_url":"https://github.com/a/b"}`,
		`{"repo_url":"https://github.com/a/b","target":"k8s","environments":[]}`,
	}
	for _, body := range tests {
		w := doJSON(t, r, http.MethodPost, "/v1/fops/proposals/infrastructure", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "INVALID_REQUEST", resp.Code)
	}
}

func TestProposalErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"guard", fmt.Errorf("check: %w", guard.ErrNotAllowListed), http.StatusForbidden, "NOT_ALLOW_LISTED"},
		{"invalid", fmt.Errorf("%w: no target", orchestrator.ErrInvalidProposal), http.StatusBadRequest, "INVALID_PROPOSAL"},
		{"generation", fmt.Errorf("%w: boom", orchestrator.ErrGeneration), http.StatusInternalServerError, "GENERATION_FAILED"},
		{"other", fmt.Errorf("network down"), http.StatusInternalServerError, "PROPOSAL_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestServer(t, &stubProposer{err: tt.err})

			w := doJSON(t, r, http.MethodPost, "/v1/fops/proposals/pipeline",
				`{"repo_url":"https://github.com/acme/app","environments":["staging"]}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestPipelineProposal_PassesContent(t *testing.T) {
	stub := &stubProposer{outcome: &orchestrator.Outcome{PipelineValid: true}}
	r, _ := newTestServer(t, stub)

	w := doJSON(t, r, http.MethodPost, "/v1/fops/proposals/pipeline",
		`{"repo_url":"https://github.com/acme/app","content":"stages: [build]"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, stub.pipeline, 1)
	assert.Equal(t, "stages: [build]", stub.pipeline[0].Content)
}

func TestAudit_QueryAndLimit(t *testing.T) {
	r, trail := newTestServer(t, &stubProposer{})

	for i := 0; i < 3; i++ {
		_, err := trail.Append(audit.Entry{OperationType: audit.OpPublish, Agent: "pipeline"})
		require.NoError(t, err)
	}
	_, err := trail.Append(audit.Entry{OperationType: audit.OpKBSearch, Agent: "infrastructure"})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/v1/fops/audit?type=pr_creation&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp AuditResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	for _, e := range resp.Entries {
		assert.Equal(t, audit.OpPublish, e.OperationType)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/fops/audit?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/fops/audit?date=15-01-2026", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAudit_EmptyTrail(t *testing.T) {
	r, _ := newTestServer(t, &stubProposer{})

	w := doJSON(t, r, http.MethodGet, "/v1/fops/audit", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp AuditResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Entries, "entries serializes as [], not null")
}

func TestAuditStats(t *testing.T) {
	r, trail := newTestServer(t, &stubProposer{})

	_, err := trail.Append(audit.Entry{OperationType: audit.OpPublish, Agent: "pipeline"})
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/v1/fops/audit/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats audit.DailyStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalOperations)
	assert.Equal(t, 1, stats.ByType[audit.OpPublish])
}

func TestHealth(t *testing.T) {
	r, _ := newTestServer(t, &stubProposer{})

	w := doJSON(t, r, http.MethodGet, "/v1/fops/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Contains(t, resp.Tools, "terraform")
	assert.Contains(t, resp.Tools, "helm")
}

func TestRequestMetricsRecorded(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := telemetry.NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	trail, err := audit.New(t.TempDir())
	require.NoError(t, err)
	r := NewRouter(NewHandlers(&stubProposer{}, trail, WithMetrics(m)))

	for i := 0; i < 3; i++ {
		w := doJSON(t, r, http.MethodGet, "/v1/fops/health", "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests int64
	var durationSeen bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "fops_http_requests_total":
				if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						requests += dp.Value
					}
				}
			case "fops_http_request_duration_seconds":
				durationSeen = true
			}
		}
	}
	assert.Equal(t, int64(3), requests)
	assert.True(t, durationSeen, "request duration histogram must be recorded")
}
