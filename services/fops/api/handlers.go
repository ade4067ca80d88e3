// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the HTTP front end for the F-Ops service.
//
// Thin by design: handlers bind and validate the request body, call the
// orchestrator, and map sentinel errors to status codes. No business
// logic lives here.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/guard"
	"github.com/AleutianAI/fops/services/fops/orchestrator"
	"github.com/AleutianAI/fops/services/fops/publish"
	"github.com/AleutianAI/fops/services/fops/sandbox"
	"github.com/AleutianAI/fops/services/fops/telemetry"
)

// proposer is the orchestrator surface the handlers need.
// *orchestrator.Orchestrator satisfies it.
type proposer interface {
	ProposeInfrastructure(ctx context.Context, p orchestrator.InfrastructureProposal) (*orchestrator.Outcome, error)
	ProposePipeline(ctx context.Context, p orchestrator.PipelineProposal) (*orchestrator.Outcome, error)
}

// Handlers contains the HTTP handlers for F-Ops.
type Handlers struct {
	orch    proposer
	trail   *audit.Trail
	metrics *telemetry.Metrics
}

// HandlerOption configures the Handlers.
type HandlerOption func(*Handlers)

// WithMetrics enables per-request counters and duration histograms.
func WithMetrics(m *telemetry.Metrics) HandlerOption {
	return func(h *Handlers) {
		h.metrics = m
	}
}

// NewHandlers creates handlers for the given orchestrator and trail.
func NewHandlers(orch proposer, trail *audit.Trail, opts ...HandlerOption) *Handlers {
	h := &Handlers{orch: orch, trail: trail}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleInfrastructureProposal handles POST /v1/fops/proposals/infrastructure.
//
// Response:
//
//	200 OK: orchestrator.Outcome
//	400 Bad Request: Validation error
//	403 Forbidden: Repository not allow-listed
//	500 Internal Server Error: Generation or publish failure
func (h *Handlers) HandleInfrastructureProposal(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleInfrastructureProposal")

	var req InfrastructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Infrastructure proposal requested",
		"repo_url", req.RepoURL,
		"target", req.Target)

	out, err := h.orch.ProposeInfrastructure(c.Request.Context(), orchestrator.InfrastructureProposal{
		RepoURL:      req.RepoURL,
		Target:       req.Target,
		Environments: req.Environments,
		Domain:       req.Domain,
		Registry:     req.Registry,
		AppName:      req.AppName,
		ReleaseName:  req.ReleaseName,
		Namespace:    req.Namespace,
	})
	if err != nil {
		status, code := mapProposalError(err)
		logger.Error("Infrastructure proposal failed", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Infrastructure proposal published",
		"proposal_url", out.ProposalURL,
		"branch", out.Branch)
	c.JSON(http.StatusOK, out)
}

// HandlePipelineProposal handles POST /v1/fops/proposals/pipeline.
//
// Response:
//
//	200 OK: orchestrator.Outcome
//	400 Bad Request: Validation error
//	403 Forbidden: Repository not allow-listed
//	500 Internal Server Error: Generation or publish failure
func (h *Handlers) HandlePipelineProposal(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePipelineProposal")

	var req PipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Pipeline proposal requested", "repo_url", req.RepoURL)

	out, err := h.orch.ProposePipeline(c.Request.Context(), orchestrator.PipelineProposal{
		RepoURL:      req.RepoURL,
		Language:     req.Language,
		Target:       req.Target,
		Environments: req.Environments,
		Content:      req.Content,
	})
	if err != nil {
		status, code := mapProposalError(err)
		logger.Error("Pipeline proposal failed", "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Pipeline proposal published",
		"proposal_url", out.ProposalURL,
		"branch", out.Branch)
	c.JSON(http.StatusOK, out)
}

// HandleAudit handles GET /v1/fops/audit.
//
// Query parameters:
//
//	date - Restricts to one UTC day (YYYY-MM-DD).
//	type - Filters by operation type.
//	agent - Filters by agent.
//	limit - Caps the result count (default 50).
//
// Response:
//
//	200 OK: AuditResponse, newest first
//	400 Bad Request: Malformed query
func (h *Handlers) HandleAudit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAudit")

	q := audit.Query{
		OperationType: c.Query("type"),
		Agent:         c.Query("agent"),
		Limit:         50,
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a non-negative integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		q.Limit = limit
	}

	if raw := c.Query("date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "date must be YYYY-MM-DD",
				Code:  "INVALID_DATE",
			})
			return
		}
		q.From, q.To = day, day
	}

	entries, err := h.trail.Read(q)
	if err != nil {
		logger.Error("Audit read failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "AUDIT_READ_FAILED",
		})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	c.JSON(http.StatusOK, AuditResponse{Entries: entries, Count: len(entries)})
}

// HandleAuditStats handles GET /v1/fops/audit/stats.
//
// Query parameters:
//
//	date - The UTC day to aggregate (YYYY-MM-DD, default today).
//
// Response:
//
//	200 OK: audit.DailyStats
func (h *Handlers) HandleAuditStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAuditStats")

	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "date must be YYYY-MM-DD",
				Code:  "INVALID_DATE",
			})
			return
		}
		day = parsed
	}

	stats, err := h.trail.Stats(day)
	if err != nil {
		logger.Error("Audit stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "AUDIT_STATS_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleHealth handles GET /v1/fops/health.
//
// Reports the service version and whether the dry-run tool binaries are
// resolvable. Missing tools degrade the status to "degraded"; proposals
// still publish, with failed validation reports.
func (h *Handlers) HandleHealth(c *gin.Context) {
	tools := map[string]bool{
		"terraform": sandbox.Available("terraform"),
		"helm":      sandbox.Available("helm"),
	}

	status := "ok"
	for _, ok := range tools {
		if !ok {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:  status,
		Version: ServiceVersion,
		Tools:   tools,
	})
}

// mapProposalError maps flow sentinel errors to HTTP status codes.
func mapProposalError(err error) (int, string) {
	switch {
	case errors.Is(err, guard.ErrNotAllowListed):
		return http.StatusForbidden, "NOT_ALLOW_LISTED"
	case errors.Is(err, orchestrator.ErrInvalidProposal):
		return http.StatusBadRequest, "INVALID_PROPOSAL"
	case errors.Is(err, publish.ErrUnsupportedPlatform):
		return http.StatusBadRequest, "UNSUPPORTED_PLATFORM"
	case errors.Is(err, orchestrator.ErrGeneration):
		return http.StatusInternalServerError, "GENERATION_FAILED"
	default:
		return http.StatusInternalServerError, "PROPOSAL_FAILED"
	}
}

// getOrCreateRequestID reads X-Request-ID or mints one, and echoes it
// back on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
