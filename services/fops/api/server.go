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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/fops/services/fops/telemetry"
)

// NewRouter assembles the gin engine with all routes registered.
//
// Description:
//
//	Uses gin.New (not Default): recovery is wanted, gin's own logger is
//	not, slog carries the request logs. The otelgin middleware ties
//	handler spans into the service trace; when handler metrics are
//	configured, a second middleware records request counts and
//	durations. /metrics is registered only when the Prometheus exporter
//	is active.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("fops"))
	if h.metrics != nil {
		r.Use(requestMetrics(h.metrics))
	}

	v1 := r.Group("/v1/fops")
	{
		v1.POST("/proposals/infrastructure", h.HandleInfrastructureProposal)
		v1.POST("/proposals/pipeline", h.HandlePipelineProposal)
		v1.GET("/audit", h.HandleAudit)
		v1.GET("/audit/stats", h.HandleAuditStats)
		v1.GET("/health", h.HandleHealth)
	}

	if mh := telemetry.MetricsHandler(); mh != nil {
		r.GET("/metrics", gin.WrapH(mh))
	}

	return r
}

// requestMetrics records one count and one duration sample per request,
// labeled by method, route template, and status.
func requestMetrics(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", path),
			attribute.String("status", strconv.Itoa(c.Writer.Status())),
		)
		m.HTTPRequestsTotal.Add(c.Request.Context(), 1, attrs)
		m.HTTPRequestDuration.Record(c.Request.Context(), time.Since(start).Seconds(), attrs)
	}
}
