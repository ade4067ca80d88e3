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
	"github.com/AleutianAI/fops/services/fops/audit"
)

// ServiceVersion is the F-Ops service version.
const ServiceVersion = "0.1.0"

// InfrastructureRequest is the body of POST /v1/fops/proposals/infrastructure.
type InfrastructureRequest struct {
	// RepoURL is the target repository.
	RepoURL string `json:"repo_url" binding:"required"`

	// Target is the deployment target ("k8s", "serverless", "vms").
	Target string `json:"target" binding:"required"`

	// Environments each get environment-specific configuration.
	Environments []string `json:"environments" binding:"required,min=1"`

	// Domain and Registry parameterize the generated modules.
	Domain   string `json:"domain"`
	Registry string `json:"registry"`

	// AppName names the Helm chart.
	AppName string `json:"app_name"`

	// ReleaseName and Namespace parameterize the helm dry-run.
	ReleaseName string `json:"release_name"`
	Namespace   string `json:"namespace"`
}

// PipelineRequest is the body of POST /v1/fops/proposals/pipeline.
type PipelineRequest struct {
	// RepoURL is the target repository; it selects the pipeline dialect.
	RepoURL string `json:"repo_url" binding:"required"`

	// Language drives the generated build/test commands.
	Language string `json:"language"`

	// Target is the deployment target.
	Target string `json:"target"`

	// Environments each get a deploy job. Required unless Content is
	// supplied.
	Environments []string `json:"environments"`

	// Content is a caller-supplied pipeline definition; empty means
	// generate one.
	Content string `json:"content"`
}

// AuditResponse is the body of GET /v1/fops/audit.
type AuditResponse struct {
	Entries []audit.Entry `json:"entries"`
	Count   int           `json:"count"`
}

// HealthResponse is the body of GET /v1/fops/health.
type HealthResponse struct {
	Status  string          `json:"status"`
	Version string          `json:"version"`
	Tools   map[string]bool `json:"tools"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
