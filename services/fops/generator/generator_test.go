// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipelineRequest(platform string) PipelineRequest {
	return PipelineRequest{
		Platform:     platform,
		Language:     "go",
		Target:       TargetK8s,
		Environments: []string{"staging", "prod"},
	}
}

func TestTemplateGenerator_GitHubPipeline(t *testing.T) {
	g := NewTemplateGenerator()

	art, err := g.Pipeline(context.Background(), pipelineRequest(PlatformGitHub))
	require.NoError(t, err)

	assert.Equal(t, ".github/workflows/pipeline.yml", art.Path)
	assert.NoError(t, ValidateYAML(art.Content), "generated pipeline must parse")

	assert.Contains(t, art.Content, "go build ./...")
	assert.Contains(t, art.Content, "go test ./...")
	assert.Contains(t, art.Content, "deploy-staging:")
	assert.Contains(t, art.Content, "deploy-prod:")
	assert.Contains(t, art.Content, "github.ref == 'refs/heads/main'",
		"prod deploys restricted to main")
	assert.Contains(t, art.Content, "# Security Scanning (F-Ops Generated)")
	assert.Contains(t, art.Content, "# SLO Gates (F-Ops Generated)")
}

func TestTemplateGenerator_GitLabPipeline(t *testing.T) {
	g := NewTemplateGenerator()

	art, err := g.Pipeline(context.Background(), pipelineRequest(PlatformGitLab))
	require.NoError(t, err)

	assert.Equal(t, ".gitlab-ci.yml", art.Path)
	assert.NoError(t, ValidateYAML(art.Content))
	assert.Contains(t, art.Content, "stages: [build, test, security, deploy]")

	// prod deploys only from main; non-prod also from develop.
	prodIdx := strings.Index(art.Content, "deploy-prod:")
	require.Greater(t, prodIdx, 0)
	assert.Contains(t, art.Content[prodIdx:], "only: [main]")
	assert.Contains(t, art.Content, "only: [main, develop]")
}

func TestTemplateGenerator_UnknownLanguageDegrades(t *testing.T) {
	g := NewTemplateGenerator()
	req := pipelineRequest(PlatformGitHub)
	req.Language = "cobol"

	art, err := g.Pipeline(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, art.Content, `echo "Build completed"`)
}

func TestTemplateGenerator_PipelineValidation(t *testing.T) {
	g := NewTemplateGenerator()

	_, err := g.Pipeline(context.Background(), PipelineRequest{Platform: "bitbucket", Environments: []string{"dev"}})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	_, err = g.Pipeline(context.Background(), PipelineRequest{Platform: PlatformGitHub})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestTemplateGenerator_Deterministic(t *testing.T) {
	g := NewTemplateGenerator()
	req := pipelineRequest(PlatformGitHub)

	a, err := g.Pipeline(context.Background(), req)
	require.NoError(t, err)
	b, err := g.Pipeline(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.Content, b.Content, "identical requests must hash identically")
}

func TestTemplateGenerator_InfrastructureK8s(t *testing.T) {
	g := NewTemplateGenerator()

	art, err := g.Infrastructure(context.Background(), InfraRequest{
		Target:       TargetK8s,
		Environments: []string{"staging", "prod"},
		Domain:       "example.com",
		Registry:     "registry.example.com",
		AppName:      "myapp",
	})
	require.NoError(t, err)

	require.NoError(t, art.Terraform.Validate())
	assert.Contains(t, art.Terraform, "main.tf")
	assert.Contains(t, art.Terraform, "modules/network/main.tf")
	assert.Contains(t, art.Terraform, "modules/dns/outputs.tf")
	assert.Contains(t, art.Terraform, "environments/prod/terraform.tfvars")
	assert.Contains(t, art.Terraform["main.tf"], `default     = "example.com"`)

	require.NotNil(t, art.Helm)
	require.NoError(t, art.Helm.Validate())
	assert.Contains(t, art.Helm, "Chart.yaml")
	assert.Contains(t, art.Helm, "templates/deployment.yaml")
	assert.Contains(t, art.Helm, "values-staging.yaml")
	assert.Contains(t, art.Helm["Chart.yaml"], "name: myapp")
	assert.Contains(t, art.Helm["values-prod.yaml"], "replicaCount: 3")
}

func TestTemplateGenerator_InfrastructureNonK8sSkipsHelm(t *testing.T) {
	g := NewTemplateGenerator()

	art, err := g.Infrastructure(context.Background(), InfraRequest{
		Target:       TargetServerless,
		Environments: []string{"dev"},
	})
	require.NoError(t, err)
	assert.Nil(t, art.Helm)
	assert.Contains(t, art.Terraform, "main.tf")
}

func TestValidateYAML(t *testing.T) {
	assert.NoError(t, ValidateYAML("a: 1\nb:\n  - x\n"))
	assert.NoError(t, ValidateYAML("# comment only\na: 1\n"))
	assert.Error(t, ValidateYAML("a: [unclosed"))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "a: 1", stripFences("```yaml\na: 1\n```"))
	assert.Equal(t, "a: 1", stripFences("a: 1"))
	assert.Equal(t, "a: 1", stripFences("```\na: 1\n```"))
}
