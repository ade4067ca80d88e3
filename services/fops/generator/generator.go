// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator produces the artifacts that flow into proposals:
// CI/CD pipeline definitions and Terraform/Helm infrastructure file sets.
//
// Two implementations exist. The template generator is deterministic and
// needs no external service; it is the default. The LLM generator drafts
// richer artifacts from knowledge base guidance and falls back to the
// templates when the model is unreachable. Either way the output is only
// ever proposed, validated in a sandbox, and reviewed by a human before
// anything merges.
package generator

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/fops/services/fops/fileset"
	"github.com/AleutianAI/fops/services/fops/kb"
)

// Pipeline platforms.
const (
	PlatformGitHub = "github"
	PlatformGitLab = "gitlab"
)

// Deployment targets.
const (
	TargetK8s        = "k8s"
	TargetServerless = "serverless"
	TargetVMs        = "vms"
)

// Sentinel errors for generation.
var (
	ErrUnsupportedPlatform = errors.New("unsupported pipeline platform")
	ErrInvalidSpec         = errors.New("invalid generation spec")
)

// PipelineRequest describes a CI/CD pipeline to generate.
type PipelineRequest struct {
	// Platform selects the pipeline dialect: PlatformGitHub or
	// PlatformGitLab.
	Platform string
	// Language drives setup/build/test commands ("python",
	// "javascript", "go").
	Language string
	// Target is the deployment target recorded in the pipeline env.
	Target string
	// Environments get one deploy job each, in order.
	Environments []string
	// Guidance is retrieved KB context for the LLM generator; the
	// template generator ignores it beyond citations.
	Guidance []kb.Result
}

func (r PipelineRequest) validate() error {
	if r.Platform != PlatformGitHub && r.Platform != PlatformGitLab {
		return fmt.Errorf("%w: platform %q", ErrUnsupportedPlatform, r.Platform)
	}
	if len(r.Environments) == 0 {
		return fmt.Errorf("%w: at least one environment", ErrInvalidSpec)
	}
	return nil
}

// PipelineArtifact is a generated pipeline file.
type PipelineArtifact struct {
	// Path is where the file belongs in the target repository.
	Path string
	// Content is the pipeline YAML.
	Content string
}

// InfraRequest describes an infrastructure file set to generate.
type InfraRequest struct {
	// Target is the deployment target; a Helm chart is generated only
	// for TargetK8s.
	Target string
	// Environments each get a tfvars file and a values overlay.
	Environments []string
	// Domain and Registry parameterize DNS and registry modules.
	Domain   string
	Registry string
	// AppName names the Helm chart and its resources.
	AppName string
	// Guidance is retrieved KB context.
	Guidance []kb.Result
}

func (r InfraRequest) validate() error {
	if r.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidSpec)
	}
	if len(r.Environments) == 0 {
		return fmt.Errorf("%w: at least one environment", ErrInvalidSpec)
	}
	return nil
}

// InfraArtifact is a generated infrastructure file set.
type InfraArtifact struct {
	// Terraform holds the module tree, paths relative to the infra root.
	Terraform fileset.FileSet
	// Helm holds the chart, paths relative to the chart root. Nil when
	// the target is not Kubernetes.
	Helm fileset.FileSet
}

// Generator produces proposal artifacts.
type Generator interface {
	Pipeline(ctx context.Context, req PipelineRequest) (*PipelineArtifact, error)
	Infrastructure(ctx context.Context, req InfraRequest) (*InfraArtifact, error)
}

// PipelinePath returns the conventional file location for a platform's
// pipeline definition.
func PipelinePath(platform string) (string, error) {
	switch platform {
	case PlatformGitHub:
		return ".github/workflows/pipeline.yml", nil
	case PlatformGitLab:
		return ".gitlab-ci.yml", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}
}

// ValidateYAML reports whether generated content parses as YAML. Comment
// prefixes added by the gate annotators are fine; YAML treats them as
// comments.
func ValidateYAML(content string) error {
	var v interface{}
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		return fmt.Errorf("yaml validation: %w", err)
	}
	return nil
}
