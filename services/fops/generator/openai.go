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
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// LLMGenerator drafts pipeline artifacts with a chat model, grounded on
// the knowledge base guidance in the request.
//
// Only the single-file pipeline goes through the model; the multi-file
// Terraform/Helm trees stay template-based, where structural validity
// matters more than prose quality and the sandbox validation would
// reject a malformed tree anyway. Any model failure, or model output
// that does not parse as YAML, falls back to the deterministic templates
// so generation never hard-fails on an LLM outage.
type LLMGenerator struct {
	client   *openai.Client
	model    string
	fallback *TemplateGenerator
	logger   *slog.Logger
}

// NewLLMGenerator creates an LLM-backed generator.
func NewLLMGenerator(apiKey, model string, logger *slog.Logger) (*LLMGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrInvalidSpec)
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LLMGenerator{
		client:   openai.NewClient(apiKey),
		model:    model,
		fallback: NewTemplateGenerator(),
		logger:   logger,
	}, nil
}

const pipelineSystemPrompt = "You are a CI/CD engineer. Output only a single valid YAML " +
	"pipeline definition, no prose and no markdown fences. The pipeline must only " +
	"build, test, and echo deployment steps; it must never apply infrastructure."

// Pipeline drafts a pipeline with the model, validating the result before
// trusting it.
func (g *LLMGenerator) Pipeline(ctx context.Context, req PipelineRequest) (*PipelineArtifact, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	path, err := PipelinePath(req.Platform)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: pipelineSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPipelinePrompt(req)},
		},
	})
	if err != nil {
		g.logger.Warn("LLM pipeline generation failed, using template fallback", "error", err)
		return g.fallback.Pipeline(ctx, req)
	}
	if len(resp.Choices) == 0 {
		g.logger.Warn("LLM returned no choices, using template fallback")
		return g.fallback.Pipeline(ctx, req)
	}

	content := stripFences(resp.Choices[0].Message.Content)
	if err := ValidateYAML(content); err != nil {
		g.logger.Warn("LLM pipeline output is not valid YAML, using template fallback", "error", err)
		return g.fallback.Pipeline(ctx, req)
	}

	return &PipelineArtifact{Path: path, Content: content}, nil
}

// Infrastructure delegates to the deterministic templates.
func (g *LLMGenerator) Infrastructure(ctx context.Context, req InfraRequest) (*InfraArtifact, error) {
	return g.fallback.Infrastructure(ctx, req)
}

func buildPipelinePrompt(req PipelineRequest) string {
	var sb strings.Builder

	dialect := "GitHub Actions workflow"
	if req.Platform == PlatformGitLab {
		dialect = "GitLab CI pipeline"
	}

	fmt.Fprintf(&sb, "Generate a %s for a %s project deploying to %s.\n",
		dialect, req.Language, req.Target)
	fmt.Fprintf(&sb, "Environments, each with its own deploy job: %s.\n",
		strings.Join(req.Environments, ", "))
	sb.WriteString("Restrict production deploys to the main branch.\n")

	if len(req.Guidance) > 0 {
		sb.WriteString("\nReference patterns from our knowledge base:\n")
		for _, r := range req.Guidance {
			fmt.Fprintf(&sb, "--- %s %s\n%s\n", r.Citation, r.Title, r.Text)
		}
	}
	return sb.String()
}

// stripFences removes a wrapping markdown code fence if the model added
// one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
