// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides configuration loading for the F-Ops service.
//
// Configuration is layered: built-in defaults, then an optional YAML
// file, then FOPS_* environment variables. Credentials only ever come
// from the environment; the YAML file never holds tokens, so it can be
// committed alongside the deployment.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize is the maximum allowed YAML file size (1MB).
// Prevents memory issues from large files.
const MaxConfigFileSize = 1024 * 1024

// Sentinel errors for configuration loading.
var (
	ErrConfigTooLarge = errors.New("config file exceeds size limit")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Config is the root configuration for the F-Ops service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Guard     GuardConfig     `yaml:"guard"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Audit     AuditConfig     `yaml:"audit"`
	Citation  CitationConfig  `yaml:"citation"`
	KB        KBConfig        `yaml:"kb"`
	Publish   PublishConfig   `yaml:"publish"`
	Generator GeneratorConfig `yaml:"generator"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// GuardConfig controls the target repository allow-list.
type GuardConfig struct {
	// AllowedRepos is the substring allow-list for proposal targets.
	// Empty permits all targets (with a warning on every check).
	AllowedRepos []string `yaml:"allowed_repos"`
}

// SandboxConfig controls dry-run execution.
type SandboxConfig struct {
	// WorkDir is where ephemeral validation workspaces are created.
	// Empty uses the system temp directory.
	WorkDir string `yaml:"work_dir"`

	// MaxConcurrent caps simultaneous sandbox stage executions.
	MaxConcurrent int `yaml:"max_concurrent" validate:"min=1"`

	// TerraformTimeout bounds each terraform stage.
	TerraformTimeout time.Duration `yaml:"terraform_timeout" validate:"min=1s"`

	// HelmTimeout bounds each helm stage.
	HelmTimeout time.Duration `yaml:"helm_timeout" validate:"min=1s"`
}

// AuditConfig controls the append-only audit trail.
type AuditConfig struct {
	// Dir is where daily JSONL audit files are written.
	Dir string `yaml:"dir" validate:"required"`
}

// CitationConfig controls citation usage persistence.
type CitationConfig struct {
	// UsageDir is the Badger database path for citation usage records.
	// Empty uses an in-memory store.
	UsageDir string `yaml:"usage_dir"`
}

// KBConfig controls knowledge base retrieval.
type KBConfig struct {
	// Enabled turns KB retrieval on. When off, generation proceeds
	// without retrieved guidance.
	Enabled bool `yaml:"enabled"`

	// Scheme is the Weaviate connection scheme.
	Scheme string `yaml:"scheme" validate:"omitempty,oneof=http https"`

	// Host is the Weaviate host:port.
	Host string `yaml:"host"`
}

// PublishConfig controls proposal publication.
type PublishConfig struct {
	// GitHubToken authenticates GitHub API calls. Environment only
	// (FOPS_GITHUB_TOKEN); never read from YAML.
	GitHubToken string `yaml:"-"`

	// GitLabToken authenticates GitLab API calls. Environment only
	// (FOPS_GITLAB_TOKEN); never read from YAML.
	GitLabToken string `yaml:"-"`

	// GitLabBaseURL points at a self-hosted GitLab; empty uses gitlab.com.
	GitLabBaseURL string `yaml:"gitlab_base_url" validate:"omitempty,url"`

	// RatePerSecond limits outbound publish calls.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`

	// RateBurst is the publish rate limiter burst size.
	RateBurst int `yaml:"rate_burst" validate:"min=0"`
}

// GeneratorConfig controls artifact generation.
type GeneratorConfig struct {
	// Mode selects the generator: "template" (deterministic, default)
	// or "llm".
	Mode string `yaml:"mode" validate:"oneof=template llm"`

	// OpenAIModel is the chat model for llm mode.
	OpenAIModel string `yaml:"openai_model"`

	// OpenAIAPIKey authenticates llm mode. Environment only
	// (FOPS_OPENAI_API_KEY); never read from YAML.
	OpenAIAPIKey string `yaml:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: "0.0.0.0:8642"},
		Sandbox: SandboxConfig{
			MaxConcurrent:    4,
			TerraformTimeout: 120 * time.Second,
			HelmTimeout:      60 * time.Second,
		},
		Audit: AuditConfig{Dir: "audit"},
		KB: KBConfig{
			Scheme: "http",
			Host:   "localhost:8080",
		},
		Publish: PublishConfig{
			RatePerSecond: 1,
			RateBurst:     3,
		},
		Generator: GeneratorConfig{
			Mode:        "template",
			OpenAIModel: "gpt-4o-mini",
		},
	}
}

// Load reads configuration from the given YAML file path, applies
// environment overrides, and validates the result.
//
// Description:
//
//	An empty path skips the file layer and loads defaults plus
//	environment overrides. Unknown YAML keys are rejected so typos in
//	deployment files fail loudly instead of silently using defaults.
//
// Inputs:
//
//	path - YAML file path, or "" for defaults-plus-environment.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil on read, parse, or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat config: %w", err)
		}
		if info.Size() > MaxConfigFileSize {
			return nil, fmt.Errorf("%w: %s is %d bytes", ErrConfigTooLarge, path, info.Size())
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv layers FOPS_* environment variables over the loaded values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FOPS_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FOPS_ALLOWED_REPOS"); v != "" {
		cfg.Guard.AllowedRepos = splitList(v)
	}
	if v := os.Getenv("FOPS_AUDIT_DIR"); v != "" {
		cfg.Audit.Dir = v
	}
	if v := os.Getenv("FOPS_KB_HOST"); v != "" {
		cfg.KB.Host = v
		cfg.KB.Enabled = true
	}
	cfg.Publish.GitHubToken = os.Getenv("FOPS_GITHUB_TOKEN")
	cfg.Publish.GitLabToken = os.Getenv("FOPS_GITLAB_TOKEN")
	cfg.Generator.OpenAIAPIKey = os.Getenv("FOPS_OPENAI_API_KEY")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var structValidator = validator.New()

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Generator.Mode == "llm" && cfg.Generator.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: generator mode llm requires FOPS_OPENAI_API_KEY", ErrInvalidConfig)
	}
	return nil
}
