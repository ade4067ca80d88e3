// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/fops/pkg/logging"
	"github.com/AleutianAI/fops/services/fops/api"
	"github.com/AleutianAI/fops/services/fops/audit"
	"github.com/AleutianAI/fops/services/fops/citation"
	"github.com/AleutianAI/fops/services/fops/config"
	"github.com/AleutianAI/fops/services/fops/generator"
	"github.com/AleutianAI/fops/services/fops/guard"
	"github.com/AleutianAI/fops/services/fops/kb"
	"github.com/AleutianAI/fops/services/fops/orchestrator"
	"github.com/AleutianAI/fops/services/fops/publish"
	"github.com/AleutianAI/fops/services/fops/sandbox"
	"github.com/AleutianAI/fops/services/fops/telemetry"
)

// runServe starts the F-Ops API server.
//
// Description:
//
//	Loads configuration (file, then FOPS_* environment overrides),
//	wires the guard, audit trail, sandbox runner, publishers, and
//	orchestrator, and serves the HTTP API until SIGINT or SIGTERM.
//	When a config file is given it is watched so allow-list edits take
//	effect without a restart. Missing platform tokens are a warning,
//	not a startup failure: validation-only deployments are legitimate.
func runServe(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatalf("Error loading configuration: %v", err)
	}

	level := logging.LevelInfo
	if debugMode {
		level = logging.LevelDebug
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "fops",
		JSON:    jsonLogs,
	})
	defer logger.Close()
	logger.SetAsDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		logger.Warn("Telemetry disabled", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	orch, trail, metrics, err := buildService(cfg, logger.Slog())
	if err != nil {
		fatalf("Error building F-Ops service: %v", err)
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(c *config.Config) {
			orch.Guard().SetAllowList(c.Guard.AllowedRepos)
		}, logger.Slog())
		if err != nil {
			logger.Warn("Config watcher unavailable; allow-list edits need a restart", "error", err)
		} else {
			go watcher.Start(ctx)
			defer watcher.Stop()
		}
	}

	var handlerOpts []api.HandlerOption
	if metrics != nil {
		handlerOpts = append(handlerOpts, api.WithMetrics(metrics))
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(api.NewHandlers(orch, trail, handlerOpts...)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("F-Ops server listening",
		"addr", cfg.Server.Addr,
		"allowed_repos", len(cfg.Guard.AllowedRepos),
		"terraform_available", sandbox.Available("terraform"),
		"helm_available", sandbox.Available("helm"))

	select {
	case <-ctx.Done():
		logger.Info("Shutting down F-Ops server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalf("Server failed: %v", err)
		}
	}
}

// buildService assembles the orchestrator and its collaborators from
// configuration. The returned metrics are nil when registration failed;
// the service runs without them.
func buildService(cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, *audit.Trail, *telemetry.Metrics, error) {
	metrics, err := telemetry.NewMetrics(otel.Meter("fops"))
	if err != nil {
		logger.Warn("Metrics unavailable", "error", err)
		metrics = nil
	}

	g := guard.New(cfg.Guard.AllowedRepos, guard.WithLogger(logger))

	auditOpts := []audit.Option{audit.WithLogger(logger)}
	if metrics != nil {
		auditOpts = append(auditOpts, audit.WithMetrics(metrics))
	}
	trail, err := audit.New(cfg.Audit.Dir, auditOpts...)
	if err != nil {
		return nil, nil, nil, err
	}

	runner := sandbox.NewRunner(
		sandbox.WithMaxConcurrent(int64(cfg.Sandbox.MaxConcurrent)),
		sandbox.WithWorkDir(cfg.Sandbox.WorkDir),
		sandbox.WithLogger(logger),
	)

	routerOpts := []publish.RouterOption{
		publish.WithRateLimit(rate.Limit(cfg.Publish.RatePerSecond), cfg.Publish.RateBurst),
		publish.WithRouterLogger(logger),
	}
	if metrics != nil {
		routerOpts = append(routerOpts, publish.WithRouterMetrics(metrics))
	}
	if cfg.Publish.GitHubToken != "" {
		gh, err := publish.NewGitHub(cfg.Publish.GitHubToken, publish.WithGitHubLogger(logger))
		if err != nil {
			return nil, nil, nil, err
		}
		routerOpts = append(routerOpts, publish.WithGitHub(gh))
	}
	if cfg.Publish.GitLabToken != "" {
		gl, err := publish.NewGitLab(publish.GitLabConfig{
			Token:   cfg.Publish.GitLabToken,
			BaseURL: cfg.Publish.GitLabBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		routerOpts = append(routerOpts, publish.WithGitLab(gl))
	}
	if cfg.Publish.GitHubToken == "" && cfg.Publish.GitLabToken == "" {
		logger.Warn("No platform tokens configured; proposals will fail at the publish step. " +
			"Set FOPS_GITHUB_TOKEN or FOPS_GITLAB_TOKEN.")
	}

	pubRouter, err := publish.NewRouter(g, trail, routerOpts...)
	if err != nil {
		return nil, nil, nil, err
	}

	var gen generator.Generator
	if cfg.Generator.Mode == "llm" {
		gen, err = generator.NewLLMGenerator(cfg.Generator.OpenAIAPIKey, cfg.Generator.OpenAIModel, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("Using LLM generator", "model", cfg.Generator.OpenAIModel)
	} else {
		gen = generator.NewTemplateGenerator()
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithTimeouts(cfg.Sandbox.TerraformTimeout, cfg.Sandbox.HelmTimeout),
		orchestrator.WithLogger(logger),
	}
	if metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithMetrics(metrics))
	}

	if cfg.KB.Enabled {
		client, err := weaviate.NewClient(weaviate.Config{
			Scheme: cfg.KB.Scheme,
			Host:   cfg.KB.Host,
		})
		if err != nil {
			logger.Warn("Knowledge base unavailable; proposals proceed without retrieval", "error", err)
		} else {
			store, err := kb.NewWeaviateStore(client, logger)
			if err != nil {
				return nil, nil, nil, err
			}
			orchOpts = append(orchOpts, orchestrator.WithKB(store))
			logger.Info("Knowledge base connected", "host", cfg.KB.Host)
		}
	}

	if cfg.Citation.UsageDir != "" {
		usage, err := citation.OpenUsageStore(cfg.Citation.UsageDir, logger)
		if err != nil {
			logger.Warn("Citation usage store unavailable", "error", err)
		} else {
			orchOpts = append(orchOpts, orchestrator.WithUsageStore(usage))
		}
	}

	orch, err := orchestrator.New(g, runner, pubRouter, trail, gen, orchOpts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return orch, trail, metrics, nil
}
