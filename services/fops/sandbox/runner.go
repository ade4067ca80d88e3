// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox executes external infrastructure tools against generated
// file sets inside ephemeral, time-bounded directories.
//
// The runner materializes a FileSet into an exclusively-owned temporary
// directory, invokes the tool with an argv array (never a shell), captures
// stdout/stderr separately, enforces a hard wall-clock timeout, and removes
// the directory on every exit path. It performs no retries: a terminal
// Result is always returned for the parsers to classify.
//
// # Thread Safety
//
// Runner is stateless across invocations and safe for concurrent use.
// Overall subprocess concurrency is capped with a weighted semaphore so a
// burst of proposals cannot fork-bomb the host.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/fops/services/fops/fileset"
)

const defaultMaxConcurrent = 4

// Runner executes staged tool invocations in ephemeral sandboxes.
type Runner struct {
	sem     *semaphore.Weighted
	logger  *slog.Logger
	workDir string
}

// Option configures the Runner.
type Option func(*Runner)

// WithMaxConcurrent caps the number of concurrently running subprocesses.
func WithMaxConcurrent(n int64) Option {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithWorkDir sets the parent directory for ephemeral workspaces.
// Empty means the system temp directory. The directory is created if
// missing when the first sandbox is built.
func WithWorkDir(dir string) Option {
	return func(r *Runner) {
		r.workDir = dir
	}
}

// WithLogger sets the logger for runner operations.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a sandbox runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		sem:    semaphore.NewWeighted(defaultMaxConcurrent),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether a tool binary is resolvable on PATH.
func Available(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

// ToolVersion probes a tool's version string.
//
// Description:
//
//	Runs `<tool> version` with a short timeout and returns trimmed stdout.
//	Used by health checks; failures are reported as errors, not Results,
//	because no file set is involved.
func (r *Runner) ToolVersion(ctx context.Context, tool string) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if _, err := exec.LookPath(tool); err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(cmdCtx, tool, "version").Output()
	if err != nil {
		return "", fmt.Errorf("probing %s version: %w", tool, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ExecuteStages runs a chain of stages against one materialized file set.
//
// Description:
//
//	Creates a single sandbox directory, writes the file set once, then
//	runs each stage in order. A stage whose exit code is not tolerated
//	(or which times out) short-circuits the chain; its Result carries the
//	stage marker so failure location is diagnosable without reading tool
//	text. All results produced so far are returned either way.
//
// Inputs:
//
//	ctx - Context for cancellation. Stage timeouts are layered on top.
//	files - The generated file set; validated before any write.
//	stages - Ordered stage definitions. Must be non-empty.
//
// Outputs:
//
//	[]*Result - One result per executed stage, in order.
//	error - Non-nil only when no trustworthy Result could be produced
//	(bad input, materialization failure, missing binary).
//
// Thread Safety: Safe for concurrent use across unrelated invocations.
func (r *Runner) ExecuteStages(ctx context.Context, files fileset.FileSet, stages []Stage) ([]*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: ctx must not be nil", ErrInvalidInput)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidInput)
	}
	for _, s := range stages {
		if _, err := exec.LookPath(s.Tool); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, s.Tool)
		}
	}

	tracer := otel.Tracer("fops/sandbox")
	ctx, span := tracer.Start(ctx, "sandbox.ExecuteStages")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool", stages[0].Tool),
		attribute.Int("stages", len(stages)),
		attribute.Int("files", len(files)),
	)

	dir, cleanup, err := r.materialize(files)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer cleanup()

	results := make([]*Result, 0, len(stages))
	for _, stage := range stages {
		res, err := r.runStage(ctx, dir, stage)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
		results = append(results, res)

		if res.Failed {
			r.logger.Warn("Sandbox stage failed, short-circuiting",
				slog.String("tool", stage.Tool),
				slog.String("stage", stage.Name),
				slog.Int("exit_code", res.ExitCode),
				slog.Bool("timed_out", res.TimedOut),
			)
			break
		}
	}

	return results, nil
}

// Execute runs a single stage. Convenience wrapper over ExecuteStages.
func (r *Runner) Execute(ctx context.Context, files fileset.FileSet, stage Stage) (*Result, error) {
	results, err := r.ExecuteStages(ctx, files, []Stage{stage})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// materialize writes the file set into a fresh exclusively-owned directory.
// The returned cleanup runs on every exit path of the caller.
func (r *Runner) materialize(files fileset.FileSet) (string, func(), error) {
	if r.workDir != "" {
		if err := os.MkdirAll(r.workDir, 0750); err != nil {
			return "", nil, fmt.Errorf("creating sandbox parent: %w", err)
		}
	}
	dir, err := os.MkdirTemp(r.workDir, "fops-sandbox-*")
	if err != nil {
		return "", nil, fmt.Errorf("creating sandbox directory: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("Failed to remove sandbox directory",
				slog.String("dir", dir), "error", err)
		}
	}

	if err := files.Materialize(dir); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %v", ErrMaterialize, err)
	}

	return dir, cleanup, nil
}

// runStage executes one subprocess with the stage's hard timeout.
func (r *Runner) runStage(ctx context.Context, dir string, stage Stage) (*Result, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring sandbox slot: %w", err)
	}
	defer r.sem.Release(1)

	timeout := stage.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, stage.Tool, stage.Args...)
	cmd.Dir = dir
	if stage.Subdir != "" {
		cmd.Dir = filepath.Join(dir, filepath.FromSlash(stage.Subdir))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The tool gets its own process group, and on timeout the whole group
	// is killed. terraform and helm fork provider/plugin children that
	// inherit the output pipes; killing only the parent would leave Wait
	// blocked on those pipes until the children exit on their own.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	exitCode := -1
	if cmd.ProcessState != nil && !timedOut {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if runErr != nil && cmd.ProcessState == nil {
		// Process never started (spawn failure).
		return nil, fmt.Errorf("starting %s: %w", stage.Tool, runErr)
	}

	res := &Result{
		Tool:     stage.Tool,
		Stage:    stage.Name,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
		TimedOut: timedOut,
	}
	res.Failed = timedOut || !stage.exitOK(exitCode)

	r.logger.Debug("Sandbox stage completed",
		slog.String("tool", stage.Tool),
		slog.String("stage", stage.Name),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
		slog.Bool("timed_out", timedOut),
	)

	return res, nil
}
