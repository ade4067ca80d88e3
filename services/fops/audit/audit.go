// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit provides the append-only JSONL audit trail.
//
// One file per UTC day (audit_YYYYMMDD.jsonl), one JSON object per line.
// Entries are never rewritten or deleted by this package; compliance
// review depends on the trail being immutable after write. Reads are
// tolerant (a corrupt line is skipped) but writes are strict: an entry
// that cannot be durably appended is a loud error, because an action that
// happened without its audit record is the worst failure mode this
// package can have.
//
// # Thread Safety
//
// Trail is safe for concurrent use. Appends are serialized by a mutex;
// each line is written and fsynced before the mutex is released.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/fops/services/fops/telemetry"
)

// Sentinel errors for the audit trail.
var (
	// ErrAppendFailed indicates an entry could not be durably written.
	// The caller must surface this; the triggering action is now
	// unaccounted for.
	ErrAppendFailed = errors.New("audit append failed")

	// ErrInvalidInput indicates a malformed entry or query.
	ErrInvalidInput = errors.New("invalid input")
)

// Well-known operation types.
const (
	OpProposalCreated = "proposal_created"
	OpValidationRun   = "validation_run"
	OpPublish         = "pr_creation"
	OpAttach          = "artifact_attach"
	OpKBSearch        = "kb_search"
	OpGuardRejected   = "guard_rejected"
)

// Entry is one audit record.
type Entry struct {
	// ID is assigned by Append; input values are overwritten.
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`

	OperationType string                 `json:"operation_type"`
	Agent         string                 `json:"agent"`
	Inputs        map[string]interface{} `json:"inputs,omitempty"`
	Outputs       map[string]interface{} `json:"outputs,omitempty"`
	Citations     []string               `json:"citations,omitempty"`
	PRURL         string                 `json:"pr_url,omitempty"`
	Status        string                 `json:"status"`
}

// DailyStats aggregates one day's trail.
type DailyStats struct {
	Date            string         `json:"date"`
	TotalOperations int            `json:"total_operations"`
	ByType          map[string]int `json:"by_type"`
	ByAgent         map[string]int `json:"by_agent"`
}

// Query filters Read results. Zero values mean "unbounded".
type Query struct {
	// From and To bound the UTC day range, inclusive.
	From time.Time
	To   time.Time
	// OperationType filters exactly when non-empty.
	OperationType string
	// Agent filters exactly when non-empty.
	Agent string
	// Limit caps the result count; 0 means no cap.
	Limit int
}

// Trail is an append-only JSONL audit log over a directory.
type Trail struct {
	mu      sync.Mutex
	dir     string
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures the Trail.
type Option func(*Trail)

// WithLogger sets the logger for trail operations.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics enables the per-operation append counter.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(t *Trail) {
		t.metrics = m
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a Trail over dir, creating the directory if absent.
func New(dir string, opts ...Option) (*Trail, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: dir is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit directory %s: %w", dir, err)
	}

	t := &Trail{
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.logger.Info("Audit trail initialized", slog.String("dir", dir))
	return t, nil
}

// Append durably writes one entry to the current day's file.
//
// Description:
//
//	Assigns the timestamp (UTC, RFC 3339 nano) and a content-independent
//	entry ID, serializes to one JSON line, appends under O_APPEND and
//	fsyncs before returning. Day rollover is handled per append: the
//	target file is derived from the entry's own timestamp, so an entry
//	written at 00:00:00.001 lands in the new day's file.
//
// Outputs:
//
//	string - The assigned entry ID.
//
// Errors:
//
//	ErrInvalidInput - Missing operation type or agent.
//	ErrAppendFailed - Open, write, or sync failed; the entry is not
//	(or not provably) on disk.
func (t *Trail) Append(entry Entry) (string, error) {
	if entry.OperationType == "" {
		return "", fmt.Errorf("%w: operation type is required", ErrInvalidInput)
	}
	if entry.Agent == "" {
		return "", fmt.Errorf("%w: agent is required", ErrInvalidInput)
	}

	now := t.now().UTC()
	entry.Timestamp = now.Format(time.RFC3339Nano)
	entry.ID = newEntryID(entry.Timestamp)
	if entry.Status == "" {
		entry.Status = "completed"
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %v", ErrAppendFailed, err)
	}

	path := t.fileForDay(now)

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrAppendFailed, path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("%w: write: %v", ErrAppendFailed, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("%w: sync: %v", ErrAppendFailed, err)
	}

	if t.metrics != nil {
		t.metrics.AuditAppendsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("operation_type", entry.OperationType)))
	}

	t.logger.Info("Operation logged",
		slog.String("id", entry.ID),
		slog.String("operation_type", entry.OperationType),
		slog.String("agent", entry.Agent),
	)
	return entry.ID, nil
}

// Read returns entries matching the query, newest first.
//
// Description:
//
//	Day files are pruned by the query's date range before any line is
//	parsed, so a wide trail stays cheap to query narrowly. Within the
//	surviving files, corrupt lines are skipped with a warning. Ordering
//	is by timestamp descending; the limit applies after filtering.
func (t *Trail) Read(q Query) ([]Entry, error) {
	days, err := t.dayFiles(q.From, q.To)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, path := range days {
		fileEntries, err := t.readFile(path)
		if err != nil {
			return nil, err
		}
		for _, e := range fileEntries {
			if q.OperationType != "" && e.OperationType != q.OperationType {
				continue
			}
			if q.Agent != "" && e.Agent != q.Agent {
				continue
			}
			entries = append(entries, e)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

// Stats aggregates one UTC day. A day with no file yields zero stats, not
// an error.
func (t *Trail) Stats(day time.Time) (*DailyStats, error) {
	date := day.UTC().Format("20060102")
	stats := &DailyStats{
		Date:    date,
		ByType:  make(map[string]int),
		ByAgent: make(map[string]int),
	}

	entries, err := t.readFile(filepath.Join(t.dir, "audit_"+date+".jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		stats.TotalOperations++
		typ := e.OperationType
		if typ == "" {
			typ = "unknown"
		}
		agent := e.Agent
		if agent == "" {
			agent = "unknown"
		}
		stats.ByType[typ]++
		stats.ByAgent[agent]++
	}
	return stats, nil
}

// fileForDay returns the JSONL path for a moment's UTC day.
func (t *Trail) fileForDay(moment time.Time) string {
	return filepath.Join(t.dir, "audit_"+moment.UTC().Format("20060102")+".jsonl")
}

// dayFiles lists trail files within the inclusive [from, to] day range,
// oldest first. Zero bounds are unbounded.
func (t *Trail) dayFiles(from, to time.Time) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(t.dir, "audit_*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("listing audit files: %w", err)
	}
	sort.Strings(matches)

	var out []string
	for _, path := range matches {
		base := filepath.Base(path)
		day, err := time.Parse("20060102", base[len("audit_"):len(base)-len(".jsonl")])
		if err != nil {
			continue
		}
		if !from.IsZero() && day.Before(from.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if !to.IsZero() && day.After(to.UTC()) {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

// readFile parses one day file, skipping corrupt lines.
func (t *Trail) readFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			t.logger.Warn("Skipping corrupt audit line",
				slog.String("file", filepath.Base(path)),
				slog.Int("line", lineNo),
			)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return entries, nil
}

// newEntryID derives a short unique ID from the timestamp and a UUID.
// Content-independent: two identical operations get distinct IDs.
func newEntryID(timestamp string) string {
	sum := sha256.Sum256([]byte(timestamp + uuid.NewString()))
	return hex.EncodeToString(sum[:])[:12]
}
