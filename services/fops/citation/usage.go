// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package citation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrUsageNotFound indicates no usage record exists for a content hash.
var ErrUsageNotFound = errors.New("usage record not found")

// UsageRecord is what gets persisted per bound artifact.
type UsageRecord struct {
	ContentHash string    `json:"content_hash"`
	Sources     []string  `json:"sources_used"`
	UsageCount  int       `json:"usage_count"`
	TrackedAt   time.Time `json:"tracked_at"`
}

// UsageStore persists which KB sources each generated artifact drew on.
//
// Backed by an embedded BadgerDB keyed by content hash; low-latency local
// storage, no external service. The store answers "which sources produced
// this artifact" long after the proposal branch is merged or deleted.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type UsageStore struct {
	db     *badger.DB
	logger *slog.Logger
}

const usageKeyPrefix = "usage/"

// OpenUsageStore opens a persistent usage store at path.
//
// The directory is created if absent. Caller must Close.
func OpenUsageStore(path string, logger *slog.Logger) (*UsageStore, error) {
	if path == "" {
		return nil, errors.New("usage store path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create usage store directory %s: %w", path, err)
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	return &UsageStore{db: db, logger: logger}, nil
}

// OpenInMemoryUsageStore opens a non-persistent store for testing.
func OpenInMemoryUsageStore() (*UsageStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory usage store: %w", err)
	}
	return &UsageStore{db: db, logger: slog.Default()}, nil
}

// Close releases the underlying database.
func (s *UsageStore) Close() error {
	return s.db.Close()
}

// Track records the source usage of a bound artifact.
//
// Re-tracking the same content hash overwrites the prior record; the
// artifact is identical by definition, only the retrieval set may have
// changed.
func (s *UsageStore) Track(bound Bound) error {
	rec := UsageRecord{
		ContentHash: bound.ContentHash,
		Sources:     bound.Citations,
		UsageCount:  len(bound.Citations),
		TrackedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(usageKeyPrefix+bound.ContentHash), data)
	})
	if err != nil {
		return fmt.Errorf("persist usage record: %w", err)
	}

	s.logger.Info("KB usage tracked",
		slog.String("content_hash", shortHash(bound.ContentHash)),
		slog.Int("sources", len(bound.Citations)),
	)
	return nil
}

// Lookup returns the usage record for a content hash.
//
// Errors:
//
//	ErrUsageNotFound - No record exists for the hash.
func (s *UsageStore) Lookup(contentHash string) (*UsageRecord, error) {
	var rec UsageRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(usageKeyPrefix + contentHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrUsageNotFound, shortHash(contentHash))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
