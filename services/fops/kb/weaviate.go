// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateStore is the Weaviate-backed Store.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is.
type WeaviateStore struct {
	client *weaviate.Client
	logger *slog.Logger
}

// NewWeaviateStore creates a Store over an existing Weaviate client.
func NewWeaviateStore(client *weaviate.Client, logger *slog.Logger) (*WeaviateStore, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateStore{client: client, logger: logger}, nil
}

// Search performs semantic nearText retrieval in one collection.
//
// Description:
//
//	Results come back in relevance order with the backend's certainty
//	score. Malformed objects in the response are skipped rather than
//	failing the search.
//
// Errors:
//
//	ErrUnknownCollection - collection is not one of the five.
func (s *WeaviateStore) Search(ctx context.Context, collection, query string, k int) ([]Result, error) {
	class, err := ClassName(collection)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if k <= 0 {
		k = 5
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "title"},
		{Name: "source"},
		{Name: "docId"},
		{Name: "_additional { certainty }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("kb search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("kb search: %s", result.Errors[0].Message)
	}

	results := parseSearch(result, class)

	s.logger.Info("KB search completed",
		slog.String("collection", collection),
		slog.String("query", query),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// Add stores one document in a collection.
func (s *WeaviateStore) Add(ctx context.Context, collection string, doc Document) error {
	class, err := ClassName(collection)
	if err != nil {
		return err
	}
	if doc.Content == "" {
		return fmt.Errorf("document content cannot be empty")
	}

	_, err = s.client.Data().Creator().
		WithClassName(class).
		WithProperties(map[string]interface{}{
			"content": doc.Content,
			"title":   doc.Title,
			"source":  doc.Source,
			"docId":   doc.DocID,
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("kb add: %w", err)
	}

	s.logger.Info("Document added to KB",
		slog.String("collection", collection),
		slog.String("citation", Citation(doc.Source, doc.DocID)),
	)
	return nil
}

// Stats reports per-collection document counts via aggregate queries.
func (s *WeaviateStore) Stats(ctx context.Context) (map[string]CollectionStats, error) {
	stats := make(map[string]CollectionStats, len(classNames))

	for _, collection := range Collections() {
		class := classNames[collection]

		result, err := s.client.GraphQL().Aggregate().
			WithClassName(class).
			WithFields(graphql.Field{
				Name:   "meta",
				Fields: []graphql.Field{{Name: "count"}},
			}).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("kb stats for %s: %w", collection, err)
		}
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("kb stats for %s: %s", collection, result.Errors[0].Message)
		}

		stats[collection] = CollectionStats{
			DocumentCount: parseAggregateCount(result, class),
			ClassName:     class,
		}
	}
	return stats, nil
}

// parseSearch extracts results from a Get response, skipping malformed
// objects.
func parseSearch(result *models.GraphQLResponse, class string) []Result {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Result{}
	}
	objects, ok := data[class].([]interface{})
	if !ok {
		return []Result{}
	}

	results := make([]Result, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		r := Result{
			Text:     getString(m, "content"),
			Title:    getString(m, "title"),
			Citation: Citation(getString(m, "source"), getString(m, "docId")),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			r.Certainty = getFloat64(add, "certainty")
		}
		results = append(results, r)
	}
	return results
}

// parseAggregateCount digs the meta count out of an Aggregate response.
func parseAggregateCount(result *models.GraphQLResponse, class string) int {
	data, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0
	}
	objects, ok := data[class].([]interface{})
	if !ok || len(objects) == 0 {
		return 0
	}
	m, ok := objects[0].(map[string]interface{})
	if !ok {
		return 0
	}
	meta, ok := m["meta"].(map[string]interface{})
	if !ok {
		return 0
	}
	return int(getFloat64(meta, "count"))
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
