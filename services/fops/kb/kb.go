// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kb is the knowledge base behind artifact generation.
//
// Five collections hold the retrievable corpus: pipeline templates,
// infrastructure-as-code modules, docs/runbooks, SLO definitions, and
// incident patterns. Every search result carries a stable citation
// reference so generated artifacts can name their sources.
package kb

import (
	"context"
	"errors"
	"fmt"
)

// Collection names.
const (
	CollectionPipelines = "pipelines"
	CollectionIaC       = "iac"
	CollectionDocs      = "docs"
	CollectionSLO       = "slo"
	CollectionIncidents = "incidents"
)

// ErrUnknownCollection indicates a search against a collection that is not
// one of the five.
var ErrUnknownCollection = errors.New("unknown knowledge base collection")

// classNames maps collections to their Weaviate class names.
var classNames = map[string]string{
	CollectionPipelines: "KbPipelines",
	CollectionIaC:       "KbIac",
	CollectionDocs:      "KbDocs",
	CollectionSLO:       "KbSlo",
	CollectionIncidents: "KbIncidents",
}

// Collections returns the known collection names.
func Collections() []string {
	return []string{
		CollectionPipelines,
		CollectionIaC,
		CollectionDocs,
		CollectionSLO,
		CollectionIncidents,
	}
}

// ClassName resolves a collection to its Weaviate class.
func ClassName(collection string) (string, error) {
	class, ok := classNames[collection]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return class, nil
}

// Document is an entry to store in a collection.
type Document struct {
	// Content is the retrievable text.
	Content string `json:"content"`
	// Title is the human-readable name shown in citations.
	Title string `json:"title"`
	// Source and DocID together form the citation reference.
	Source string `json:"source"`
	DocID  string `json:"doc_id"`
}

// Result is one search hit.
type Result struct {
	// Text is the matched document content.
	Text string `json:"text"`
	// Title is the document title, possibly empty.
	Title string `json:"title"`
	// Citation is the stable reference, "[<source>:<doc_id>]".
	Citation string `json:"citation"`
	// Certainty is the semantic match score in [0, 1] when the backend
	// provides one.
	Certainty float64 `json:"certainty"`
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	DocumentCount int    `json:"document_count"`
	ClassName     string `json:"collection_name"`
}

// Store is the knowledge base interface the agents depend on.
type Store interface {
	// Search returns up to k semantically similar documents.
	Search(ctx context.Context, collection, query string, k int) ([]Result, error)

	// Add stores a document in a collection.
	Add(ctx context.Context, collection string, doc Document) error

	// Stats reports document counts per collection.
	Stats(ctx context.Context) (map[string]CollectionStats, error)
}

// Citation formats the stable reference for a source/id pair, defaulting
// the parts the document did not carry.
func Citation(source, docID string) string {
	if source == "" {
		source = "KB"
	}
	if docID == "" {
		docID = "unknown"
	}
	return fmt.Sprintf("[%s:%s]", source, docID)
}
