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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestClassName(t *testing.T) {
	for _, c := range Collections() {
		class, err := ClassName(c)
		require.NoError(t, err)
		assert.NotEmpty(t, class)
	}

	_, err := ClassName("nope")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestCitation(t *testing.T) {
	assert.Equal(t, "[pipelines:p-001]", Citation("pipelines", "p-001"))
	assert.Equal(t, "[KB:unknown]", Citation("", ""))
	assert.Equal(t, "[KB:p-001]", Citation("", "p-001"))
}

func TestParseSearch(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"KbPipelines": []interface{}{
					map[string]interface{}{
						"content": "stages: [build, test]",
						"title":   "Go service pipeline",
						"source":  "pipelines",
						"docId":   "p-001",
						"_additional": map[string]interface{}{
							"certainty": 0.91,
						},
					},
					"malformed entry",
					map[string]interface{}{
						"content": "deploy: helm upgrade",
					},
				},
			},
		},
	}

	results := parseSearch(resp, "KbPipelines")

	require.Len(t, results, 2, "malformed objects are skipped")
	assert.Equal(t, "[pipelines:p-001]", results[0].Citation)
	assert.Equal(t, "Go service pipeline", results[0].Title)
	assert.InDelta(t, 0.91, results[0].Certainty, 1e-9)
	assert.Equal(t, "[KB:unknown]", results[1].Citation, "missing metadata gets defaults")
}

func TestParseSearch_EmptyResponse(t *testing.T) {
	assert.Empty(t, parseSearch(&models.GraphQLResponse{Data: map[string]models.JSONObject{}}, "KbDocs"))
}

func TestParseAggregateCount(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Aggregate": map[string]interface{}{
				"KbIac": []interface{}{
					map[string]interface{}{
						"meta": map[string]interface{}{"count": float64(42)},
					},
				},
			},
		},
	}

	assert.Equal(t, 42, parseAggregateCount(resp, "KbIac"))
	assert.Equal(t, 0, parseAggregateCount(resp, "KbDocs"))
}
