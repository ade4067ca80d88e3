// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_StdoutExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"

	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_NoneDisablesBoth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	metrics, err := NewMetrics(otel.Meter("test_metrics"))
	require.NoError(t, err)

	assert.NotNil(t, metrics.HTTPRequestsTotal)
	assert.NotNil(t, metrics.HTTPRequestDuration)
	assert.NotNil(t, metrics.ProposalsTotal)
	assert.NotNil(t, metrics.ProposalDuration)
	assert.NotNil(t, metrics.GuardRejectionsTotal)
	assert.NotNil(t, metrics.SandboxStagesTotal)
	assert.NotNil(t, metrics.SandboxStageDuration)
	assert.NotNil(t, metrics.PublishTotal)
	assert.NotNil(t, metrics.PublishDuration)
	assert.NotNil(t, metrics.KBSearchesTotal)
	assert.NotNil(t, metrics.KBSearchDuration)
	assert.NotNil(t, metrics.AuditAppendsTotal)
	assert.NotNil(t, metrics.ErrorsTotal)
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	// All helpers must tolerate nil spans.
	RecordError(nil, errors.New("boom"))
	SetSpanOK(nil)
	AddSpanEvent(nil, "event")

	_, span := StartSpan(context.Background(), "fops.test", "Test.Op")
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	SetSpanOK(span)
	AddSpanEvent(span, "event")
	span.End()
}
