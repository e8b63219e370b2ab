// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/pkg/logging"
)

// mockAsyncWriteAPI records points written through the batching API.
type mockAsyncWriteAPI struct {
	mu       sync.Mutex
	points   []*write.Point
	flushes  int
	block    chan struct{}
	onFailed api.WriteFailedCallback
}

func (m *mockAsyncWriteAPI) WriteRecord(string) {}

func (m *mockAsyncWriteAPI) WritePoint(p *write.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, p)
}

func (m *mockAsyncWriteAPI) Flush() {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

func (m *mockAsyncWriteAPI) Errors() <-chan error { return nil }

func (m *mockAsyncWriteAPI) SetWriteFailedCallback(cb api.WriteFailedCallback) {
	m.onFailed = cb
}

func (m *mockAsyncWriteAPI) written() []*write.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*write.Point(nil), m.points...)
}

func pointTags(p *write.Point) map[string]string {
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	return tags
}

func pointFields(p *write.Point) map[string]interface{} {
	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	return fields
}

func TestEventExporter_ShipsWarningsFromLogger(t *testing.T) {
	w := &mockAsyncWriteAPI{}
	exp := NewEventExporterWithWriter(w, logging.LevelWarn)

	logger, err := logging.New(logging.Config{
		Level:    logging.LevelDebug,
		Service:  "riskboard",
		Output:   io.Discard,
		Exporter: exp,
	})
	require.NoError(t, err)

	l := logger.Slog().With("component", "engine")
	l.Info("Cycle complete", "cycle_id", "c1")
	l.Warn("Source degraded", "source_id", "models", "reason", "1 component(s) reporting failure: ueba", "cycle_id", "c1")
	l.Error("Publish failed", "error", errors.New("disk full"))
	require.NoError(t, logger.Close())

	points := w.written()
	require.Len(t, points, 2)

	p := points[0]
	assert.Equal(t, MeasurementEvent, p.Name())
	assert.False(t, p.Time().IsZero())
	tags := pointTags(p)
	assert.Equal(t, "WARN", tags["level"])
	assert.Equal(t, "riskboard", tags["service"])
	assert.Equal(t, "engine", tags["component"])
	assert.Equal(t, "models", tags["source_id"])
	fields := pointFields(p)
	assert.Equal(t, "Source degraded", fields["message"])
	assert.Equal(t, "c1", fields["cycle_id"])

	assert.Equal(t, "ERROR", pointTags(points[1])["level"])
	assert.Equal(t, "disk full", pointFields(points[1])["error"])

	assert.Equal(t, 1, w.flushes)
}

func TestEventExporter_CountsRejectedBatches(t *testing.T) {
	w := &mockAsyncWriteAPI{}
	exp := NewEventExporterWithWriter(w, logging.LevelWarn)
	require.NotNil(t, w.onFailed)

	assert.False(t, w.onFailed("riskboard_event message=\"x\"", http.Error{StatusCode: 503}, 0))
	assert.False(t, w.onFailed("riskboard_event message=\"y\"", http.Error{StatusCode: 503}, 0))
	assert.Equal(t, int64(2), exp.Dropped())
}

func TestEventExporter_FlushHonorsDeadline(t *testing.T) {
	w := &mockAsyncWriteAPI{block: make(chan struct{})}
	defer close(w.block)
	exp := NewEventExporterWithWriter(w, logging.LevelWarn)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, exp.Flush(ctx), context.DeadlineExceeded)
	assert.NoError(t, exp.Close())
}

func TestNewEventExporter_RequiresLocation(t *testing.T) {
	_, err := NewEventExporter(InfluxConfig{URL: "http://localhost:8086"}, logging.LevelWarn)
	assert.Error(t, err)

	exp, err := NewEventExporter(InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b"}, logging.LevelWarn)
	require.NoError(t, err)
	assert.NoError(t, exp.Close())
}
