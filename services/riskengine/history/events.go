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
	"fmt"
	"sync/atomic"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/riskboard/pkg/logging"
)

// MeasurementEvent holds operational log events next to the assessments
// they explain.
const MeasurementEvent = "riskboard_event"

// eventTags are attributes promoted to tags. Everything else a record
// carries stays in the local log.
var eventTags = []string{"component", "source_id", "reason"}

// eventFields are attributes copied into string fields.
var eventFields = []string{"cycle_id", "assessment_id", "error"}

// EventExporter ships log entries to InfluxDB. It implements
// logging.LogExporter.
//
// # Description
//
// Entries below the minimum level are ignored. Writes go through the
// client's batching write API, so Export never waits on the network.
// Failed batches are discarded and counted, never retried and never
// logged, since logging a failure would feed back into the exporter.
//
// # Thread Safety
//
// Safe for concurrent use.
type EventExporter struct {
	client  influxdb2.Client
	writer  api.WriteAPI
	min     logging.Level
	dropped atomic.Int64
}

// NewEventExporter creates an exporter for cfg's bucket.
//
// # Inputs
//
//   - cfg: Same location as the assessment sink.
//   - min: Lowest level exported. Warn keeps the series to what an
//     operator would act on.
func NewEventExporter(cfg InfluxConfig, min logging.Level) (*EventExporter, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(5000))
	e := NewEventExporterWithWriter(client.WriteAPI(cfg.Org, cfg.Bucket), min)
	e.client = client
	return e, nil
}

// NewEventExporterWithWriter builds an exporter around an existing
// non-blocking write API.
func NewEventExporterWithWriter(w api.WriteAPI, min logging.Level) *EventExporter {
	e := &EventExporter{writer: w, min: min}
	w.SetWriteFailedCallback(func(_ string, _ http.Error, _ uint) bool {
		e.dropped.Add(1)
		return false
	})
	return e
}

// Export queues entry when it is at or above the minimum level.
func (e *EventExporter) Export(_ context.Context, entry logging.LogEntry) error {
	if entry.Level < e.min {
		return nil
	}
	e.writer.WritePoint(EventPoint(entry))
	return nil
}

// Flush sends queued points, giving up when ctx is done.
func (e *EventExporter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.writer.Flush()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush events: %w", ctx.Err())
	}
}

// Close releases the client. Queued points are flushed first.
func (e *EventExporter) Close() error {
	if e.client != nil {
		e.client.Close()
	}
	return nil
}

// Dropped returns the number of batches the server rejected.
func (e *EventExporter) Dropped() int64 {
	return e.dropped.Load()
}

// EventPoint converts one log entry into a point.
func EventPoint(entry logging.LogEntry) *write.Point {
	tags := map[string]string{
		"level":   entry.Level.String(),
		"service": entry.Service,
	}
	for _, k := range eventTags {
		if v, ok := entry.Attrs[k]; ok {
			tags[k] = fmt.Sprint(v)
		}
	}
	fields := map[string]interface{}{
		"message": entry.Message,
	}
	for _, k := range eventFields {
		if v, ok := entry.Attrs[k]; ok {
			fields[k] = fmt.Sprint(v)
		}
	}
	return influxdb2.NewPoint(MeasurementEvent, tags, fields, entry.Timestamp)
}
