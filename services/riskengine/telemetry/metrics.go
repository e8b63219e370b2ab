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
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SourceMetrics holds the OTel instruments recorded once per source fetch.
//
// Description:
//
//	Records per-source fetch duration and record/anomaly counts with
//	source_id, kind and status attributes. Cycle-level metrics live in
//	the observability package.
//
// Thread Safety: Safe for concurrent use after creation.
type SourceMetrics struct {
	// FetchDuration records fetch latency in seconds.
	FetchDuration metric.Float64Histogram

	// RecordsTotal counts records decoded from each source.
	RecordsTotal metric.Int64Counter

	// AnomaliesTotal counts records that failed validation or normalization.
	AnomaliesTotal metric.Int64Counter
}

// NewSourceMetrics registers the source instruments with meter. A nil
// meter selects otel.Meter(TracerName).
func NewSourceMetrics(meter metric.Meter) (*SourceMetrics, error) {
	if meter == nil {
		meter = otel.Meter(TracerName)
	}
	m := &SourceMetrics{}
	var err error

	m.FetchDuration, err = meter.Float64Histogram(
		"riskboard_source_fetch_duration_seconds",
		metric.WithDescription("Upstream source fetch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create source_fetch_duration: %w", err)
	}

	m.RecordsTotal, err = meter.Int64Counter(
		"riskboard_source_records_total",
		metric.WithDescription("Records decoded from upstream sources"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create source_records_total: %w", err)
	}

	m.AnomaliesTotal, err = meter.Int64Counter(
		"riskboard_source_anomalies_total",
		metric.WithDescription("Records rejected at validation or normalization"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create source_anomalies_total: %w", err)
	}
	return m, nil
}

// RecordFetch records one fetch. Safe to call on a nil receiver.
func (m *SourceMetrics) RecordFetch(ctx context.Context, sourceID, kind, status string, latency time.Duration, records, anomalies int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("source_id", sourceID),
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.FetchDuration.Record(ctx, latency.Seconds(), attrs)
	if records > 0 {
		m.RecordsTotal.Add(ctx, int64(records), attrs)
	}
	if anomalies > 0 {
		m.AnomaliesTotal.Add(ctx, int64(anomalies), attrs)
	}
}
