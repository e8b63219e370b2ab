// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history writes published assessments to a time series store.
//
// Each assessment becomes one "risk_assessment" point plus one
// "risk_source" point per source, timestamped with the assessment's
// generation time. Writes are best effort: the scheduler logs a failed
// write and carries on.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
)

// Measurement names.
const (
	MeasurementAssessment = "risk_assessment"
	MeasurementSource     = "risk_source"
)

// Sink receives every published assessment.
type Sink interface {
	Record(ctx context.Context, a *assessment.Assessment) error
	Close()
}

// NopSink discards everything. Used when history is not configured.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, *assessment.Assessment) error { return nil }

// Close implements Sink.
func (NopSink) Close() {}

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Org    string
	Bucket string
	Token  string
}

// InfluxSink writes points with the blocking write API.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client serializes writes.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	logger *slog.Logger
}

// NewInfluxSink connects a client to cfg. It does not contact the server;
// call Check for that.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	logger.Info("History sink configured",
		"influx_url", cfg.URL,
		"influx_org", cfg.Org,
		"influx_bucket", cfg.Bucket,
		"token_present", cfg.Token != "",
	)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger: logger,
	}, nil
}

// NewInfluxSinkWithWriter builds a sink around an existing write API.
func NewInfluxSinkWithWriter(w api.WriteAPIBlocking, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &InfluxSink{writer: w, logger: logger}
}

// Check reports whether the server is reachable and healthy.
func (s *InfluxSink) Check(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influx health: status %s %s", health.Status, msg)
	}
	return nil
}

// Record writes a's points.
func (s *InfluxSink) Record(ctx context.Context, a *assessment.Assessment) error {
	if a == nil {
		return nil
	}
	if err := s.writer.WritePoint(ctx, Points(a)...); err != nil {
		return fmt.Errorf("write assessment %s: %w", a.ID, err)
	}
	s.logger.Debug("Assessment written to history", "assessment_id", a.ID)
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Points converts a into InfluxDB points.
func Points(a *assessment.Assessment) []*write.Point {
	points := make([]*write.Point, 0, 1+len(a.Sources))
	points = append(points, influxdb2.NewPoint(
		MeasurementAssessment,
		map[string]string{
			"risk_level": string(a.RiskLevel),
			"degraded":   strconv.FormatBool(a.Degraded),
			"blind":      strconv.FormatBool(a.Blind),
		},
		map[string]interface{}{
			"level":            a.RiskLevel.Order(),
			"event_total":      a.EventTotal,
			"max_risk":         a.MaxRisk,
			"max_confidence":   a.MaxConfidence,
			"sources_degraded": len(a.SourcesDegraded),
			"monitoring_areas": len(a.MonitoringAreas),
			"actions":          len(a.Actions),
			"matched_rule":     a.MatchedRule,
			"assessment_id":    a.ID,
		},
		a.GeneratedAt,
	))
	for _, src := range a.Sources {
		points = append(points, influxdb2.NewPoint(
			MeasurementSource,
			map[string]string{
				"source_id": src.ID,
				"kind":      string(src.Kind),
				"status":    string(src.Status),
			},
			map[string]interface{}{
				"records":    src.Records,
				"anomalies":  src.Anomalies,
				"latency_ms": src.LatencyMs,
			},
			a.GeneratedAt,
		))
	}
	return points
}
