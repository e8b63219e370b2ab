// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the risk engine.
//
// # Description
//
// Metrics cover the refresh cycle as a whole:
//   - Cycle counters (by outcome) and duration histogram
//   - Per-source fetch outcomes
//   - Current risk level and degraded source gauges
//   - Superseded cycles and manual trigger results
//
// Per-source latency and record counts are OTel instruments in the
// telemetry package and are bridged into the same registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is safe to call on a nil *Metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/riskboard/services/riskengine/risk"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "riskboard"
	engineSubsystem  = "engine"
)

// Cycle outcomes.
const (
	OutcomePublished  = "published"
	OutcomeDegraded   = "degraded"
	OutcomeSuperseded = "superseded"
	OutcomeFailed     = "failed"
)

// Metrics holds the engine's Prometheus collectors.
//
// # Fields
//
//   - CyclesTotal: Cycles by outcome (published, degraded, superseded, failed)
//   - CycleDurationSeconds: End-to-end cycle duration
//   - FetchesTotal: Fetches by source_id and status (healthy, degraded, offline)
//   - RiskLevel: 0..3 for LOW..CRITICAL of the latest published assessment
//   - DegradedSources: Count of non-healthy sources in the latest cycle
//   - SupersededTotal: Cycles cancelled because a newer one started
//   - ManualTriggersTotal: Manual refresh requests by result (accepted, throttled, coalesced)
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	FetchesTotal         *prometheus.CounterVec
	RiskLevel            prometheus.Gauge
	DegradedSources      prometheus.Gauge
	SupersededTotal      prometheus.Counter
	ManualTriggersTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors with reg.
//
// # Inputs
//
//   - reg: Registry to register with. nil selects prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "cycles_total",
				Help:      "Refresh cycles by outcome",
			},
			[]string{"outcome"},
		),

		CycleDurationSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "cycle_duration_seconds",
				Help:      "Refresh cycle duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		FetchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "fetches_total",
				Help:      "Source fetches by source and resulting health status",
			},
			[]string{"source_id", "status"},
		),

		RiskLevel: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "risk_level",
				Help:      "Current risk level (0=LOW, 1=MEDIUM, 2=HIGH, 3=CRITICAL)",
			},
		),

		DegradedSources: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "degraded_sources",
				Help:      "Sources degraded or offline in the latest cycle",
			},
		),

		SupersededTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "superseded_cycles_total",
				Help:      "Cycles cancelled because a newer cycle started",
			},
		),

		ManualTriggersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: engineSubsystem,
				Name:      "manual_triggers_total",
				Help:      "Manual refresh requests by result",
			},
			[]string{"result"},
		),
	}
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDurationSeconds.Observe(d.Seconds())
	if outcome == OutcomeSuperseded {
		m.SupersededTotal.Inc()
	}
}

// ObserveFetch records one source fetch outcome.
func (m *Metrics) ObserveFetch(sourceID, status string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(sourceID, status).Inc()
}

// SetAssessment updates the level and degraded-source gauges.
func (m *Metrics) SetAssessment(level risk.RiskLevel, degraded int) {
	if m == nil {
		return
	}
	m.RiskLevel.Set(float64(level.Order()))
	m.DegradedSources.Set(float64(degraded))
}

// ManualTrigger records the result of a manual refresh request.
func (m *Metrics) ManualTrigger(result string) {
	if m == nil {
		return
	}
	m.ManualTriggersTotal.WithLabelValues(result).Inc()
}
