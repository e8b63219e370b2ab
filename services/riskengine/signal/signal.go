// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signal defines the value types shared by every stage of the
// risk engine: source descriptors, raw records emitted by adapters,
// normalized contributions, and per-source health.
//
// All types here are plain values. Nothing in this package performs I/O.
package signal

import (
	"strings"
	"time"
)

// =============================================================================
// Source Identity
// =============================================================================

// SourceKind identifies the payload shape an upstream feed returns.
type SourceKind string

const (
	// KindForecast is a forecast/prediction feed.
	// Shape: {"predicted_threats": {...}} or a list of {severity, confidence, description}.
	KindForecast SourceKind = "forecast"

	// KindAgentHealth is the agent status feed.
	// Shape: {"agents": [{status, confidence, name, description}]}.
	KindAgentHealth SourceKind = "agent_health"

	// KindAudit is the audit/event log feed.
	// Shape: {"logs": [{action, timestamp}]}.
	KindAudit SourceKind = "audit"

	// KindModelHealth is the detection model health feed.
	// Shape: {"models": [{status, accuracy}]}.
	KindModelHealth SourceKind = "model_health"

	// KindThreatPrediction is the threat prediction feed.
	// Shape: {"threats": [{confidence, risk_score, description}]}.
	KindThreatPrediction SourceKind = "threat_prediction"
)

// Kinds returns every supported SourceKind in declaration order.
func Kinds() []SourceKind {
	return []SourceKind{
		KindForecast,
		KindAgentHealth,
		KindAudit,
		KindModelHealth,
		KindThreatPrediction,
	}
}

// Valid reports whether k is a supported kind.
func (k SourceKind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Source describes one upstream feed.
//
// # Description
//
// Source is built once from configuration and never modified afterwards.
// Weight and CountEvents are configuration, not computed values: Weight
// scales how much one event from this source counts toward the aggregate
// event total, and CountEvents decides whether the source's records are
// events at all (audit entries are, agent heartbeats are not).
//
// # Assumptions
//
//   - ID is unique across the configured sources.
//   - Timeout > 0; adapters fall back to their own default otherwise.
type Source struct {
	// ID is the unique name of the feed ("forecast", "edr-agents", ...).
	ID string

	// Kind selects the payload decoder.
	Kind SourceKind

	// URL is fetched with an HTTP GET.
	URL string

	// Timeout bounds a single fetch.
	Timeout time.Duration

	// Weight multiplies this source's event counts.
	Weight float64

	// CountEvents marks each record from this source as one event.
	CountEvents bool

	// MaxAge marks records older than now-MaxAge as stale. Zero disables.
	MaxAge time.Duration

	// Headers are added to every request.
	Headers map[string]string

	// BearerToken, when set, is sent as an Authorization header.
	BearerToken string
}

// =============================================================================
// Raw Records
// =============================================================================

// RawSignalRecord is one item emitted by a source before normalization.
//
// Numeric fields are pointers so that "absent" and "zero" stay distinct.
// Each numeric field carries its native scale:
//
//	Confidence  0..1
//	Score       0..100
//	CVSS        0..10
//	Severity    categorical ("critical", "high", "medium", "low")
//
// Records are produced per fetch cycle and never mutated.
type RawSignalRecord struct {
	SourceID    string
	Name        string
	Description string
	Confidence  *float64
	Score       *float64
	CVSS        *float64
	Severity    string
	Count       *int
	Status      string
	Timestamp   time.Time

	// Malformed is set by an adapter when the item failed schema
	// validation. The record still flows through the pipeline so that
	// the anomaly is counted against its source.
	Malformed bool
}

// HasNumeric reports whether any risk-bearing field is present.
func (r RawSignalRecord) HasNumeric() bool {
	return r.Confidence != nil || r.Score != nil || r.CVSS != nil ||
		strings.TrimSpace(r.Severity) != ""
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// =============================================================================
// Normalized Contributions
// =============================================================================

// Provenance records which rule produced a contribution's risk value.
type Provenance string

const (
	ProvenanceConfidence  Provenance = "confidence"
	ProvenanceScore       Provenance = "score/100"
	ProvenanceCVSS        Provenance = "cvss/10"
	ProvenanceSeverity    Provenance = "severity"
	ProvenanceCount       Provenance = "count"
	ProvenanceStatus      Provenance = "status"
	ProvenanceEmpty       Provenance = "empty"
	ProvenanceUnavailable Provenance = "unavailable"
	ProvenanceAnomaly     Provenance = "anomaly"
	ProvenanceExpired     Provenance = "expired"
)

// NormalizedContribution is a signal after conversion to the common scale.
//
// # Description
//
// RiskValue is always finite and within [0, 1]. A stale contribution
// (unavailable source, invalid record, expired record) has RiskValue 0
// and is excluded from the aggregate maximum, so absence can never
// inflate or deflate the computed level.
//
// Count is the raw number of events the record represents (0 when the
// source does not count events or the record is stale). The aggregator
// multiplies it by Weight.
type NormalizedContribution struct {
	SourceID      string
	RiskValue     float64
	Confidence    float64
	HasConfidence bool
	Weight        float64
	Count         int
	Provenance    Provenance
	Reason        string
	IsStale       bool
}

// =============================================================================
// Source Health
// =============================================================================

// SourceStatus is the health of one source for one cycle.
type SourceStatus string

const (
	StatusHealthy  SourceStatus = "healthy"
	StatusDegraded SourceStatus = "degraded"
	StatusOffline  SourceStatus = "offline"
)

// NeedsAttention reports whether the status warrants a corrective action.
func (s SourceStatus) NeedsAttention() bool {
	return s == StatusDegraded || s == StatusOffline
}

// SourceHealth summarizes how a source behaved during one cycle.
type SourceHealth struct {
	SourceID  string
	Kind      SourceKind
	Status    SourceStatus
	Reason    string
	Records   int
	Anomalies int
	Latency   time.Duration
}

// degradedComponentStates are component statuses reported inside a payload
// (agents, models) that mark the whole source as degraded.
var degradedComponentStates = map[string]bool{
	"degraded":  true,
	"offline":   true,
	"error":     true,
	"unhealthy": true,
	"down":      true,
	"failed":    true,
}

// IsDegradedComponent reports whether a component status string reported
// by an upstream payload indicates a broken component.
func IsDegradedComponent(status string) bool {
	return degradedComponentStates[strings.ToLower(strings.TrimSpace(status))]
}
