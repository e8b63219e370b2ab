// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testSource() signal.Source {
	return signal.Source{ID: "feed", Kind: signal.KindThreatPrediction, Weight: 2, CountEvents: true}
}

func TestNormalize_Scales(t *testing.T) {
	n := New(func() time.Time { return fixedNow })

	tests := []struct {
		name     string
		rec      signal.RawSignalRecord
		wantRisk float64
		wantProv signal.Provenance
	}{
		{"confidence passes through", signal.RawSignalRecord{Confidence: signal.Float(0.42)}, 0.42, signal.ProvenanceConfidence},
		{"confidence percentage", signal.RawSignalRecord{Confidence: signal.Float(50)}, 0.5, signal.ProvenanceConfidence},
		{"confidence percentage upper bound", signal.RawSignalRecord{Confidence: signal.Float(100)}, 1, signal.ProvenanceConfidence},
		{"confidence exactly one", signal.RawSignalRecord{Confidence: signal.Float(1)}, 1, signal.ProvenanceConfidence},
		{"negative clamped to zero", signal.RawSignalRecord{Confidence: signal.Float(-0.3)}, 0, signal.ProvenanceConfidence},
		{"score divided by 100", signal.RawSignalRecord{Score: signal.Float(65)}, 0.65, signal.ProvenanceScore},
		{"cvss divided by 10", signal.RawSignalRecord{CVSS: signal.Float(9.8)}, 0.98, signal.ProvenanceCVSS},
		{"severity critical", signal.RawSignalRecord{Severity: "Critical"}, 0.9, signal.ProvenanceSeverity},
		{"severity low", signal.RawSignalRecord{Severity: "low"}, 0.15, signal.ProvenanceSeverity},
		{"severity unknown", signal.RawSignalRecord{Severity: "weird"}, 0, signal.ProvenanceSeverity},
		{"max candidate wins", signal.RawSignalRecord{Confidence: signal.Float(0.3), Score: signal.Float(80)}, 0.8, signal.ProvenanceScore},
		{"count only", signal.RawSignalRecord{Count: signal.Int(3)}, 0, signal.ProvenanceCount},
		{"status only", signal.RawSignalRecord{Status: "active"}, 0, signal.ProvenanceStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := n.Normalize(testSource(), tt.rec)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantRisk, c.RiskValue, 1e-9)
			assert.Equal(t, tt.wantProv, c.Provenance)
			assert.False(t, c.IsStale)
			assert.Equal(t, "feed", c.SourceID)
			assert.Equal(t, 2.0, c.Weight)
		})
	}
}

func TestNormalize_Anomalies(t *testing.T) {
	n := New(func() time.Time { return fixedNow })

	tests := []struct {
		name string
		rec  signal.RawSignalRecord
	}{
		{"NaN confidence", signal.RawSignalRecord{Confidence: signal.Float(math.NaN())}},
		{"+Inf score", signal.RawSignalRecord{Score: signal.Float(math.Inf(1))}},
		{"-Inf cvss", signal.RawSignalRecord{CVSS: signal.Float(math.Inf(-1))}},
		{"NaN alongside valid", signal.RawSignalRecord{Confidence: signal.Float(0.9), Score: signal.Float(math.NaN())}},
		{"missing everything", signal.RawSignalRecord{Description: "text only"}},
		{"malformed", signal.RawSignalRecord{Malformed: true, Confidence: signal.Float(0.99)}},
		{"confidence above 100", signal.RawSignalRecord{Confidence: signal.Float(150)}},
		{"confidence above 100 with score", signal.RawSignalRecord{Confidence: signal.Float(250), Score: signal.Float(20)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := n.Normalize(testSource(), tt.rec)
			require.ErrorIs(t, err, ErrAnomaly)
			assert.Equal(t, 0.0, c.RiskValue)
			assert.True(t, c.IsStale)
			assert.Equal(t, signal.ProvenanceAnomaly, c.Provenance)
			assert.Zero(t, c.Count)
		})
	}
}

func TestNormalize_Freshness(t *testing.T) {
	n := New(func() time.Time { return fixedNow })
	src := testSource()
	src.MaxAge = time.Hour

	old := signal.RawSignalRecord{Confidence: signal.Float(0.95), Timestamp: fixedNow.Add(-2 * time.Hour)}
	c, err := n.Normalize(src, old)
	require.NoError(t, err)
	assert.True(t, c.IsStale)
	assert.Equal(t, 0.0, c.RiskValue)
	assert.Equal(t, signal.ProvenanceExpired, c.Provenance)
	assert.Zero(t, c.Count)

	recent := signal.RawSignalRecord{Confidence: signal.Float(0.95), Timestamp: fixedNow.Add(-time.Minute)}
	c, err = n.Normalize(src, recent)
	require.NoError(t, err)
	assert.False(t, c.IsStale)
	assert.InDelta(t, 0.95, c.RiskValue, 1e-9)

	untimed := signal.RawSignalRecord{Confidence: signal.Float(0.95)}
	c, err = n.Normalize(src, untimed)
	require.NoError(t, err)
	assert.False(t, c.IsStale)
}

func TestNormalize_EventCounting(t *testing.T) {
	n := New(nil)

	c, err := n.Normalize(testSource(), signal.RawSignalRecord{Status: "login"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)

	c, err = n.Normalize(testSource(), signal.RawSignalRecord{Count: signal.Int(7)})
	require.NoError(t, err)
	assert.Equal(t, 7, c.Count)

	c, err = n.Normalize(testSource(), signal.RawSignalRecord{Count: signal.Int(-4)})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count)

	src := testSource()
	src.CountEvents = false
	c, err = n.Normalize(src, signal.RawSignalRecord{Count: signal.Int(7)})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count)
}

func TestNormalize_ConfidenceSignal(t *testing.T) {
	n := New(nil)

	c, err := n.Normalize(testSource(), signal.RawSignalRecord{Confidence: signal.Float(0.7), Score: signal.Float(10)})
	require.NoError(t, err)
	assert.True(t, c.HasConfidence)
	assert.InDelta(t, 0.7, c.Confidence, 1e-9)

	c, err = n.Normalize(testSource(), signal.RawSignalRecord{Score: signal.Float(95)})
	require.NoError(t, err)
	assert.False(t, c.HasConfidence)
}

func TestNormalize_PercentageConfidenceAggregatesAsFraction(t *testing.T) {
	n := New(nil)

	c, err := n.Normalize(testSource(), signal.RawSignalRecord{Confidence: signal.Float(50)})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c.RiskValue, 1e-9)
	assert.InDelta(t, 0.5, c.Confidence, 1e-9)
	assert.True(t, c.HasConfidence)
	assert.False(t, c.IsStale)

	contribs := []signal.NormalizedContribution{c}
	ev := risk.Aggregate(risk.DefaultThresholds(), contribs, risk.CountEvents(contribs))
	assert.Equal(t, risk.RiskMedium, ev.Level)
}

func TestUnavailable(t *testing.T) {
	c := Unavailable(testSource(), "timeout")
	assert.Equal(t, 0.0, c.RiskValue)
	assert.True(t, c.IsStale)
	assert.Equal(t, signal.ProvenanceUnavailable, c.Provenance)
	assert.Equal(t, "timeout", c.Reason)
}

func TestRiskValue(t *testing.T) {
	assert.InDelta(t, 0.7, RiskValue(signal.RawSignalRecord{Severity: "high"}), 1e-9)
	assert.Equal(t, 0.0, RiskValue(signal.RawSignalRecord{Malformed: true, Severity: "high"}))
	assert.Equal(t, 0.0, RiskValue(signal.RawSignalRecord{}))
	assert.Equal(t, 0.0, RiskValue(signal.RawSignalRecord{Score: signal.Float(math.NaN())}))
}
