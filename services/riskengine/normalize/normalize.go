// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize converts raw signal records from heterogeneous scales
// into risk contributions on the common [0, 1] scale.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// ErrAnomaly marks a record that could not be normalized. The record
// becomes a stale zero contribution; the cycle continues.
var ErrAnomaly = errors.New("normalization anomaly")

// severityRisk maps categorical severities to risk values.
var severityRisk = map[string]float64{
	"critical": 0.9,
	"high":     0.7,
	"medium":   0.4,
	"low":      0.15,
}

// SeverityRisk returns the risk value for a categorical severity. Unknown
// severities map to 0.
func SeverityRisk(severity string) float64 {
	return severityRisk[strings.ToLower(strings.TrimSpace(severity))]
}

// Normalizer converts records for one engine. The zero value is usable
// and reads the wall clock.
//
// Thread Safety: Normalizer holds no mutable state and is safe for
// concurrent use.
type Normalizer struct {
	// Now returns the current time. nil means time.Now.
	Now func() time.Time
}

// New creates a Normalizer with the given clock.
func New(now func() time.Time) *Normalizer {
	return &Normalizer{Now: now}
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

// Normalize converts one record from src into a contribution.
//
// # Description
//
// Every numeric field present is converted to the [0, 1] scale and the
// highest candidate wins:
//
//	confidence  0..1 as is, 1..100 divided by 100
//	score       divided by 100
//	cvss        divided by 10
//	severity    critical 0.9, high 0.7, medium 0.4, low 0.15, unknown 0
//
// A record that carries only a count or a status is a valid contribution
// with risk 0 (it still counts as an event where the source counts events).
//
// # Outputs
//
//   - signal.NormalizedContribution: always returned.
//   - error: wraps ErrAnomaly when the record was malformed, carried a
//     non-finite number or a confidence above 100, or had no usable field. The contribution is then
//     stale with risk 0.
//
// # Limitations
//
//   - Records older than src.MaxAge are returned stale without an error.
func (n *Normalizer) Normalize(src signal.Source, rec signal.RawSignalRecord) (signal.NormalizedContribution, error) {
	c := signal.NormalizedContribution{
		SourceID: src.ID,
		Weight:   src.Weight,
	}

	if rec.Malformed {
		return anomaly(c, "record failed schema validation")
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"confidence", rec.Confidence},
		{"score", rec.Score},
		{"cvss", rec.CVSS},
	} {
		if f.v != nil && !finite(*f.v) {
			return anomaly(c, fmt.Sprintf("non-finite %s", f.name))
		}
	}
	if rec.Confidence != nil {
		if _, ok := confidenceScale(*rec.Confidence); !ok {
			return anomaly(c, fmt.Sprintf("confidence %g out of range", *rec.Confidence))
		}
	}

	best, prov, ok := candidate(rec)
	if !ok {
		switch {
		case rec.Count != nil:
			prov = signal.ProvenanceCount
		case strings.TrimSpace(rec.Status) != "":
			prov = signal.ProvenanceStatus
		default:
			return anomaly(c, "no numeric field")
		}
	}

	if src.MaxAge > 0 && !rec.Timestamp.IsZero() && rec.Timestamp.Before(n.now().Add(-src.MaxAge)) {
		c.Provenance = signal.ProvenanceExpired
		c.Reason = fmt.Sprintf("older than %s", src.MaxAge)
		c.IsStale = true
		return c, nil
	}

	c.RiskValue = best
	c.Provenance = prov
	if rec.Confidence != nil {
		c.Confidence, _ = confidenceScale(*rec.Confidence)
		c.HasConfidence = true
	}
	if src.CountEvents {
		c.Count = 1
		if rec.Count != nil {
			c.Count = max(*rec.Count, 0)
		}
	}
	return c, nil
}

// Unavailable returns the contribution that stands in for a source that
// produced nothing this cycle.
func Unavailable(src signal.Source, reason string) signal.NormalizedContribution {
	return signal.NormalizedContribution{
		SourceID:   src.ID,
		Weight:     src.Weight,
		Provenance: signal.ProvenanceUnavailable,
		Reason:     reason,
		IsStale:    true,
	}
}

// RiskValue returns the normalized risk of a record without freshness or
// event accounting. Anomalous records score 0.
func RiskValue(rec signal.RawSignalRecord) float64 {
	if rec.Malformed {
		return 0
	}
	v, _, ok := candidate(rec)
	if !ok {
		return 0
	}
	return v
}

// candidate returns the highest finite risk candidate in rec.
func candidate(rec signal.RawSignalRecord) (float64, signal.Provenance, bool) {
	var (
		best  float64
		prov  signal.Provenance
		found bool
	)
	consider := func(v float64, p signal.Provenance) {
		if !finite(v) {
			return
		}
		v = clamp(v)
		if !found || v > best {
			best, prov, found = v, p, true
		}
	}
	if rec.Confidence != nil {
		if v, ok := confidenceScale(*rec.Confidence); ok {
			consider(v, signal.ProvenanceConfidence)
		}
	}
	if rec.Score != nil {
		consider(*rec.Score/100, signal.ProvenanceScore)
	}
	if rec.CVSS != nil {
		consider(*rec.CVSS/10, signal.ProvenanceCVSS)
	}
	if strings.TrimSpace(rec.Severity) != "" {
		consider(SeverityRisk(rec.Severity), signal.ProvenanceSeverity)
	}
	return best, prov, found
}

func anomaly(c signal.NormalizedContribution, reason string) (signal.NormalizedContribution, error) {
	c.RiskValue = 0
	c.Provenance = signal.ProvenanceAnomaly
	c.Reason = reason
	c.IsStale = true
	return c, fmt.Errorf("%w: %s", ErrAnomaly, reason)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// confidenceScale reads v as a 0..1 fraction, or as a 0..100 percentage
// when it is above 1. Values above 100 are not on either scale.
func confidenceScale(v float64) (float64, bool) {
	switch {
	case !finite(v) || v > 100:
		return 0, false
	case v > 1:
		return v / 100, true
	default:
		return clamp(v), true
	}
}

func clamp(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
