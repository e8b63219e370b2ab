// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package risk

import (
	"math"
	"sort"

	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// EventCounts maps a source ID to its weighted event count for one cycle.
type EventCounts map[string]float64

// Total returns the sum of all weighted counts. Keys are summed in sorted
// order so the result does not depend on map iteration.
func (e EventCounts) Total() float64 {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total float64
	for _, k := range keys {
		if v := e[k]; v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			total += v
		}
	}
	return total
}

// CountEvents folds fresh contributions into weighted per-source counts.
// Stale contributions never count.
func CountEvents(contributions []signal.NormalizedContribution) EventCounts {
	counts := make(EventCounts)
	for _, c := range contributions {
		if c.IsStale || c.Count <= 0 {
			continue
		}
		w := c.Weight
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		counts[c.SourceID] += w * float64(c.Count)
	}
	return counts
}

// Evaluation is the outcome of aggregating one cycle.
type Evaluation struct {
	Level         RiskLevel
	MaxRisk       float64
	MaxConfidence float64
	EventTotal    float64

	// MatchedRule names the condition that fired, e.g. "critical:confidence".
	// Empty for LOW.
	MatchedRule string

	Fresh    int
	Stale    int
	AllStale bool
}

// Aggregate derives the categorical level from contributions and event
// counts.
//
// # Description
//
// Rules are evaluated in order CRITICAL, HIGH, MEDIUM and the first match
// wins. A rule matches when max(risk) >= MinRisk, or events >= MinEvents,
// or max(confidence) >= MinConfidence. Otherwise the level is LOW.
//
// Maxima are taken over fresh contributions only. When every contribution
// is stale the level is LOW regardless of event counts and AllStale is
// set; the caller marks the assessment degraded.
//
// # Assumptions
//
//   - t has passed Validate. Aggregate does not re-check ordering.
//
// # Limitations
//
//   - No hysteresis. The result is a pure function of the inputs, so it is
//     deterministic, independent of input order, and monotonic in each
//     contribution's risk value.
func Aggregate(t Thresholds, contributions []signal.NormalizedContribution, events EventCounts) Evaluation {
	var ev Evaluation
	for _, c := range contributions {
		if c.IsStale {
			ev.Stale++
			continue
		}
		ev.Fresh++
		if r := safe(c.RiskValue); r > ev.MaxRisk {
			ev.MaxRisk = r
		}
		if c.HasConfidence {
			if conf := safe(c.Confidence); conf > ev.MaxConfidence {
				ev.MaxConfidence = conf
			}
		}
	}
	ev.EventTotal = events.Total()

	if ev.Fresh == 0 {
		ev.AllStale = true
		ev.Level = RiskLow
		return ev
	}

	for _, row := range []struct {
		level RiskLevel
		name  string
		rule  Rule
	}{
		{RiskCritical, "critical", t.Critical},
		{RiskHigh, "high", t.High},
		{RiskMedium, "medium", t.Medium},
	} {
		if cond := match(row.rule, ev); cond != "" {
			ev.Level = row.level
			ev.MatchedRule = row.name + ":" + cond
			return ev
		}
	}
	ev.Level = RiskLow
	return ev
}

func match(r Rule, ev Evaluation) string {
	switch {
	case ev.MaxRisk >= r.MinRisk:
		return "risk"
	case ev.EventTotal >= r.MinEvents:
		return "events"
	case ev.MaxConfidence >= r.MinConfidence:
		return "confidence"
	default:
		return ""
	}
}

// safe clamps v to [0, 1], mapping non-finite values to 0.
func safe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}
