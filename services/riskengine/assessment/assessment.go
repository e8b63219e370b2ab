// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assessment defines the immutable record published once per
// refresh cycle and the pure function that assembles it.
package assessment

import (
	"encoding/json"
	"slices"
	"sort"
	"time"

	"github.com/AleutianAI/riskboard/services/riskengine/classify"
	"github.com/AleutianAI/riskboard/services/riskengine/recommend"
	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// APIVersion is the JSON output API version.
const APIVersion = "1.0"

// SourceReport is the per-source summary carried by an Assessment.
type SourceReport struct {
	ID        string              `json:"id"`
	Kind      signal.SourceKind   `json:"kind"`
	Status    signal.SourceStatus `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	Records   int                 `json:"records"`
	Anomalies int                 `json:"anomalies"`
	LatencyMs int64               `json:"latency_ms"`
}

// Assessment is the published outcome of one cycle.
//
// # Description
//
// An Assessment is never modified after Build returns it. A new cycle
// produces a new value that replaces the previous one wholesale.
//
// The risk color has no field. It is derived from RiskLevel by Color and
// written into the JSON form by MarshalJSON, so the two cannot disagree.
//
// # Thread Safety
//
// Safe to share between goroutines as long as no caller mutates the
// slices. Use Clone before handing a copy to code that might.
type Assessment struct {
	APIVersion       string                    `json:"api_version"`
	AlgorithmVersion string                    `json:"algorithm_version"`
	ID               string                    `json:"id"`
	CycleID          string                    `json:"cycle_id"`
	GeneratedAt      time.Time                 `json:"generated_at"`
	RiskLevel        risk.RiskLevel            `json:"risk_level"`
	MonitoringAreas  []classify.MonitoringArea `json:"monitoring_areas"`
	Actions          []recommend.Action        `json:"recommended_actions"`
	DisplayedActions []recommend.Action        `json:"displayed_actions"`
	SourcesUsed      []string                  `json:"sources_used"`
	SourcesDegraded  []string                  `json:"sources_degraded"`
	Sources          []SourceReport            `json:"sources"`
	Degraded         bool                      `json:"degraded"`
	Blind            bool                      `json:"blind"`
	EventTotal       float64                   `json:"event_total"`
	MaxRisk          float64                   `json:"max_risk"`
	MaxConfidence    float64                   `json:"max_confidence"`
	MatchedRule      string                    `json:"matched_rule,omitempty"`
}

// Color returns the display color for the assessment's level.
func (a *Assessment) Color() string {
	return a.RiskLevel.Color()
}

// MarshalJSON adds the derived risk_color field.
func (a Assessment) MarshalJSON() ([]byte, error) {
	type plain Assessment
	return json.Marshal(struct {
		plain
		RiskColor string `json:"risk_color"`
	}{plain: plain(a), RiskColor: a.RiskLevel.Color()})
}

// Clone returns a deep copy.
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	c := *a
	c.MonitoringAreas = slices.Clone(a.MonitoringAreas)
	c.Actions = slices.Clone(a.Actions)
	c.DisplayedActions = slices.Clone(a.DisplayedActions)
	c.SourcesUsed = slices.Clone(a.SourcesUsed)
	c.SourcesDegraded = slices.Clone(a.SourcesDegraded)
	c.Sources = slices.Clone(a.Sources)
	return &c
}

// Input holds everything Build needs for one cycle.
type Input struct {
	ID           string
	CycleID      string
	GeneratedAt  time.Time
	Evaluation   risk.Evaluation
	Areas        []classify.MonitoringArea
	Actions      []recommend.Action
	DisplayLimit int
	Health       []signal.SourceHealth
}

// Build assembles an Assessment. It performs no I/O and reads no clock.
//
// # Description
//
// SourcesUsed lists every source that took part in the cycle, whether it
// contributed or was stale. SourcesDegraded lists the ones whose status
// was degraded or offline. The assessment is Blind when no fresh signal
// existed at all (every contribution stale or every source offline) and
// Degraded when it is Blind or any source was not healthy.
func Build(in Input) *Assessment {
	a := &Assessment{
		APIVersion:       APIVersion,
		AlgorithmVersion: risk.AlgorithmVersion,
		ID:               in.ID,
		CycleID:          in.CycleID,
		GeneratedAt:      in.GeneratedAt.UTC(),
		RiskLevel:        in.Evaluation.Level,
		MonitoringAreas:  append([]classify.MonitoringArea(nil), in.Areas...),
		Actions:          append([]recommend.Action(nil), in.Actions...),
		DisplayedActions: recommend.Display(in.Actions, in.DisplayLimit),
		SourcesUsed:      make([]string, 0, len(in.Health)),
		SourcesDegraded:  make([]string, 0),
		Sources:          make([]SourceReport, 0, len(in.Health)),
		EventTotal:       in.Evaluation.EventTotal,
		MaxRisk:          in.Evaluation.MaxRisk,
		MaxConfidence:    in.Evaluation.MaxConfidence,
		MatchedRule:      in.Evaluation.MatchedRule,
	}
	if a.RiskLevel == "" {
		a.RiskLevel = risk.RiskLow
	}

	health := append([]signal.SourceHealth(nil), in.Health...)
	sort.Slice(health, func(i, j int) bool { return health[i].SourceID < health[j].SourceID })

	offline := 0
	for _, h := range health {
		a.SourcesUsed = append(a.SourcesUsed, h.SourceID)
		if h.Status.NeedsAttention() {
			a.SourcesDegraded = append(a.SourcesDegraded, h.SourceID)
		}
		if h.Status == signal.StatusOffline {
			offline++
		}
		a.Sources = append(a.Sources, SourceReport{
			ID:        h.SourceID,
			Kind:      h.Kind,
			Status:    h.Status,
			Reason:    h.Reason,
			Records:   h.Records,
			Anomalies: h.Anomalies,
			LatencyMs: h.Latency.Milliseconds(),
		})
	}

	a.Blind = in.Evaluation.AllStale || (len(health) > 0 && offline == len(health))
	if a.Blind {
		a.RiskLevel = risk.RiskLow
	}
	a.Degraded = a.Blind || len(a.SourcesDegraded) > 0
	return a
}
