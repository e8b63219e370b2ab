// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recommend maps a risk level and the health of each source to an
// ordered list of actions for the analyst.
package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// Limits.
const (
	DefaultMaxActions   = 8
	DefaultDisplayLimit = 3
)

// Action is one recommended step.
type Action struct {
	Text      string `json:"text"`
	IsRoutine bool   `json:"is_routine"`

	// Corrective marks actions derived from source health rather than
	// from the risk level.
	Corrective bool `json:"corrective,omitempty"`
}

// Table maps each level to its base actions, most urgent first.
type Table map[risk.RiskLevel][]Action

// DefaultTable returns the standard action table.
func DefaultTable() Table {
	return Table{
		risk.RiskCritical: {
			{Text: "Escalate to incident response team immediately"},
			{Text: "Activate emergency response protocol"},
			{Text: "Isolate affected hosts and accounts"},
			{Text: "Notify security leadership"},
			{Text: "Preserve logs and forensic evidence"},
		},
		risk.RiskHigh: {
			{Text: "Investigate top monitoring areas within the hour"},
			{Text: "Increase monitoring frequency on affected systems"},
			{Text: "Review recent authentication and privilege changes"},
			{Text: "Prepare incident response team for possible escalation"},
		},
		risk.RiskMedium: {
			{Text: "Review flagged monitoring areas today"},
			{Text: "Verify detection rules for listed categories"},
			{Text: "Continue routine monitoring", IsRoutine: true},
		},
		risk.RiskLow: {
			{Text: "Continue routine monitoring", IsRoutine: true},
			{Text: "Review weekly security summary", IsRoutine: true},
			{Text: "Keep detection models and signatures up to date", IsRoutine: true},
		},
	}
}

// Recommender produces action lists.
//
// Thread Safety: immutable after construction; safe for concurrent use.
type Recommender struct {
	table Table
	max   int
}

// New creates a Recommender. A nil table selects DefaultTable and
// maxActions <= 0 selects DefaultMaxActions.
func New(table Table, maxActions int) *Recommender {
	if table == nil {
		table = DefaultTable()
	}
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	return &Recommender{table: table, max: maxActions}
}

// Recommend returns the action list for level and health.
//
// # Description
//
// Corrective actions come first: one for offline sources, then one for
// degraded sources, each naming the affected source IDs in sorted order.
// The level's base actions follow. The list is deduplicated by text,
// bounded by the configured maximum, and never empty.
//
// # Inputs
//
//   - level: The aggregated risk level. Unknown levels use the LOW table.
//   - health: Per-source health for the cycle. May be nil.
//
// # Outputs
//
//   - []Action: Ordered most urgent first.
func (r *Recommender) Recommend(level risk.RiskLevel, health []signal.SourceHealth) []Action {
	var offline, degraded []string
	for _, h := range health {
		switch h.Status {
		case signal.StatusOffline:
			offline = append(offline, h.SourceID)
		case signal.StatusDegraded:
			degraded = append(degraded, h.SourceID)
		}
	}
	sort.Strings(offline)
	sort.Strings(degraded)

	actions := make([]Action, 0, r.max)
	seen := make(map[string]bool)
	add := func(a Action) {
		key := strings.ToLower(strings.TrimSpace(a.Text))
		if key == "" || seen[key] || len(actions) >= r.max {
			return
		}
		seen[key] = true
		actions = append(actions, a)
	}

	if len(offline) > 0 {
		add(Action{
			Text:       fmt.Sprintf("Restart %d offline source(s): %s", len(offline), strings.Join(offline, ", ")),
			Corrective: true,
		})
	}
	if len(degraded) > 0 {
		add(Action{
			Text:       fmt.Sprintf("Investigate %d degraded source(s): %s", len(degraded), strings.Join(degraded, ", ")),
			Corrective: true,
		})
	}

	base, ok := r.table[level]
	if !ok {
		base = r.table[risk.RiskLow]
	}
	for _, a := range base {
		add(a)
	}

	if len(actions) == 0 {
		actions = append(actions, Action{Text: "Continue routine monitoring", IsRoutine: true})
	}
	return actions
}

// Display returns the first limit actions. limit <= 0 selects
// DefaultDisplayLimit. The returned slice is a copy.
func Display(actions []Action, limit int) []Action {
	if limit <= 0 {
		limit = DefaultDisplayLimit
	}
	if len(actions) < limit {
		limit = len(actions)
	}
	out := make([]Action, limit)
	copy(out, actions[:limit])
	return out
}
