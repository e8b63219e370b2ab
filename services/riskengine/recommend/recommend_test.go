// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recommend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

func healthy(id string) signal.SourceHealth {
	return signal.SourceHealth{SourceID: id, Status: signal.StatusHealthy}
}

func TestRecommend_BaseTables(t *testing.T) {
	r := New(nil, 0)
	for _, level := range risk.Levels() {
		t.Run(string(level), func(t *testing.T) {
			actions := r.Recommend(level, []signal.SourceHealth{healthy("a")})
			require.NotEmpty(t, actions)
			assert.LessOrEqual(t, len(actions), DefaultMaxActions)
			for _, a := range actions {
				assert.False(t, a.Corrective)
			}
		})
	}
}

func TestRecommend_CriticalStartsWithEscalation(t *testing.T) {
	actions := New(nil, 0).Recommend(risk.RiskCritical, nil)
	require.GreaterOrEqual(t, len(actions), 2)
	assert.Contains(t, strings.ToLower(actions[0].Text), "escalate")
	assert.Contains(t, strings.ToLower(actions[1].Text), "emergency response protocol")
}

func TestRecommend_LowIsRoutineOnly(t *testing.T) {
	for _, a := range New(nil, 0).Recommend(risk.RiskLow, nil) {
		assert.True(t, a.IsRoutine, a.Text)
	}
}

func TestRecommend_DegradedModelFirst(t *testing.T) {
	health := []signal.SourceHealth{
		healthy("forecast"),
		{SourceID: "models", Status: signal.StatusDegraded},
	}
	actions := New(nil, 0).Recommend(risk.RiskMedium, health)
	require.NotEmpty(t, actions)
	assert.True(t, actions[0].Corrective)
	assert.Equal(t, "Investigate 1 degraded source(s): models", actions[0].Text)
	assert.Equal(t, "Review flagged monitoring areas today", actions[1].Text)
}

func TestRecommend_OfflineBeforeDegraded(t *testing.T) {
	health := []signal.SourceHealth{
		{SourceID: "models", Status: signal.StatusDegraded},
		{SourceID: "threats", Status: signal.StatusOffline},
		{SourceID: "audit", Status: signal.StatusOffline},
	}
	actions := New(nil, 0).Recommend(risk.RiskHigh, health)
	require.GreaterOrEqual(t, len(actions), 3)
	assert.Equal(t, "Restart 2 offline source(s): audit, threats", actions[0].Text)
	assert.Equal(t, "Investigate 1 degraded source(s): models", actions[1].Text)
	assert.False(t, actions[2].Corrective)
}

func TestRecommend_DedupAndBound(t *testing.T) {
	table := Table{
		risk.RiskHigh: {
			{Text: "Do the thing"},
			{Text: "do the thing "},
			{Text: "Another"},
			{Text: "Third"},
		},
	}
	actions := New(table, 2).Recommend(risk.RiskHigh, nil)
	require.Len(t, actions, 2)
	assert.Equal(t, "Do the thing", actions[0].Text)
	assert.Equal(t, "Another", actions[1].Text)
}

func TestRecommend_NeverEmpty(t *testing.T) {
	actions := New(Table{}, 0).Recommend(risk.RiskHigh, nil)
	require.Len(t, actions, 1)
	assert.True(t, actions[0].IsRoutine)
}

func TestDisplay(t *testing.T) {
	actions := New(nil, 0).Recommend(risk.RiskCritical, nil)
	shown := Display(actions, 0)
	require.Len(t, shown, DefaultDisplayLimit)
	assert.Equal(t, actions[:3], shown)

	shown[0].Text = "mutated"
	assert.NotEqual(t, "mutated", actions[0].Text)

	assert.Len(t, Display(actions[:1], 3), 1)
	assert.Empty(t, Display(nil, 3))
}
