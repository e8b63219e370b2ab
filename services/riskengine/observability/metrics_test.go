// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/riskboard/services/riskengine/risk"
)

func TestMetrics_Recording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCycle(OutcomePublished, 200*time.Millisecond)
	m.ObserveCycle(OutcomeSuperseded, 50*time.Millisecond)
	m.ObserveFetch("audit", "offline")
	m.ObserveFetch("audit", "offline")
	m.SetAssessment(risk.RiskHigh, 2)
	m.ManualTrigger("throttled")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues(OutcomePublished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SupersededTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues("audit", "offline")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RiskLevel))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DegradedSources))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ManualTriggersTotal.WithLabelValues("throttled")))

	n, err := testutil.GatherAndCount(reg, "riskboard_engine_cycle_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycle(OutcomeFailed, time.Second)
	m.ObserveFetch("a", "healthy")
	m.SetAssessment(risk.RiskLow, 0)
	m.ManualTrigger("accepted")
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
