// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
	"github.com/AleutianAI/riskboard/services/riskengine/risk"
)

// mockWriteAPI records points instead of sending them.
type mockWriteAPI struct {
	points []*write.Point
	err    error
}

func (m *mockWriteAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, point...)
	return nil
}

func (m *mockWriteAPI) WriteRecord(context.Context, ...string) error { return nil }
func (m *mockWriteAPI) EnableBatching()                            {}
func (m *mockWriteAPI) Flush(context.Context) error                { return nil }

var at = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sample() *assessment.Assessment {
	return &assessment.Assessment{
		ID:              "a1",
		GeneratedAt:     at,
		RiskLevel:       risk.RiskHigh,
		Degraded:        true,
		EventTotal:      9,
		MaxRisk:         0.65,
		SourcesDegraded: []string{"audit"},
		Sources: []assessment.SourceReport{
			{ID: "audit", Kind: "audit", Status: "offline"},
			{ID: "threats", Kind: "threat_prediction", Status: "healthy", Records: 4, LatencyMs: 120},
		},
	}
}

func TestPoints(t *testing.T) {
	points := Points(sample())
	require.Len(t, points, 3)

	p := points[0]
	assert.Equal(t, MeasurementAssessment, p.Name())
	assert.Equal(t, at, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "HIGH", tags["risk_level"])
	assert.Equal(t, "true", tags["degraded"])
	assert.Equal(t, "false", tags["blind"])

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(2), fields["level"])
	assert.Equal(t, 0.65, fields["max_risk"])
	assert.Equal(t, int64(1), fields["sources_degraded"])

	assert.Equal(t, MeasurementSource, points[1].Name())
	assert.Equal(t, MeasurementSource, points[2].Name())
}

func TestInfluxSink_Record(t *testing.T) {
	w := &mockWriteAPI{}
	s := NewInfluxSinkWithWriter(w, nil)
	require.NoError(t, s.Record(context.Background(), sample()))
	assert.Len(t, w.points, 3)

	require.NoError(t, s.Record(context.Background(), nil))
	assert.Len(t, w.points, 3)
	assert.NoError(t, s.Check(context.Background()))
	s.Close()
}

func TestInfluxSink_RecordError(t *testing.T) {
	s := NewInfluxSinkWithWriter(&mockWriteAPI{err: errors.New("unreachable")}, nil)
	err := s.Record(context.Background(), sample())
	assert.ErrorContains(t, err, "a1")
}

func TestNewInfluxSink_RequiresLocation(t *testing.T) {
	_, err := NewInfluxSink(InfluxConfig{URL: "http://localhost:8086"}, nil)
	assert.Error(t, err)

	s, err := NewInfluxSink(InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b"}, nil)
	require.NoError(t, err)
	s.Close()
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.Record(context.Background(), sample()))
	s.Close()
}
