// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/services/riskengine/normalize"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

func newTestClassifier() *Classifier {
	return New(DefaultBands(), DefaultMaxAreas, normalize.RiskValue)
}

func rec(desc string, conf float64) signal.RawSignalRecord {
	return signal.RawSignalRecord{SourceID: "threats", Description: desc, Confidence: signal.Float(conf)}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"Suspicious PowerShell execution", CategoryEndpoint},
		{"encoded command line", CategoryEndpoint},
		{"Failed login burst", CategoryIdentity},
		{"Authentication anomaly", CategoryIdentity},
		{"Unusual network traffic to TOR", CategoryNetwork},
		{"SQL injection attempt on /search", CategoryWebApp},
		{"Exploit kit landing page", CategoryVulnerability},
		{"Unpatched host vulnerable to CVE-2024-3094", CategoryVulnerability},
		{"cve-2021-44228 scan attempt", CategoryVulnerability},
		{"Something else entirely", CategoryGeneral},
		{"", CategoryGeneral},
		// Earlier rules win.
		{"PowerShell login script", CategoryEndpoint},
		{"auth traffic spike", CategoryIdentity},
		// Keywords must start a token.
		{"unauthorized", CategoryGeneral},
		// Generic stems match whole tokens only.
		{"SQL injection in order processing", CategoryWebApp},
		{"Quarterly security webinar", CategoryGeneral},
		{"Unsigned process spawned", CategoryEndpoint},
		{"Defacement of public web portal", CategoryWebApp},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.desc))
		})
	}
}

func TestBands(t *testing.T) {
	b := DefaultBands()
	assert.Equal(t, BandHigh, b.Band(0.16))
	assert.Equal(t, BandMedium, b.Band(0.15))
	assert.Equal(t, BandMedium, b.Band(0.09))
	assert.Equal(t, BandLow, b.Band(0.08))
	assert.Equal(t, BandLow, b.Band(0))
}

func TestClassify_SortedAndLimited(t *testing.T) {
	records := []signal.RawSignalRecord{
		rec("Failed login burst", 0.3),
		rec("PowerShell download cradle", 0.9),
		rec("DNS tunneling network traffic", 0.5),
		rec("SQL injection attempt", 0.1),
		rec("Generic anomaly", 0.05),
		rec("Exploit attempt", 0.7),
	}
	areas := newTestClassifier().Classify(records)
	require.Len(t, areas, 4)
	assert.Equal(t, CategoryEndpoint, areas[0].Category)
	assert.Equal(t, CategoryVulnerability, areas[1].Category)
	assert.Equal(t, CategoryNetwork, areas[2].Category)
	assert.Equal(t, CategoryIdentity, areas[3].Category)
	for i := 1; i < len(areas); i++ {
		assert.GreaterOrEqual(t, areas[i-1].RiskValue, areas[i].RiskValue)
	}
	for _, a := range areas {
		assert.False(t, a.Synthetic)
		assert.Equal(t, BandHigh, a.ConfidenceBand)
	}
}

func TestClassify_DuplicateRecords(t *testing.T) {
	records := []signal.RawSignalRecord{
		rec("Failed login burst", 0.3),
		rec("Failed login burst", 0.3),
		rec("failed LOGIN burst", 0.6),
	}
	areas := newTestClassifier().Classify(records)
	require.Len(t, areas, 1)
	assert.InDelta(t, 0.6, areas[0].RiskValue, 1e-9)
}

func TestClassify_NoRecordsGivesSyntheticBaseline(t *testing.T) {
	for _, in := range [][]signal.RawSignalRecord{
		nil,
		{{Description: "   "}},
		{{Description: "bad", Malformed: true}},
	} {
		areas := newTestClassifier().Classify(in)
		require.NotEmpty(t, areas)
		assert.LessOrEqual(t, len(areas), DefaultMaxAreas)
		for _, a := range areas {
			assert.True(t, a.Synthetic)
		}
	}
}

func TestClassify_NeverExceedsMax(t *testing.T) {
	var records []signal.RawSignalRecord
	for i := 0; i < 50; i++ {
		records = append(records, rec(fmt.Sprintf("event %d", i), float64(i)/50))
	}
	c := New(DefaultBands(), 2, normalize.RiskValue)
	assert.Len(t, c.Classify(records), 2)
	assert.Len(t, c.Classify(nil), 2)
}

func TestNew_ClampsMaxAreas(t *testing.T) {
	var records []signal.RawSignalRecord
	for i := 0; i < 8; i++ {
		records = append(records, rec(fmt.Sprintf("event %d", i), 0.5+float64(i)/100))
	}
	for _, limit := range []int{0, -1, 10} {
		c := New(DefaultBands(), limit, normalize.RiskValue)
		assert.Equal(t, DefaultMaxAreas, c.MaxAreas)
		assert.Len(t, c.Classify(records), DefaultMaxAreas)
	}

	wide := &Classifier{Bands: DefaultBands(), MaxAreas: 10, Risk: normalize.RiskValue}
	assert.Len(t, wide.Classify(records), DefaultMaxAreas)
}

func TestClassify_Deterministic(t *testing.T) {
	records := []signal.RawSignalRecord{
		rec("b event", 0.2), rec("a event", 0.2), rec("c login", 0.2),
	}
	first := newTestClassifier().Classify(records)
	reversed := []signal.RawSignalRecord{records[2], records[1], records[0]}
	assert.Equal(t, first, newTestClassifier().Classify(reversed))
	assert.Equal(t, "a event", first[0].Description)
}
