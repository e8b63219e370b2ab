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
	"errors"
	"fmt"
	"strings"
)

// AlgorithmVersion is the version of the aggregation rules.
// Increment when making changes that affect computed levels.
const AlgorithmVersion = "1.0"

// Exit codes for the assess command.
const (
	ExitSuccess   = 0 // Risk at or below threshold
	ExitRiskFound = 1 // Risk above threshold
	ExitError     = 2 // Error (bad config, cycle failure)
)

// DefaultExitThreshold is the level above which assess exits non-zero.
const DefaultExitThreshold = RiskHigh

// RiskLevel is the categorical security posture.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var levelOrder = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Levels returns all levels from least to most severe.
func Levels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

// ParseRiskLevel parses a string to RiskLevel. Unknown values map to
// HIGH so that a mistyped threshold never silences an alert.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	case "critical":
		return RiskCritical
	default:
		return RiskHigh
	}
}

// Exceeds returns true if this risk level exceeds the threshold.
func (r RiskLevel) Exceeds(threshold RiskLevel) bool {
	return levelOrder[r] > levelOrder[threshold]
}

// Order returns the numeric order of this risk level.
func (r RiskLevel) Order() int {
	return levelOrder[r]
}

// Color returns the display color for the level as a hex string.
// The mapping is fixed; colors are never set independently of a level.
func (r RiskLevel) Color() string {
	switch r {
	case RiskCritical:
		return "#E74C3C"
	case RiskHigh:
		return "#E67E22"
	case RiskMedium:
		return "#F4D03F"
	default:
		return "#2ECC71"
	}
}

// ====== THRESHOLDS ======

// ErrInvalidThresholds is returned by Thresholds.Validate.
var ErrInvalidThresholds = errors.New("invalid thresholds")

// Rule is one row of the threshold table. A rule matches when any of its
// three conditions holds; conditions compare with >=.
type Rule struct {
	MinRisk       float64 `yaml:"risk" json:"risk" validate:"gte=0,lte=1"`
	MinEvents     float64 `yaml:"events" json:"events" validate:"gte=0"`
	MinConfidence float64 `yaml:"confidence" json:"confidence" validate:"gte=0,lte=1"`
}

// Thresholds is the ordered rule table. CRITICAL is checked first.
type Thresholds struct {
	Critical Rule `yaml:"critical" json:"critical"`
	High     Rule `yaml:"high" json:"high"`
	Medium   Rule `yaml:"medium" json:"medium"`
}

// DefaultThresholds returns the standard cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: Rule{MinRisk: 0.8, MinEvents: 15, MinConfidence: 0.9},
		High:     Rule{MinRisk: 0.6, MinEvents: 8, MinConfidence: 0.7},
		Medium:   Rule{MinRisk: 0.4, MinEvents: 3, MinConfidence: 0.5},
	}
}

// Validate checks that each column is ordered critical >= high >= medium
// and that risk and confidence cut points lie in [0, 1].
func (t Thresholds) Validate() error {
	rows := []struct {
		name string
		r    Rule
	}{{"critical", t.Critical}, {"high", t.High}, {"medium", t.Medium}}

	for _, row := range rows {
		if row.r.MinRisk < 0 || row.r.MinRisk > 1 {
			return fmt.Errorf("%w: %s.risk %.3f outside [0,1]", ErrInvalidThresholds, row.name, row.r.MinRisk)
		}
		if row.r.MinConfidence < 0 || row.r.MinConfidence > 1 {
			return fmt.Errorf("%w: %s.confidence %.3f outside [0,1]", ErrInvalidThresholds, row.name, row.r.MinConfidence)
		}
		if row.r.MinEvents < 0 {
			return fmt.Errorf("%w: %s.events is negative", ErrInvalidThresholds, row.name)
		}
	}
	for i := 1; i < len(rows); i++ {
		hi, lo := rows[i-1], rows[i]
		if hi.r.MinRisk < lo.r.MinRisk || hi.r.MinEvents < lo.r.MinEvents || hi.r.MinConfidence < lo.r.MinConfidence {
			return fmt.Errorf("%w: %s must be >= %s in every column", ErrInvalidThresholds, hi.name, lo.name)
		}
	}
	return nil
}
