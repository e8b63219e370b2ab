// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify turns raw signal records into the short list of
// "areas to monitor" shown next to the headline risk level.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// =============================================================================
// Types
// =============================================================================

// Band is the coarse confidence of a monitoring area.
type Band string

const (
	BandHigh   Band = "High"
	BandMedium Band = "Medium"
	BandLow    Band = "Low"
)

// Categories.
const (
	CategoryEndpoint      = "Endpoint Security"
	CategoryIdentity      = "Identity & Access"
	CategoryNetwork       = "Network Monitoring"
	CategoryWebApp        = "Web Application Security"
	CategoryVulnerability = "Vulnerability Management"
	CategoryGeneral       = "General Security"
)

// DefaultMaxAreas is the default limit on returned areas. It is also the
// largest limit a Classifier accepts.
const DefaultMaxAreas = 4

// MonitoringArea is one topical item to watch.
type MonitoringArea struct {
	Category       string  `json:"category"`
	Description    string  `json:"description"`
	ConfidenceBand Band    `json:"confidence_band"`
	Detail         string  `json:"detail"`
	RiskValue      float64 `json:"risk_value"`
	SourceID       string  `json:"source_id,omitempty"`

	// Synthetic marks baseline placeholders returned when nothing real
	// was classifiable.
	Synthetic bool `json:"synthetic"`
}

// Bands holds the band cut points. Both compare with strict >.
type Bands struct {
	High   float64 `yaml:"high" json:"high" validate:"gte=0,lte=1"`
	Medium float64 `yaml:"medium" json:"medium" validate:"gte=0,lte=1"`
}

// DefaultBands returns the standard cut points. They are looser than the
// aggregator's thresholds so that analysts see more items.
func DefaultBands() Bands {
	return Bands{High: 0.15, Medium: 0.08}
}

// Band returns the band for a normalized risk value.
func (b Bands) Band(v float64) Band {
	switch {
	case v > b.High:
		return BandHigh
	case v > b.Medium:
		return BandMedium
	default:
		return BandLow
	}
}

// RiskFunc returns the normalized risk of a record.
type RiskFunc func(signal.RawSignalRecord) float64

// =============================================================================
// Rules
// =============================================================================

type rule struct {
	category string
	keywords []string // match a token prefix
	words    []string // match a whole token
	pattern  *regexp.Regexp
}

var cvePattern = regexp.MustCompile(`(?i)\bcve-\d{4}-\d{4,}\b`)

// rules is ordered. The first rule with a matching token wins.
var rules = []rule{
	{category: CategoryEndpoint, keywords: []string{"powershell", "command", "cmd", "script", "malware", "ransomware", "endpoint"}, words: []string{"process", "processes"}},
	{category: CategoryIdentity, keywords: []string{"login", "logon", "auth", "credential", "password", "mfa", "privilege", "account"}},
	{category: CategoryNetwork, keywords: []string{"network", "traffic", "dns", "firewall", "lateral", "exfiltration", "ddos"}},
	{category: CategoryWebApp, keywords: []string{"sql", "injection", "xss", "csrf"}, words: []string{"web", "website", "webshell"}},
	{category: CategoryVulnerability, keywords: []string{"exploit", "vulnerability", "patch", "cve"}, pattern: cvePattern},
}

// Categorize returns the category for a free-text description.
//
// The description is split into lowercase tokens. A keyword matches a
// token that starts with it ("authentication" matches "auth"). Short
// generic stems such as "web" and "process" only match a whole token, so
// "webinar" and "processing" do not. Rules are tried in order; no match
// yields General Security.
func Categorize(description string) string {
	toks := tokens(description)
	for _, r := range rules {
		if r.pattern != nil && r.pattern.MatchString(description) {
			return r.category
		}
		for _, tok := range toks {
			if r.matches(tok) {
				return r.category
			}
		}
	}
	return CategoryGeneral
}

func (r rule) matches(tok string) bool {
	for _, kw := range r.keywords {
		if strings.HasPrefix(tok, kw) {
			return true
		}
	}
	for _, w := range r.words {
		if tok == w {
			return true
		}
	}
	return false
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// =============================================================================
// Classifier
// =============================================================================

// Classifier builds monitoring areas from raw records.
//
// # Description
//
// Records are categorized by description, scored with Risk, deduplicated
// by (category, description) keeping the highest risk, sorted by risk
// descending and cut to MaxAreas. Ties break on category, then
// description, then source, so equal inputs always give equal output.
//
// Thread Safety: a Classifier is immutable after construction and safe
// for concurrent use.
type Classifier struct {
	Bands    Bands
	MaxAreas int
	Risk     RiskFunc
}

// New creates a Classifier. maxAreas outside [1, DefaultMaxAreas] selects
// DefaultMaxAreas.
func New(bands Bands, maxAreas int, risk RiskFunc) *Classifier {
	if maxAreas <= 0 || maxAreas > DefaultMaxAreas {
		maxAreas = DefaultMaxAreas
	}
	return &Classifier{Bands: bands, MaxAreas: maxAreas, Risk: risk}
}

// Classify returns at most MaxAreas areas, and never more than
// DefaultMaxAreas. When no record is
// classifiable it returns the synthetic baseline instead of an empty
// list.
func (c *Classifier) Classify(records []signal.RawSignalRecord) []MonitoringArea {
	type key struct{ category, description string }

	best := make(map[key]MonitoringArea)
	for _, rec := range records {
		desc := strings.TrimSpace(rec.Description)
		if rec.Malformed || desc == "" {
			continue
		}
		v := 0.0
		if c.Risk != nil {
			v = c.Risk(rec)
		}
		cat := Categorize(desc)
		k := key{strings.ToLower(cat), strings.ToLower(desc)}
		if prev, ok := best[k]; ok && prev.RiskValue >= v {
			continue
		}
		best[k] = MonitoringArea{
			Category:       cat,
			Description:    desc,
			ConfidenceBand: c.Bands.Band(v),
			Detail:         fmt.Sprintf("%s signal, normalized risk %.2f", rec.SourceID, v),
			RiskValue:      v,
			SourceID:       rec.SourceID,
		}
	}

	limit := c.MaxAreas
	if limit <= 0 || limit > DefaultMaxAreas {
		limit = DefaultMaxAreas
	}
	if len(best) == 0 {
		return Baseline(limit)
	}

	areas := make([]MonitoringArea, 0, len(best))
	for _, a := range best {
		areas = append(areas, a)
	}
	sort.Slice(areas, func(i, j int) bool {
		a, b := areas[i], areas[j]
		if a.RiskValue != b.RiskValue {
			return a.RiskValue > b.RiskValue
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Description != b.Description {
			return a.Description < b.Description
		}
		return a.SourceID < b.SourceID
	})
	if len(areas) > limit {
		areas = areas[:limit]
	}
	return areas
}

// Baseline returns the fixed placeholder areas, cut to limit.
func Baseline(limit int) []MonitoringArea {
	base := []MonitoringArea{
		{
			Category:       CategoryEndpoint,
			Description:    "Baseline endpoint activity review",
			ConfidenceBand: BandLow,
			Detail:         "No classifiable signals this cycle",
			Synthetic:      true,
		},
		{
			Category:       CategoryIdentity,
			Description:    "Baseline authentication pattern review",
			ConfidenceBand: BandLow,
			Detail:         "No classifiable signals this cycle",
			Synthetic:      true,
		},
		{
			Category:       CategoryNetwork,
			Description:    "Baseline network traffic review",
			ConfidenceBand: BandLow,
			Detail:         "No classifiable signals this cycle",
			Synthetic:      true,
		},
	}
	if limit > 0 && len(base) > limit {
		base = base[:limit]
	}
	return base
}
