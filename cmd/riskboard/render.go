// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/riskboard/pkg/ux"
	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// renderAssessment prints a for a human reader. Only the displayed
// actions are listed; --json carries the full list.
func renderAssessment(p *ux.Printer, a *assessment.Assessment, threshold risk.RiskLevel) {
	p.Title("Riskboard Assessment")
	p.Badge("Risk Level", string(a.RiskLevel), a.RiskLevel.Color())
	if a.RiskLevel.Exceeds(threshold) {
		p.Item(ux.IconWarning, fmt.Sprintf("above threshold %s", threshold), "")
	}
	if a.MatchedRule != "" {
		p.KV("Matched rule", a.MatchedRule)
	}
	p.KV("Event total", fmt.Sprintf("%.1f", a.EventTotal))
	p.KV("Max risk", p.Bar(a.MaxRisk, 20))
	p.KV("Max confidence", p.Bar(a.MaxConfidence, 20))

	switch {
	case a.Blind:
		p.Blank()
		p.WarningBox("No fresh signal",
			"Every source is offline or stale. The level is LOW because nothing\ncould be observed, not because nothing is happening.")
	case len(a.SourcesDegraded) > 0:
		p.Blank()
		p.WarningBox("Degraded",
			fmt.Sprintf("%d source(s) degraded: %s", len(a.SourcesDegraded), strings.Join(a.SourcesDegraded, ", ")))
	}

	p.Heading("Monitoring Areas")
	for _, area := range a.MonitoringAreas {
		detail := string(area.ConfidenceBand)
		if area.Synthetic {
			detail = "baseline"
		}
		text := area.Category
		if area.Description != "" {
			text += ": " + area.Description
		}
		p.Item(ux.IconArrow, text, detail)
	}

	p.Heading("Recommended Actions")
	for _, act := range a.DisplayedActions {
		icon := ux.IconBullet
		if act.Corrective {
			icon = ux.IconWarning
		}
		p.Item(icon, act.Text, "")
	}
	if more := len(a.Actions) - len(a.DisplayedActions); more > 0 {
		p.Muted(fmt.Sprintf("  +%d more (use --json for all)", more))
	}

	p.Heading("Sources")
	for _, s := range a.Sources {
		p.Item(statusIcon(s.Status), s.ID, sourceDetail(s))
	}

	p.Blank()
	p.Muted(fmt.Sprintf("assessment %s generated %s", a.ID, a.GeneratedAt.UTC().Format(time.RFC3339)))
}

func statusIcon(s signal.SourceStatus) ux.Icon {
	switch s {
	case signal.StatusHealthy:
		return ux.IconOK
	case signal.StatusDegraded:
		return ux.IconWarning
	default:
		return ux.IconError
	}
}

func sourceDetail(s assessment.SourceReport) string {
	if s.Reason != "" {
		return s.Reason
	}
	if s.Anomalies > 0 {
		return fmt.Sprintf("%d records, %d anomalies", s.Records, s.Anomalies)
	}
	return fmt.Sprintf("%d records", s.Records)
}
