// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package riskengine

import (
	"errors"
	"time"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// ServiceVersion is reported by the health endpoint when no build
// version is supplied.
const ServiceVersion = "0.1.0"

// API error codes.
const (
	CodeNoAssessment = "NO_ASSESSMENT"
	CodeThrottled    = "THROTTLED"
	CodeNotRunning   = "NOT_RUNNING"
	CodeInvalidLimit = "INVALID_LIMIT"
	CodeStorage      = "STORAGE_ERROR"
	CodeUnavailable  = "UNAVAILABLE"
)

var (
	// ErrNotReady is reported by the ready endpoint before the first
	// assessment is available.
	ErrNotReady = errors.New("no assessment available yet")

	// ErrServiceClosed is returned by Run after Close.
	ErrServiceClosed = errors.New("riskboard service closed")
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is returned by GET /v1/ready.
type ReadyResponse struct {
	Ready      bool   `json:"ready"`
	Scheduler  bool   `json:"scheduler_running"`
	Generation uint64 `json:"generation"`
	Reason     string `json:"reason,omitempty"`
}

// AssessmentResponse is returned by GET /v1/assessment.
//
// Latest is nil when only a restored last good assessment exists.
// DegradedCount is taken from Latest so a dashboard can render LastGood
// with a "N sources degraded" banner when Latest is blind.
type AssessmentResponse struct {
	Latest        *assessment.Assessment `json:"latest"`
	LastGood      *assessment.Assessment `json:"last_good"`
	Generation    uint64                 `json:"generation"`
	DegradedCount int                    `json:"sources_degraded"`
	Blind         bool                   `json:"blind"`
}

// RefreshResponse is returned by POST /v1/refresh.
type RefreshResponse struct {
	Status string `json:"status"`
}

// SourceInfo describes one configured source. Headers and tokens are
// never exposed.
type SourceInfo struct {
	ID          string              `json:"id"`
	Kind        signal.SourceKind   `json:"kind"`
	URL         string              `json:"url"`
	TimeoutMs   int64               `json:"timeout_ms"`
	Weight      float64             `json:"weight"`
	CountEvents bool                `json:"count_events"`
	MaxAge      string              `json:"max_age,omitempty"`
	Status      signal.SourceStatus `json:"status,omitempty"`
	Reason      string              `json:"reason,omitempty"`
}

// SourcesResponse is returned by GET /v1/sources.
type SourcesResponse struct {
	Sources []SourceInfo `json:"sources"`
}

// RecentResponse is returned by GET /v1/assessments/recent.
type RecentResponse struct {
	Assessments []*assessment.Assessment `json:"assessments"`
	Count       int                      `json:"count"`
}

// StreamMessage is pushed over the websocket for every published
// snapshot.
type StreamMessage struct {
	Type       string                 `json:"type"`
	Generation uint64                 `json:"generation"`
	Latest     *assessment.Assessment `json:"latest"`
	LastGood   *assessment.Assessment `json:"last_good"`
}
