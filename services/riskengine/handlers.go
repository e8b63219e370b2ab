// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package riskengine is the riskboard HTTP service: it wires the engine,
// cache, scheduler, storage and history sink together and serves the
// current assessment over a gin router.
package riskengine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
	"github.com/AleutianAI/riskboard/services/riskengine/cache"
	"github.com/AleutianAI/riskboard/services/riskengine/scheduler"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
	"github.com/AleutianAI/riskboard/services/riskengine/storage/badger"
)

// =============================================================================
// Dependencies
// =============================================================================

// SnapshotSource is the read side of the assessment cache.
type SnapshotSource interface {
	Get() cache.Snapshot
	Subscribe() (<-chan cache.Snapshot, func(), error)
}

// Refresher requests cycles. scheduler.Scheduler implements it.
type Refresher interface {
	Trigger(reason string) error
	Running() bool
}

// SourceLister lists the configured sources. engine.Engine implements it.
type SourceLister interface {
	Sources() []signal.Source
}

// RecentReader reads the retained assessment window.
// badger.AssessmentStore implements it.
type RecentReader interface {
	Recent(ctx context.Context, limit int) ([]*assessment.Assessment, error)
}

// Handlers serves the riskboard API.
//
// # Thread Safety
//
// Handlers holds no mutable state of its own. Every collaborator is safe
// for concurrent use.
type Handlers struct {
	snapshots SnapshotSource
	refresher Refresher
	sources   SourceLister
	recent    RecentReader
	version   string
	logger    *slog.Logger
	now       func() time.Time
}

// HandlersConfig holds the collaborators for NewHandlers. Recent may be
// nil, in which case the history endpoint answers 503.
type HandlersConfig struct {
	Snapshots SnapshotSource
	Refresher Refresher
	Sources   SourceLister
	Recent    RecentReader
	Version   string
	Logger    *slog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Version == "" {
		cfg.Version = ServiceVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{
		snapshots: cfg.Snapshots,
		refresher: cfg.Refresher,
		sources:   cfg.Sources,
		recent:    cfg.Recent,
		version:   cfg.Version,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /v1/health. It reports process liveness only.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: h.now().UTC(),
	})
}

// HandleReady handles GET /v1/ready.
//
// Ready means the scheduler is running and an assessment (published or
// restored) can be served.
func (h *Handlers) HandleReady(c *gin.Context) {
	snap := h.snapshots.Get()
	resp := ReadyResponse{
		Scheduler:  h.refresher.Running(),
		Generation: snap.Generation,
	}
	switch {
	case !resp.Scheduler:
		resp.Reason = scheduler.ErrStopped.Error()
	case snap.Empty():
		resp.Reason = ErrNotReady.Error()
	default:
		resp.Ready = true
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// =============================================================================
// Assessment
// =============================================================================

// HandleAssessment handles GET /v1/assessment.
//
// # Outputs
//
//   - 200: AssessmentResponse with latest and last good.
//   - 503: NO_ASSESSMENT before the first publish when nothing was restored.
func (h *Handlers) HandleAssessment(c *gin.Context) {
	snap := h.snapshots.Get()
	if snap.Empty() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrNotReady.Error(),
			Code:  CodeNoAssessment,
		})
		return
	}
	resp := AssessmentResponse{
		Latest:     snap.Latest,
		LastGood:   snap.LastGood,
		Generation: snap.Generation,
	}
	if snap.Latest != nil {
		resp.DegradedCount = len(snap.Latest.SourcesDegraded)
		resp.Blind = snap.Latest.Blind
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRefresh handles POST /v1/refresh.
//
// # Outputs
//
//   - 202: The cycle was scheduled, or merged into a pending one.
//   - 429: THROTTLED, the manual refresh budget is spent.
//   - 503: NOT_RUNNING, the scheduler is stopped.
func (h *Handlers) HandleRefresh(c *gin.Context) {
	err := h.refresher.Trigger(scheduler.ReasonManual)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, RefreshResponse{Status: "accepted"})
	case errors.Is(err, scheduler.ErrThrottled):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: CodeThrottled})
	case errors.Is(err, scheduler.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeNotRunning})
	default:
		h.logger.Error("Refresh trigger failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeUnavailable})
	}
}

// HandleSources handles GET /v1/sources. Each source carries its status
// from the latest assessment when one exists.
func (h *Handlers) HandleSources(c *gin.Context) {
	status := make(map[string]assessment.SourceReport)
	if latest := h.snapshots.Get().Latest; latest != nil {
		for _, r := range latest.Sources {
			status[r.ID] = r
		}
	}

	srcs := h.sources.Sources()
	out := make([]SourceInfo, 0, len(srcs))
	for _, s := range srcs {
		info := SourceInfo{
			ID:          s.ID,
			Kind:        s.Kind,
			URL:         s.URL,
			TimeoutMs:   s.Timeout.Milliseconds(),
			Weight:      s.Weight,
			CountEvents: s.CountEvents,
		}
		if s.MaxAge > 0 {
			info.MaxAge = s.MaxAge.String()
		}
		if r, ok := status[s.ID]; ok {
			info.Status = r.Status
			info.Reason = r.Reason
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, SourcesResponse{Sources: out})
}

// HandleRecent handles GET /v1/assessments/recent?limit=N, newest first.
// limit defaults to 20 and must lie within [1, badger.MaxRecent].
func (h *Handlers) HandleRecent(c *gin.Context) {
	if h.recent == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history storage not configured", Code: CodeUnavailable})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > badger.MaxRecent {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be an integer between 1 and " + strconv.Itoa(badger.MaxRecent),
				Code:  CodeInvalidLimit,
			})
			return
		}
		limit = n
	}

	items, err := h.recent.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Reading recent assessments failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read recent assessments", Code: CodeStorage})
		return
	}
	if items == nil {
		items = []*assessment.Assessment{}
	}
	c.JSON(http.StatusOK, RecentResponse{Assessments: items, Count: len(items)})
}
