// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs one refresh cycle: concurrent fetch from every
// source, normalization, aggregation, classification and recommendation,
// ending in one immutable Assessment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
	"github.com/AleutianAI/riskboard/services/riskengine/classify"
	"github.com/AleutianAI/riskboard/services/riskengine/normalize"
	"github.com/AleutianAI/riskboard/services/riskengine/observability"
	"github.com/AleutianAI/riskboard/services/riskengine/recommend"
	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
	"github.com/AleutianAI/riskboard/services/riskengine/source"
	"github.com/AleutianAI/riskboard/services/riskengine/telemetry"
)

// ErrNoSources is returned by New when no adapter is configured.
var ErrNoSources = errors.New("no sources configured")

// =============================================================================
// Tables
// =============================================================================

// Tables holds every externalized cut point the pure stages read. A cycle
// reads one Tables value at its start and uses it throughout.
type Tables struct {
	Thresholds   risk.Thresholds
	Bands        classify.Bands
	MaxAreas     int
	Actions      recommend.Table
	MaxActions   int
	DisplayLimit int
}

// DefaultTables returns the standard tables.
func DefaultTables() Tables {
	return Tables{
		Thresholds:   risk.DefaultThresholds(),
		Bands:        classify.DefaultBands(),
		MaxAreas:     classify.DefaultMaxAreas,
		Actions:      recommend.DefaultTable(),
		MaxActions:   recommend.DefaultMaxActions,
		DisplayLimit: recommend.DefaultDisplayLimit,
	}
}

// Validate checks the tables before they are installed.
func (t Tables) Validate() error {
	if err := t.Thresholds.Validate(); err != nil {
		return err
	}
	if t.Bands.High < t.Bands.Medium {
		return fmt.Errorf("bands: high (%.3f) must be >= medium (%.3f)", t.Bands.High, t.Bands.Medium)
	}
	if t.MaxAreas < 1 || t.MaxAreas > classify.DefaultMaxAreas {
		return fmt.Errorf("max areas must be in [1, %d], got %d", classify.DefaultMaxAreas, t.MaxAreas)
	}
	if t.MaxActions < 1 || t.DisplayLimit < 1 {
		return fmt.Errorf("action limits must be >= 1")
	}
	return nil
}

// =============================================================================
// Engine
// =============================================================================

// Options holds optional collaborators. Every field may be left zero.
type Options struct {
	Logger        *slog.Logger
	Metrics       *observability.Metrics
	SourceMetrics *telemetry.SourceMetrics

	// Now returns the current time. nil means time.Now.
	Now func() time.Time

	// NewID returns a fresh assessment ID. nil means uuid.NewString.
	NewID func() string
}

// Engine turns adapter output into assessments.
//
// # Description
//
// Run fans out to every adapter concurrently, waits for all of them to
// return or time out, then runs the pure stages on the collected results.
// Adapter failures never fail a cycle. The only error Run returns is the
// context's, when the cycle was cancelled before it could finish.
//
// Tables can be replaced at any time with SetTables; a running cycle keeps
// the tables it started with.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Concurrent Run calls are independent.
type Engine struct {
	adapters []source.Adapter
	tables   atomic.Pointer[Tables]
	norm     *normalize.Normalizer
	logger   *slog.Logger
	metrics  *observability.Metrics
	srcMet   *telemetry.SourceMetrics
	now      func() time.Time
	newID    func() string
}

// New creates an Engine.
//
// # Inputs
//
//   - adapters: One per source. Must not be empty.
//   - tables: Initial tables. Must pass Validate.
//   - opts: Optional collaborators.
//
// # Outputs
//
//   - *Engine: Ready to run.
//   - error: ErrNoSources, or a table validation error.
func New(adapters []source.Adapter, tables Tables, opts Options) (*Engine, error) {
	if len(adapters) == 0 {
		return nil, ErrNoSources
	}
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("engine tables: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	e := &Engine{
		adapters: append([]source.Adapter(nil), adapters...),
		norm:     normalize.New(opts.Now),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		srcMet:   opts.SourceMetrics,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	e.tables.Store(&tables)
	return e, nil
}

// SetTables validates and installs new tables for subsequent cycles.
func (e *Engine) SetTables(t Tables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	e.tables.Store(&t)
	return nil
}

// Tables returns the tables the next cycle will use.
func (e *Engine) Tables() Tables {
	return *e.tables.Load()
}

// Sources returns the configured source descriptors in adapter order.
func (e *Engine) Sources() []signal.Source {
	out := make([]signal.Source, len(e.adapters))
	for i, a := range e.adapters {
		out[i] = a.Source()
	}
	return out
}

// Run executes one cycle.
//
// # Inputs
//
//   - ctx: Cancelling ctx cancels every in-flight fetch.
//   - cycleID: Correlates logs and the published assessment. Empty
//     generates one.
//
// # Outputs
//
//   - *assessment.Assessment: The cycle's result, never partially filled.
//   - error: ctx.Err() when the cycle was cancelled. No assessment is
//     returned in that case.
func (e *Engine) Run(ctx context.Context, cycleID string) (*assessment.Assessment, error) {
	if cycleID == "" {
		cycleID = uuid.NewString()
	}
	tables := e.Tables()
	logger := e.logger.With("cycle_id", cycleID)

	ctx, span := telemetry.StartSpan(ctx, "Engine.Run",
		trace.WithAttributes(
			attribute.String("cycle_id", cycleID),
			attribute.Int("sources", len(e.adapters)),
		),
	)
	defer span.End()

	results := e.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var (
		contributions []signal.NormalizedContribution
		records       []signal.RawSignalRecord
		health        = make([]signal.SourceHealth, 0, len(results))
	)
	for _, res := range results {
		h := res.Health
		if res.Err != nil {
			contributions = append(contributions, normalize.Unavailable(res.Source, res.Err.Reason))
			health = append(health, h)
			e.observeFetch(ctx, res.Source, h)
			continue
		}

		anomalies := 0
		for _, rec := range res.Records {
			c, err := e.norm.Normalize(res.Source, rec)
			if err != nil {
				anomalies++
				logger.Debug("Normalization anomaly", "source_id", res.Source.ID, "reason", c.Reason)
			}
			contributions = append(contributions, c)
		}
		if len(res.Records) == 0 {
			contributions = append(contributions, signal.NormalizedContribution{
				SourceID:   res.Source.ID,
				Weight:     res.Source.Weight,
				Provenance: signal.ProvenanceEmpty,
			})
		}
		records = append(records, res.Records...)

		h.Records = len(res.Records)
		h.Anomalies = anomalies
		if h.Status == signal.StatusHealthy && h.Records > 0 && anomalies*2 > h.Records {
			h.Status = signal.StatusDegraded
			h.Reason = fmt.Sprintf("%d of %d records anomalous", anomalies, h.Records)
		}
		if h.Status != signal.StatusHealthy {
			logger.Warn("Source degraded", "source_id", h.SourceID, "reason", h.Reason)
		}
		health = append(health, h)
		e.observeFetch(ctx, res.Source, h)
	}

	ev := risk.Aggregate(tables.Thresholds, contributions, risk.CountEvents(contributions))
	areas := classify.New(tables.Bands, tables.MaxAreas, normalize.RiskValue).Classify(records)
	actions := recommend.New(tables.Actions, tables.MaxActions).Recommend(ev.Level, health)

	a := assessment.Build(assessment.Input{
		ID:           e.newID(),
		CycleID:      cycleID,
		GeneratedAt:  e.now(),
		Evaluation:   ev,
		Areas:        areas,
		Actions:      actions,
		DisplayLimit: tables.DisplayLimit,
		Health:       health,
	})

	span.SetAttributes(
		attribute.String("risk_level", string(a.RiskLevel)),
		attribute.Int("sources_degraded", len(a.SourcesDegraded)),
		attribute.Bool("blind", a.Blind),
	)
	logger.Info("Cycle complete",
		"risk_level", a.RiskLevel,
		"matched_rule", a.MatchedRule,
		"event_total", a.EventTotal,
		"sources_degraded", len(a.SourcesDegraded),
		"blind", a.Blind,
	)
	return a, nil
}

// fetchAll runs every adapter concurrently and returns results in adapter
// order. Adapter errors are carried inside results and never abort the
// group.
func (e *Engine) fetchAll(ctx context.Context) []source.Result {
	results := make([]source.Result, len(e.adapters))
	g, gCtx := errgroup.WithContext(ctx)

	for i, adapter := range e.adapters {
		g.Go(func() error {
			src := adapter.Source()
			fctx, span := telemetry.StartSpan(gCtx, "Source.Fetch",
				trace.WithAttributes(
					attribute.String("source_id", src.ID),
					attribute.String("kind", string(src.Kind)),
				),
			)
			defer span.End()

			res := adapter.Fetch(fctx)
			if res.Source.ID == "" {
				res.Source = src
			}
			if res.Health.SourceID == "" {
				res.Health.SourceID = src.ID
				res.Health.Kind = src.Kind
			}
			if res.Err != nil {
				res.Records = nil
				res.Health.Status = signal.StatusOffline
				if res.Health.Reason == "" {
					res.Health.Reason = res.Err.Reason
				}
				telemetry.RecordError(span, res.Err)
			} else if res.Health.Status == "" {
				res.Health.Status = signal.StatusHealthy
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) observeFetch(ctx context.Context, src signal.Source, h signal.SourceHealth) {
	e.metrics.ObserveFetch(src.ID, string(h.Status))
	e.srcMet.RecordFetch(ctx, src.ID, string(src.Kind), string(h.Status), h.Latency, h.Records, h.Anomalies)
}
