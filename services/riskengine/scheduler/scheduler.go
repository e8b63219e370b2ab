// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler drives refresh cycles.
//
// # Description
//
// A cycle starts immediately when Run is called, then on every tick of
// the refresh interval, and whenever Trigger is called. Starting a cycle
// cancels the one in flight: cycles are never queued, and a cycle whose
// result arrives after a newer cycle started is discarded rather than
// published. Manual triggers go through a token bucket.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
	"github.com/AleutianAI/riskboard/services/riskengine/cache"
	"github.com/AleutianAI/riskboard/services/riskengine/observability"
)

var (
	// ErrStopped is returned by Trigger when Run is not active.
	ErrStopped = errors.New("scheduler not running")

	// ErrThrottled is returned by Trigger when the manual refresh rate
	// limit is exhausted.
	ErrThrottled = errors.New("manual refresh throttled")
)

// Trigger results, as recorded in metrics.
const (
	TriggerAccepted  = "accepted"
	TriggerCoalesced = "coalesced"
	TriggerThrottled = "throttled"
	TriggerStopped   = "stopped"
)

// Trigger reasons.
const (
	ReasonStartup  = "startup"
	ReasonInterval = "interval"
	ReasonManual   = "manual"
	ReasonMount    = "mount"
)

// Runner runs one cycle. engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, cycleID string) (*assessment.Assessment, error)
}

// Publisher makes an assessment visible. cache.Cache implements it.
type Publisher interface {
	Publish(ctx context.Context, a *assessment.Assessment) (cache.Snapshot, error)
}

// Hook runs after each publish, outside the scheduler's lock. Hooks must
// not block for long; they run on the cycle's goroutine.
type Hook func(ctx context.Context, a *assessment.Assessment)

// Config holds the scheduling parameters.
type Config struct {
	// Interval between periodic cycles.
	Interval time.Duration

	// CycleTimeout bounds one cycle end to end.
	CycleTimeout time.Duration

	// ManualMinInterval is the token refill period for manual triggers.
	ManualMinInterval time.Duration

	// ManualBurst is the token bucket size.
	ManualBurst int
}

// DefaultConfig returns a one minute cadence.
func DefaultConfig() Config {
	return Config{
		Interval:          time.Minute,
		CycleTimeout:      20 * time.Second,
		ManualMinInterval: 5 * time.Second,
		ManualBurst:       2,
	}
}

// Validate checks the bounds.
func (c Config) Validate() error {
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("refresh interval must be positive, got %s", c.Interval)
	case c.CycleTimeout <= 0:
		return fmt.Errorf("cycle timeout must be positive, got %s", c.CycleTimeout)
	case c.ManualMinInterval < 0:
		return fmt.Errorf("manual min interval must be >= 0, got %s", c.ManualMinInterval)
	case c.ManualBurst < 1:
		return fmt.Errorf("manual burst must be >= 1, got %d", c.ManualBurst)
	}
	return nil
}

// Options holds optional collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Hooks   []Hook
}

// Scheduler owns the cycle lifecycle.
//
// # Thread Safety
//
// Trigger and Running are safe to call from any goroutine. Run must be
// called once at a time.
type Scheduler struct {
	runner    Runner
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	hooks     []Hook
	limiter   *rate.Limiter

	triggers chan string

	// publishMu orders publishes so a superseded cycle never overwrites a
	// newer one. mu is never held during Publish, so Trigger and Running
	// do not wait on storage.
	publishMu sync.Mutex

	mu         sync.Mutex
	running    bool
	generation uint64
	cancel     context.CancelFunc
}

// New creates a Scheduler.
func New(runner Runner, publisher Publisher, cfg Config, opts Options) (*Scheduler, error) {
	if runner == nil || publisher == nil {
		return nil, errors.New("runner and publisher are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.ManualMinInterval > 0 {
		limit = rate.Every(cfg.ManualMinInterval)
	}
	return &Scheduler{
		runner:    runner,
		publisher: publisher,
		cfg:       cfg,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		hooks:     append([]Hook(nil), opts.Hooks...),
		limiter:   rate.NewLimiter(limit, cfg.ManualBurst),
		triggers:  make(chan string, 1),
	}, nil
}

// Running reports whether Run is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger requests a cycle as soon as possible.
//
// # Description
//
// ReasonManual triggers consume a token and fail with ErrThrottled when
// none is left. Other reasons are not rate limited. A trigger arriving
// while another is still pending is merged into it and returns nil.
//
// # Outputs
//
//   - error: ErrStopped, ErrThrottled, or nil when accepted or coalesced.
func (s *Scheduler) Trigger(reason string) error {
	if !s.Running() {
		s.observeTrigger(reason, TriggerStopped)
		return ErrStopped
	}
	if reason == ReasonManual && !s.limiter.Allow() {
		s.observeTrigger(reason, TriggerThrottled)
		return ErrThrottled
	}
	select {
	case s.triggers <- reason:
		s.observeTrigger(reason, TriggerAccepted)
	default:
		s.observeTrigger(reason, TriggerCoalesced)
	}
	return nil
}

func (s *Scheduler) observeTrigger(reason, result string) {
	if reason == ReasonManual {
		s.metrics.ManualTrigger(result)
	}
}

// Run schedules cycles until ctx is done.
//
// # Description
//
// Blocks. On return every cycle goroutine has exited and nothing more
// will be published.
//
// # Outputs
//
//   - error: nil on normal shutdown; an error if Run is already active.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	var wg sync.WaitGroup
	defer func() {
		s.mu.Lock()
		s.running = false
		s.generation++
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
		wg.Wait()
		s.logger.Info("Scheduler stopped")
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started",
		"interval", s.cfg.Interval,
		"cycle_timeout", s.cfg.CycleTimeout,
	)
	s.start(ctx, &wg, ReasonStartup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.start(ctx, &wg, ReasonInterval)
		case reason := <-s.triggers:
			s.start(ctx, &wg, reason)
		}
	}
}

// start supersedes any in-flight cycle and launches a new one.
func (s *Scheduler) start(ctx context.Context, wg *sync.WaitGroup, reason string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	gen := s.generation
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	s.cancel = cancel
	s.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.cycle(ctx, cctx, gen, reason)
	}()
}

func (s *Scheduler) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// cycle runs one generation. parent outlives cctx and is used for hooks.
func (s *Scheduler) cycle(parent, cctx context.Context, gen uint64, reason string) {
	cycleID := uuid.NewString()
	logger := s.logger.With("cycle_id", cycleID, "generation", gen, "reason", reason)
	started := time.Now()

	a, err := s.runner.Run(cctx, cycleID)
	elapsed := time.Since(started)

	s.publishMu.Lock()
	current := s.isCurrent(gen)
	if err != nil || !current {
		s.publishMu.Unlock()
		switch {
		case !current:
			logger.Debug("Cycle superseded", "duration", elapsed)
			s.metrics.ObserveCycle(observability.OutcomeSuperseded, elapsed)
		default:
			logger.Warn("Cycle failed", "duration", elapsed, "error", err)
			s.metrics.ObserveCycle(observability.OutcomeFailed, elapsed)
		}
		return
	}
	snap, err := s.publisher.Publish(parent, a)
	s.publishMu.Unlock()

	if err != nil {
		logger.Warn("Publish failed", "error", err)
		s.metrics.ObserveCycle(observability.OutcomeFailed, elapsed)
		return
	}

	outcome := observability.OutcomePublished
	if a.Degraded {
		outcome = observability.OutcomeDegraded
	}
	s.metrics.ObserveCycle(outcome, elapsed)
	s.metrics.SetAssessment(a.RiskLevel, len(a.SourcesDegraded))
	logger.Info("Assessment published",
		"assessment_id", a.ID,
		"snapshot_generation", snap.Generation,
		"risk_level", a.RiskLevel,
		"degraded", a.Degraded,
		"duration", elapsed,
	)

	for _, h := range s.hooks {
		h(parent, a)
	}
}
