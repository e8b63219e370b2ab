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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
	"github.com/AleutianAI/riskboard/services/riskengine/cache"
	"github.com/AleutianAI/riskboard/services/riskengine/config"
	"github.com/AleutianAI/riskboard/services/riskengine/engine"
	"github.com/AleutianAI/riskboard/services/riskengine/history"
	"github.com/AleutianAI/riskboard/services/riskengine/observability"
	"github.com/AleutianAI/riskboard/services/riskengine/scheduler"
	"github.com/AleutianAI/riskboard/services/riskengine/source"
	"github.com/AleutianAI/riskboard/services/riskengine/storage/badger"
	"github.com/AleutianAI/riskboard/services/riskengine/telemetry"
)

const (
	shutdownTimeout     = 10 * time.Second
	historyCheckTimeout = 5 * time.Second
)

// =============================================================================
// Interface
// =============================================================================

// Service is the running riskboard process.
type Service interface {
	// Run serves HTTP, schedules cycles and watches the config file
	// until ctx is done, then shuts down gracefully and releases every
	// resource. Run may be called once.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine

	// Close releases resources without running. Safe to call after Run.
	Close() error
}

// Options holds optional collaborators for New.
type Options struct {
	// ConfigPath enables hot reload of the file it names. Empty disables
	// the watcher.
	ConfigPath string

	// Version is reported by the health endpoint and telemetry.
	Version string

	// Logger is the root logger. nil selects slog.Default().
	Logger *slog.Logger

	// HTTPClient is shared by every source adapter. nil selects a
	// default client.
	HTTPClient source.HTTPClient

	// LookupEnv resolves bearer and Influx tokens. nil selects
	// os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// Listener overrides the listener on cfg.Server.Addr.
	Listener net.Listener
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	registry *prometheus.Registry

	engine    *engine.Engine
	cache     *cache.Cache
	db        *badger.DB
	store     *badger.AssessmentStore
	sink      history.Sink
	scheduler *scheduler.Scheduler
	watcher   *config.Watcher
	router    *gin.Engine

	telemetryShutdown func(context.Context) error

	closeOnce sync.Once
	closeErr  error
	ran       bool
	mu        sync.Mutex
}

// New builds the service from a validated configuration.
//
// # Description
//
// Initialization order: metrics registry, telemetry, source adapters,
// engine, storage (and restore of the last good assessment), cache,
// history sink, scheduler, config watcher, router. Anything created
// before a failure is released before New returns.
//
// An unreachable InfluxDB is logged and the sink stays enabled; writes
// that fail later are logged per cycle.
//
// # Inputs
//
//   - ctx: Bounds initialization (telemetry exporters, restore).
//   - cfg: Configuration. Must have passed config.Validate.
//   - opts: Optional collaborators.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Wraps the failing step.
func New(ctx context.Context, cfg *config.Config, opts Options) (Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Version == "" {
		opts.Version = ServiceVersion
	}

	s := &service{
		cfg:      cfg,
		opts:     opts,
		logger:   opts.Logger,
		registry: prometheus.NewRegistry(),
	}
	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *service) init(ctx context.Context) error {
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(s.registry)

	if err := s.initTelemetry(ctx); err != nil {
		return err
	}
	srcMetrics, err := telemetry.NewSourceMetrics(otel.Meter(telemetry.TracerName))
	if err != nil {
		return fmt.Errorf("source metrics: %w", err)
	}

	srcs, err := s.cfg.BuildSources(s.opts.LookupEnv)
	if err != nil {
		return err
	}
	adapters := make([]source.Adapter, 0, len(srcs))
	for _, src := range srcs {
		a, err := source.NewHTTPAdapter(src, s.opts.HTTPClient, s.logger)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}
		adapters = append(adapters, a)
	}

	s.engine, err = engine.New(adapters, s.cfg.Tables(), engine.Options{
		Logger:        s.logger.With("component", "engine"),
		Metrics:       metrics,
		SourceMetrics: srcMetrics,
	})
	if err != nil {
		return err
	}

	if err := s.initStorage(ctx); err != nil {
		return err
	}
	s.initHistory(ctx)

	s.scheduler, err = scheduler.New(s.engine, s.cache, s.cfg.Scheduler(), scheduler.Options{
		Logger:  s.logger.With("component", "scheduler"),
		Metrics: metrics,
		Hooks:   []scheduler.Hook{s.retain, s.record},
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if s.opts.ConfigPath != "" {
		s.watcher, err = config.NewWatcher(s.opts.ConfigPath, s.cfg, s.applyConfig, s.logger.With("component", "config"))
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
	}

	if !s.cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = NewRouter(RouterConfig{
		ServiceName: s.cfg.Telemetry.ServiceName,
		Debug:       s.cfg.Server.Debug,
		Gatherer:    s.registry,
	}, NewHandlers(HandlersConfig{
		Snapshots: s.cache,
		Refresher: s.scheduler,
		Sources:   s.engine,
		Recent:    s.store,
		Version:   s.opts.Version,
		Logger:    s.logger.With("component", "api"),
	}))
	return nil
}

func (s *service) initTelemetry(ctx context.Context) error {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = s.cfg.Telemetry.ServiceName
	tc.ServiceVersion = s.opts.Version
	tc.TraceExporter = s.cfg.Telemetry.TraceExporter
	tc.MetricExporter = s.cfg.Telemetry.MetricExporter
	if s.cfg.Telemetry.OTLPEndpoint != "" {
		tc.OTLPEndpoint = s.cfg.Telemetry.OTLPEndpoint
	}
	tc.OTLPInsecure = s.cfg.Telemetry.OTLPInsecure
	tc.Registerer = s.registry

	shutdown, err := telemetry.Init(ctx, tc)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	s.telemetryShutdown = shutdown
	return nil
}

func (s *service) initStorage(ctx context.Context) error {
	dbCfg := badger.InMemoryConfig()
	if !s.cfg.Storage.InMemory {
		dbCfg = badger.DefaultConfig(s.cfg.Storage.Path)
	}
	if r := s.cfg.Storage.Retention.D(); r > 0 {
		dbCfg.Retention = r
	}
	dbCfg.Logger = s.logger.With("component", "storage")

	db, err := badger.OpenDB(dbCfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	s.db = db
	s.store, err = badger.NewAssessmentStore(db)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	s.cache = cache.New(s.store, s.logger.With("component", "cache"))
	if err := s.cache.Restore(ctx); err != nil {
		s.logger.Warn("Could not restore last good assessment", "error", err)
	}
	return nil
}

func (s *service) initHistory(ctx context.Context) {
	s.sink = history.NopSink{}
	h := s.cfg.History
	if !h.Enabled() {
		return
	}
	sink, err := history.NewInfluxSink(h.Influx(s.opts.LookupEnv), s.logger.With("component", "history"))
	if err != nil {
		s.logger.Warn("History sink disabled", "error", err)
		return
	}
	checkCtx, cancel := context.WithTimeout(ctx, historyCheckTimeout)
	defer cancel()
	if err := sink.Check(checkCtx); err != nil {
		s.logger.Warn("InfluxDB not reachable, history writes may fail", "url", h.URL, "error", err)
	}
	s.sink = sink
}

// retain appends a published assessment to the retention window.
func (s *service) retain(ctx context.Context, a *assessment.Assessment) {
	if err := s.store.Append(ctx, a); err != nil {
		s.logger.Warn("Failed to retain assessment", "assessment_id", a.ID, "error", err)
	}
}

// record writes a published assessment to the history sink.
func (s *service) record(ctx context.Context, a *assessment.Assessment) {
	if err := s.sink.Record(ctx, a); err != nil {
		s.logger.Warn("Failed to record assessment history", "assessment_id", a.ID, "error", err)
	}
}

// applyConfig installs reloaded tables for the next cycle.
func (s *service) applyConfig(cfg *config.Config) error {
	return s.engine.SetTables(cfg.Tables())
}

// Router returns the gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is done.
//
// # Description
//
// Starts the HTTP server, the scheduler and the config watcher in one
// errgroup. When ctx is cancelled, or any member fails, the server is
// shut down with a bounded grace period, the scheduler waits for its
// in-flight cycle, and Close releases the remaining resources.
func (s *service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrServiceClosed
	}
	s.ran = true
	s.mu.Unlock()
	defer s.Close()

	ln := s.opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
		}
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting riskboard server", "addr", ln.Addr().String(), "version", s.opts.Version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP shutdown incomplete", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	if s.watcher != nil {
		g.Go(func() error {
			s.watcher.Run(gctx)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("Riskboard server stopped")
	return err
}

// Close releases resources in reverse initialization order.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.watcher != nil {
			s.watcher.Stop()
		}
		if s.cache != nil {
			s.cache.Close()
		}
		if s.sink != nil {
			s.sink.Close()
		}
		if s.db != nil {
			if err := s.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close storage: %w", err))
			}
		}
		if s.telemetryShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.telemetryShutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
			}
			cancel()
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

var _ Service = (*service)(nil)
