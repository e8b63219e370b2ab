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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/riskboard/services/riskengine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the riskboard service",
	Long: `Run the refresh scheduler and the HTTP API.

The service refreshes on the configured interval, on POST /v1/refresh
and whenever a dashboard opens /v1/assessment/stream. Threshold, band,
area and action changes in the config file are applied to the next
cycle without a restart; source list changes need a restart.

Endpoints:
  GET  /v1/health
  GET  /v1/ready
  GET  /v1/assessment
  GET  /v1/assessment/stream   (websocket)
  GET  /v1/assessments/recent?limit=N
  GET  /v1/sources
  POST /v1/refresh
  GET  /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	exporter, err := newEventExporter(cfg.History, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("history events: %w", err)
	}
	logger, err := newLogger(cfg.Logging, os.Stderr, false, exporter)
	if err != nil {
		if exporter != nil {
			_ = exporter.Close()
		}
		return fmt.Errorf("logging: %w", err)
	}
	defer logger.Close()
	logger.Info("Configuration loaded", "path", path, "sources", len(cfg.Sources))

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := riskengine.New(ctx, cfg, riskengine.Options{
		ConfigPath: path,
		Version:    version,
		Logger:     logger.Slog(),
	})
	if err != nil {
		logger.Error("Service initialization failed", "error", err)
		return err
	}
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Service stopped with error", "error", err)
		return err
	}
	return nil
}

// contextOrBackground returns cmd's context, which is nil when a command
// is executed directly in tests.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
