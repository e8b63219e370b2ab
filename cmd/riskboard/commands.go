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
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/riskboard/pkg/logging"
	"github.com/AleutianAI/riskboard/services/riskengine/config"
	"github.com/AleutianAI/riskboard/services/riskengine/history"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "riskboard",
		Short: "Aggregate security feeds into one risk assessment",
		Long: `Riskboard polls forecast, agent health, audit, model health and
threat prediction feeds, normalizes every signal onto one scale and
publishes a single assessment: a risk level, the areas to monitor and
the actions to take.

Configuration is read from ~/.riskboard/riskboard.yaml unless --config
is given. The default file is created on first run.`,
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the riskboard version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "riskboard %s\n", version)
		},
	}
)

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to riskboard.yaml (default ~/.riskboard/riskboard.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override logging.level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, string, error) {
	return config.Load(configPath)
}

// newLogger builds the process logger from the logging section. A
// --log-level flag wins over the file.
func newLogger(cfg config.LoggingConfig, console io.Writer, quiet bool, exporter logging.LogExporter) (*logging.Logger, error) {
	raw := cfg.Level
	if logLevel != "" {
		raw = logLevel
	}
	level, err := logging.ParseLevel(raw)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{
		Level:    level,
		LogDir:   cfg.Dir,
		Service:  "riskboard",
		JSON:     cfg.JSON,
		Quiet:    quiet,
		Output:   console,
		Exporter: exporter,
	})
}

// newEventExporter ships log events to the history bucket. It returns nil
// when history is not configured or event shipping is off.
func newEventExporter(h config.HistoryConfig, lookup func(string) (string, bool)) (logging.LogExporter, error) {
	if !h.Enabled() || h.EventLevel == "off" {
		return nil, nil
	}
	level := logging.LevelWarn
	if h.EventLevel != "" {
		var err error
		if level, err = logging.ParseLevel(h.EventLevel); err != nil {
			return nil, err
		}
	}
	exp, err := history.NewEventExporter(h.Influx(lookup), level)
	if err != nil {
		return nil, err
	}
	return exp, nil
}
