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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/riskboard/pkg/ux"
	"github.com/AleutianAI/riskboard/services/riskengine/engine"
	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/source"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	assessJSON       bool
	assessQuiet      bool
	assessThreshold  string
	assessStrict     bool
	assessPermissive bool
	assessTimeout    time.Duration
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Run one refresh cycle and print the assessment",
	Long: `Fetch every configured source once and print the resulting assessment.

Nothing is persisted and no server is started. Use this for a quick look
from a terminal or as a gate in automation.

Examples:
  riskboard assess                      # Styled output on a terminal
  riskboard assess --json               # Full assessment as JSON
  riskboard assess --threshold medium   # Exit 1 if risk > medium
  riskboard assess --strict --quiet     # Exit code only, fail above LOW

Exit Codes:
  0 = Risk at or below threshold
  1 = Risk above threshold
  2 = Error (invalid configuration, cycle timed out)`,
	Run: runAssessCommand,
}

func init() {
	assessCmd.Flags().BoolVar(&assessJSON, "json", false,
		"Output as JSON")
	assessCmd.Flags().BoolVar(&assessQuiet, "quiet", false,
		"Only exit code, no output")
	assessCmd.Flags().StringVar(&assessThreshold, "threshold", "high",
		"Exit 0 if at/below: low, medium, high, critical")
	assessCmd.Flags().BoolVar(&assessStrict, "strict", false,
		"Alias for --threshold low")
	assessCmd.Flags().BoolVar(&assessPermissive, "permissive", false,
		"Alias for --threshold critical")
	assessCmd.Flags().DurationVar(&assessTimeout, "timeout", 0,
		"Cycle timeout (default refresh.cycle_timeout)")

	rootCmd.AddCommand(assessCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// assessOptions is the resolved flag set.
type assessOptions struct {
	JSON      bool
	Quiet     bool
	Threshold risk.RiskLevel
	Timeout   time.Duration
	LookupEnv func(string) (string, bool)
	Client    source.HTTPClient
}

func assessOptionsFromFlags() assessOptions {
	opts := assessOptions{
		JSON:      assessJSON,
		Quiet:     assessQuiet,
		Threshold: risk.ParseRiskLevel(assessThreshold),
		Timeout:   assessTimeout,
		LookupEnv: os.LookupEnv,
	}
	if assessStrict {
		opts.Threshold = risk.RiskLow
	} else if assessPermissive {
		opts.Threshold = risk.RiskCritical
	}
	return opts
}

func runAssessCommand(cmd *cobra.Command, args []string) {
	os.Exit(runAssess(contextOrBackground(cmd), cmd.OutOrStdout(), cmd.ErrOrStderr(), assessOptionsFromFlags()))
}

// runAssess runs one cycle and returns the process exit code.
func runAssess(ctx context.Context, stdout, stderr io.Writer, opts assessOptions) int {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	cfg, _, err := loadConfig()
	if err != nil {
		outputAssessError(stdout, stderr, opts, "Invalid configuration", err)
		return risk.ExitError
	}

	logCfg := cfg.Logging
	if logLevel == "" {
		logCfg.Level = "warn"
	}
	logger, err := newLogger(logCfg, stderr, opts.Quiet, nil)
	if err != nil {
		outputAssessError(stdout, stderr, opts, "Logging setup failed", err)
		return risk.ExitError
	}
	defer logger.Close()

	srcs, err := cfg.BuildSources(opts.LookupEnv)
	if err != nil {
		outputAssessError(stdout, stderr, opts, "Invalid configuration", err)
		return risk.ExitError
	}
	adapters := make([]source.Adapter, 0, len(srcs))
	for _, src := range srcs {
		a, err := source.NewHTTPAdapter(src, opts.Client, logger.Slog())
		if err != nil {
			outputAssessError(stdout, stderr, opts, "Invalid source", err)
			return risk.ExitError
		}
		adapters = append(adapters, a)
	}
	eng, err := engine.New(adapters, cfg.Tables(), engine.Options{Logger: logger.Slog()})
	if err != nil {
		outputAssessError(stdout, stderr, opts, "Engine setup failed", err)
		return risk.ExitError
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = cfg.Refresh.CycleTimeout.D()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := eng.Run(ctx, "")
	if err != nil {
		outputAssessError(stdout, stderr, opts, "Assessment failed", err)
		return risk.ExitError
	}

	if !opts.Quiet {
		if opts.JSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(a); err != nil {
				fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
				return risk.ExitError
			}
		} else {
			p := ux.NewPrinter(stdout)
			renderAssessment(p, a, opts.Threshold)
			if err := p.Err(); err != nil {
				return risk.ExitError
			}
		}
	}

	if a.RiskLevel.Exceeds(opts.Threshold) {
		return risk.ExitRiskFound
	}
	return risk.ExitSuccess
}

func outputAssessError(stdout, stderr io.Writer, opts assessOptions, msg string, err error) {
	if opts.Quiet {
		return
	}
	if opts.JSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("%s: %v", msg, err),
		})
		return
	}
	fmt.Fprintf(stderr, "Error: %s: %v\n", msg, err)
}
