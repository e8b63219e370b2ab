// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads, validates and watches the riskboard YAML file.
//
// # Description
//
// The file lives at ~/.riskboard/riskboard.yaml unless a path is given.
// A missing default file is created with defaults on first run; a missing
// explicit path is an error. Every failure to produce a usable
// configuration wraps ErrInvalidConfig, which the CLI treats as fatal
// before the first cycle.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/riskboard/services/riskengine/classify"
	"github.com/AleutianAI/riskboard/services/riskengine/history"
	"github.com/AleutianAI/riskboard/services/riskengine/recommend"
	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// Refresh interval bounds.
const (
	MinInterval = 30 * time.Second
	MaxInterval = 15 * time.Minute
)

// FetchHeadroom is the minimum gap between a source timeout and the cycle
// timeout, so a slow source gives up before the cycle does.
const FetchHeadroom = time.Second

// Duration is a time.Duration written as "30s" in YAML. A bare integer
// is read as seconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var secs int64
	if node.Tag == "!!int" {
		if err := node.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

// Config is the whole file.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Refresh    RefreshConfig   `yaml:"refresh"`
	Sources    []SourceConfig  `yaml:"sources" validate:"required,min=1,dive"`
	Thresholds risk.Thresholds `yaml:"thresholds"`
	Bands      classify.Bands  `yaml:"bands"`
	Areas      AreasConfig     `yaml:"areas"`
	Actions    ActionsConfig   `yaml:"actions"`
	Storage    StorageConfig   `yaml:"storage"`
	History    HistoryConfig   `yaml:"history"`
	Logging    LoggingConfig   `yaml:"logging"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr  string `yaml:"addr" validate:"required,hostname_port"`
	Debug bool   `yaml:"debug"`
}

// RefreshConfig configures the scheduler. Interval must lie within
// [MinInterval, MaxInterval].
type RefreshConfig struct {
	Interval          Duration `yaml:"interval"`
	CycleTimeout      Duration `yaml:"cycle_timeout" validate:"gt=0"`
	ManualMinInterval Duration `yaml:"manual_min_interval" validate:"gte=0"`
	ManualBurst       int      `yaml:"manual_burst" validate:"gte=1,lte=100"`
}

// SourceConfig describes one upstream feed.
//
// Weight and CountEvents are pointers so that an omitted value picks the
// kind's default instead of zero.
type SourceConfig struct {
	ID             string            `yaml:"id" validate:"required,max=64"`
	Kind           signal.SourceKind `yaml:"kind" validate:"required,oneof=forecast agent_health audit model_health threat_prediction"`
	URL            string            `yaml:"url" validate:"required,url"`
	Timeout        Duration          `yaml:"timeout,omitempty" validate:"gte=0"`
	Weight         *float64          `yaml:"weight,omitempty" validate:"omitempty,gte=0,lte=100"`
	CountEvents    *bool             `yaml:"count_events,omitempty"`
	MaxAge         Duration          `yaml:"max_age,omitempty" validate:"gte=0"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	BearerTokenEnv string            `yaml:"bearer_token_env,omitempty"`
}

// AreasConfig bounds the monitoring area list.
type AreasConfig struct {
	Max int `yaml:"max" validate:"gte=1,lte=4"`
}

// ActionEntry is one configured action.
type ActionEntry struct {
	Text    string `yaml:"text" validate:"required"`
	Routine bool   `yaml:"routine,omitempty"`
}

// ActionsConfig holds the per-level action table and its limits.
type ActionsConfig struct {
	Max          int                      `yaml:"max" validate:"gte=1,lte=50"`
	DisplayLimit int                      `yaml:"display_limit" validate:"gte=1"`
	Levels       map[string][]ActionEntry `yaml:"levels" validate:"required,dive,keys,oneof=LOW MEDIUM HIGH CRITICAL,endkeys,min=1,dive"`
}

// Table converts the configured levels into a recommend.Table.
func (a ActionsConfig) Table() recommend.Table {
	t := make(recommend.Table, len(a.Levels))
	for level, entries := range a.Levels {
		actions := make([]recommend.Action, 0, len(entries))
		for _, e := range entries {
			actions = append(actions, recommend.Action{Text: e.Text, IsRoutine: e.Routine})
		}
		t[risk.RiskLevel(level)] = actions
	}
	return t
}

// StorageConfig locates the last-good assessment database.
type StorageConfig struct {
	// Path is resolved relative to the config file's directory.
	Path      string   `yaml:"path" validate:"required_unless=InMemory true"`
	InMemory  bool     `yaml:"in_memory"`
	Retention Duration `yaml:"retention" validate:"gte=0"`
}

// HistoryConfig enables the InfluxDB sink when URL is set.
type HistoryConfig struct {
	URL      string `yaml:"url,omitempty" validate:"omitempty,url"`
	Org      string `yaml:"org,omitempty" validate:"required_with=URL"`
	Bucket   string `yaml:"bucket,omitempty" validate:"required_with=URL"`
	TokenEnv string `yaml:"token_env,omitempty"`

	// EventLevel is the lowest log level shipped to the bucket as
	// riskboard_event points. Empty means warn; "off" disables shipping.
	EventLevel string `yaml:"event_level,omitempty" validate:"omitempty,oneof=debug info warn error off"`
}

// Influx returns the bucket location, reading the token through lookup.
func (h HistoryConfig) Influx(lookup func(string) (string, bool)) history.InfluxConfig {
	var token string
	if h.TokenEnv != "" && lookup != nil {
		token, _ = lookup(h.TokenEnv)
	}
	return history.InfluxConfig{URL: h.URL, Org: h.Org, Bucket: h.Bucket, Token: token}
}

// Enabled reports whether history is configured.
func (h HistoryConfig) Enabled() bool { return h.URL != "" }

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the configuration written on first run. Its sources
// point at a local lab deployment.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: "127.0.0.1:8095"},
		Refresh: RefreshConfig{
			Interval:          Duration(time.Minute),
			CycleTimeout:      Duration(20 * time.Second),
			ManualMinInterval: Duration(5 * time.Second),
			ManualBurst:       2,
		},
		Sources: []SourceConfig{
			{ID: "forecast", Kind: signal.KindForecast, URL: "http://127.0.0.1:9001/api/forecast", Timeout: Duration(8 * time.Second)},
			{ID: "agents", Kind: signal.KindAgentHealth, URL: "http://127.0.0.1:9001/api/agents", Timeout: Duration(8 * time.Second)},
			{ID: "audit", Kind: signal.KindAudit, URL: "http://127.0.0.1:9001/api/audit", Timeout: Duration(8 * time.Second), MaxAge: Duration(24 * time.Hour)},
			{ID: "models", Kind: signal.KindModelHealth, URL: "http://127.0.0.1:9001/api/models", Timeout: Duration(8 * time.Second)},
			{ID: "threats", Kind: signal.KindThreatPrediction, URL: "http://127.0.0.1:9001/api/threats", Timeout: Duration(8 * time.Second)},
		},
		Thresholds: risk.DefaultThresholds(),
		Bands:      classify.DefaultBands(),
		Areas:      AreasConfig{Max: classify.DefaultMaxAreas},
		Actions:    defaultActions(),
		Storage:    StorageConfig{Path: "data", Retention: Duration(24 * time.Hour)},
		Logging:    LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			ServiceName:    "riskboard",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}

func defaultActions() ActionsConfig {
	levels := make(map[string][]ActionEntry)
	for level, actions := range recommend.DefaultTable() {
		entries := make([]ActionEntry, 0, len(actions))
		for _, a := range actions {
			entries = append(entries, ActionEntry{Text: a.Text, Routine: a.IsRoutine})
		}
		levels[string(level)] = entries
	}
	return ActionsConfig{
		Max:          recommend.DefaultMaxActions,
		DisplayLimit: recommend.DefaultDisplayLimit,
		Levels:       levels,
	}
}

// countsEventsByDefault reports whether records of kind are events when
// count_events is omitted.
func countsEventsByDefault(kind signal.SourceKind) bool {
	return kind == signal.KindAudit || kind == signal.KindThreatPrediction
}
