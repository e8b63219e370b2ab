// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/riskboard/services/riskengine/engine"
	"github.com/AleutianAI/riskboard/services/riskengine/risk"
	"github.com/AleutianAI/riskboard/services/riskengine/scheduler"
	"github.com/AleutianAI/riskboard/services/riskengine/signal"
	"github.com/AleutianAI/riskboard/services/riskengine/source"
)

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Environment overrides.
const (
	EnvAddr     = "RISKBOARD_ADDR"
	EnvLogLevel = "RISKBOARD_LOG_LEVEL"
)

// validate reports field names as they appear in the YAML file.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// DefaultPath returns ~/.riskboard/riskboard.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: could not find the user's home directory: %v", ErrInvalidConfig, err)
	}
	return filepath.Join(home, ".riskboard", "riskboard.yaml"), nil
}

// Load reads, resolves and validates the file at path.
//
// # Description
//
// An empty path selects DefaultPath, and a missing default file is
// created from Default first. A missing explicit path is an error.
// Environment overrides are applied after parsing and before validation.
// A relative storage path is resolved against the file's directory.
//
// # Outputs
//
//   - *Config: Valid configuration.
//   - string: The path actually read.
//   - error: Wraps ErrInvalidConfig.
func Load(path string) (*Config, string, error) {
	if path == "" {
		def, err := DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = def
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := createDefault(path); err != nil {
				return nil, path, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, path, fmt.Errorf("%s: %w", path, err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, path, nil
}

// Parse decodes YAML over Default. Keys absent from data keep their
// default values, and actions.levels entries are merged per level. The
// sources list has no default: a file without one fails validation.
// Parse does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Sources = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func (c *Config) resolvePaths(base string) {
	if c.Storage.InMemory || c.Storage.Path == "" {
		return
	}
	if strings.HasPrefix(c.Storage.Path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.Storage.Path = filepath.Join(home, c.Storage.Path[2:])
		}
	}
	if !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(base, c.Storage.Path)
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate runs struct tag validation and the cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", trimRoot(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	var problems []string
	if iv := c.Refresh.Interval.D(); iv < MinInterval || iv > MaxInterval {
		problems = append(problems, fmt.Sprintf("refresh.interval %s outside [%s, %s]", iv, MinInterval, MaxInterval))
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if seen[s.ID] {
			problems = append(problems, fmt.Sprintf("sources[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true
		if strings.ContainsAny(s.ID, " \t/") {
			problems = append(problems, fmt.Sprintf("sources[%d].id %q contains whitespace or '/'", i, s.ID))
		}
		timeout := s.Timeout.D()
		if timeout == 0 {
			timeout = source.DefaultTimeout
		}
		if timeout+FetchHeadroom > c.Refresh.CycleTimeout.D() {
			problems = append(problems, fmt.Sprintf("sources[%d].timeout %s must be at least %s below refresh.cycle_timeout %s",
				i, timeout, FetchHeadroom, c.Refresh.CycleTimeout.D()))
		}
	}
	if err := c.Thresholds.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Bands.High < c.Bands.Medium {
		problems = append(problems, fmt.Sprintf("bands.high %.3f must be >= bands.medium %.3f", c.Bands.High, c.Bands.Medium))
	}
	for _, level := range risk.Levels() {
		if len(c.Actions.Levels[string(level)]) == 0 {
			problems = append(problems, fmt.Sprintf("actions.levels.%s is missing", level))
		}
	}
	if c.Actions.DisplayLimit > c.Actions.Max {
		problems = append(problems, fmt.Sprintf("actions.display_limit %d exceeds actions.max %d", c.Actions.DisplayLimit, c.Actions.Max))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// trimRoot drops the leading "Config." from a validator namespace.
func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// =============================================================================
// Conversions
// =============================================================================

// Tables returns the engine tables the file describes.
func (c *Config) Tables() engine.Tables {
	return engine.Tables{
		Thresholds:   c.Thresholds,
		Bands:        c.Bands,
		MaxAreas:     c.Areas.Max,
		Actions:      c.Actions.Table(),
		MaxActions:   c.Actions.Max,
		DisplayLimit: c.Actions.DisplayLimit,
	}
}

// Scheduler returns the scheduler configuration.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		Interval:          c.Refresh.Interval.D(),
		CycleTimeout:      c.Refresh.CycleTimeout.D(),
		ManualMinInterval: c.Refresh.ManualMinInterval.D(),
		ManualBurst:       c.Refresh.ManualBurst,
	}
}

// BuildSources resolves the source descriptors. Bearer tokens are read
// from the environment through lookup; a named variable that is unset is
// an error so a misconfigured secret fails at startup.
func (c *Config) BuildSources(lookup func(string) (string, bool)) ([]signal.Source, error) {
	out := make([]signal.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		src := signal.Source{
			ID:          s.ID,
			Kind:        s.Kind,
			URL:         s.URL,
			Timeout:     s.Timeout.D(),
			Weight:      1,
			CountEvents: countsEventsByDefault(s.Kind),
			MaxAge:      s.MaxAge.D(),
			Headers:     s.Headers,
		}
		if src.Timeout == 0 {
			src.Timeout = source.DefaultTimeout
		}
		if s.Weight != nil {
			src.Weight = *s.Weight
		}
		if s.CountEvents != nil {
			src.CountEvents = *s.CountEvents
		}
		if s.BearerTokenEnv != "" {
			tok, ok := lookup(s.BearerTokenEnv)
			if !ok || tok == "" {
				return nil, fmt.Errorf("%w: source %s: environment variable %s is not set", ErrInvalidConfig, s.ID, s.BearerTokenEnv)
			}
			src.BearerToken = tok
		}
		out = append(out, src)
	}
	return out, nil
}

// SourcesEqual reports whether two configurations describe the same
// source list. Changing sources requires a restart.
func SourcesEqual(a, b *Config) bool {
	return reflect.DeepEqual(a.Sources, b.Sources)
}
