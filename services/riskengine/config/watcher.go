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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 250 * time.Millisecond

// ApplyFunc installs a reloaded configuration. Returning an error keeps
// the running configuration.
type ApplyFunc func(cfg *Config) error

// Watcher reloads the configuration file when it changes.
//
// # Description
//
// The file's directory is watched rather than the file itself so that
// editors which save by rename are seen. Each change is re-read and
// re-validated with Load; an invalid file is logged and ignored. Only
// the parts that can change at runtime are applied. A change to the
// sources list is logged and otherwise ignored until restart.
//
// # Thread Safety
//
// Run must be called once. Stop and Current are safe from any goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	apply    ApplyFunc
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	current *Config

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher prepares a watcher for path. current is the configuration
// already in effect.
func NewWatcher(path string, current *Config, apply ApplyFunc, logger *slog.Logger) (*Watcher, error) {
	if apply == nil || current == nil {
		return nil, fmt.Errorf("watcher needs the current config and an apply func")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		apply:    apply,
		logger:   logger,
		debounce: DefaultDebounce,
		current:  current,
		done:     make(chan struct{}),
	}, nil
}

// Current returns the configuration most recently applied.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run processes file events until ctx is done or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	defer w.Stop()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "error", err)
		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

// Reload re-reads the file and applies it when valid.
func (w *Watcher) Reload() {
	next, _, err := Load(w.path)
	if err != nil {
		w.logger.Error("Config reload rejected; keeping running configuration",
			"path", w.path,
			"error", err,
		)
		return
	}

	w.mu.Lock()
	prev := w.current
	w.mu.Unlock()

	if !SourcesEqual(prev, next) {
		w.logger.Warn("Source list changed; restart riskboard to apply it", "path", w.path)
		next.Sources = prev.Sources
	}
	if err := w.apply(next); err != nil {
		w.logger.Error("Config reload could not be applied", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = next
	w.mu.Unlock()
	w.logger.Info("Configuration reloaded", "path", w.path)
}

// Stop releases the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
