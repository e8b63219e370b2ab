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
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type applied struct {
	mu   sync.Mutex
	cfgs []*Config
	err  error
}

func (a *applied) apply(cfg *Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.cfgs = append(a.cfgs, cfg)
	return nil
}

func (a *applied) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cfgs)
}

func (a *applied) last() *Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfgs[len(a.cfgs)-1]
}

func newTestWatcher(t *testing.T) (*Watcher, *applied, string) {
	t.Helper()
	path := writeFile(t, t.TempDir(), minimal)
	cfg, _, err := Load(path)
	require.NoError(t, err)

	a := &applied{}
	w, err := NewWatcher(path, cfg, a.apply, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	return w, a, path
}

func TestNewWatcher_RequiresArguments(t *testing.T) {
	_, err := NewWatcher("riskboard.yaml", nil, func(*Config) error { return nil }, nil)
	assert.Error(t, err)
	_, err = NewWatcher("riskboard.yaml", &Config{}, nil, nil)
	assert.Error(t, err)
}

func TestWatcher_AppliesValidChange(t *testing.T) {
	w, a, path := newTestWatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(path, []byte(minimal+"bands:\n  high: 0.3\n  medium: 0.1\n"), 0o600))
	require.Eventually(t, func() bool { return a.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.3, a.last().Bands.High)
	assert.Equal(t, 0.3, w.Current().Bands.High)
}

func TestWatcher_Reload(t *testing.T) {
	t.Run("invalid file keeps running config", func(t *testing.T) {
		w, a, path := newTestWatcher(t)
		defer w.Stop()
		before := w.Current()

		require.NoError(t, os.WriteFile(path, []byte(minimal+"bands:\n  high: 0.01\n  medium: 0.5\n"), 0o600))
		w.Reload()
		assert.Equal(t, 0, a.count())
		assert.Same(t, before, w.Current())
	})

	t.Run("source changes are not applied", func(t *testing.T) {
		w, a, path := newTestWatcher(t)
		defer w.Stop()
		before := w.Current()

		changed := minimal + "  - id: models\n    kind: model_health\n    url: http://127.0.0.1:9001/api/models\n"
		require.NoError(t, os.WriteFile(path, []byte(changed), 0o600))
		w.Reload()
		require.Equal(t, 1, a.count())
		assert.Equal(t, before.Sources, a.last().Sources)
	})

	t.Run("apply error keeps running config", func(t *testing.T) {
		w, a, _ := newTestWatcher(t)
		defer w.Stop()
		before := w.Current()
		a.err = errors.New("engine refused tables")

		w.Reload()
		assert.Same(t, before, w.Current())
	})
}

func TestWatcher_StopEndsRun(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	w.Stop()
	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
