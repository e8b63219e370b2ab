// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNew_ConsoleFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LevelWarn, Service: "riskboard", Output: &buf})
	require.NoError(t, err)
	defer l.Close()

	l.Info("cycle complete")
	l.Warn("source degraded", "source_id", "audit")

	out := buf.String()
	assert.NotContains(t, out, "cycle complete")
	assert.Contains(t, out, "source degraded")
	assert.Contains(t, out, "source_id=audit")
	assert.Contains(t, out, "service=riskboard")
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LevelInfo, JSON: true, Output: &buf})
	require.NoError(t, err)
	l.Slog().Info("published", "risk_level", "HIGH")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "published", rec["msg"])
	assert.Equal(t, "HIGH", rec["risk_level"])
}

func TestNew_DailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l, err := New(Config{Level: LevelInfo, LogDir: dir, Service: "riskd", Quiet: true})
	require.NoError(t, err)

	l.Info("to file", "n", 1)
	require.NoError(t, l.Close())

	name := "riskd_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
	assert.Contains(t, string(data), `"service":"riskd"`)
}

func TestNew_BadLogDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err := New(Config{LogDir: filepath.Join(file, "logs")})
	assert.Error(t, err)
}

// recordingExporter keeps every entry in memory.
type recordingExporter struct {
	mu      sync.Mutex
	entries []LogEntry
	flushed bool
	closed  bool
}

func (e *recordingExporter) Export(_ context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *recordingExporter) Flush(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushed = true
	return nil
}

func (e *recordingExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *recordingExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]LogEntry(nil), e.entries...)
}

func (e *recordingExporter) Find(msg string) (LogEntry, bool) {
	for _, entry := range e.Entries() {
		if entry.Message == msg {
			return entry, true
		}
	}
	return LogEntry{}, false
}

func TestExporter_ReceivesSlogRecords(t *testing.T) {
	exp := &recordingExporter{}
	l, err := New(Config{Level: LevelInfo, Service: "riskboard", Quiet: true, Exporter: exp})
	require.NoError(t, err)

	child := l.With("cycle_id", "c1").Slog()
	child.Debug("dropped")
	child.Warn("source degraded", "source_id", "models")
	child.WithGroup("fetch").Info("done", "status", 200)

	entries := exp.Entries()
	require.Len(t, entries, 2)

	e, ok := exp.Find("source degraded")
	require.True(t, ok)
	assert.Equal(t, LevelWarn, e.Level)
	assert.Equal(t, "riskboard", e.Service)
	assert.Equal(t, "c1", e.Attrs["cycle_id"])
	assert.Equal(t, "models", e.Attrs["source_id"])

	e, ok = exp.Find("done")
	require.True(t, ok)
	assert.Equal(t, int64(200), e.Attrs["fetch.status"])

	_, ok = exp.Find("dropped")
	assert.False(t, ok)

	require.NoError(t, l.Close())
	assert.True(t, exp.flushed)
	assert.True(t, exp.closed)
}

func TestClose_Idempotent(t *testing.T) {
	l, err := New(Config{Quiet: true, LogDir: t.TempDir()})
	require.NoError(t, err)
	child := l.With("k", "v")
	assert.NoError(t, child.Close())
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestDefault(t *testing.T) {
	l := Default()
	require.NotNil(t, l)
	assert.NotNil(t, l.Slog())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.False(t, strings.HasPrefix(expandPath("~"), "~"))
}
