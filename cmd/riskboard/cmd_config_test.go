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
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/services/riskengine/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigValidate(t *testing.T) {
	path := useConfig(t, threatSource("http://127.0.0.1:9001/api/threats"))

	out, err := execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path+": valid (1 sources, refresh every 1m0s)")
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := useConfig(t, "  - id: threats\n    kind: nonsense\n    url: http://x/threats\n")

	_, err := execute(t, "config", "validate", "--config", path)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfigShow(t *testing.T) {
	path := useConfig(t, threatSource("http://127.0.0.1:9001/api/threats"))

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "kind: threat_prediction")
	assert.Contains(t, out, "interval: 1m0s")
}

func TestConfigValidate_DefaultPathCreated(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	prev := configPath
	configPath = ""
	t.Cleanup(func() { configPath = prev })

	out, err := execute(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(home, ".riskboard", "riskboard.yaml"))
	assert.FileExists(t, filepath.Join(home, ".riskboard", "riskboard.yaml"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "riskboard dev\n", out)
}
