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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/services/riskengine/config"
	"github.com/AleutianAI/riskboard/services/riskengine/history"
)

func TestNewEventExporter(t *testing.T) {
	enabled := config.HistoryConfig{URL: "http://127.0.0.1:8086", Org: "sec", Bucket: "risk"}

	tests := []struct {
		name    string
		cfg     func() config.HistoryConfig
		want    bool
		wantErr bool
	}{
		{name: "history disabled", cfg: func() config.HistoryConfig { return config.HistoryConfig{} }},
		{name: "events off", cfg: func() config.HistoryConfig {
			h := enabled
			h.EventLevel = "off"
			return h
		}},
		{name: "default level", cfg: func() config.HistoryConfig { return enabled }, want: true},
		{name: "explicit level", cfg: func() config.HistoryConfig {
			h := enabled
			h.EventLevel = "error"
			return h
		}, want: true},
		{name: "unknown level", cfg: func() config.HistoryConfig {
			h := enabled
			h.EventLevel = "loud"
			return h
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := newEventExporter(tt.cfg(), nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if !tt.want {
				assert.Nil(t, exp)
				return
			}
			require.IsType(t, &history.EventExporter{}, exp)
			assert.NoError(t, exp.Close())
		})
	}
}
