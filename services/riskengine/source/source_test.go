// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newAdapter(t *testing.T, kind signal.SourceKind, url string) *HTTPAdapter {
	t.Helper()
	a, err := NewHTTPAdapter(signal.Source{ID: string(kind), Kind: kind, URL: url, Timeout: 2 * time.Second, Weight: 1}, nil, nil)
	require.NoError(t, err)
	return a
}

func TestNewHTTPAdapter_Validation(t *testing.T) {
	_, err := NewHTTPAdapter(signal.Source{ID: "x", Kind: "bogus", URL: "http://x"}, nil, nil)
	assert.Error(t, err)

	_, err = NewHTTPAdapter(signal.Source{ID: "x", Kind: signal.KindAudit}, nil, nil)
	assert.Error(t, err)
}

func TestFetch_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrUnexpectedStatus},
		{"not found", http.StatusNotFound, ``, ErrUnexpectedStatus},
		{"invalid json", http.StatusOK, `{"threats": [`, ErrMalformedPayload},
		{"missing key", http.StatusOK, `{"items": []}`, ErrMalformedPayload},
		{"null key", http.StatusOK, `{"threats": null}`, ErrMalformedPayload},
		{"wrong type", http.StatusOK, `{"threats": "none"}`, ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, tt.status, tt.body)
			res := newAdapter(t, signal.KindThreatPrediction, srv.URL).Fetch(context.Background())

			require.NotNil(t, res.Err)
			assert.ErrorIs(t, res.Err, ErrUnavailable)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Empty(t, res.Records)
			assert.Equal(t, signal.StatusOffline, res.Health.Status)
			assert.Equal(t, "threat_prediction", res.Err.SourceID)
		})
	}
}

func TestFetch_NetworkError(t *testing.T) {
	srv := serve(t, http.StatusOK, `{}`)
	url := srv.URL
	srv.Close()

	res := newAdapter(t, signal.KindAudit, url).Fetch(context.Background())
	require.NotNil(t, res.Err)
	assert.Equal(t, "request failed", res.Err.Reason)
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(signal.Source{ID: "slow", Kind: signal.KindAudit, URL: srv.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	res := a.Fetch(context.Background())
	require.NotNil(t, res.Err)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetch_SendsHeaders(t *testing.T) {
	var gotAuth, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Tenant")
		_, _ = w.Write([]byte(`{"logs": []}`))
	}))
	defer srv.Close()

	a, err := NewHTTPAdapter(signal.Source{
		ID: "audit", Kind: signal.KindAudit, URL: srv.URL,
		Headers: map[string]string{"X-Tenant": "acme"}, BearerToken: "s3cret",
	}, srv.Client(), nil)
	require.NoError(t, err)

	res := a.Fetch(context.Background())
	require.Nil(t, res.Err)
	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "acme", gotCustom)
}

func TestFetch_Threats(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"threats": [
		{"confidence": 0.91, "risk_score": 40, "description": "SQL injection attempt"},
		{"risk_score": "72.5", "description": "Lateral movement"},
		{"description": "no numbers"},
		"not an object",
		{"confidence": "NaN", "description": "bad number"}
	]}`)
	res := newAdapter(t, signal.KindThreatPrediction, srv.URL).Fetch(context.Background())
	require.Nil(t, res.Err)
	require.Len(t, res.Records, 5)

	assert.InDelta(t, 0.91, *res.Records[0].Confidence, 1e-9)
	assert.InDelta(t, 40, *res.Records[0].Score, 1e-9)
	assert.Equal(t, "threat_prediction", res.Records[0].SourceID)
	assert.InDelta(t, 72.5, *res.Records[1].Score, 1e-9)
	assert.True(t, res.Records[2].Malformed)
	assert.True(t, res.Records[3].Malformed)
	assert.False(t, res.Records[4].Malformed)
	assert.True(t, math.IsNaN(*res.Records[4].Confidence))

	assert.Equal(t, signal.StatusHealthy, res.Health.Status)
	assert.Equal(t, 5, res.Health.Records)
	assert.Equal(t, 2, res.Health.Anomalies)
}

func TestFetch_ThreatsSeverityOnly(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"threats": [
		{"severity": "high", "description": "Credential stuffing"},
		{"severity": 8.1, "description": "Exposed admin panel"},
		{"description": "nothing scored"}
	]}`)
	res := newAdapter(t, signal.KindThreatPrediction, srv.URL).Fetch(context.Background())
	require.Nil(t, res.Err)
	require.Len(t, res.Records, 3)

	assert.False(t, res.Records[0].Malformed)
	assert.Equal(t, "high", res.Records[0].Severity)
	assert.Nil(t, res.Records[0].Confidence)

	assert.False(t, res.Records[1].Malformed)
	require.NotNil(t, res.Records[1].CVSS)
	assert.InDelta(t, 8.1, *res.Records[1].CVSS, 1e-9)

	assert.True(t, res.Records[2].Malformed)
	assert.Equal(t, 1, res.Health.Anomalies)
}

func TestFetch_ForecastShapes(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, recs []signal.RawSignalRecord)
	}{
		{
			name: "object map",
			body: `{"predicted_threats": {"ransomware": {"confidence": 0.8, "severity": "high"}, "phishing": 0.4}}`,
			check: func(t *testing.T, recs []signal.RawSignalRecord) {
				require.Len(t, recs, 2)
				assert.Equal(t, "phishing", recs[0].Description)
				assert.InDelta(t, 0.4, *recs[0].Confidence, 1e-9)
				assert.Equal(t, "ransomware", recs[1].Description)
				assert.Equal(t, "high", recs[1].Severity)
			},
		},
		{
			name: "envelope array",
			body: `{"predicted_threats": [{"severity": 9.1, "description": "Exploit of CVE-2024-1234"}]}`,
			check: func(t *testing.T, recs []signal.RawSignalRecord) {
				require.Len(t, recs, 1)
				require.NotNil(t, recs[0].CVSS)
				assert.InDelta(t, 9.1, *recs[0].CVSS, 1e-9)
			},
		},
		{
			name: "bare array",
			body: `[{"severity": "critical", "confidence": 0.5, "description": "Ransomware"}]`,
			check: func(t *testing.T, recs []signal.RawSignalRecord) {
				require.Len(t, recs, 1)
				assert.Equal(t, "critical", recs[0].Severity)
			},
		},
		{
			name: "bad map value",
			body: `{"predicted_threats": {"x": "high"}}`,
			check: func(t *testing.T, recs []signal.RawSignalRecord) {
				require.Len(t, recs, 1)
				assert.True(t, recs[0].Malformed)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, http.StatusOK, tt.body)
			res := newAdapter(t, signal.KindForecast, srv.URL).Fetch(context.Background())
			require.Nil(t, res.Err)
			tt.check(t, res.Records)
		})
	}
}

func TestFetch_AgentsDegraded(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"agents": [
		{"name": "edr-1", "status": "healthy", "confidence": 0.3, "description": "Endpoint agent"},
		{"name": "edr-2", "status": "offline"},
		{"name": "edr-3"}
	]}`)
	res := newAdapter(t, signal.KindAgentHealth, srv.URL).Fetch(context.Background())
	require.Nil(t, res.Err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, signal.StatusDegraded, res.Health.Status)
	assert.Contains(t, res.Health.Reason, "edr-2")
	assert.True(t, res.Records[2].Malformed)
}

func TestFetch_ModelsDegraded(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"models": [{"name": "ueba", "status": "degraded", "accuracy": 0.61}, {"status": "healthy"}]}`)
	res := newAdapter(t, signal.KindModelHealth, srv.URL).Fetch(context.Background())
	require.Nil(t, res.Err)
	assert.Equal(t, signal.StatusDegraded, res.Health.Status)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "ueba (accuracy 0.61)", res.Records[0].Name)
	assert.Empty(t, res.Records[0].Description)
	assert.False(t, res.Records[0].HasNumeric())
}

func TestFetch_Audit(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"logs": [`)
	for i := 0; i < 20; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"action": "user login", "timestamp": "2025-06-01T11:00:00Z"}`)
	}
	b.WriteString(`, {"action": "bulk export", "count": 5, "timestamp": 1748775600}]}`)

	srv := serve(t, http.StatusOK, b.String())
	res := newAdapter(t, signal.KindAudit, srv.URL).Fetch(context.Background())
	require.Nil(t, res.Err)
	require.Len(t, res.Records, 21)
	assert.Equal(t, 1, *res.Records[0].Count)
	assert.Equal(t, "user login", res.Records[0].Description)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), res.Records[0].Timestamp.UTC())
	assert.Equal(t, 5, *res.Records[20].Count)
	assert.Equal(t, int64(1748775600), res.Records[20].Timestamp.Unix())
}

func TestFetch_CancelledParent(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"logs": []}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newAdapter(t, signal.KindAudit, srv.URL).Fetch(ctx)
	require.NotNil(t, res.Err)
	assert.ErrorIs(t, res.Err, context.Canceled)
}
