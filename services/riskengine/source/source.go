// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source implements the signal source adapters: one per upstream
// feed, each fetching over HTTP and decoding the feed's payload shape into
// raw signal records.
//
// An adapter never returns a Go error from Fetch. Network failures,
// non-2xx responses, timeouts and malformed payloads all collapse into an
// UnavailableError carried in the Result, affecting that source only.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/riskboard/services/riskengine/signal"
	"github.com/AleutianAI/riskboard/services/riskengine/telemetry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultTimeout bounds a single fetch when the source sets none.
	DefaultTimeout = 8 * time.Second

	// MaxBodyBytes caps the response body read from an upstream feed.
	MaxBodyBytes = 4 << 20
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnavailable is matched by every UnavailableError.
	ErrUnavailable = errors.New("source unavailable")

	// ErrMalformedPayload means the body was not the expected shape.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnexpectedStatus means the upstream answered with a non-2xx code.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// UnavailableError explains why a source produced no records this cycle.
type UnavailableError struct {
	SourceID string
	Reason   string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s unavailable: %s: %v", e.SourceID, e.Reason, e.Err)
	}
	return fmt.Sprintf("source %s unavailable: %s", e.SourceID, e.Reason)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUnavailable) true for every UnavailableError.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// =============================================================================
// Adapter
// =============================================================================

// Result is the outcome of one fetch.
//
// Exactly one of Records and Err is meaningful: when Err is non-nil the
// source is offline for this cycle and Records is empty.
type Result struct {
	Source  signal.Source
	Records []signal.RawSignalRecord
	Health  signal.SourceHealth
	Err     *UnavailableError
}

// Adapter fetches one upstream feed.
//
// Implementations must be stateless between cycles and must honor ctx.
type Adapter interface {
	Source() signal.Source
	Fetch(ctx context.Context) Result
}

// HTTPClient is the subset of *http.Client used by HTTPAdapter.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPAdapter fetches a source over HTTP GET.
//
// # Description
//
// Each Fetch applies the source's timeout on top of ctx, sends the
// configured headers, requires a 2xx status, reads at most MaxBodyBytes
// and decodes the body with the decoder for the source's kind. Trace
// context from ctx is propagated to the upstream.
//
// # Thread Safety
//
// HTTPAdapter is safe for concurrent use.
type HTTPAdapter struct {
	src    signal.Source
	client HTTPClient
	decode decodeFunc
	logger *slog.Logger
	now    func() time.Time
}

// NewHTTPAdapter creates an adapter for src.
//
// # Inputs
//
//   - src: The source descriptor. Kind must be supported.
//   - client: HTTP client. nil selects a client without its own timeout,
//     since every request already carries a deadline.
//   - logger: nil selects slog.Default().
//
// # Outputs
//
//   - *HTTPAdapter: Ready to fetch.
//   - error: Non-nil when the kind has no decoder or the URL is empty.
func NewHTTPAdapter(src signal.Source, client HTTPClient, logger *slog.Logger) (*HTTPAdapter, error) {
	decode, err := decoderFor(src.Kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(src.URL) == "" {
		return nil, fmt.Errorf("source %s: url is required", src.ID)
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAdapter{
		src:    src,
		client: client,
		decode: decode,
		logger: logger.With("source_id", src.ID, "kind", string(src.Kind)),
		now:    time.Now,
	}, nil
}

// Source returns the adapter's source descriptor.
func (a *HTTPAdapter) Source() signal.Source { return a.src }

// Fetch retrieves and decodes the feed. It never panics on upstream
// failure and never returns partial results alongside an error.
func (a *HTTPAdapter) Fetch(ctx context.Context) Result {
	start := a.now()
	res := Result{
		Source: a.src,
		Health: signal.SourceHealth{SourceID: a.src.ID, Kind: a.src.Kind, Status: signal.StatusHealthy},
	}

	timeout := a.src.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, reason, err := a.get(ctx)
	if err == nil {
		var d decoded
		d, err = a.decode(a.src, body)
		if err != nil {
			reason = "malformed payload"
		} else {
			res.Records = d.records
			if len(d.broken) > 0 {
				res.Health.Status = signal.StatusDegraded
				res.Health.Reason = fmt.Sprintf("%d component(s) reporting failure: %s", len(d.broken), strings.Join(d.broken, ", "))
			}
		}
	}
	res.Health.Latency = a.now().Sub(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && reason != "malformed payload" {
			reason, err = "timeout or cancelled", ctxErr
		}
		res.Records = nil
		res.Err = &UnavailableError{SourceID: a.src.ID, Reason: reason, Err: err}
		res.Health.Status = signal.StatusOffline
		res.Health.Reason = reason
		a.logger.Warn("Source unavailable", "reason", reason, "error", err, "latency", res.Health.Latency)
		return res
	}

	res.Health.Records = len(res.Records)
	for _, r := range res.Records {
		if r.Malformed {
			res.Health.Anomalies++
		}
	}
	a.logger.Debug("Source fetched", "records", res.Health.Records, "anomalies", res.Health.Anomalies, "latency", res.Health.Latency)
	return res
}

// get performs the request and returns the body or a reason for failure.
func (a *HTTPAdapter) get(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.src.URL, nil)
	if err != nil {
		return nil, "invalid request", err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range a.src.Headers {
		req.Header.Set(k, v)
	}
	if a.src.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.src.BearerToken)
	}
	telemetry.InjectContext(ctx, req.Header)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "request failed", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Sprintf("status %d", resp.StatusCode), fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, "read failed", err
	}
	if len(body) > MaxBodyBytes {
		return nil, "malformed payload", fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, MaxBodyBytes)
	}
	return body, "", nil
}
