// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds the assessment the rest of the process reads.
//
// # Description
//
// The cache is owned by whoever constructs it (the service) and has an
// explicit lifecycle: New, optional Restore, Publish from the scheduler,
// Close on shutdown. Readers see a Snapshot holding the latest assessment
// and the last good one, swapped together so the two never disagree.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Get never blocks.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("assessment cache closed")

// Store persists the last good assessment across restarts.
//
// Load returns (nil, nil) when nothing has been saved yet.
type Store interface {
	Save(ctx context.Context, a *assessment.Assessment) error
	Load(ctx context.Context) (*assessment.Assessment, error)
}

// Snapshot is what readers observe.
//
// Latest is the most recently published assessment, blind or not.
// LastGood is the most recent one that was not blind. Generation
// increases by one with every publish and is zero before the first.
type Snapshot struct {
	Latest     *assessment.Assessment
	LastGood   *assessment.Assessment
	Generation uint64
}

// Empty reports whether nothing has been published or restored.
func (s Snapshot) Empty() bool {
	return s.Latest == nil && s.LastGood == nil
}

// Cache is the explicitly owned assessment cache.
type Cache struct {
	snap   atomic.Pointer[Snapshot]
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]chan Snapshot
	nextID uint64
	closed bool
}

// New creates an empty cache. store may be nil to disable persistence.
func New(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:  store,
		logger: logger,
		subs:   make(map[uint64]chan Snapshot),
	}
	c.snap.Store(&Snapshot{})
	return c
}

// Get returns the current snapshot.
func (c *Cache) Get() Snapshot {
	return *c.snap.Load()
}

// Restore loads the persisted last good assessment.
//
// # Description
//
// Intended to run once at startup before the first cycle. The restored
// assessment becomes LastGood only; Latest stays nil until a cycle
// publishes, so readers can tell a restored value from a live one.
// Restore is a no-op when a cycle has already published.
func (c *Cache) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	a, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore last good assessment: %w", err)
	}
	if a == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.snap.Load()
	if cur.Generation > 0 {
		return nil
	}
	c.snap.Store(&Snapshot{LastGood: a})
	c.logger.Info("Restored last good assessment",
		"assessment_id", a.ID,
		"risk_level", a.RiskLevel,
		"generated_at", a.GeneratedAt,
	)
	return nil
}

// Publish installs a as the latest assessment.
//
// # Description
//
// Latest and LastGood are replaced in one atomic swap. A non-blind
// assessment also becomes LastGood and is persisted; a persistence
// failure is logged and does not undo the publish. Every subscriber is
// then notified without blocking: a subscriber that has not consumed its
// previous snapshot gets it replaced by the new one.
//
// # Outputs
//
//   - Snapshot: The snapshot now visible to readers.
//   - error: ErrClosed after Close.
func (c *Cache) Publish(ctx context.Context, a *assessment.Assessment) (Snapshot, error) {
	if a == nil {
		return Snapshot{}, errors.New("publish: nil assessment")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Snapshot{}, ErrClosed
	}

	prev := c.snap.Load()
	next := &Snapshot{
		Latest:     a,
		LastGood:   prev.LastGood,
		Generation: prev.Generation + 1,
	}
	if !a.Blind {
		next.LastGood = a
	}
	c.snap.Store(next)

	if !a.Blind && c.store != nil {
		if err := c.store.Save(ctx, a); err != nil {
			c.logger.Warn("Failed to persist last good assessment",
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}

	for _, ch := range c.subs {
		offer(ch, *next)
	}
	return *next, nil
}

// offer delivers s to a buffered channel of capacity one, replacing any
// undelivered snapshot. Only Publish sends, and it holds c.mu.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Subscribe registers for published snapshots.
//
// # Outputs
//
//   - <-chan Snapshot: Receives every publish, latest wins. If the cache
//     already holds a snapshot it is delivered first. Closed by cancel or
//     by Close.
//   - func(): Cancels the subscription. Safe to call more than once.
//   - error: ErrClosed after Close.
func (c *Cache) Subscribe() (<-chan Snapshot, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}

	id := c.nextID
	c.nextID++
	ch := make(chan Snapshot, 1)
	if cur := c.snap.Load(); !cur.Empty() {
		ch <- *cur
	}
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel, nil
}

// Subscribers returns the number of active subscriptions.
func (c *Cache) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close closes every subscription. Get keeps returning the final snapshot.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
