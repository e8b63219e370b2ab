// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/riskboard/services/riskengine/assessment"
)

// =============================================================================
// Key Layout
// =============================================================================

const (
	lastGoodKey  = "riskboard/last_good"
	recentPrefix = "riskboard/recent/"

	// MaxRecent caps a single Recent call.
	MaxRecent = 500
)

// recentKey orders entries by generation time. The zero-padded nanosecond
// timestamp sorts lexically in time order.
func recentKey(a *assessment.Assessment) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", recentPrefix, a.GeneratedAt.UnixNano(), a.ID))
}

// =============================================================================
// AssessmentStore
// =============================================================================

// AssessmentStore reads and writes assessments as JSON.
//
// # Description
//
// Save and Load implement the cache's last-good persistence. Append and
// Recent keep a retention window of every published assessment, blind
// ones included, with Badger TTLs doing the expiry.
//
// # Thread Safety
//
// Safe for concurrent use.
type AssessmentStore struct {
	db *DB
}

// NewAssessmentStore wraps an open database.
func NewAssessmentStore(db *DB) (*AssessmentStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &AssessmentStore{db: db}, nil
}

// Save replaces the persisted last good assessment.
func (s *AssessmentStore) Save(ctx context.Context, a *assessment.Assessment) error {
	if a == nil {
		return errors.New("save: nil assessment")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assessment %s: %w", a.ID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(lastGoodKey), data)
	})
}

// Load returns the persisted last good assessment, or (nil, nil) when
// none has been saved.
func (s *AssessmentStore) Load(ctx context.Context) (*assessment.Assessment, error) {
	var out *assessment.Assessment
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastGoodKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var a assessment.Assessment
			if err := json.Unmarshal(val, &a); err != nil {
				return fmt.Errorf("decode last good assessment: %w", err)
			}
			out = &a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Append records a published assessment in the retention window.
func (s *AssessmentStore) Append(ctx context.Context, a *assessment.Assessment) error {
	if a == nil {
		return errors.New("append: nil assessment")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assessment %s: %w", a.ID, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		e := badger.NewEntry(recentKey(a), data)
		if ttl := s.db.cfg.Retention; ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

// Recent returns up to limit assessments, newest first. limit is clamped
// to [1, MaxRecent].
func (s *AssessmentStore) Recent(ctx context.Context, limit int) ([]*assessment.Assessment, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxRecent {
		limit = MaxRecent
	}

	out := make([]*assessment.Assessment, 0, limit)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(recentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the last key <= the seek key, so seek
		// past every key under the prefix.
		seek := append([]byte(recentPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix) && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var a assessment.Assessment
				if err := json.Unmarshal(val, &a); err != nil {
					return fmt.Errorf("decode assessment %s: %w", it.Item().Key(), err)
				}
				out = append(out, &a)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
