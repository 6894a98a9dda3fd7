// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package signals

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the durable signal log. Implementations must be safe for
// concurrent use. MemoryStore backs tests and dev mode; DuckDBStore backs
// production. Both satisfy the same contract so callers never know which
// one they hold.
type Store interface {
	// Record appends a single signal.
	Record(ctx context.Context, sig Signal) error

	// RecordBatch appends a batch of signals.
	RecordBatch(ctx context.Context, sigs []Signal) error

	// QueryUser returns one user's signals at or after since, ordered by
	// timestamp ascending. Used by the profile builder.
	QueryUser(ctx context.Context, userID string, since time.Time) ([]Signal, error)

	// QuerySince returns all users' signals at or after since, ordered by
	// timestamp ascending. Used by the trending and collaborative scorers.
	QuerySince(ctx context.Context, since time.Time) ([]Signal, error)

	// Prune discards signals older than before, returning how many were
	// removed. Called on the retention schedule.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu   sync.RWMutex
	sigs []Signal
}

// NewMemoryStore creates an empty in-memory signal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends a single signal.
func (m *MemoryStore) Record(_ context.Context, sig Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sigs = append(m.sigs, sig)
	return nil
}

// RecordBatch appends a batch of signals.
func (m *MemoryStore) RecordBatch(_ context.Context, sigs []Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sigs = append(m.sigs, sigs...)
	return nil
}

// QueryUser returns one user's signals at or after since.
func (m *MemoryStore) QueryUser(_ context.Context, userID string, since time.Time) ([]Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Signal, 0)
	for _, s := range m.sigs {
		if s.UserID == userID && !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// QuerySince returns all users' signals at or after since.
func (m *MemoryStore) QuerySince(_ context.Context, since time.Time) ([]Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Signal, 0)
	for _, s := range m.sigs {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Prune discards signals older than before.
func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.sigs[:0]
	removed := 0
	for _, s := range m.sigs {
		if s.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	m.sigs = kept
	return removed, nil
}

// Len returns the number of stored signals. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sigs)
}
