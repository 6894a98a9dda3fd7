// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package profile

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quillfeed/quillfeed/internal/signals"
)

// flakySource serves signals until broken, then errors.
type flakySource struct {
	mu     sync.Mutex
	store  *signals.MemoryStore
	broken bool
}

func (f *flakySource) QueryUser(ctx context.Context, userID string, since time.Time) ([]signals.Signal, error) {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return nil, fmt.Errorf("signal store unavailable")
	}
	return f.store.QueryUser(ctx, userID, since)
}

func (f *flakySource) setBroken(b bool) {
	f.mu.Lock()
	f.broken = b
	f.mu.Unlock()
}

func TestCacheGetRebuildsOnMiss(t *testing.T) {
	store := signals.NewMemoryStore()
	ts := testNow.Add(-time.Hour)
	seedSignal(t, store, signals.Signal{
		UserID: "u1", ItemID: "i1", Type: signals.TypeLike, Value: 1,
		Metadata:  map[string]string{signals.MetaGenres: "fantasy"},
		Timestamp: ts,
	})

	cache := NewCache(newTestBuilder(store, nil), 15*time.Minute)
	cache.now = func() time.Time { return testNow }

	p := cache.Get(context.Background(), "u1")
	if p == nil {
		t.Fatal("Get() returned nil")
	}
	if p.GenreScore("fantasy") <= Neutral {
		t.Error("built profile missing genre affinity")
	}

	// Second Get within TTL returns the same snapshot.
	again := cache.Get(context.Background(), "u1")
	if again != p {
		t.Error("Get() within TTL rebuilt instead of serving cache")
	}
}

func TestCacheExpiryRebuilds(t *testing.T) {
	store := signals.NewMemoryStore()
	seedSignal(t, store, signals.Signal{
		UserID: "u1", ItemID: "i1", Type: signals.TypeLike, Value: 1,
		Timestamp: testNow.Add(-time.Hour),
	})

	cache := NewCache(newTestBuilder(store, nil), 15*time.Minute)
	clock := testNow
	cache.now = func() time.Time { return clock }

	first := cache.Get(context.Background(), "u1")

	clock = clock.Add(16 * time.Minute)
	second := cache.Get(context.Background(), "u1")
	if second == first {
		t.Error("Get() after TTL served the stale pointer")
	}
}

func TestCacheServesLastKnownGoodOnFailure(t *testing.T) {
	store := signals.NewMemoryStore()
	seedSignal(t, store, signals.Signal{
		UserID: "u1", ItemID: "i1", Type: signals.TypeLike, Value: 1,
		Metadata:  map[string]string{signals.MetaGenres: "fantasy"},
		Timestamp: testNow.Add(-time.Hour),
	})

	source := &flakySource{store: store}
	builder := NewBuilder(source, nil, 30*24*time.Hour)
	builder.now = func() time.Time { return testNow }

	cache := NewCache(builder, 15*time.Minute)
	clock := testNow
	cache.now = func() time.Time { return clock }

	good := cache.Get(context.Background(), "u1")
	if good.GenreScore("fantasy") <= Neutral {
		t.Fatal("initial build did not pick up signals")
	}

	// Past the TTL a rebuild is forced, and it now fails.
	clock = clock.Add(16 * time.Minute)
	source.setBroken(true)
	served := cache.Get(context.Background(), "u1")
	if served != good {
		t.Error("failed rebuild did not serve last-known-good profile")
	}

	// A user never built gets neutral, not an error or nil.
	fresh := cache.Get(context.Background(), "stranger")
	if fresh == nil {
		t.Fatal("Get() returned nil for unknown user during outage")
	}
	if fresh.QualityPreference != Neutral {
		t.Errorf("outage profile not neutral: %f", fresh.QualityPreference)
	}
}

func TestCacheInvalidate(t *testing.T) {
	store := signals.NewMemoryStore()
	cache := NewCache(newTestBuilder(store, nil), time.Hour)
	cache.now = func() time.Time { return testNow }

	first := cache.Get(context.Background(), "u1")
	cache.Invalidate("u1")
	second := cache.Get(context.Background(), "u1")
	if first == second {
		t.Error("Invalidate() did not force a rebuild")
	}

	users := cache.Users()
	if len(users) != 1 || users[0] != "u1" {
		t.Errorf("Users() = %v, want [u1]", users)
	}
}
