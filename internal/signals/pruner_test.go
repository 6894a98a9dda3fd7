// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package signals

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPrunerDiscardsExpiredSignals(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	seed := []Signal{
		{ID: "old", UserID: "reader-1", Type: TypeViewStart, Value: 1, Timestamp: now.Add(-100 * 24 * time.Hour)},
		{ID: "fresh", UserID: "reader-1", Type: TypeViewStart, Value: 1, Timestamp: now.Add(-time.Hour)},
	}
	if err := store.RecordBatch(context.Background(), seed); err != nil {
		t.Fatalf("RecordBatch: %v", err)
	}

	pruner := NewPruner(store, 90*24*time.Hour, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pruner.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.Len() != 1 {
		select {
		case <-deadline:
			t.Fatalf("store has %d signals, want 1 after prune", store.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}

	remaining, err := store.QueryUser(context.Background(), "reader-1", time.Time{})
	if err != nil {
		t.Fatalf("QueryUser: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("remaining = %v, want only the fresh signal", remaining)
	}
}

func TestPrunerDisabledWithoutRetention(t *testing.T) {
	pruner := NewPruner(NewMemoryStore(), 0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pruner.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
