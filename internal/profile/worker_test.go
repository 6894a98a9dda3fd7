// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package profile

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/quillfeed/quillfeed/internal/signals"
)

func TestWorkerEagerRebuild(t *testing.T) {
	store := signals.NewMemoryStore()
	seedSignal(t, store, signals.Signal{
		UserID: "reader-1", ItemID: "i1", Type: signals.TypeLike, Value: 1,
		Metadata:  map[string]string{signals.MetaGenres: "fantasy"},
		Timestamp: testNow.Add(-time.Hour),
	})

	cache := NewCache(newTestBuilder(store, nil), time.Hour)
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	worker := NewWorker(cache, pubsub, time.Hour)
	done := make(chan error, 1)
	go func() { done <- worker.Serve(ctx) }()

	// Give the worker a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)

	msg := message.NewMessage("m1", []byte("reader-1"))
	if err := pubsub.Publish(signals.TopicSignificantSignals, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if users := cache.Users(); len(users) == 1 && users[0] == "reader-1" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker did not rebuild profile for significant signal")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Serve() returned %v, want context.Canceled", err)
	}
}
