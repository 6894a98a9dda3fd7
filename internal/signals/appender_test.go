// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package signals

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// failingStore wraps a MemoryStore and fails the first failures batches.
type failingStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *failingStore) RecordBatch(ctx context.Context, sigs []Signal) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return fmt.Errorf("store unavailable")
	}
	f.mu.Unlock()
	return f.MemoryStore.RecordBatch(ctx, sigs)
}

func TestAppenderFlush(t *testing.T) {
	store := NewMemoryStore()
	app := NewAppender(store, AppenderOptions{BatchSize: 8, FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		err := app.Append(Signal{
			UserID: "u1",
			ItemID: fmt.Sprintf("i%d", i),
			Type:   TypeViewStart,
			Value:  0.2,
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if got := app.Pending(); got != 5 {
		t.Fatalf("Pending() = %d before flush, want 5", got)
	}

	app.Flush(context.Background())

	if got := app.Pending(); got != 0 {
		t.Errorf("Pending() = %d after flush, want 0", got)
	}
	if store.Len() != 5 {
		t.Errorf("store holds %d signals, want 5", store.Len())
	}

	// IDs and timestamps were assigned on Append.
	got, err := store.QueryUser(context.Background(), "u1", time.Time{})
	if err != nil {
		t.Fatalf("QueryUser() error = %v", err)
	}
	for _, sig := range got {
		if sig.ID == "" {
			t.Error("flushed signal missing assigned id")
		}
		if sig.Timestamp.IsZero() {
			t.Error("flushed signal missing assigned timestamp")
		}
	}
}

func TestAppenderRejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	app := NewAppender(store, AppenderOptions{BatchSize: 8, FlushInterval: time.Hour})

	if err := app.Append(Signal{ItemID: "i1", Type: TypeLike, Value: 1}); err == nil {
		t.Fatal("Append() accepted signal without user id")
	}
	if err := app.Append(Signal{UserID: "u1", Type: Type("bogus"), Value: 1}); err == nil {
		t.Fatal("Append() accepted unknown signal type")
	}

	app.Flush(context.Background())
	if store.Len() != 0 {
		t.Errorf("invalid signals reached the store: %d recorded", store.Len())
	}
}

func TestAppenderRetainsOnFlushFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failures: 1}
	app := NewAppender(store, AppenderOptions{BatchSize: 8, FlushInterval: time.Hour})

	for i := 0; i < 3; i++ {
		if err := app.Append(Signal{UserID: "u1", ItemID: fmt.Sprintf("i%d", i), Type: TypeLike, Value: 1}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	ctx := context.Background()
	app.Flush(ctx)
	if got := app.Pending(); got != 3 {
		t.Fatalf("Pending() = %d after failed flush, want 3 retained", got)
	}

	app.Flush(ctx)
	if got := app.Pending(); got != 0 {
		t.Errorf("Pending() = %d after retry, want 0", got)
	}
	if store.Len() != 3 {
		t.Errorf("store holds %d signals after retry, want 3", store.Len())
	}
}

func TestAppenderBoundsBufferDuringOutage(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failures: 1000}
	app := NewAppender(store, AppenderOptions{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxBuffered:   8,
	})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := app.Append(Signal{UserID: "u1", ItemID: fmt.Sprintf("i%d", i), Type: TypeLike, Value: 1}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		app.Flush(ctx)
		if got := app.Pending(); got > 8 {
			t.Fatalf("Pending() = %d during outage, cap is 8", got)
		}
	}

	// Recover the store; the buffer should hold only the newest 8.
	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()

	app.Flush(ctx)
	if got := app.Pending(); got != 0 {
		t.Fatalf("Pending() = %d after recovery, want 0", got)
	}
	landed, err := store.QueryUser(ctx, "u1", time.Time{})
	if err != nil {
		t.Fatalf("QueryUser() error = %v", err)
	}
	if len(landed) != 8 {
		t.Fatalf("store holds %d signals, want the retained 8", len(landed))
	}
	if landed[0].ItemID != "i12" || landed[7].ItemID != "i19" {
		t.Errorf("retained window = %s..%s, want i12..i19 (oldest shed first)",
			landed[0].ItemID, landed[7].ItemID)
	}
}

func TestAppenderAppendBatch(t *testing.T) {
	store := NewMemoryStore()
	app := NewAppender(store, AppenderOptions{BatchSize: 8, FlushInterval: time.Hour})

	accepted := app.AppendBatch([]Signal{
		{UserID: "u1", ItemID: "i1", Type: TypeLike, Value: 1},
		{Type: TypeLike, Value: 1}, // missing user
		{UserID: "u1", ItemID: "i2", Type: TypeBookmark, Value: 0.8},
	})
	if accepted != 2 {
		t.Errorf("AppendBatch() accepted = %d, want 2", accepted)
	}
}

func TestAppenderPublishesSignificantSignals(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := pubsub.Subscribe(ctx, TopicSignificantSignals)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	store := NewMemoryStore()
	app := NewAppender(store, AppenderOptions{
		BatchSize:     8,
		FlushInterval: time.Hour,
		Publisher:     pubsub,
	})

	// One significant, one not.
	if err := app.Append(Signal{UserID: "reader-7", ItemID: "i1", Type: TypeLike, Value: 1}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := app.Append(Signal{UserID: "reader-7", ItemID: "i2", Type: TypeViewStart, Value: 0.2}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	app.Flush(ctx)

	select {
	case msg := <-msgs:
		if string(msg.Payload) != "reader-7" {
			t.Errorf("published user id = %q, want reader-7", msg.Payload)
		}
		if msg.Metadata.Get("type") != string(TypeLike) {
			t.Errorf("published type = %q, want like", msg.Metadata.Get("type"))
		}
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("no significant signal published before timeout")
	}

	// The view_start must not produce a second message.
	select {
	case msg := <-msgs:
		t.Errorf("unexpected extra message for user %q", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAppenderCloseDrains(t *testing.T) {
	store := NewMemoryStore()
	app := NewAppender(store, AppenderOptions{BatchSize: 8, FlushInterval: time.Hour})

	if err := app.Append(Signal{UserID: "u1", ItemID: "i1", Type: TypeLike, Value: 1}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	app.Close()

	if store.Len() != 1 {
		t.Errorf("store holds %d signals after close, want 1", store.Len())
	}
	if err := app.Append(Signal{UserID: "u1", ItemID: "i2", Type: TypeLike, Value: 1}); err == nil {
		t.Error("Append() accepted signal after close")
	}
}
