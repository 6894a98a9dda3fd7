// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package profile

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/signals"
)

// Worker keeps cached profiles warm. Significant signals trigger an eager
// rebuild for their user; a periodic sweep rebuilds every cached user so
// low-value signals eventually fold in too. It satisfies suture.Service.
type Worker struct {
	cache      *Cache
	subscriber message.Subscriber
	interval   time.Duration
}

// NewWorker creates the rebuild worker. subscriber delivers user IDs on
// the significant-signals topic; interval paces the full sweep.
func NewWorker(cache *Cache, subscriber message.Subscriber, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{cache: cache, subscriber: subscriber, interval: interval}
}

// Serve consumes significant-signal messages and runs the periodic sweep
// until ctx is cancelled.
func (w *Worker) Serve(ctx context.Context) error {
	var msgs <-chan *message.Message
	if w.subscriber != nil {
		var err error
		msgs, err = w.subscriber.Subscribe(ctx, signals.TopicSignificantSignals)
		if err != nil {
			return err
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", w.interval).Msg("profile worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			userID := string(msg.Payload)
			if userID != "" {
				w.cache.Rebuild(ctx, userID, "significant")
				logging.Debug().Str("user_id", userID).Msg("eager profile rebuild")
			}
			msg.Ack()

		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	users := w.cache.Users()
	for _, userID := range users {
		if ctx.Err() != nil {
			return
		}
		w.cache.Rebuild(ctx, userID, "scheduled")
	}
	if len(users) > 0 {
		logging.Debug().Int("users", len(users)).Msg("scheduled profile sweep complete")
	}
}
