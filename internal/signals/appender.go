// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/metrics"
)

// TopicSignificantSignals carries user IDs whose profiles should be rebuilt
// ahead of the periodic schedule.
const TopicSignificantSignals = "signals.significant"

// AppenderOptions tunes the batching appender.
type AppenderOptions struct {
	// BatchSize is the flush chunk size and soft buffer threshold.
	BatchSize int
	// FlushInterval is how often buffered signals are flushed.
	FlushInterval time.Duration
	// Publisher, when set, receives a message per significant signal
	// after its batch is durably stored.
	Publisher message.Publisher
	// MaxBuffered caps the in-memory buffer during store outages.
	// Past the cap the oldest signals are shed; losing a data point is
	// acceptable, unbounded memory is not. Default: 64 * BatchSize.
	MaxBuffered int
}

// Appender buffers accepted signals and flushes them to the store in
// batches. Ingestion is fire-and-forget: Append never blocks on storage,
// and a failed flush retains its signals for the next attempt, bounded
// by MaxBuffered.
type Appender struct {
	store Store
	opts  AppenderOptions

	mu  sync.Mutex
	buf []Signal

	// flushMu serializes flushes so a slow store never sees
	// overlapping batches.
	flushMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// NewAppender creates an appender over store.
func NewAppender(store Store, opts AppenderOptions) *Appender {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.MaxBuffered <= 0 {
		opts.MaxBuffered = 64 * opts.BatchSize
	}
	return &Appender{
		store:  store,
		opts:   opts,
		buf:    make([]Signal, 0, opts.BatchSize),
		closed: make(chan struct{}),
	}
}

// Append validates and buffers a signal. Invalid signals are rejected
// without side effects. Missing IDs and timestamps are filled in.
func (a *Appender) Append(sig Signal) error {
	if err := sig.Validate(); err != nil {
		metrics.SignalsDropped.WithLabelValues("invalid").Inc()
		return fmt.Errorf("reject signal: %w", err)
	}

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	select {
	case <-a.closed:
		a.mu.Unlock()
		metrics.SignalsDropped.WithLabelValues("closed").Inc()
		return fmt.Errorf("appender closed")
	default:
	}
	a.buf = append(a.buf, sig)
	a.shedOverflowLocked()
	full := len(a.buf) >= a.opts.BatchSize
	a.mu.Unlock()

	metrics.SignalsIngested.WithLabelValues(string(sig.Type)).Inc()

	if full {
		go a.flush(context.Background())
	}
	return nil
}

// AppendBatch buffers each signal in sigs, skipping invalid ones. It
// returns how many were accepted.
func (a *Appender) AppendBatch(sigs []Signal) int {
	accepted := 0
	for i := range sigs {
		if err := a.Append(sigs[i]); err == nil {
			accepted++
		}
	}
	return accepted
}

// Serve runs the periodic flush loop until ctx is cancelled, then drains
// the buffer. It satisfies suture.Service.
func (a *Appender) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	logging.Info().
		Int("batch_size", a.opts.BatchSize).
		Dur("flush_interval", a.opts.FlushInterval).
		Msg("signal appender started")

	for {
		select {
		case <-ctx.Done():
			a.Close()
			return ctx.Err()
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// Close stops accepting signals and performs a final synchronous flush.
func (a *Appender) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		close(a.closed)
		a.mu.Unlock()
		a.flush(context.Background())
	})
}

// Flush forces a synchronous flush. Exposed for tests and shutdown paths.
func (a *Appender) Flush(ctx context.Context) {
	a.flush(ctx)
}

// Pending reports the number of buffered, unflushed signals.
func (a *Appender) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// shedOverflowLocked trims the buffer to MaxBuffered, dropping the
// oldest signals first. Callers must hold mu.
func (a *Appender) shedOverflowLocked() {
	excess := len(a.buf) - a.opts.MaxBuffered
	if excess <= 0 {
		return
	}
	a.buf = a.buf[excess:]
	metrics.SignalsDropped.WithLabelValues("overflow").Add(float64(excess))
	logging.Warn().
		Int("shed", excess).
		Int("buffered", len(a.buf)).
		Msg("signal buffer over capacity, shedding oldest")
}

func (a *Appender) flush(ctx context.Context) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	if len(a.buf) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.buf
	a.buf = make([]Signal, 0, a.opts.BatchSize)
	a.mu.Unlock()

	start := time.Now()
	flushed := 0
	for off := 0; off < len(batch); off += a.opts.BatchSize {
		end := off + a.opts.BatchSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[off:end]

		if err := a.store.RecordBatch(ctx, chunk); err != nil {
			// Put the unflushed tail back at the front of the
			// buffer so ordering survives the retry.
			a.mu.Lock()
			a.buf = append(batch[off:], a.buf...)
			a.shedOverflowLocked()
			a.mu.Unlock()

			logging.Error().Err(err).
				Int("retained", len(batch)-off).
				Msg("signal flush failed, retaining batch")
			return
		}
		flushed += len(chunk)
		a.publishSignificant(chunk)
	}

	metrics.RecordSignalFlush(time.Since(start), flushed)
}

// publishSignificant emits one message per significant signal so the
// profile worker can rebuild eagerly. Publish failures are logged and
// dropped; the periodic rebuild covers the gap.
func (a *Appender) publishSignificant(chunk []Signal) {
	if a.opts.Publisher == nil {
		return
	}
	for i := range chunk {
		if !chunk[i].Significant() {
			continue
		}
		msg := message.NewMessage(chunk[i].ID, []byte(chunk[i].UserID))
		msg.Metadata.Set("type", string(chunk[i].Type))
		if err := a.opts.Publisher.Publish(TopicSignificantSignals, msg); err != nil {
			logging.Warn().Err(err).
				Str("user_id", chunk[i].UserID).
				Msg("significant signal publish failed")
		}
	}
}
