// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package signals

import (
	"context"
	"time"

	"github.com/quillfeed/quillfeed/internal/logging"
)

// Pruner periodically discards signals past the retention window. It
// runs as a supervised service alongside the appender.
type Pruner struct {
	store     Store
	retention time.Duration
	interval  time.Duration

	now func() time.Time
}

// NewPruner creates a pruner. A zero interval defaults to one hour.
func NewPruner(store Store, retention, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Serve implements suture.Service. Retention of zero or less disables
// pruning; the service just waits for shutdown.
func (p *Pruner) Serve(ctx context.Context) error {
	if p.retention <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := p.now().Add(-p.retention)
	pruned, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		logging.Warn().Err(err).Msg("Signal prune failed")
		return
	}
	if pruned > 0 {
		logging.Info().
			Int("pruned", pruned).
			Time("cutoff", cutoff).
			Msg("Pruned expired signals")
	}
}

// String identifies the service in supervisor log messages.
func (p *Pruner) String() string {
	return "signal-pruner"
}
