// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package profile

import (
	"context"
	"sync"
	"time"

	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/metrics"
)

type cacheEntry struct {
	profile *Profile
	expires time.Time
}

// Cache serves profiles with a per-user TTL, rebuilding on miss. A failed
// rebuild serves the last-known-good snapshot, or a neutral profile for
// users never built, so feed generation is never blocked on profile
// errors.
type Cache struct {
	builder *Builder
	ttl     time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	// now is replaceable in tests.
	now func() time.Time
}

// NewCache creates a cache over builder.
func NewCache(builder *Builder, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{
		builder: builder,
		ttl:     ttl,
		entries: map[string]cacheEntry{},
		now:     time.Now,
	}
}

// Get returns the user's profile, rebuilding if the cached copy is stale
// or absent. It never returns nil.
func (c *Cache) Get(ctx context.Context, userID string) *Profile {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expires) {
		metrics.ProfileCacheHits.Inc()
		return entry.profile
	}
	metrics.ProfileCacheMisses.Inc()

	trigger := "miss"
	if ok {
		trigger = "expired"
	}
	return c.rebuild(ctx, userID, trigger)
}

// Rebuild forces a fresh build regardless of TTL.
func (c *Cache) Rebuild(ctx context.Context, userID, trigger string) *Profile {
	return c.rebuild(ctx, userID, trigger)
}

// Invalidate drops the cached profile so the next Get rebuilds.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Users returns the user IDs currently cached.
func (c *Cache) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

func (c *Cache) rebuild(ctx context.Context, userID, trigger string) *Profile {
	built, err := c.builder.Build(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("profile build failed")

		c.mu.RLock()
		entry, ok := c.entries[userID]
		c.mu.RUnlock()
		if ok {
			// Stale beats broken.
			return entry.profile
		}
		return NewNeutral(userID)
	}

	metrics.ProfileRebuilds.WithLabelValues(trigger).Inc()

	c.mu.Lock()
	c.entries[userID] = cacheEntry{profile: built, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return built
}
