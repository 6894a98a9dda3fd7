// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"fmt"
)

// Selector produces the bounded candidate pool for a user: hard filters
// applied, already-consumed items excluded, pool size capped.
type Selector struct {
	repo    ContentRepository
	maxPool int
}

// NewSelector creates a selector capped at maxPool candidates.
func NewSelector(repo ContentRepository, maxPool int) *Selector {
	if maxPool <= 0 {
		maxPool = 200
	}
	return &Selector{repo: repo, maxPool: maxPool}
}

// Select returns eligible candidates for userID. An empty result is not
// an error; the caller decides whether to fall back.
func (s *Selector) Select(ctx context.Context, userID string, filters Filters) ([]CandidateItem, error) {
	historyIDs, err := s.repo.GetUserHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", userID, err)
	}
	consumed := make(map[string]struct{}, len(historyIDs))
	for _, id := range historyIDs {
		consumed[id] = struct{}{}
	}

	// Overfetch so history exclusion does not starve the pool.
	fetched, err := s.repo.FindCandidates(ctx, filters, s.maxPool+len(consumed))
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	pool := make([]CandidateItem, 0, s.maxPool)
	for i := range fetched {
		item := &fetched[i]
		if _, seen := consumed[item.ID]; seen {
			continue
		}
		// The repository already filtered, but hard filters are
		// policy: verify rather than trust.
		if !filters.Admits(item) {
			continue
		}
		pool = append(pool, *item)
		if len(pool) >= s.maxPool {
			break
		}
	}
	return pool, nil
}
