// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ContentRepository is the read-only collaborator supplying items and
// user relationships. The ranking engine never writes through it.
type ContentRepository interface {
	// FindCandidates returns up to limit items passing the hard filters.
	FindCandidates(ctx context.Context, filters Filters, limit int) ([]CandidateItem, error)

	// GetItem returns one item by ID.
	GetItem(ctx context.Context, itemID string) (*CandidateItem, error)

	// GetUserHistory returns item IDs the user has already consumed.
	GetUserHistory(ctx context.Context, userID string) ([]string, error)

	// GetSubscriptions returns author IDs the user follows.
	GetSubscriptions(ctx context.Context, userID string) ([]string, error)

	// RecentlyEngaged returns up to limit recently engaged items with
	// above-average engagement, newest engagement first. Backs the
	// fallback feed.
	RecentlyEngaged(ctx context.Context, limit int) ([]CandidateItem, error)
}

// MemoryRepository is an in-memory ContentRepository for tests and
// single-node deployments. It also serves as the corpus statistics
// source for profile building.
type MemoryRepository struct {
	mu            sync.RWMutex
	items         map[string]CandidateItem
	history       map[string][]string
	subscriptions map[string][]string
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:         map[string]CandidateItem{},
		history:       map[string][]string{},
		subscriptions: map[string][]string{},
	}
}

// PutItem inserts or replaces an item.
func (r *MemoryRepository) PutItem(item CandidateItem) {
	r.mu.Lock()
	r.items[item.ID] = item
	r.mu.Unlock()
}

// AddHistory marks itemIDs consumed by userID.
func (r *MemoryRepository) AddHistory(userID string, itemIDs ...string) {
	r.mu.Lock()
	r.history[userID] = append(r.history[userID], itemIDs...)
	r.mu.Unlock()
}

// AddSubscription subscribes userID to authorIDs.
func (r *MemoryRepository) AddSubscription(userID string, authorIDs ...string) {
	r.mu.Lock()
	r.subscriptions[userID] = append(r.subscriptions[userID], authorIDs...)
	r.mu.Unlock()
}

// FindCandidates returns filtered items in a stable ID order.
func (r *MemoryRepository) FindCandidates(_ context.Context, filters Filters, limit int) ([]CandidateItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]CandidateItem, 0, limit)
	for _, id := range ids {
		item := r.items[id]
		if !filters.Admits(&item) {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetItem(_ context.Context, itemID string) (*CandidateItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s not found", itemID)
	}
	return &item, nil
}

func (r *MemoryRepository) GetUserHistory(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.history[userID]...), nil
}

func (r *MemoryRepository) GetSubscriptions(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.subscriptions[userID]...), nil
}

// RecentlyEngaged returns above-average-rated items ordered by most
// recent engagement.
func (r *MemoryRepository) RecentlyEngaged(_ context.Context, limit int) ([]CandidateItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.items) == 0 {
		return nil, nil
	}

	baseline := 0.0
	for _, item := range r.items {
		baseline += item.EngagementRate()
	}
	baseline /= float64(len(r.items))

	out := make([]CandidateItem, 0, len(r.items))
	for _, item := range r.items {
		if item.EngagementRate() >= baseline {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastEngagedAt.Equal(out[j].LastEngagedAt) {
			return out[i].LastEngagedAt.After(out[j].LastEngagedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ItemEngagement reports like, bookmark and view counts for profile
// quality estimation.
func (r *MemoryRepository) ItemEngagement(_ context.Context, itemID string) (int, int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[itemID]
	if !ok {
		return 0, 0, 0, fmt.Errorf("item %s not found", itemID)
	}
	return item.Likes, item.Bookmarks, item.Views, nil
}

// CorpusBaseline is the mean engagement rate across all items.
func (r *MemoryRepository) CorpusBaseline(_ context.Context) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.items) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, item := range r.items {
		sum += item.EngagementRate()
	}
	return sum / float64(len(r.items)), nil
}
