// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"fmt"
	"time"

	"github.com/quillfeed/quillfeed/internal/signals"
)

const (
	// trendingRecentWindow is the burst window measured against the
	// baseline.
	trendingRecentWindow = 48 * time.Hour

	// trendingBaselineWindow is the rolling baseline period.
	trendingBaselineWindow = 14 * 24 * time.Hour
)

// Trending scores items by recent engagement velocity against their own
// rolling baseline. It reads no per-user state at all.
type Trending struct {
	window SignalWindow
}

// NewTrending creates the trending scorer over window.
func NewTrending(window SignalWindow) *Trending {
	return &Trending{window: window}
}

func (s *Trending) Name() string { return string(SourceTrending) }

func (s *Trending) Score(ctx context.Context, user *Context, candidates []CandidateItem) (map[string]Score, error) {
	all, err := s.window.QuerySince(ctx, user.Now.Add(-trendingBaselineWindow))
	if err != nil {
		return nil, fmt.Errorf("load signal window: %w", err)
	}

	recentCutoff := user.Now.Add(-trendingRecentWindow)
	recentCounts := map[string]int{}
	baselineCounts := map[string]int{}
	for i := range all {
		sig := &all[i]
		if sig.ItemID == "" || sig.Value <= 0 {
			continue
		}
		if sig.Type.Category() != signals.CategoryEngagement {
			continue
		}
		baselineCounts[sig.ItemID]++
		if !sig.Timestamp.Before(recentCutoff) {
			recentCounts[sig.ItemID]++
		}
	}

	// Per-burst-window engagement an average item sees over the
	// baseline period.
	baselineHours := trendingBaselineWindow.Hours()
	recentHours := trendingRecentWindow.Hours()

	out := make(map[string]Score, len(candidates))
	for i := range candidates {
		item := &candidates[i]
		recent := recentCounts[item.ID]
		if recent == 0 {
			continue
		}
		expected := float64(baselineCounts[item.ID]) * recentHours / baselineHours

		// Velocity 1 means on-pace; above 1 means accelerating.
		velocity := float64(recent) / (expected + 1)
		score := clamp01(velocity / 2)
		if score == 0 {
			continue
		}

		out[item.ID] = Score{
			ItemID:     item.ID,
			Score:      score,
			Reasons:    []string{"Trending with readers right now"},
			Confidence: clamp01(float64(recent) / 10),
			Source:     SourceTrending,
		}
	}
	return out, nil
}
