// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/quillfeed/quillfeed/internal/signals"
)

// Interaction strength weights for neighbor engagement.
const (
	interactionLikeWeight       = 0.4
	interactionBookmarkWeight   = 0.3
	interactionCompletionWeight = 0.3

	// completionStrengthFloor is the completion value above which a
	// read counts as a real interaction.
	completionStrengthFloor = 0.5

	// maxNeighbors bounds the similar-user set per request.
	maxNeighbors = 20
)

// SignalWindow is the slice of the signal store the collaborative and
// trending scorers read: all users, bounded lookback.
type SignalWindow interface {
	QuerySince(ctx context.Context, since time.Time) ([]signals.Signal, error)
}

// SimilarityFunc compares two users' item-interaction vectors. Pluggable
// so a richer similarity can replace the default without touching the
// scorer.
type SimilarityFunc func(a, b map[string]float64) float64

// CosineOverlap is the default similarity: co-engagement overlap
// normalized by both users' activity volume.
func CosineOverlap(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for item := range a {
		if _, ok := b[item]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}
	return float64(shared) / math.Sqrt(float64(len(a))*float64(len(b)))
}

// Collaborative scores candidates by what behaviorally similar users
// engaged with. Items no neighbor touched are excluded, not scored zero.
type Collaborative struct {
	window     SignalWindow
	lookback   time.Duration
	similarity SimilarityFunc
}

// NewCollaborative creates the collaborative scorer over window with the
// given lookback. A nil similarity uses CosineOverlap.
func NewCollaborative(window SignalWindow, lookback time.Duration, similarity SimilarityFunc) *Collaborative {
	if lookback <= 0 {
		lookback = 14 * 24 * time.Hour
	}
	if similarity == nil {
		similarity = CosineOverlap
	}
	return &Collaborative{window: window, lookback: lookback, similarity: similarity}
}

func (s *Collaborative) Name() string { return string(SourceCollaborative) }

func (s *Collaborative) Score(ctx context.Context, user *Context, candidates []CandidateItem) (map[string]Score, error) {
	recent, err := s.window.QuerySince(ctx, user.Now.Add(-s.lookback))
	if err != nil {
		return nil, fmt.Errorf("load signal window: %w", err)
	}

	vectors := interactionVectors(recent)
	own, ok := vectors[user.UserID]
	if !ok || len(own) == 0 {
		// Nothing to neighbor against.
		return map[string]Score{}, nil
	}

	type neighbor struct {
		id  string
		sim float64
	}
	neighbors := make([]neighbor, 0, len(vectors))
	for id, vec := range vectors {
		if id == user.UserID {
			continue
		}
		if sim := s.similarity(own, vec); sim > 0 {
			neighbors = append(neighbors, neighbor{id: id, sim: sim})
		}
	}
	if len(neighbors) == 0 {
		return map[string]Score{}, nil
	}
	// Keep the strongest neighbors; selection sort is fine at this size.
	for i := 0; i < len(neighbors) && i < maxNeighbors; i++ {
		best := i
		for j := i + 1; j < len(neighbors); j++ {
			if neighbors[j].sim > neighbors[best].sim {
				best = j
			}
		}
		neighbors[i], neighbors[best] = neighbors[best], neighbors[i]
	}
	if len(neighbors) > maxNeighbors {
		neighbors = neighbors[:maxNeighbors]
	}

	out := make(map[string]Score, len(candidates))
	for i := range candidates {
		item := &candidates[i]

		var weighted, simSum float64
		supporters := 0
		for _, n := range neighbors {
			strength, ok := vectors[n.id][item.ID]
			if !ok {
				continue
			}
			weighted += n.sim * strength
			simSum += n.sim
			supporters++
		}
		if supporters == 0 {
			continue
		}

		out[item.ID] = Score{
			ItemID:     item.ID,
			Score:      clamp01(weighted / simSum),
			Reasons:    []string{fmt.Sprintf("Popular with %d readers like you", supporters)},
			Confidence: clamp01(float64(supporters) / 5),
			Source:     SourceCollaborative,
		}
	}
	return out, nil
}

// interactionVectors folds the signal window into per-user item-strength
// maps using the interaction weights.
func interactionVectors(recent []signals.Signal) map[string]map[string]float64 {
	vectors := map[string]map[string]float64{}
	for i := range recent {
		sig := &recent[i]
		if sig.ItemID == "" || sig.Value <= 0 {
			continue
		}

		var strength float64
		switch sig.Type {
		case signals.TypeLike:
			strength = interactionLikeWeight
		case signals.TypeBookmark:
			strength = interactionBookmarkWeight
		case signals.TypeCompletionRate:
			if sig.Value > completionStrengthFloor {
				strength = interactionCompletionWeight
			}
		default:
			continue
		}
		if strength == 0 {
			continue
		}

		vec := vectors[sig.UserID]
		if vec == nil {
			vec = map[string]float64{}
			vectors[sig.UserID] = vec
		}
		// Components add up: a liked, bookmarked and finished item
		// reaches full strength.
		vec[sig.ItemID] = clamp01(vec[sig.ItemID] + strength)
	}
	return vectors
}
