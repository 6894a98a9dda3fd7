// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"fmt"
	"strings"
)

// Similarity sub-score weights: genre overlap dominates, format match
// completes the picture.
const (
	similarityGenreWeight  = 0.7
	similarityFormatWeight = 0.3
)

// SimilarityBased scores each candidate by its single best match among
// the user's explicitly liked items, carrying the matched title into the
// explanation.
type SimilarityBased struct{}

// NewSimilarityBased creates the similarity scorer.
func NewSimilarityBased() *SimilarityBased { return &SimilarityBased{} }

func (s *SimilarityBased) Name() string { return string(SourceSimilarity) }

func (s *SimilarityBased) Score(_ context.Context, user *Context, candidates []CandidateItem) (map[string]Score, error) {
	if len(user.Liked) == 0 {
		return map[string]Score{}, nil
	}

	out := make(map[string]Score, len(candidates))
	for i := range candidates {
		item := &candidates[i]

		var best float64
		var bestTitle string
		for _, liked := range user.Liked {
			if liked.ItemID == item.ID {
				continue
			}
			sim := itemSimilarity(item, &liked)
			if sim > best {
				best = sim
				bestTitle = liked.Title
			}
		}
		if best == 0 {
			continue
		}

		reason := "Similar to a story you liked"
		if bestTitle != "" {
			reason = fmt.Sprintf("Similar to %q, which you liked", bestTitle)
		}
		out[item.ID] = Score{
			ItemID:     item.ID,
			Score:      clamp01(best),
			Reasons:    []string{reason},
			Confidence: clamp01(float64(len(user.Liked)) / 5),
			Source:     SourceSimilarity,
		}
	}
	return out, nil
}

// itemSimilarity is weighted genre Jaccard overlap plus format match.
func itemSimilarity(item *CandidateItem, liked *LikedItem) float64 {
	overlap := genreOverlap(item.Genres, liked.Genres)
	format := 0.0
	if liked.Format != "" && strings.EqualFold(item.Format, liked.Format) {
		format = 1
	}
	return similarityGenreWeight*overlap + similarityFormatWeight*format
}

// genreOverlap is |intersection| / |union| over lowercased genre sets.
func genreOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, g := range a {
		setA[strings.ToLower(g)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, g := range b {
		setB[strings.ToLower(g)] = struct{}{}
	}

	union := len(setA)
	shared := 0
	for g := range setB {
		if _, ok := setA[g]; ok {
			shared++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
