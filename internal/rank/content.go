// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"fmt"

	"github.com/quillfeed/quillfeed/internal/profile"
)

// Sub-score weights for the content-based scorer.
const (
	contentGenreWeight     = 0.40
	contentFormatWeight    = 0.20
	contentAuthorWeight    = 0.15
	contentQualityWeight   = 0.15
	contentFreshnessWeight = 0.10

	// contentScoreFloor drops items the profile has nothing good to
	// say about, rather than ranking them low.
	contentScoreFloor = 0.1

	// freshnessWindowDays is the linear decay horizon for new content.
	freshnessWindowDays = 30
)

// ContentBased scores candidates against the user's own preference
// profile: genre affinity, format taste, author familiarity, quality and
// freshness.
type ContentBased struct{}

// NewContentBased creates the content-based scorer.
func NewContentBased() *ContentBased { return &ContentBased{} }

func (s *ContentBased) Name() string { return string(SourceContentBased) }

func (s *ContentBased) Score(_ context.Context, user *Context, candidates []CandidateItem) (map[string]Score, error) {
	out := make(map[string]Score, len(candidates))

	for i := range candidates {
		item := &candidates[i]

		genre, bestGenre := genreAffinity(user.Profile, item)
		format := user.Profile.FormatScore(item.Format)
		author := authorFamiliarity(user, item)
		quality := item.EngagementRate()
		freshness := freshnessDecay(user.Now.Sub(item.CreatedAt).Hours() / 24)

		score := contentGenreWeight*genre +
			contentFormatWeight*format +
			contentAuthorWeight*author +
			contentQualityWeight*quality +
			contentFreshnessWeight*freshness

		if score < contentScoreFloor {
			continue
		}

		reasons := make([]string, 0, 3)
		if bestGenre != "" && genre > profile.Neutral {
			reasons = append(reasons, fmt.Sprintf("Matches your interest in %s", bestGenre))
		}
		if author > 0.9 {
			reasons = append(reasons, "From an author you follow")
		}
		if quality > 0.5 {
			reasons = append(reasons, "Highly rated by readers")
		}
		if freshness > 0.8 {
			reasons = append(reasons, "Recently published")
		}
		if len(reasons) == 0 {
			reasons = append(reasons, "Suggested for you")
		}

		out[item.ID] = Score{
			ItemID:     item.ID,
			Score:      clamp01(score),
			Reasons:    reasons,
			Confidence: profileConfidence(user.Profile),
			Source:     SourceContentBased,
		}
	}
	return out, nil
}

// genreAffinity averages the profile's affinity over the item's genres
// and reports the best-matching genre for explanations.
func genreAffinity(p *profile.Profile, item *CandidateItem) (float64, string) {
	if len(item.Genres) == 0 {
		return profile.Neutral, ""
	}
	sum := 0.0
	best := ""
	bestScore := 0.0
	for _, g := range item.Genres {
		score := p.GenreScore(g)
		sum += score
		if score > bestScore {
			bestScore = score
			best = g
		}
	}
	return sum / float64(len(item.Genres)), best
}

// authorFamiliarity is 1 for followed authors, above neutral for authors
// the user has liked before, neutral otherwise.
func authorFamiliarity(user *Context, item *CandidateItem) float64 {
	if user.Subscribed(item.AuthorID) {
		return 1
	}
	for _, liked := range user.Liked {
		if liked.AuthorID != "" && liked.AuthorID == item.AuthorID {
			return 0.8
		}
	}
	return profile.Neutral
}

// freshnessDecay decays linearly from 1 at publication to 0 at the
// window boundary.
func freshnessDecay(ageDays float64) float64 {
	if ageDays <= 0 {
		return 1
	}
	if ageDays >= freshnessWindowDays {
		return 0
	}
	return 1 - ageDays/freshnessWindowDays
}

// profileConfidence grows with the amount of evidence behind the profile.
func profileConfidence(p *profile.Profile) float64 {
	n := float64(p.SignalCount)
	return clamp01(0.3 + 0.7*n/(n+20))
}
