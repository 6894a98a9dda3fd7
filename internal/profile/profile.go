// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package profile derives per-user preference snapshots from behavioral
// signals. A profile is a cache over the signal log, never a source of
// truth: replaying the same signals always rebuilds the same profile.
package profile

import (
	"strings"
	"time"
)

// Neutral is the preference score assigned when no evidence exists either
// way. New users score every genre and format at Neutral.
const Neutral = 0.5

// LengthPreference is the user's preferred reading length as a
// distribution over three buckets. The weights sum to 1.
type LengthPreference struct {
	Short  float64 `json:"short"`
	Medium float64 `json:"medium"`
	Long   float64 `json:"long"`
}

// ReadingStats aggregates a user's reading behavior.
type ReadingStats struct {
	// AvgSessionMinutes is the mean reading session length.
	AvgSessionMinutes float64 `json:"avg_session_minutes"`

	// PeakHours are the up-to-three most active hours of day (0-23),
	// busiest first.
	PeakHours []int `json:"peak_hours,omitempty"`

	// CompletionRate is the mean completion across finished reads, 0-1.
	CompletionRate float64 `json:"completion_rate"`

	// ReturnRate estimates how often the user comes back, 0-1.
	ReturnRate float64 `json:"return_rate"`

	// WordsPerMinute is the observed reading speed, 0 when unknown.
	WordsPerMinute float64 `json:"words_per_minute"`
}

// Profile is the derived preference snapshot for one user.
type Profile struct {
	UserID string `json:"user_id"`

	// GenreAffinity maps lowercase genre tags to affinity in [0,1].
	// Genres the user has never touched are absent; readers should
	// treat absence as Neutral.
	GenreAffinity map[string]float64 `json:"genre_affinity"`

	// FormatPreference is a distribution over formats the user has
	// engaged with, summing to 1 when non-empty.
	FormatPreference map[string]float64 `json:"format_preference"`

	LengthPreference LengthPreference `json:"length_preference"`

	Reading ReadingStats `json:"reading"`

	// SocialEngagement summarizes sharing/subscribing activity, 0-1.
	SocialEngagement float64 `json:"social_engagement"`

	// QualityPreference captures how strongly the user favors highly
	// engaged items relative to the corpus baseline, 0-1.
	QualityPreference float64 `json:"quality_preference"`

	// FreshnessPreference captures appetite for recent content, 0-1.
	FreshnessPreference float64 `json:"freshness_preference"`

	// SignalCount is how many signals produced this snapshot.
	SignalCount int `json:"signal_count"`

	// LastUpdated is the timestamp of the newest signal folded in, so
	// rebuilding from the same signals yields an identical profile.
	LastUpdated time.Time `json:"last_updated"`
}

// NewNeutral returns the profile served for users with no signal history.
// Every scalar preference sits at Neutral and the length distribution is
// uniform.
func NewNeutral(userID string) *Profile {
	return &Profile{
		UserID:           userID,
		GenreAffinity:    map[string]float64{},
		FormatPreference: map[string]float64{},
		LengthPreference: LengthPreference{
			Short:  1.0 / 3,
			Medium: 1.0 / 3,
			Long:   1.0 / 3,
		},
		Reading: ReadingStats{
			CompletionRate: Neutral,
			ReturnRate:     Neutral,
		},
		SocialEngagement:    Neutral,
		QualityPreference:   Neutral,
		FreshnessPreference: Neutral,
	}
}

// GenreScore returns the affinity for genre, or Neutral when the user has
// no history with it. Affinity keys are lowercased at build time, so the
// lookup folds case; catalog tags arrive in whatever casing authors used.
func (p *Profile) GenreScore(genre string) float64 {
	if s, ok := p.GenreAffinity[strings.ToLower(genre)]; ok {
		return s
	}
	return Neutral
}

// FormatScore returns the user's preference for format scaled so the
// favorite format scores 1, or Neutral when the format is unseen. The
// lookup folds case like GenreScore.
func (p *Profile) FormatScore(format string) float64 {
	share, ok := p.FormatPreference[strings.ToLower(format)]
	if !ok {
		return Neutral
	}

	max := 0.0
	for _, s := range p.FormatPreference {
		if s > max {
			max = s
		}
	}
	if max <= 0 {
		return Neutral
	}
	return clamp01(share / max)
}

// TopGenres returns up to n genres with affinity above Neutral, strongest
// first. Ties break alphabetically so output is stable.
func (p *Profile) TopGenres(n int) []string {
	type entry struct {
		genre string
		score float64
	}
	top := make([]entry, 0, len(p.GenreAffinity))
	for g, s := range p.GenreAffinity {
		if s > Neutral {
			top = append(top, entry{g, s})
		}
	}

	// Insertion sort; affinity maps stay small.
	for i := 1; i < len(top); i++ {
		for j := i; j > 0; j-- {
			a, b := top[j-1], top[j]
			if b.score > a.score || (b.score == a.score && b.genre < a.genre) {
				top[j-1], top[j] = b, a
			} else {
				break
			}
		}
	}

	if n > len(top) {
		n = len(top)
	}
	genres := make([]string, n)
	for i := 0; i < n; i++ {
		genres[i] = top[i].genre
	}
	return genres
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
