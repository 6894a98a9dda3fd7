// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package rank scores candidate items for a user by running independent
// scoring strategies concurrently and combining their outputs into one
// ranked, diversity-constrained list.
package rank

import (
	"strings"
	"time"

	"github.com/quillfeed/quillfeed/internal/profile"
)

// Maturity ratings, ordered. An item is admissible when its rating is at
// or below the request's maximum.
const (
	MaturityEveryone = 0
	MaturityTeen     = 1
	MaturityMature   = 2
	MaturityExplicit = 3
)

// CandidateItem is a content item eligible for scoring. The engine reads
// it, never mutates it.
type CandidateItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Genres    []string  `json:"genres"`
	Format    string    `json:"format"`
	AuthorID  string    `json:"author_id"`
	WordCount int       `json:"word_count"`
	Maturity  int       `json:"maturity"`
	CreatedAt time.Time `json:"created_at"`

	Likes     int `json:"likes"`
	Bookmarks int `json:"bookmarks"`
	Views     int `json:"views"`

	// LastEngagedAt is the most recent like/bookmark/view, used by the
	// fallback list.
	LastEngagedAt time.Time `json:"last_engaged_at"`
}

// HasGenre reports whether the item carries genre (case-insensitive).
func (c *CandidateItem) HasGenre(genre string) bool {
	genre = strings.ToLower(genre)
	for _, g := range c.Genres {
		if strings.ToLower(g) == genre {
			return true
		}
	}
	return false
}

// EngagementRate is the quality heuristic (likes + 2*bookmarks) per view,
// clamped to 1.
func (c *CandidateItem) EngagementRate() float64 {
	views := c.Views
	if views < 1 {
		views = 1
	}
	return clamp01(float64(c.Likes+2*c.Bookmarks) / float64(views))
}

// Source identifies which strategy produced a score.
type Source string

const (
	SourceContentBased  Source = "content_based"
	SourceCollaborative Source = "collaborative"
	SourceTrending      Source = "trending"
	SourceSimilarity    Source = "similarity"
	SourceHybrid        Source = "hybrid"
)

// Score is one strategy's (or the ensemble's) verdict on an item. Reasons
// are user-facing explanations, not debug output.
type Score struct {
	ItemID     string   `json:"item_id"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
	Source     Source   `json:"source"`
}

// Filters are hard policy constraints applied before scoring. Scoring
// never overrides them.
type Filters struct {
	ExcludedGenres []string `json:"excluded_genres,omitempty"`
	MaxMaturity    int      `json:"max_maturity"`
	AllowedFormats []string `json:"allowed_formats,omitempty"`
}

// DefaultFilters admits everything.
func DefaultFilters() Filters {
	return Filters{MaxMaturity: MaturityExplicit}
}

// Admits reports whether item passes every hard filter.
func (f *Filters) Admits(item *CandidateItem) bool {
	if item.Maturity > f.MaxMaturity {
		return false
	}
	for _, g := range f.ExcludedGenres {
		if item.HasGenre(g) {
			return false
		}
	}
	if len(f.AllowedFormats) > 0 {
		allowed := false
		for _, format := range f.AllowedFormats {
			if strings.EqualFold(format, item.Format) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}

// Settings are the per-request tuning knobs.
type Settings struct {
	// DiversityWeight scales the per-genre cap: 0 keeps the configured
	// cap, 0.5 matches it, 1 allows one item per genre.
	DiversityWeight  float64  `json:"diversity_weight"`
	FreshnessWeight  float64  `json:"freshness_weight"`
	QualityThreshold float64  `json:"quality_threshold"`
	ExcludeGenres    []string `json:"exclude_genres,omitempty"`
	MaxMaturity      int      `json:"max_maturity"`
	PreferredFormats []string `json:"preferred_formats,omitempty"`

	// WeightsOverride replaces the engine's default ensemble weights.
	// Set by the experiment router, never by callers.
	WeightsOverride Weights `json:"-"`

	// StrategySubset restricts scoring to the named strategies. Set by
	// the experiment router, never by callers.
	StrategySubset []string `json:"-"`
}

// ToFilters translates the request settings into hard filters.
func (s *Settings) ToFilters() Filters {
	return Filters{
		ExcludedGenres: s.ExcludeGenres,
		MaxMaturity:    s.MaxMaturity,
		AllowedFormats: s.PreferredFormats,
	}
}

// LikedItem is a compact view of an item the user explicitly liked, used
// for similarity matching and explanations.
type LikedItem struct {
	ItemID   string
	Title    string
	Genres   []string
	Format   string
	AuthorID string
}

// Context carries everything strategies need about the requesting user.
// Strategies treat it as read-only.
type Context struct {
	UserID        string
	Profile       *profile.Profile
	History       map[string]struct{}
	Subscriptions map[string]struct{}
	Liked         []LikedItem
	Now           time.Time
}

// Subscribed reports whether the user follows authorID.
func (c *Context) Subscribed(authorID string) bool {
	_, ok := c.Subscriptions[authorID]
	return ok
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
