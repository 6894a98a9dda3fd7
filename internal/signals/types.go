// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package signals implements the durable, append-only log of user behavior
// events that feeds profile building and trending/collaborative scoring.
//
// Signals are immutable once recorded. Recording is fire-and-forget: a lost
// data point is acceptable, a broken user action is not.
package signals

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies the kind of behavioral observation a Signal carries.
type Type string

// Engagement signals.
const (
	TypeViewStart Type = "view_start"
	TypeLike      Type = "like"
	TypeBookmark  Type = "bookmark"
	TypeSubscribe Type = "subscribe"
	TypeShare     Type = "share"
)

// Behavioral signals.
const (
	TypeViewDuration   Type = "view_duration"
	TypeScrollDepth    Type = "scroll_depth"
	TypeReadingSpeed   Type = "reading_speed"
	TypeCompletionRate Type = "completion_rate"
	TypeReturnVisit    Type = "return_visit"
)

// Discovery signals.
const (
	TypeSearchQuery  Type = "search_query"
	TypeFilterUsage  Type = "filter_usage"
	TypeClickThrough Type = "click_through"
)

// Preference signals.
const (
	TypeGenreInteraction Type = "genre_interaction"
	TypeFormatPreference Type = "format_preference"
)

// Negative signals.
const (
	TypeSkip        Type = "skip"
	TypeDislike     Type = "dislike"
	TypeBlockAuthor Type = "block_author"
	TypeReport      Type = "report"
)

// Category groups signal types for weighting and retention decisions.
type Category string

const (
	CategoryEngagement Category = "engagement"
	CategoryBehavioral Category = "behavioral"
	CategoryDiscovery  Category = "discovery"
	CategoryPreference Category = "preference"
	CategoryNegative   Category = "negative"
	CategoryUnknown    Category = "unknown"
)

var typeCategories = map[Type]Category{
	TypeViewStart:        CategoryEngagement,
	TypeLike:             CategoryEngagement,
	TypeBookmark:         CategoryEngagement,
	TypeSubscribe:        CategoryEngagement,
	TypeShare:            CategoryEngagement,
	TypeViewDuration:     CategoryBehavioral,
	TypeScrollDepth:      CategoryBehavioral,
	TypeReadingSpeed:     CategoryBehavioral,
	TypeCompletionRate:   CategoryBehavioral,
	TypeReturnVisit:      CategoryBehavioral,
	TypeSearchQuery:      CategoryDiscovery,
	TypeFilterUsage:      CategoryDiscovery,
	TypeClickThrough:     CategoryDiscovery,
	TypeGenreInteraction: CategoryPreference,
	TypeFormatPreference: CategoryPreference,
	TypeSkip:             CategoryNegative,
	TypeDislike:          CategoryNegative,
	TypeBlockAuthor:      CategoryNegative,
	TypeReport:           CategoryNegative,
}

// Category returns the category for this signal type, or CategoryUnknown.
func (t Type) Category() Category {
	if c, ok := typeCategories[t]; ok {
		return c
	}
	return CategoryUnknown
}

// Known reports whether t is a recognized signal type.
func (t Type) Known() bool {
	_, ok := typeCategories[t]
	return ok
}

// significantTypes are the signal types that trigger an immediate profile
// refresh when carrying a meaningful value. Everything else folds in on the
// next scheduled rebuild.
var significantTypes = map[Type]struct{}{
	TypeLike:           {},
	TypeBookmark:       {},
	TypeSubscribe:      {},
	TypeCompletionRate: {},
	TypeDislike:        {},
	TypeBlockAuthor:    {},
}

// Metadata keys understood by the profile builder. Metadata is an open map;
// unknown keys pass through untouched.
const (
	MetaGenres         = "genres"          // comma-separated genre tags
	MetaFormat         = "format"          // content format identifier
	MetaWordsRead      = "words_read"      // integer word count read
	MetaElapsedMinutes = "elapsed_minutes" // reading time in minutes (float)
	MetaSessionMinutes = "session_minutes" // session length in minutes (float)
	MetaQuery          = "query"           // raw search query text
)

// Signal is an immutable, timestamped behavioral observation.
type Signal struct {
	// ID uniquely identifies the signal. Assigned at record time when empty.
	ID string `json:"id"`

	// UserID is the acting user.
	UserID string `json:"user_id"`

	// ItemID is the subject content item, when there is one. Search and
	// filter signals have no item.
	ItemID string `json:"item_id,omitempty"`

	// Type is the signal kind.
	Type Type `json:"type"`

	// Value is the normalized signal strength in [-1, 1]. Negative values
	// carry explicit negative feedback (skip, dislike, block).
	Value float64 `json:"value"`

	// Metadata is an open key/value map. See the Meta* constants for keys
	// the profile builder understands.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Timestamp is when the action happened.
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the signal for recordability. Signals failing validation
// are dropped by the recording layer, never surfaced to the acting user.
func (s *Signal) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("signal missing user id")
	}
	if !s.Type.Known() {
		return fmt.Errorf("unknown signal type %q", s.Type)
	}
	if s.Value < -1 || s.Value > 1 {
		return fmt.Errorf("signal value %f outside [-1, 1]", s.Value)
	}
	return nil
}

// Significant reports whether this signal should trigger an immediate
// profile refresh: a high-value type with |value| above the noise floor.
func (s *Signal) Significant() bool {
	if _, ok := significantTypes[s.Type]; !ok {
		return false
	}
	return s.Value > 0.1 || s.Value < -0.1
}

// Genres returns the genre tags carried in metadata, lowercased.
func (s *Signal) Genres() []string {
	raw, ok := s.Metadata[MetaGenres]
	if !ok || raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	genres := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			genres = append(genres, p)
		}
	}
	return genres
}

// Format returns the content format carried in metadata, or "".
func (s *Signal) Format() string {
	return strings.ToLower(strings.TrimSpace(s.Metadata[MetaFormat]))
}
