// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quillfeed/quillfeed/internal/rank"
	"github.com/quillfeed/quillfeed/internal/signals"
)

// SignalRequest is one inbound behavioral signal.
type SignalRequest struct {
	UserID    string            `json:"user_id" validate:"required,max=128"`
	ItemID    string            `json:"item_id,omitempty" validate:"max=128"`
	Type      string            `json:"type" validate:"required,max=64"`
	Value     float64           `json:"value" validate:"gte=-1,lte=1"`
	Metadata  map[string]string `json:"metadata,omitempty" validate:"max=32"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// ToSignal converts the request into a domain signal.
func (r *SignalRequest) ToSignal() signals.Signal {
	sig := signals.Signal{
		UserID:   r.UserID,
		ItemID:   r.ItemID,
		Type:     signals.Type(r.Type),
		Value:    r.Value,
		Metadata: r.Metadata,
	}
	if r.Timestamp != nil {
		sig.Timestamp = *r.Timestamp
	}
	return sig
}

// ItemRequest upserts one catalog item into the candidate repository.
type ItemRequest struct {
	ID        string     `json:"id" validate:"required,max=128"`
	Title     string     `json:"title" validate:"required,max=512"`
	Genres    []string   `json:"genres" validate:"max=16"`
	Format    string     `json:"format" validate:"max=64"`
	AuthorID  string     `json:"author_id" validate:"max=128"`
	WordCount int        `json:"word_count" validate:"gte=0"`
	Maturity  int        `json:"maturity" validate:"gte=0,lte=3"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	Likes     int        `json:"likes" validate:"gte=0"`
	Bookmarks int        `json:"bookmarks" validate:"gte=0"`
	Views     int        `json:"views" validate:"gte=0"`
}

// ToItem converts the request into a candidate item.
func (r *ItemRequest) ToItem() rank.CandidateItem {
	item := rank.CandidateItem{
		ID:        r.ID,
		Title:     r.Title,
		Genres:    r.Genres,
		Format:    r.Format,
		AuthorID:  r.AuthorID,
		WordCount: r.WordCount,
		Maturity:  r.Maturity,
		Likes:     r.Likes,
		Bookmarks: r.Bookmarks,
		Views:     r.Views,
	}
	if r.CreatedAt != nil {
		item.CreatedAt = *r.CreatedAt
	} else {
		item.CreatedAt = time.Now().UTC()
	}
	return item
}

// BatchSignalRequest carries multiple signals in one call.
type BatchSignalRequest struct {
	Signals []SignalRequest `json:"signals" validate:"required,min=1,max=500,dive"`
}

// IngestResult acknowledges an ingestion call. Dropped signals are
// logged server-side, never surfaced as request failures.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// feedSettings parses the feed request's optional tuning knobs from
// query parameters. Absent or unparseable values keep their defaults.
func feedSettings(r *http.Request) rank.Settings {
	q := r.URL.Query()
	settings := rank.Settings{MaxMaturity: rank.MaturityExplicit}

	if v := parseUnitFloat(q.Get("diversity_weight")); v >= 0 {
		settings.DiversityWeight = v
	}
	if v := parseUnitFloat(q.Get("freshness_weight")); v >= 0 {
		settings.FreshnessWeight = v
	}
	if v := parseUnitFloat(q.Get("quality_threshold")); v >= 0 {
		settings.QualityThreshold = v
	}
	if raw := q.Get("max_maturity"); raw != "" {
		if m, err := strconv.Atoi(raw); err == nil && m >= rank.MaturityEveryone && m <= rank.MaturityExplicit {
			settings.MaxMaturity = m
		}
	}
	settings.ExcludeGenres = splitParam(q.Get("exclude_genres"))
	settings.PreferredFormats = splitParam(q.Get("formats"))
	return settings
}

// parseUnitFloat parses a [0,1] float, returning -1 when absent or out
// of range.
func parseUnitFloat(raw string) float64 {
	if raw == "" {
		return -1
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return -1
	}
	return v
}

// splitParam splits a comma-separated parameter, dropping empties.
func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseLimit parses the page size, falling back to def and capping at
// max.
func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
