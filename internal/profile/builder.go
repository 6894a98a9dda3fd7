// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package profile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/signals"
)

// SignalSource is the slice of the signal store the builder reads.
type SignalSource interface {
	QueryUser(ctx context.Context, userID string, since time.Time) ([]signals.Signal, error)
}

// ItemStatsSource supplies engagement counts for quality-preference
// estimation. Optional; without it quality preference stays Neutral.
type ItemStatsSource interface {
	// ItemEngagement returns like, bookmark and view counts for an item.
	ItemEngagement(ctx context.Context, itemID string) (likes, bookmarks, views int, err error)

	// CorpusBaseline returns the mean engagement rate across the corpus.
	CorpusBaseline(ctx context.Context) (float64, error)
}

// typeWeights order signal types by how strongly they express preference.
// Weights multiply the signal's normalized value, so negative feedback
// subtracts through its negative value.
var typeWeights = map[signals.Type]float64{
	signals.TypeLike:             1.0,
	signals.TypeSubscribe:        0.9,
	signals.TypeBookmark:         0.8,
	signals.TypeShare:            0.7,
	signals.TypeCompletionRate:   0.6,
	signals.TypeGenreInteraction: 0.5,
	signals.TypeFormatPreference: 0.5,
	signals.TypeReturnVisit:      0.4,
	signals.TypeViewDuration:     0.3,
	signals.TypeViewStart:        0.2,
	signals.TypeScrollDepth:      0.2,
	signals.TypeClickThrough:     0.1,
	signals.TypeSearchQuery:      0.1,
	signals.TypeFilterUsage:      0.1,
	signals.TypeSkip:             0.3,
	signals.TypeDislike:          0.8,
	signals.TypeBlockAuthor:      1.0,
	signals.TypeReport:           1.0,
}

// Length bucket boundaries in words.
const (
	shortWordLimit  = 5000
	mediumWordLimit = 30000
)

// Builder turns a user's signal history into a Profile. It is a pure
// read+compute operation: rebuilding from unchanged signals yields an
// identical profile.
type Builder struct {
	signals SignalSource
	stats   ItemStatsSource
	window  time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewBuilder creates a builder reading the last window of signals. stats
// may be nil.
func NewBuilder(src SignalSource, stats ItemStatsSource, window time.Duration) *Builder {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Builder{
		signals: src,
		stats:   stats,
		window:  window,
		now:     time.Now,
	}
}

// Build computes the profile for userID. Users with no history get a
// neutral profile, not an error.
func (b *Builder) Build(ctx context.Context, userID string) (*Profile, error) {
	since := b.now().Add(-b.window)
	history, err := b.signals.QueryUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query signals for %s: %w", userID, err)
	}
	if len(history) == 0 {
		return NewNeutral(userID), nil
	}

	p := NewNeutral(userID)
	p.SignalCount = len(history)
	p.LastUpdated = history[len(history)-1].Timestamp

	b.buildGenreAffinity(p, history)
	b.buildFormatPreference(p, history)
	b.buildLengthPreference(p, history)
	b.buildReadingStats(p, history)
	b.buildSocialEngagement(p, history)
	b.buildQualityPreference(ctx, p, history)

	return p, nil
}

// buildGenreAffinity computes an engagement-weighted average of signal
// values per genre tag, shifted so no evidence means Neutral and pulled
// toward Neutral when evidence is thin.
func (b *Builder) buildGenreAffinity(p *Profile, history []signals.Signal) {
	type acc struct {
		weighted float64
		weight   float64
		n        int
	}
	byGenre := map[string]*acc{}

	for i := range history {
		sig := &history[i]
		w := typeWeights[sig.Type]
		if w == 0 {
			continue
		}
		for _, g := range sig.Genres() {
			a := byGenre[g]
			if a == nil {
				a = &acc{}
				byGenre[g] = a
			}
			a.weighted += w * sig.Value
			a.weight += w
			a.n++
		}
	}

	for g, a := range byGenre {
		if a.weight == 0 {
			continue
		}
		avg := a.weighted / a.weight
		confidence := float64(a.n) / float64(a.n+2)
		p.GenreAffinity[g] = clamp01(Neutral + Neutral*avg*confidence)
	}
}

// buildFormatPreference computes a normalized distribution over formats
// from positively weighted engagement.
func (b *Builder) buildFormatPreference(p *Profile, history []signals.Signal) {
	totals := map[string]float64{}
	sum := 0.0

	for i := range history {
		sig := &history[i]
		format := sig.Format()
		if format == "" {
			continue
		}
		contribution := typeWeights[sig.Type] * sig.Value
		if contribution <= 0 {
			continue
		}
		totals[format] += contribution
		sum += contribution
	}

	if sum <= 0 {
		return
	}
	for f, total := range totals {
		p.FormatPreference[f] = total / sum
	}
}

// buildLengthPreference buckets engaged items by word count.
func (b *Builder) buildLengthPreference(p *Profile, history []signals.Signal) {
	var short, medium, long float64

	for i := range history {
		sig := &history[i]
		raw, ok := sig.Metadata[signals.MetaWordsRead]
		if !ok {
			continue
		}
		words, err := strconv.Atoi(raw)
		if err != nil || words <= 0 {
			continue
		}
		contribution := typeWeights[sig.Type] * sig.Value
		if contribution <= 0 {
			continue
		}
		switch {
		case words < shortWordLimit:
			short += contribution
		case words <= mediumWordLimit:
			medium += contribution
		default:
			long += contribution
		}
	}

	total := short + medium + long
	if total <= 0 {
		return
	}
	p.LengthPreference = LengthPreference{
		Short:  short / total,
		Medium: medium / total,
		Long:   long / total,
	}
}

// buildReadingStats computes plain aggregates: mean session length, top
// hours of day, mean completion, return rate and words per minute.
func (b *Builder) buildReadingStats(p *Profile, history []signals.Signal) {
	var (
		sessionSum   float64
		sessionN     int
		completions  float64
		completionN  int
		wordsRead    float64
		minutesSpent float64
		returnVisits int
	)
	hourCounts := [24]int{}
	activeDays := map[string]struct{}{}

	for i := range history {
		sig := &history[i]
		hourCounts[sig.Timestamp.Hour()]++
		activeDays[sig.Timestamp.Format("2006-01-02")] = struct{}{}

		if raw, ok := sig.Metadata[signals.MetaSessionMinutes]; ok {
			if m, err := strconv.ParseFloat(raw, 64); err == nil && m > 0 {
				sessionSum += m
				sessionN++
			}
		}
		if raw, ok := sig.Metadata[signals.MetaWordsRead]; ok {
			if w, err := strconv.ParseFloat(raw, 64); err == nil && w > 0 {
				wordsRead += w
			}
		}
		if raw, ok := sig.Metadata[signals.MetaElapsedMinutes]; ok {
			if m, err := strconv.ParseFloat(raw, 64); err == nil && m > 0 {
				minutesSpent += m
			}
		}
		switch sig.Type {
		case signals.TypeCompletionRate:
			completions += clamp01(sig.Value)
			completionN++
		case signals.TypeReturnVisit:
			returnVisits++
		}
	}

	if sessionN > 0 {
		p.Reading.AvgSessionMinutes = sessionSum / float64(sessionN)
	}
	if completionN > 0 {
		p.Reading.CompletionRate = completions / float64(completionN)
	}
	if minutesSpent > 0 {
		p.Reading.WordsPerMinute = wordsRead / minutesSpent
	}
	if days := len(activeDays); days > 0 {
		p.Reading.ReturnRate = clamp01(float64(returnVisits) / float64(days))
	}
	p.Reading.PeakHours = peakHours(hourCounts)
}

// peakHours returns the up-to-three busiest hours, busiest first, earlier
// hour winning ties.
func peakHours(counts [24]int) []int {
	hours := make([]int, 0, 24)
	for h, n := range counts {
		if n > 0 {
			hours = append(hours, h)
		}
	}
	sort.SliceStable(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > 3 {
		hours = hours[:3]
	}
	return hours
}

// buildSocialEngagement estimates outward social activity as the share of
// share/subscribe signals among all engagement signals.
func (b *Builder) buildSocialEngagement(p *Profile, history []signals.Signal) {
	var social, engagement int
	for i := range history {
		switch history[i].Type.Category() {
		case signals.CategoryEngagement:
			engagement++
			if history[i].Type == signals.TypeShare || history[i].Type == signals.TypeSubscribe {
				social++
			}
		default:
		}
	}
	if engagement == 0 {
		return
	}
	// Scaled so a heavy sharer approaches 1 without requiring every
	// signal to be social.
	p.SocialEngagement = clamp01(Neutral + 2*float64(social)/float64(engagement))
}

// buildQualityPreference compares the engagement rate of the user's liked
// items against the corpus baseline. Above-baseline taste pushes the
// preference above Neutral.
func (b *Builder) buildQualityPreference(ctx context.Context, p *Profile, history []signals.Signal) {
	if b.stats == nil {
		return
	}

	baseline, err := b.stats.CorpusBaseline(ctx)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", p.UserID).Msg("corpus baseline unavailable")
		return
	}

	var rates float64
	var n int
	for i := range history {
		sig := &history[i]
		if sig.Type != signals.TypeLike || sig.ItemID == "" || sig.Value <= 0 {
			continue
		}
		likes, bookmarks, views, err := b.stats.ItemEngagement(ctx, sig.ItemID)
		if err != nil {
			continue
		}
		rates += engagementRate(likes, bookmarks, views)
		n++
	}
	if n == 0 {
		return
	}
	p.QualityPreference = clamp01(Neutral + (rates/float64(n) - baseline))
}

// engagementRate is the shared quality heuristic: (likes + 2*bookmarks)
// per view, clamped to 1.
func engagementRate(likes, bookmarks, views int) float64 {
	if views < 1 {
		views = 1
	}
	return clamp01(float64(likes+2*bookmarks) / float64(views))
}
