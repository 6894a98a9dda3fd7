// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package feed turns ranked scores into the externally served feed. It
// owns the fallback path: when personalization cannot produce results,
// the user still gets a non-empty, unpersonalized feed, never an error.
package feed

import (
	"context"
	"time"

	"github.com/quillfeed/quillfeed/internal/experiment"
	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/metrics"
	"github.com/quillfeed/quillfeed/internal/profile"
	"github.com/quillfeed/quillfeed/internal/rank"
	"github.com/quillfeed/quillfeed/internal/signals"
)

// Generation paths. A request starts on PathNormal and may transition to
// PathFallback exactly once; there is no way back within a request.
const (
	PathNormal   = "normal"
	PathFallback = "fallback"
)

// Item is one externally served feed entry.
type Item struct {
	ItemID        string      `json:"item_id"`
	Title         string      `json:"title"`
	Genres        []string    `json:"genres,omitempty"`
	Format        string      `json:"format,omitempty"`
	Score         float64     `json:"score"`
	Reasons       []string    `json:"reasons"`
	Source        rank.Source `json:"source"`
	ReadingStatus string      `json:"reading_status"`
	AddedAt       time.Time   `json:"added_at"`
}

// Feed is one generated page.
type Feed struct {
	UserID      string    `json:"user_id"`
	Items       []Item    `json:"items"`
	Path        string    `json:"path"`
	Experiment  string    `json:"experiment,omitempty"`
	Variant     string    `json:"variant,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Recorder is the slice of signal ingestion the assembler uses to close
// the feedback loop.
type Recorder interface {
	Append(sig signals.Signal) error
}

// Options wire the assembler.
type Options struct {
	Repo      rank.ContentRepository
	Selector  *rank.Selector
	Engine    *rank.Engine
	Profiles  *profile.Cache
	Signals   profile.SignalSource
	Recorder  Recorder
	Router    *experiment.Router
	Exposures experiment.ExposureLog

	// ExperimentID is the experiment every request participates in.
	// Empty disables experiment routing.
	ExperimentID string

	// DefaultLimit and MaxLimit bound the requested page size.
	DefaultLimit int
	MaxLimit     int

	// LikedLookback bounds how far back explicit likes are loaded for
	// similarity matching.
	LikedLookback time.Duration
}

// Assembler generates feeds.
type Assembler struct {
	opts Options

	// now is replaceable in tests.
	now func() time.Time
}

// NewAssembler creates an assembler.
func NewAssembler(opts Options) *Assembler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.LikedLookback <= 0 {
		opts.LikedLookback = 90 * 24 * time.Hour
	}
	return &Assembler{opts: opts, now: time.Now}
}

// Generate produces a feed for userID. It never returns an empty feed
// while the repository has anything to serve, and it never returns an
// error for personalization failures.
func (a *Assembler) Generate(ctx context.Context, userID string, limit int, settings rank.Settings) (*Feed, error) {
	start := time.Now()
	if limit <= 0 {
		limit = a.opts.DefaultLimit
	}
	if limit > a.opts.MaxLimit {
		limit = a.opts.MaxLimit
	}

	feed := &Feed{
		UserID:      userID,
		Path:        PathNormal,
		GeneratedAt: a.now(),
	}

	assignment := a.route(ctx, userID, &settings, feed)

	scores, items := a.rank(ctx, userID, limit, settings, feed)
	if feed.Path == PathFallback {
		a.fallback(ctx, userID, limit, feed)
	} else {
		feed.Items = a.assemble(scores, items)
	}

	a.logExposure(userID, assignment, feed)
	a.recordImpressions(userID, feed)
	metrics.RecordFeed(feed.Path, time.Since(start))
	return feed, nil
}

// route assigns the experiment variant and applies its configuration to
// the request settings.
func (a *Assembler) route(ctx context.Context, userID string, settings *rank.Settings, feed *Feed) *experiment.Assignment {
	if a.opts.Router == nil || a.opts.ExperimentID == "" || !a.opts.Router.Has(a.opts.ExperimentID) {
		return nil
	}
	assignment, err := a.opts.Router.Assign(ctx, userID, a.opts.ExperimentID)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("experiment assignment failed")
		return nil
	}

	feed.Experiment = assignment.ExperimentID
	feed.Variant = assignment.VariantID

	if variant, ok := a.opts.Router.Variant(assignment.ExperimentID, assignment.VariantID); ok {
		if variant.Weights != nil {
			settings.WeightsOverride = variant.Weights
		}
		if len(variant.Strategies) > 0 {
			settings.StrategySubset = variant.Strategies
		}
	}
	return &assignment
}

// rank runs selection and scoring. On any failure it flips the feed to
// the fallback path and returns nothing.
func (a *Assembler) rank(ctx context.Context, userID string, limit int, settings rank.Settings, feed *Feed) ([]rank.Score, map[string]*rank.CandidateItem) {
	candidates, err := a.opts.Selector.Select(ctx, userID, settings.ToFilters())
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("candidate selection failed")
		feed.Path = PathFallback
		return nil, nil
	}
	if len(candidates) == 0 {
		feed.Path = PathFallback
		return nil, nil
	}

	user := a.buildContext(ctx, userID)
	scores, err := a.opts.Engine.Rank(ctx, user, candidates, settings, limit)
	if err != nil || len(scores) == 0 {
		if err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Msg("ranking failed")
		}
		feed.Path = PathFallback
		return nil, nil
	}

	byID := make(map[string]*rank.CandidateItem, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}
	return scores, byID
}

// buildContext gathers everything the strategies need about the user.
// Each lookup degrades independently; a missing piece thins the context
// rather than failing the request.
func (a *Assembler) buildContext(ctx context.Context, userID string) *rank.Context {
	user := &rank.Context{
		UserID:        userID,
		Profile:       a.opts.Profiles.Get(ctx, userID),
		History:       map[string]struct{}{},
		Subscriptions: map[string]struct{}{},
		Now:           a.now(),
	}

	if history, err := a.opts.Repo.GetUserHistory(ctx, userID); err == nil {
		for _, id := range history {
			user.History[id] = struct{}{}
		}
	} else {
		logging.Debug().Err(err).Str("user_id", userID).Msg("history unavailable")
	}

	if subs, err := a.opts.Repo.GetSubscriptions(ctx, userID); err == nil {
		for _, id := range subs {
			user.Subscriptions[id] = struct{}{}
		}
	} else {
		logging.Debug().Err(err).Str("user_id", userID).Msg("subscriptions unavailable")
	}

	user.Liked = a.loadLiked(ctx, userID)
	return user
}

// loadLiked resolves the user's explicitly liked items for similarity
// matching and explanations.
func (a *Assembler) loadLiked(ctx context.Context, userID string) []rank.LikedItem {
	if a.opts.Signals == nil {
		return nil
	}
	history, err := a.opts.Signals.QueryUser(ctx, userID, a.now().Add(-a.opts.LikedLookback))
	if err != nil {
		logging.Debug().Err(err).Str("user_id", userID).Msg("liked lookup failed")
		return nil
	}

	seen := map[string]struct{}{}
	liked := make([]rank.LikedItem, 0, 8)
	for i := range history {
		sig := &history[i]
		if sig.Type != signals.TypeLike || sig.Value <= 0 || sig.ItemID == "" {
			continue
		}
		if _, dup := seen[sig.ItemID]; dup {
			continue
		}
		seen[sig.ItemID] = struct{}{}

		item, err := a.opts.Repo.GetItem(ctx, sig.ItemID)
		if err != nil {
			continue
		}
		liked = append(liked, rank.LikedItem{
			ItemID:   item.ID,
			Title:    item.Title,
			Genres:   item.Genres,
			Format:   item.Format,
			AuthorID: item.AuthorID,
		})
	}
	return liked
}

// assemble joins scores with item metadata.
func (a *Assembler) assemble(scores []rank.Score, items map[string]*rank.CandidateItem) []Item {
	out := make([]Item, 0, len(scores))
	for _, s := range scores {
		item := items[s.ItemID]
		if item == nil {
			continue
		}
		out = append(out, Item{
			ItemID:        item.ID,
			Title:         item.Title,
			Genres:        item.Genres,
			Format:        item.Format,
			Score:         s.Score,
			Reasons:       s.Reasons,
			Source:        s.Source,
			ReadingStatus: "unread",
			AddedAt:       a.now(),
		})
	}
	return out
}

// fallback serves the recently engaged, above-average-rated list straight
// from the repository.
func (a *Assembler) fallback(ctx context.Context, userID string, limit int, feed *Feed) {
	items, err := a.opts.Repo.RecentlyEngaged(ctx, limit)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("fallback list failed")
		feed.Items = []Item{}
		return
	}

	consumed := map[string]struct{}{}
	if history, err := a.opts.Repo.GetUserHistory(ctx, userID); err == nil {
		for _, id := range history {
			consumed[id] = struct{}{}
		}
	}

	feed.Items = make([]Item, 0, len(items))
	for i := range items {
		item := &items[i]
		status := "unread"
		if _, ok := consumed[item.ID]; ok {
			status = "read"
		}
		feed.Items = append(feed.Items, Item{
			ItemID:        item.ID,
			Title:         item.Title,
			Genres:        item.Genres,
			Format:        item.Format,
			Score:         item.EngagementRate(),
			Reasons:       []string{"Popular with readers recently"},
			Source:        rank.SourceTrending,
			ReadingStatus: status,
			AddedAt:       a.now(),
		})
	}
}

// logExposure records the experiment exposure for this page.
func (a *Assembler) logExposure(userID string, assignment *experiment.Assignment, feed *Feed) {
	if assignment == nil {
		return
	}
	experiment.RecordExposure(assignment.ExperimentID, assignment.VariantID)

	shown := make([]string, len(feed.Items))
	for i := range feed.Items {
		shown[i] = feed.Items[i].ItemID
	}
	experiment.LogExposureAsync(a.opts.Exposures, experiment.Exposure{
		UserID:       userID,
		ExperimentID: assignment.ExperimentID,
		VariantID:    assignment.VariantID,
		ShownItemIDs: shown,
		Timestamp:    a.now(),
	})
}

// recordImpressions writes one zero-value click-through signal per shown
// item, so future profile rebuilds know what the user has already seen.
func (a *Assembler) recordImpressions(userID string, feed *Feed) {
	if a.opts.Recorder == nil {
		return
	}
	for i := range feed.Items {
		err := a.opts.Recorder.Append(signals.Signal{
			UserID:    userID,
			ItemID:    feed.Items[i].ItemID,
			Type:      signals.TypeClickThrough,
			Value:     0,
			Metadata:  map[string]string{"impression": "feed"},
			Timestamp: a.now(),
		})
		if err != nil {
			// Each impression is independently fire-and-forget; one
			// rejected signal must not drop the rest of the page's.
			logging.Debug().Err(err).Str("user_id", userID).Msg("impression signal dropped")
			continue
		}
	}
}
