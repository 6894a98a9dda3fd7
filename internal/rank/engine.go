// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/metrics"
)

// ErrAllStrategiesFailed reports that no strategy produced any result, so
// the caller should serve the fallback feed.
var ErrAllStrategiesFailed = errors.New("all scoring strategies failed")

// Options tune the ensemble.
type Options struct {
	// Weights are the default ensemble weights; per-request settings
	// may adjust the freshness split.
	Weights Weights

	// StrategyTimeout bounds each strategy's run.
	StrategyTimeout time.Duration

	// QualityThreshold drops combined scores below it.
	QualityThreshold float64

	// MaxPerGenre caps how often one genre appears in a page.
	MaxPerGenre int
}

// Engine fans candidates out to every strategy concurrently, combines the
// results with a weighted average and applies the post-filter. A failing
// or slow strategy degrades the blend instead of failing the request;
// repeated failures open its circuit breaker.
type Engine struct {
	strategies []Strategy
	breakers   map[string]*gobreaker.CircuitBreaker[map[string]Score]
	opts       Options
}

// NewEngine creates an engine over strategies.
func NewEngine(opts Options, strategies ...Strategy) *Engine {
	if opts.StrategyTimeout <= 0 {
		opts.StrategyTimeout = 2 * time.Second
	}
	if opts.QualityThreshold <= 0 {
		opts.QualityThreshold = 0.3
	}
	if opts.MaxPerGenre <= 0 {
		opts.MaxPerGenre = 3
	}
	if opts.Weights == nil {
		opts.Weights = ComputeWeights(0.35, 0.25, 0.15)
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker[map[string]Score], len(strategies))
	for _, s := range strategies {
		breakers[s.Name()] = gobreaker.NewCircuitBreaker[map[string]Score](gobreaker.Settings{
			Name:    "strategy-" + s.Name(),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &Engine{strategies: strategies, breakers: breakers, opts: opts}
}

// Rank scores, combines, filters and truncates candidates for user. The
// result is at most limit items, best first.
func (e *Engine) Rank(ctx context.Context, user *Context, candidates []CandidateItem, settings Settings, limit int) ([]Score, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	results := e.runStrategies(ctx, user, candidates, settings.StrategySubset)
	if len(results) == 0 {
		return nil, ErrAllStrategiesFailed
	}

	weights := e.requestWeights(settings)
	combined := combine(results, weights, e.strategyOrder())

	threshold := settings.QualityThreshold
	if threshold <= 0 {
		threshold = e.opts.QualityThreshold
	}
	kept := combined[:0]
	for _, s := range combined {
		if s.Score >= threshold {
			kept = append(kept, s)
		}
	}

	maxPerGenre := e.diversityCap(settings.DiversityWeight)
	return diversify(kept, candidates, limit, maxPerGenre), nil
}

// diversityCap derives the effective per-genre cap from the request's
// diversity weight. Zero keeps the configured cap; 0.5 matches it, 1
// tightens it to a single item per genre, and values below 0.5 relax it.
func (e *Engine) diversityCap(weight float64) int {
	maxPerGenre := e.opts.MaxPerGenre
	if weight <= 0 || weight > 1 {
		return maxPerGenre
	}
	scaled := int(math.Round(float64(maxPerGenre) * 2 * (1 - weight)))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// runStrategies executes every strategy concurrently, each behind its
// breaker and timeout. The map holds only strategies that succeeded.
func (e *Engine) runStrategies(ctx context.Context, user *Context, candidates []CandidateItem, subset []string) map[string]map[string]Score {
	active := e.strategies
	if len(subset) > 0 {
		allowed := make(map[string]struct{}, len(subset))
		for _, name := range subset {
			allowed[name] = struct{}{}
		}
		active = make([]Strategy, 0, len(subset))
		for _, s := range e.strategies {
			if _, ok := allowed[s.Name()]; ok {
				active = append(active, s)
			}
		}
	}
	if len(active) == 0 {
		active = e.strategies
	}

	type outcome struct {
		name   string
		scores map[string]Score
		err    error
	}
	outcomes := make(chan outcome, len(active))

	var wg sync.WaitGroup
	for _, strategy := range active {
		wg.Add(1)
		go func(strategy Strategy) {
			defer wg.Done()
			name := strategy.Name()
			start := time.Now()
			scores, err := e.runOne(ctx, strategy, user, candidates)
			if err == nil {
				metrics.RecordStrategy(name, time.Since(start))
			}
			outcomes <- outcome{name: name, scores: scores, err: err}
		}(strategy)
	}
	wg.Wait()
	close(outcomes)

	results := make(map[string]map[string]Score, len(active))
	for o := range outcomes {
		if o.err != nil {
			reason := "error"
			if errors.Is(o.err, context.DeadlineExceeded) {
				reason = "timeout"
			} else if errors.Is(o.err, gobreaker.ErrOpenState) {
				reason = "breaker_open"
			}
			metrics.RecordStrategyFailure(o.name, reason)
			logging.Warn().Err(o.err).
				Str("strategy", o.name).
				Str("user_id", user.UserID).
				Msg("scoring strategy failed")
			continue
		}
		results[o.name] = o.scores
	}
	return results
}

// runOne executes a single strategy with its breaker and timeout. The
// strategy runs in its own goroutine so a stuck one cannot hold the
// request past the deadline.
func (e *Engine) runOne(ctx context.Context, strategy Strategy, user *Context, candidates []CandidateItem) (map[string]Score, error) {
	breaker := e.breakers[strategy.Name()]
	return breaker.Execute(func() (map[string]Score, error) {
		runCtx, cancel := context.WithTimeout(ctx, e.opts.StrategyTimeout)
		defer cancel()

		type result struct {
			scores map[string]Score
			err    error
		}
		done := make(chan result, 1)
		go func() {
			scores, err := strategy.Score(runCtx, user, candidates)
			done <- result{scores: scores, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			return r.scores, nil
		case <-runCtx.Done():
			return nil, fmt.Errorf("strategy %s: %w", strategy.Name(), runCtx.Err())
		}
	})
}

// requestWeights applies the per-request freshness split to the default
// weights.
func (e *Engine) requestWeights(settings Settings) Weights {
	base := e.opts.Weights
	if settings.WeightsOverride != nil {
		base = settings.WeightsOverride
	}
	if settings.FreshnessWeight <= 0 {
		return base
	}
	freshness := settings.FreshnessWeight
	if freshness > 0.35 {
		freshness = 0.35
	}
	w := make(Weights, len(base))
	for k, v := range base {
		w[k] = v
	}
	w[string(SourceTrending)] = freshness
	w[string(SourceSimilarity)] = 0.35 - freshness
	return w
}

func (e *Engine) strategyOrder() []string {
	order := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		order[i] = s.Name()
	}
	return order
}

// combine merges per-strategy results with a weighted average over the
// strategies that scored each item. A strategy silent on an item
// contributes no weight, not a zero score.
func combine(results map[string]map[string]Score, weights Weights, order []string) []Score {
	type blend struct {
		weighted   float64
		weightSum  float64
		confidence float64
		reasons    []string
		sources    []Source
	}
	blends := map[string]*blend{}

	for _, name := range order {
		scores, ok := results[name]
		if !ok {
			continue
		}
		w := weights.Get(name)
		if w <= 0 {
			continue
		}
		for itemID, s := range scores {
			b := blends[itemID]
			if b == nil {
				b = &blend{}
				blends[itemID] = b
			}
			b.weighted += s.Score * w
			b.weightSum += w
			b.confidence += s.Confidence * w
			b.reasons = append(b.reasons, s.Reasons...)
			b.sources = append(b.sources, s.Source)
		}
	}

	out := make([]Score, 0, len(blends))
	for itemID, b := range blends {
		if b.weightSum <= 0 {
			continue
		}
		source := SourceHybrid
		if len(b.sources) == 1 {
			source = b.sources[0]
		}
		out = append(out, Score{
			ItemID:     itemID,
			Score:      clamp01(b.weighted / b.weightSum),
			Reasons:    dedupeReasons(b.reasons),
			Confidence: clamp01(b.confidence / b.weightSum),
			Source:     source,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

// dedupeReasons removes duplicates while preserving first-seen order.
func dedupeReasons(reasons []string) []string {
	seen := make(map[string]struct{}, len(reasons))
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// diversify enforces the per-genre cap while truncating to limit. The
// ranking is scanned top-down well past the page size, so enforcing the
// cap reorders rather than empties a page that had enough ranked items.
func diversify(ranked []Score, candidates []CandidateItem, limit, maxPerGenre int) []Score {
	byID := make(map[string]*CandidateItem, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}

	genreCounts := map[string]int{}
	picked := make([]Score, 0, limit)

	// The cap is absolute: when the doubled window cannot fill the page
	// within it, the scan continues down the ranking, and a short page
	// beats a clustered one.
	for _, s := range ranked {
		if len(picked) >= limit {
			break
		}
		item := byID[s.ItemID]
		if item == nil {
			continue
		}
		if genreCapped(genreCounts, item.Genres, maxPerGenre) {
			continue
		}
		for _, g := range item.Genres {
			genreCounts[strings.ToLower(g)]++
		}
		picked = append(picked, s)
	}
	return picked
}

// genreCapped reports whether admitting an item with genres would push
// any genre past the cap.
func genreCapped(counts map[string]int, genres []string, maxPerGenre int) bool {
	for _, g := range genres {
		if counts[strings.ToLower(g)] >= maxPerGenre {
			return true
		}
	}
	return false
}
