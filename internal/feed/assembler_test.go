// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/quillfeed/quillfeed/internal/experiment"
	"github.com/quillfeed/quillfeed/internal/profile"
	"github.com/quillfeed/quillfeed/internal/rank"
	"github.com/quillfeed/quillfeed/internal/signals"
)

// feedNow anchors the assembler's pinned clock. It must track the real
// clock because profile.Builder uses time.Now internally; a fixed date
// drifts out of the builder's signal window as the calendar advances.
var feedNow = time.Now().UTC().Truncate(time.Second)

// pipeline is a fully wired in-memory stack for end-to-end tests.
type pipeline struct {
	repo      *rank.MemoryRepository
	store     *signals.MemoryStore
	appender  *signals.Appender
	exposures *experiment.MemoryExposureLog
	assembler *Assembler
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	repo := rank.NewMemoryRepository()
	store := signals.NewMemoryStore()
	appender := signals.NewAppender(store, signals.AppenderOptions{BatchSize: 64, FlushInterval: time.Hour})
	exposures := experiment.NewMemoryExposureLog()

	builder := profile.NewBuilder(store, repo, 30*24*time.Hour)
	cache := profile.NewCache(builder, 15*time.Minute)

	weights := rank.ComputeWeights(0.35, 0.25, 0.15)
	engine := rank.NewEngine(rank.Options{
		Weights:         weights,
		StrategyTimeout: 2 * time.Second,
		MaxPerGenre:     3,
	},
		rank.NewContentBased(),
		rank.NewCollaborative(store, 14*24*time.Hour, nil),
		rank.NewTrending(store),
		rank.NewSimilarityBased(),
	)

	router := experiment.NewRouter(exposures, experiment.DefaultExperiments(weights)...)

	assembler := NewAssembler(Options{
		Repo:         repo,
		Selector:     rank.NewSelector(repo, 200),
		Engine:       engine,
		Profiles:     cache,
		Signals:      store,
		Recorder:     appender,
		Router:       router,
		Exposures:    exposures,
		ExperimentID: "ranking-weights",
		DefaultLimit: 20,
		MaxLimit:     100,
	})
	assembler.now = func() time.Time { return feedNow }

	return &pipeline{
		repo:      repo,
		store:     store,
		appender:  appender,
		exposures: exposures,
		assembler: assembler,
	}
}

func putItem(repo *rank.MemoryRepository, id, title, format string, genres ...string) {
	repo.PutItem(rank.CandidateItem{
		ID:            id,
		Title:         title,
		Genres:        genres,
		Format:        format,
		AuthorID:      "author-" + id,
		CreatedAt:     feedNow.Add(-10 * 24 * time.Hour),
		Likes:         10,
		Bookmarks:     5,
		Views:         100,
		LastEngagedAt: feedNow.Add(-time.Hour),
	})
}

func recordSignal(t *testing.T, store *signals.MemoryStore, sig signals.Signal) {
	t.Helper()
	if sig.ID == "" {
		sig.ID = fmt.Sprintf("%s-%s-%s-%d", sig.UserID, sig.ItemID, sig.Type, sig.Timestamp.UnixNano())
	}
	if err := store.Record(context.Background(), sig); err != nil {
		t.Fatalf("record signal: %v", err)
	}
}

func TestGenerateRanksAffineGenreFirst(t *testing.T) {
	p := newPipeline(t)
	ts := feedNow.Add(-24 * time.Hour)

	// History: liked and bookmarked fantasy, barely viewed scifi.
	putItem(p.repo, "item42", "The Shattered Crown", "serial", "fantasy")
	putItem(p.repo, "item7", "Ashes of the Vale", "serial", "fantasy")
	putItem(p.repo, "item99", "Cold Orbit", "serial", "scifi")
	recordSignal(t, p.store, signals.Signal{
		UserID: "reader-1", ItemID: "item42", Type: signals.TypeLike, Value: 1,
		Metadata: map[string]string{signals.MetaGenres: "fantasy"}, Timestamp: ts,
	})
	recordSignal(t, p.store, signals.Signal{
		UserID: "reader-1", ItemID: "item7", Type: signals.TypeBookmark, Value: 0.8,
		Metadata: map[string]string{signals.MetaGenres: "fantasy"}, Timestamp: ts.Add(time.Minute),
	})
	recordSignal(t, p.store, signals.Signal{
		UserID: "reader-1", ItemID: "item99", Type: signals.TypeViewStart, Value: 0.1,
		Metadata: map[string]string{signals.MetaGenres: "scifi"}, Timestamp: ts.Add(2 * time.Minute),
	})
	p.repo.AddHistory("reader-1", "item42", "item7", "item99")

	// Candidates: equal engagement, differing genre.
	for i := 0; i < 3; i++ {
		putItem(p.repo, fmt.Sprintf("fantasy-%d", i), fmt.Sprintf("Fantasy %d", i), "serial", "fantasy")
		putItem(p.repo, fmt.Sprintf("scifi-%d", i), fmt.Sprintf("Scifi %d", i), "serial", "scifi")
	}

	feed, err := p.assembler.Generate(context.Background(), "reader-1", 5, rank.Settings{MaxMaturity: rank.MaturityExplicit})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if feed.Path != PathNormal {
		t.Fatalf("path = %s, want normal", feed.Path)
	}
	if len(feed.Items) == 0 {
		t.Fatal("empty feed")
	}

	// Fantasy candidates must outrank scifi candidates of equal
	// engagement.
	firstScifi, lastFantasy := -1, -1
	for i, item := range feed.Items {
		if strings.HasPrefix(item.ItemID, "scifi-") && firstScifi == -1 {
			firstScifi = i
		}
		if strings.HasPrefix(item.ItemID, "fantasy-") {
			lastFantasy = i
		}
	}
	if lastFantasy == -1 {
		t.Fatal("no fantasy item in feed")
	}
	if firstScifi != -1 && firstScifi < lastFantasy {
		t.Errorf("scifi at %d ranked above fantasy at %d", firstScifi, lastFantasy)
	}

	// The liked item's genre appears in at least one reason.
	found := false
	for _, item := range feed.Items {
		for _, r := range item.Reasons {
			if strings.Contains(strings.ToLower(r), "fantasy") {
				found = true
			}
		}
	}
	if !found {
		t.Error("no reason mentions the liked genre")
	}
}

func TestGenerateFallsBackOnEmptyPool(t *testing.T) {
	p := newPipeline(t)

	// Every item already consumed.
	putItem(p.repo, "a", "Story A", "serial", "fantasy")
	putItem(p.repo, "b", "Story B", "serial", "scifi")
	p.repo.AddHistory("reader-1", "a", "b")

	feed, err := p.assembler.Generate(context.Background(), "reader-1", 5, rank.Settings{MaxMaturity: rank.MaturityExplicit})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if feed.Path != PathFallback {
		t.Errorf("path = %s, want fallback", feed.Path)
	}
	if len(feed.Items) == 0 {
		t.Fatal("fallback feed is empty")
	}
	for _, item := range feed.Items {
		if item.ReadingStatus != "read" {
			t.Errorf("consumed fallback item %s status = %s", item.ItemID, item.ReadingStatus)
		}
	}
}

func TestGenerateStickyVariant(t *testing.T) {
	p := newPipeline(t)
	putItem(p.repo, "a", "Story A", "serial", "fantasy")

	first, err := p.assembler.Generate(context.Background(), "reader-1", 5, rank.Settings{MaxMaturity: rank.MaturityExplicit})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	p.assembler.now = func() time.Time { return feedNow.Add(48 * time.Hour) }
	second, err := p.assembler.Generate(context.Background(), "reader-1", 5, rank.Settings{MaxMaturity: rank.MaturityExplicit})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if first.Variant == "" || first.Variant != second.Variant {
		t.Errorf("variant not sticky: %q vs %q", first.Variant, second.Variant)
	}
}

func TestGenerateRecordsImpressions(t *testing.T) {
	p := newPipeline(t)
	putItem(p.repo, "a", "Story A", "serial", "fantasy")

	if _, err := p.assembler.Generate(context.Background(), "reader-1", 5, rank.Settings{MaxMaturity: rank.MaturityExplicit}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	p.appender.Flush(context.Background())

	recorded, err := p.store.QueryUser(context.Background(), "reader-1", time.Time{})
	if err != nil {
		t.Fatalf("QueryUser() error = %v", err)
	}

	impressions := 0
	for _, sig := range recorded {
		if sig.Type == signals.TypeClickThrough && sig.Value == 0 {
			impressions++
		}
	}
	if impressions == 0 {
		t.Error("no impression signals recorded")
	}
}

// flakyRecorder rejects the first append and accepts the rest.
type flakyRecorder struct {
	failed   bool
	accepted []string
}

func (r *flakyRecorder) Append(sig signals.Signal) error {
	if !r.failed {
		r.failed = true
		return errors.New("buffer closed")
	}
	r.accepted = append(r.accepted, sig.ItemID)
	return nil
}

func TestImpressionsSurviveSingleAppendFailure(t *testing.T) {
	recorder := &flakyRecorder{}
	assembler := NewAssembler(Options{Recorder: recorder})

	page := &Feed{
		UserID: "reader-1",
		Items: []Item{
			{ItemID: "a"},
			{ItemID: "b"},
			{ItemID: "c"},
		},
	}
	assembler.recordImpressions("reader-1", page)

	if len(recorder.accepted) != 2 {
		t.Fatalf("accepted %d impressions after one failure, want 2", len(recorder.accepted))
	}
	if recorder.accepted[0] != "b" || recorder.accepted[1] != "c" {
		t.Errorf("accepted = %v, want remaining items b and c", recorder.accepted)
	}
}

func TestGenerateLogsExposure(t *testing.T) {
	p := newPipeline(t)
	putItem(p.repo, "a", "Story A", "serial", "fantasy")

	if _, err := p.assembler.Generate(context.Background(), "reader-1", 5, rank.Settings{MaxMaturity: rank.MaturityExplicit}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// The exposure write is asynchronous.
	deadline := time.After(2 * time.Second)
	for {
		if len(p.exposures.Exposures()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no exposure logged")
		case <-time.After(10 * time.Millisecond):
		}
	}

	e := p.exposures.Exposures()[0]
	if e.UserID != "reader-1" || e.ExperimentID != "ranking-weights" {
		t.Errorf("exposure = %+v", e)
	}
}
