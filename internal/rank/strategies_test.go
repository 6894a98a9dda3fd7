// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/quillfeed/quillfeed/internal/profile"
	"github.com/quillfeed/quillfeed/internal/signals"
)

var rankNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func fantasyProfile(userID string) *profile.Profile {
	p := profile.NewNeutral(userID)
	p.GenreAffinity["fantasy"] = 0.9
	p.GenreAffinity["scifi"] = 0.5
	p.FormatPreference["serial"] = 1
	p.SignalCount = 25
	return p
}

func testContext(userID string) *Context {
	return &Context{
		UserID:        userID,
		Profile:       fantasyProfile(userID),
		History:       map[string]struct{}{},
		Subscriptions: map[string]struct{}{},
		Now:           rankNow,
	}
}

func candidate(id string, genres ...string) CandidateItem {
	return CandidateItem{
		ID:        id,
		Title:     "Title " + id,
		Genres:    genres,
		Format:    "serial",
		AuthorID:  "author-" + id,
		CreatedAt: rankNow.Add(-10 * 24 * time.Hour),
		Likes:     10,
		Bookmarks: 5,
		Views:     100,
	}
}

func TestContentBasedGenreLookupFoldsCase(t *testing.T) {
	user := testContext("u1")
	candidates := []CandidateItem{
		candidate("lower", "fantasy"),
		candidate("upper", "Fantasy"),
	}

	scores, err := NewContentBased().Score(context.Background(), user, candidates)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if scores["lower"].Score != scores["upper"].Score {
		t.Errorf("tag casing changed the score: %f vs %f",
			scores["lower"].Score, scores["upper"].Score)
	}
}

func TestContentBasedPrefersAffineGenre(t *testing.T) {
	user := testContext("u1")
	candidates := []CandidateItem{
		candidate("f1", "fantasy"),
		candidate("s1", "scifi"),
	}

	scores, err := NewContentBased().Score(context.Background(), user, candidates)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	f, ok := scores["f1"]
	if !ok {
		t.Fatal("fantasy candidate not scored")
	}
	s, ok := scores["s1"]
	if !ok {
		t.Fatal("scifi candidate not scored")
	}
	if f.Score <= s.Score {
		t.Errorf("fantasy %f not above scifi %f on equal engagement", f.Score, s.Score)
	}

	foundGenreReason := false
	for _, r := range f.Reasons {
		if strings.Contains(strings.ToLower(r), "fantasy") {
			foundGenreReason = true
		}
	}
	if !foundGenreReason {
		t.Errorf("fantasy reasons %v missing genre explanation", f.Reasons)
	}
}

func TestContentBasedFloorDropsItems(t *testing.T) {
	user := testContext("u1")
	user.Profile.GenreAffinity["litfic"] = 0

	// Old, disliked genre, zero engagement: every sub-score near zero.
	dud := CandidateItem{
		ID:        "dud",
		Genres:    []string{"litfic"},
		Format:    "unknown-format",
		CreatedAt: rankNow.Add(-90 * 24 * time.Hour),
	}
	user.Profile.FormatPreference["serial"] = 1 // makes unknown-format score neutral

	scores, err := NewContentBased().Score(context.Background(), user, []CandidateItem{dud})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if s, ok := scores["dud"]; ok && s.Score >= 0.5 {
		t.Errorf("dud item scored %f, expected low or dropped", s.Score)
	}
}

func TestContentBasedSubscribedAuthorReason(t *testing.T) {
	user := testContext("u1")
	user.Subscriptions["author-f1"] = struct{}{}

	scores, err := NewContentBased().Score(context.Background(), user, []CandidateItem{candidate("f1", "fantasy")})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	found := false
	for _, r := range scores["f1"].Reasons {
		if strings.Contains(r, "author you follow") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons %v missing author explanation", scores["f1"].Reasons)
	}
}

func seedInteraction(t *testing.T, store signals.Store, userID, itemID string, typ signals.Type, value float64, ts time.Time) {
	t.Helper()
	err := store.Record(context.Background(), signals.Signal{
		ID: fmt.Sprintf("%s-%s-%s-%d", userID, itemID, typ, ts.UnixNano()), UserID: userID, ItemID: itemID,
		Type: typ, Value: value, Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("seed interaction: %v", err)
	}
}

func TestCollaborativeScoresByNeighbors(t *testing.T) {
	store := signals.NewMemoryStore()
	ts := rankNow.Add(-24 * time.Hour)

	// u1 and u2 co-engaged on shared; u2 also liked target.
	seedInteraction(t, store, "u1", "shared", signals.TypeLike, 1, ts)
	seedInteraction(t, store, "u2", "shared", signals.TypeLike, 1, ts)
	seedInteraction(t, store, "u2", "target", signals.TypeLike, 1, ts)
	// u3 is unrelated.
	seedInteraction(t, store, "u3", "elsewhere", signals.TypeLike, 1, ts)

	user := testContext("u1")
	candidates := []CandidateItem{candidate("target", "fantasy"), candidate("untouched", "fantasy")}

	scores, err := NewCollaborative(store, 14*24*time.Hour, nil).Score(context.Background(), user, candidates)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	if _, ok := scores["target"]; !ok {
		t.Fatal("neighbor-endorsed item not scored")
	}
	if _, ok := scores["untouched"]; ok {
		t.Error("item with zero neighbor confidence was scored instead of excluded")
	}
}

func TestCollaborativeEmptyForLonelyUser(t *testing.T) {
	store := signals.NewMemoryStore()
	user := testContext("hermit")

	scores, err := NewCollaborative(store, 14*24*time.Hour, nil).Score(context.Background(), user, []CandidateItem{candidate("x", "fantasy")})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("scores for user with no interactions = %v, want none", scores)
	}
}

func TestTrendingScoresBursts(t *testing.T) {
	store := signals.NewMemoryStore()

	// hot: all engagement inside the burst window.
	for i := 0; i < 10; i++ {
		seedInteraction(t, store, "reader", "hot", signals.TypeLike, 1,
			rankNow.Add(-time.Duration(i)*time.Hour))
	}
	// steady: engagement spread across two weeks, none recent.
	for i := 0; i < 10; i++ {
		seedInteraction(t, store, "reader", "steady", signals.TypeLike, 1,
			rankNow.Add(-time.Duration(3+i)*24*time.Hour))
	}

	user := testContext("u1")
	candidates := []CandidateItem{candidate("hot", "fantasy"), candidate("steady", "fantasy")}

	scores, err := NewTrending(store).Score(context.Background(), user, candidates)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	hot, ok := scores["hot"]
	if !ok {
		t.Fatal("bursting item not scored")
	}
	if hot.Score <= 0 {
		t.Errorf("bursting item scored %f", hot.Score)
	}
	if _, ok := scores["steady"]; ok {
		t.Error("item with no recent engagement was scored")
	}
}

func TestSimilarityCarriesMatchedTitle(t *testing.T) {
	user := testContext("u1")
	user.Liked = []LikedItem{
		{ItemID: "item42", Title: "The Shattered Crown", Genres: []string{"fantasy"}, Format: "serial"},
	}

	candidates := []CandidateItem{
		candidate("match", "fantasy"),
		candidate("miss", "romance"),
	}
	candidates[1].Format = "oneshot"

	scores, err := NewSimilarityBased().Score(context.Background(), user, candidates)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	m, ok := scores["match"]
	if !ok {
		t.Fatal("similar item not scored")
	}
	found := false
	for _, r := range m.Reasons {
		if strings.Contains(r, "The Shattered Crown") {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons %v missing matched title", m.Reasons)
	}

	if _, ok := scores["miss"]; ok {
		t.Error("dissimilar item scored despite zero overlap")
	}
}

func TestGenreOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"fantasy"}, []string{"fantasy"}, 1},
		{"disjoint", []string{"fantasy"}, []string{"scifi"}, 0},
		{"partial", []string{"fantasy", "adventure"}, []string{"fantasy", "romance"}, 1.0 / 3},
		{"case insensitive", []string{"Fantasy"}, []string{"fantasy"}, 1},
		{"empty", nil, []string{"fantasy"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := genreOverlap(tt.a, tt.b)
			if diff := got - tt.want; diff > 0.0001 || diff < -0.0001 {
				t.Errorf("genreOverlap(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
