// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package profile

import "testing"

func TestGenreScoreFoldsCase(t *testing.T) {
	p := NewNeutral("reader-1")
	p.GenreAffinity["fantasy"] = 0.95

	tests := []struct {
		name  string
		genre string
		want  float64
	}{
		{"lowercase", "fantasy", 0.95},
		{"titlecase", "Fantasy", 0.95},
		{"uppercase", "FANTASY", 0.95},
		{"unseen", "horror", Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.GenreScore(tt.genre); got != tt.want {
				t.Errorf("GenreScore(%q) = %f, want %f", tt.genre, got, tt.want)
			}
		})
	}
}

func TestFormatScoreFoldsCase(t *testing.T) {
	p := NewNeutral("reader-1")
	p.FormatPreference["serial"] = 0.8

	if got := p.FormatScore("Serial"); got != 1 {
		t.Errorf("FormatScore(Serial) = %f, want 1 for the favorite format", got)
	}
	if got := p.FormatScore("audiobook"); got != Neutral {
		t.Errorf("FormatScore(audiobook) = %f, want Neutral for unseen", got)
	}
}
