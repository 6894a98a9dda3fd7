// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

import (
	"context"
)

// Strategy is one independent scorer. Implementations are pure functions
// over (user context, candidates): no writes, no shared mutable state, so
// the engine can run them concurrently.
type Strategy interface {
	// Name identifies the strategy; it matches the Weights key and the
	// Source constant.
	Name() string

	// Score returns per-item scores for the candidates it has an
	// opinion on. Items it cannot score are simply absent from the
	// result, never scored zero.
	Score(ctx context.Context, user *Context, candidates []CandidateItem) (map[string]Score, error)
}
