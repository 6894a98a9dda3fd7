// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package rank

// Weights maps strategy names to their ensemble weight. Combination
// divides by the sum of contributing weights, so only the ratios matter.
type Weights map[string]float64

// ComputeWeights derives the canonical ensemble weights. Trending tracks
// the freshness appetite directly; similarity gets the remainder of the
// budget the two of them share.
func ComputeWeights(content, collaborative, freshness float64) Weights {
	if freshness < 0 {
		freshness = 0
	}
	if freshness > 0.35 {
		freshness = 0.35
	}
	return Weights{
		string(SourceContentBased):  content,
		string(SourceCollaborative): collaborative,
		string(SourceTrending):      freshness,
		string(SourceSimilarity):    0.35 - freshness,
	}
}

// Normalize returns a copy scaled to sum to 1. Zero-sum input is
// returned unchanged.
func (w Weights) Normalize() Weights {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	out := make(Weights, len(w))
	if sum <= 0 {
		for k, v := range w {
			out[k] = v
		}
		return out
	}
	for k, v := range w {
		out[k] = v / sum
	}
	return out
}

// Get returns the weight for strategy name, zero when absent.
func (w Weights) Get(name string) float64 {
	return w[name]
}
