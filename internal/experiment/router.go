// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package experiment assigns users to ranking experiment variants and
// records exposures for offline analysis. Assignment is deterministic:
// the same user always lands in the same variant for the lifetime of an
// experiment, with no stored state required.
package experiment

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/metrics"
	"github.com/quillfeed/quillfeed/internal/rank"
)

// Variant is one arm of an experiment: an alternate weight configuration
// or a restricted strategy subset.
type Variant struct {
	ID string `json:"id"`

	// Weights override the default ensemble weights. Nil keeps the
	// defaults.
	Weights rank.Weights `json:"weights,omitempty"`

	// Strategies restricts scoring to the named strategies. Empty
	// means all.
	Strategies []string `json:"strategies,omitempty"`
}

// Experiment is a named set of variants.
type Experiment struct {
	ID       string    `json:"id"`
	Variants []Variant `json:"variants"`
}

// Assignment records which variant a user landed in.
type Assignment struct {
	UserID       string    `json:"user_id"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// AssignmentStore persists assignments for auditability. Assignment is
// recomputable from the hash, so persistence is best effort.
type AssignmentStore interface {
	SaveAssignment(ctx context.Context, a Assignment) error
}

// Router maps users to variants.
type Router struct {
	experiments map[string]Experiment
	store       AssignmentStore

	// now is replaceable in tests.
	now func() time.Time
}

// NewRouter creates a router over experiments. store may be nil.
func NewRouter(store AssignmentStore, experiments ...Experiment) *Router {
	byID := make(map[string]Experiment, len(experiments))
	for _, e := range experiments {
		byID[e.ID] = e
	}
	return &Router{experiments: byID, store: store, now: time.Now}
}

// Assign returns the user's sticky variant for experimentID. Repeated
// calls always return the same variant.
func (r *Router) Assign(ctx context.Context, userID, experimentID string) (Assignment, error) {
	exp, ok := r.experiments[experimentID]
	if !ok {
		return Assignment{}, fmt.Errorf("unknown experiment %q", experimentID)
	}
	if len(exp.Variants) == 0 {
		return Assignment{}, fmt.Errorf("experiment %q has no variants", experimentID)
	}

	idx := bucket(userID, experimentID, len(exp.Variants))
	assignment := Assignment{
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    exp.Variants[idx].ID,
		AssignedAt:   r.now(),
	}

	if r.store != nil {
		if err := r.store.SaveAssignment(ctx, assignment); err != nil {
			logging.Warn().Err(err).
				Str("user_id", userID).
				Str("experiment_id", experimentID).
				Msg("assignment persist failed")
		}
	}
	return assignment, nil
}

// Variant resolves the variant configuration behind an assignment.
func (r *Router) Variant(experimentID, variantID string) (Variant, bool) {
	exp, ok := r.experiments[experimentID]
	if !ok {
		return Variant{}, false
	}
	for _, v := range exp.Variants {
		if v.ID == variantID {
			return v, true
		}
	}
	return Variant{}, false
}

// Has reports whether experimentID is registered.
func (r *Router) Has(experimentID string) bool {
	_, ok := r.experiments[experimentID]
	return ok
}

// RecordExposure counts an exposure for monitoring dashboards.
func RecordExposure(experimentID, variantID string) {
	metrics.ExperimentExposures.WithLabelValues(experimentID, variantID).Inc()
}

// bucket hashes (userID, experimentID) into [0, n). FNV keeps it cheap
// and stable across processes.
func bucket(userID, experimentID string, n int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(experimentID))
	return int(h.Sum64() % uint64(n))
}

// DefaultExperiments is the built-in experiment catalog: a control arm
// with the stock weights, a content-leaning arm and a freshness-leaning
// arm.
func DefaultExperiments(defaultWeights rank.Weights) []Experiment {
	return []Experiment{
		{
			ID: "ranking-weights",
			Variants: []Variant{
				{ID: "control", Weights: defaultWeights},
				{ID: "content-heavy", Weights: rank.ComputeWeights(0.50, 0.15, 0.10)},
				{ID: "fresh-heavy", Weights: rank.ComputeWeights(0.30, 0.20, 0.30)},
			},
		},
	}
}
