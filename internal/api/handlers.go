// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/quillfeed/quillfeed/internal/experiment"
	"github.com/quillfeed/quillfeed/internal/feed"
	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/profile"
	"github.com/quillfeed/quillfeed/internal/rank"
	"github.com/quillfeed/quillfeed/internal/signals"
)

// CatalogWriter is the slice of the repository the item upsert
// endpoint needs.
type CatalogWriter interface {
	PutItem(item rank.CandidateItem)
}

// Handlers bundles the HTTP endpoints with their backing services.
type Handlers struct {
	appender     *signals.Appender
	assembler    *feed.Assembler
	profiles     *profile.Cache
	experiments  *experiment.Router
	catalog      CatalogWriter
	validate     *validator.Validate
	defaultLimit int
	maxLimit     int
}

// NewHandlers wires the endpoint set. Limits of zero take the
// assembler defaults of 20 and 100.
func NewHandlers(appender *signals.Appender, assembler *feed.Assembler, profiles *profile.Cache, experiments *experiment.Router, catalog CatalogWriter, defaultLimit, maxLimit int) *Handlers {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &Handlers{
		appender:     appender,
		assembler:    assembler,
		profiles:     profiles,
		experiments:  experiments,
		catalog:      catalog,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// IngestSignal accepts a single behavioral signal. Signals that fail
// validation are dropped with a logged warning rather than surfaced
// as request failures, so instrumented clients never see ingestion
// errors for individual events.
func (h *Handlers) IngestSignal(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON payload")
		return
	}

	result := h.ingest(r, []SignalRequest{req})
	rw.Accepted(result)
}

// IngestSignalBatch accepts up to 500 signals in one call. Individual
// signals are accepted or dropped independently.
func (h *Handlers) IngestSignalBatch(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req BatchSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		if len(req.Signals) == 0 || len(req.Signals) > 500 {
			rw.ValidationError("batch must contain between 1 and 500 signals", err.Error())
			return
		}
	}

	result := h.ingest(r, req.Signals)
	rw.Accepted(result)
}

// ingest validates and appends each signal, counting drops.
func (h *Handlers) ingest(r *http.Request, reqs []SignalRequest) IngestResult {
	var result IngestResult
	for i := range reqs {
		if err := h.validate.Struct(&reqs[i]); err != nil {
			result.Dropped++
			logging.Warn().
				Err(err).
				Str("user_id", reqs[i].UserID).
				Str("type", reqs[i].Type).
				Msg("Dropping malformed signal")
			continue
		}
		if err := h.appender.Append(reqs[i].ToSignal()); err != nil {
			result.Dropped++
			logging.Warn().
				Err(err).
				Str("user_id", reqs[i].UserID).
				Str("type", reqs[i].Type).
				Msg("Dropping rejected signal")
			continue
		}
		result.Accepted++
	}
	if result.Dropped > 0 {
		logging.Warn().
			Int("accepted", result.Accepted).
			Int("dropped", result.Dropped).
			Str("request_id", logging.RequestIDFromContext(r.Context())).
			Msg("Ingestion dropped signals")
	}
	return result
}

// GetFeed assembles a personalized feed page for a user. Ranking
// failures degrade to the fallback path inside the assembler, so this
// endpoint only errors when even the fallback cannot produce a page.
func (h *Handlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		rw.BadRequest("user ID is required")
		return
	}

	limit := parseLimit(r, h.defaultLimit, h.maxLimit)
	settings := feedSettings(r)

	result, err := h.assembler.Generate(r.Context(), userID, limit, settings)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Feed generation failed")
		rw.ServiceUnavailable("feed temporarily unavailable")
		return
	}
	rw.Success(result)
}

// GetProfile returns the cached taste profile for a user, building it
// on demand when absent. New users receive a neutral profile.
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		rw.BadRequest("user ID is required")
		return
	}
	rw.Success(h.profiles.Get(r.Context(), userID))
}

// RebuildProfile forces a profile rebuild from the signal log.
func (h *Handlers) RebuildProfile(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		rw.BadRequest("user ID is required")
		return
	}
	rw.Success(h.profiles.Rebuild(r.Context(), userID, "manual"))
}

// GetAssignment returns the user's sticky variant assignment for an
// experiment.
func (h *Handlers) GetAssignment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	experimentID := chi.URLParam(r, "experimentID")
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		rw.BadRequest("user ID is required")
		return
	}
	if !h.experiments.Has(experimentID) {
		rw.NotFound("unknown experiment: " + experimentID)
		return
	}

	assignment, err := h.experiments.Assign(r.Context(), userID, experimentID)
	if err != nil {
		rw.InternalError("assignment failed")
		return
	}
	rw.Success(assignment)
}

// UpsertItem adds or replaces a catalog item in the candidate
// repository. Unlike signal ingestion, catalog writes are validated
// strictly; a bad item is an operator error worth surfacing.
func (h *Handlers) UpsertItem(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		rw.ValidationError("item failed validation", err.Error())
		return
	}

	h.catalog.PutItem(req.ToItem())
	rw.Success(map[string]string{"id": req.ID})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(map[string]string{"status": "ok"})
}
