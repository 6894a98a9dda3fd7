// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillfeed/quillfeed/internal/config"
	"github.com/quillfeed/quillfeed/internal/middleware"
)

// NewRouter builds the HTTP routing tree.
//
// Middleware order matters: request IDs first so every later log line
// can carry one, then recovery, then metrics so panics and rate-limit
// rejections are still counted.
func NewRouter(cfg config.ServerConfig, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RequestsPerMinute, time.Minute))
		}

		r.Route("/signals", func(r chi.Router) {
			r.Post("/", h.IngestSignal)
			r.Post("/batch", h.IngestSignalBatch)
		})

		r.Route("/feed", func(r chi.Router) {
			r.Get("/users/{userID}", h.GetFeed)
			r.Get("/users/{userID}/profile", h.GetProfile)
		})

		r.Route("/profiles", func(r chi.Router) {
			r.Post("/users/{userID}/rebuild", h.RebuildProfile)
		})

		r.Route("/items", func(r chi.Router) {
			r.Put("/", h.UpsertItem)
		})

		r.Route("/experiments", func(r chi.Router) {
			r.Get("/{experimentID}/assignment/{userID}", h.GetAssignment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NewResponseWriter(w, req).NotFound("route not found")
	})

	return r
}
