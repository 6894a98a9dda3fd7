// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package main is the entry point for the Quillfeed server.
//
// Quillfeed ranks a reading platform's catalog into per-user feeds. The
// server ingests behavioral signals over HTTP, folds them into cached
// taste profiles, and serves ranked feed pages blended from four
// scoring strategies behind an experiment router.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, config file, and environment (Koanf v2)
//  2. Signal store: embedded DuckDB, or in-memory when no path is configured
//  3. Pub/sub: in-process Watermill channel carrying significant signals
//  4. Profile pipeline: builder, cache, and rebuild worker
//  5. Ranking engine: four strategies behind per-strategy circuit breakers
//  6. Experiment router: sticky variant assignment with exposure logging
//  7. HTTP server: REST API under /api/v1 with Prometheus metrics
//
// All long-running pieces run under a Suture supervisor tree so a
// crashing worker restarts without taking the API down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables prefixed QUILLFEED_
//   - Config file (config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: it stops
// accepting connections, drains in-flight requests, flushes buffered
// signals, and closes the store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/quillfeed/quillfeed/internal/api"
	"github.com/quillfeed/quillfeed/internal/config"
	"github.com/quillfeed/quillfeed/internal/experiment"
	"github.com/quillfeed/quillfeed/internal/feed"
	"github.com/quillfeed/quillfeed/internal/logging"
	"github.com/quillfeed/quillfeed/internal/profile"
	"github.com/quillfeed/quillfeed/internal/rank"
	"github.com/quillfeed/quillfeed/internal/signals"
	"github.com/quillfeed/quillfeed/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("store_path", cfg.Signals.StorePath).
		Str("experiment", cfg.Experiment.DefaultExperiment).
		Msg("Starting Quillfeed")

	// Signal store: embedded DuckDB when a path is configured,
	// otherwise in-memory (useful for development and tests).
	var (
		store     signals.Store
		exposures experiment.ExposureLog
	)
	if cfg.Signals.StorePath != "" {
		duck, err := signals.OpenDuckDB(cfg.Signals.StorePath)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open signal store")
		}
		defer func() {
			if err := duck.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing signal store")
			}
		}()

		// Exposure log shares the embedded database.
		expLog, err := experiment.NewDuckDBExposureLog(duck.DB())
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize exposure log")
		}
		store = duck
		exposures = expLog
	} else {
		logging.Warn().Msg("No store path configured, signals are held in memory only")
		store = signals.NewMemoryStore()
		exposures = experiment.NewMemoryExposureLog()
	}

	// In-process pub/sub carrying significant signals from the
	// appender to the profile worker.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewStdLogger(false, false))
	defer func() {
		if err := pubsub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pub/sub")
		}
	}()

	appender := signals.NewAppender(store, signals.AppenderOptions{
		BatchSize:     cfg.Signals.BatchSize,
		FlushInterval: cfg.Signals.FlushInterval,
		Publisher:     pubsub,
	})
	defer appender.Close()

	// Candidate repository. Catalog items arrive through the item
	// upsert endpoint.
	repo := rank.NewMemoryRepository()

	builder := profile.NewBuilder(store, repo, cfg.Profile.HistoryWindow)
	cache := profile.NewCache(builder, cfg.Profile.CacheTTL)
	worker := profile.NewWorker(cache, pubsub, cfg.Profile.RebuildInterval)

	weights := rank.ComputeWeights(
		cfg.Ranking.ContentWeight,
		cfg.Ranking.CollaborativeWeight,
		cfg.Ranking.FreshnessWeight,
	)
	engine := rank.NewEngine(rank.Options{
		Weights:          weights,
		StrategyTimeout:  cfg.Ranking.StrategyTimeout,
		QualityThreshold: cfg.Ranking.QualityThreshold,
		MaxPerGenre:      cfg.Ranking.MaxPerGenre,
	},
		rank.NewContentBased(),
		rank.NewCollaborative(store, 14*24*time.Hour, nil),
		rank.NewTrending(store),
		rank.NewSimilarityBased(),
	)

	expRouter := experiment.NewRouter(exposures, experiment.DefaultExperiments(weights)...)

	assembler := feed.NewAssembler(feed.Options{
		Repo:         repo,
		Selector:     rank.NewSelector(repo, cfg.Ranking.MaxCandidates),
		Engine:       engine,
		Profiles:     cache,
		Signals:      store,
		Recorder:     appender,
		Router:       expRouter,
		Exposures:    exposures,
		ExperimentID: cfg.Experiment.DefaultExperiment,
		DefaultLimit: cfg.Ranking.DefaultLimit,
		MaxLimit:     cfg.Ranking.MaxLimit,
	})

	handlers := api.NewHandlers(appender, assembler, cache, expRouter, repo, cfg.Ranking.DefaultLimit, cfg.Ranking.MaxLimit)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(cfg.Server, handlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Supervisor tree. sutureslog wants slog, so the zerolog global is
	// bridged through the adapter.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddDataService(appender)
	tree.AddDataService(signals.NewPruner(store, cfg.Signals.Retention, time.Hour))
	tree.AddWorkerService(worker)
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel until the supervisor finishes.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Quillfeed stopped gracefully")
}
