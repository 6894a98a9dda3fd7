// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package metrics provides Prometheus instrumentation for Quillfeed:
// signal ingestion throughput, strategy scoring latency, feed generation
// latency, fallback activations, and profile cache efficiency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signal ingestion

	SignalsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillfeed_signals_ingested_total",
			Help: "Total behavior signals accepted for recording",
		},
		[]string{"type"},
	)

	SignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillfeed_signals_dropped_total",
			Help: "Total signals dropped as malformed or unrecordable",
		},
		[]string{"reason"},
	)

	SignalFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quillfeed_signal_flush_duration_seconds",
			Help:    "Duration of signal store batch flushes",
			Buckets: prometheus.DefBuckets,
		},
	)

	SignalFlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quillfeed_signal_flush_batch_size",
			Help:    "Number of signals written per flush",
			Buckets: []float64{1, 8, 16, 32, 64, 128, 256},
		},
	)

	// Strategy scoring

	StrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quillfeed_strategy_duration_seconds",
			Help:    "Per-strategy scoring latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	StrategyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillfeed_strategy_failures_total",
			Help: "Scoring strategy failures (errors, timeouts, open breakers)",
		},
		[]string{"strategy", "reason"},
	)

	// Feed generation

	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillfeed_feed_requests_total",
			Help: "Feed generation requests by terminal path",
		},
		[]string{"path"}, // "normal" or "fallback"
	)

	FeedDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quillfeed_feed_duration_seconds",
			Help:    "End-to-end feed generation latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Profile cache

	ProfileCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quillfeed_profile_cache_hits_total",
			Help: "Profile cache hits",
		},
	)

	ProfileCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quillfeed_profile_cache_misses_total",
			Help: "Profile cache misses",
		},
	)

	ProfileRebuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillfeed_profile_rebuilds_total",
			Help: "Profile rebuilds by trigger",
		},
		[]string{"trigger"}, // "significant_signal", "scheduled", "cache_miss"
	)

	// Experiments

	ExperimentExposures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillfeed_experiment_exposures_total",
			Help: "Experiment exposures recorded per variant",
		},
		[]string{"experiment", "variant"},
	)

	// HTTP surface

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quillfeed_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quillfeed_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quillfeed_http_active_requests",
			Help: "HTTP requests currently in flight",
		},
	)
)

// RecordSignalFlush records one batch flush.
func RecordSignalFlush(d time.Duration, count int) {
	SignalFlushDuration.Observe(d.Seconds())
	SignalFlushBatchSize.Observe(float64(count))
}

// RecordStrategy records a completed strategy scoring pass.
func RecordStrategy(strategy string, d time.Duration) {
	StrategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordStrategyFailure records a failed strategy scoring pass.
func RecordStrategyFailure(strategy, reason string) {
	StrategyFailures.WithLabelValues(strategy, reason).Inc()
}

// RecordFeed records a completed feed generation request.
func RecordFeed(path string, d time.Duration) {
	FeedRequests.WithLabelValues(path).Inc()
	FeedDuration.Observe(d.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
