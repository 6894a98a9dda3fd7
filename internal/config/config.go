// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

// Package config loads and validates the Quillfeed service configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML config file, then QUILLFEED_-prefixed environment variables. Later
// layers override earlier ones.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the quillfeed server.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Signals    SignalsConfig    `koanf:"signals"`
	Profile    ProfileConfig    `koanf:"profile"`
	Ranking    RankingConfig    `koanf:"ranking"`
	Experiment ExperimentConfig `koanf:"experiment"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address. Default: 0.0.0.0
	Host string `koanf:"host"`

	// Port is the listen port. Default: 8080
	Port int `koanf:"port"`

	// ReadTimeout bounds request header+body reads. Default: 15s
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout bounds response writes. Default: 30s
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// RequestsPerMinute is the per-IP rate limit. Default: 600
	RequestsPerMinute int `koanf:"requests_per_minute"`

	// CORSOrigins lists allowed CORS origins. Default: ["*"]
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level. Default: info
	Level string `koanf:"level"`

	// Format is json or console. Default: json
	Format string `koanf:"format"`

	// Caller includes file:line in log output. Default: false
	Caller bool `koanf:"caller"`
}

// SignalsConfig holds behavior-signal ingestion settings.
type SignalsConfig struct {
	// StorePath is the DuckDB database path for the signal log.
	// Empty selects the in-memory store (dev and tests). Default: ""
	StorePath string `koanf:"store_path"`

	// Retention is the rolling window raw signals are kept for.
	// Default: 2160h (90 days)
	Retention time.Duration `koanf:"retention"`

	// BatchSize is the appender flush chunk size. Default: 64
	BatchSize int `koanf:"batch_size"`

	// FlushInterval is the appender timer flush period. Default: 2s
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// ProfileConfig holds profile builder and cache settings.
type ProfileConfig struct {
	// HistoryWindow is how far back signals are replayed when building a
	// profile. Default: 720h (30 days)
	HistoryWindow time.Duration `koanf:"history_window"`

	// CacheTTL is how long a built profile is served before a scheduled
	// rebuild. Default: 15m
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// RebuildInterval is the wholesale background rebuild period.
	// Default: 1h
	RebuildInterval time.Duration `koanf:"rebuild_interval"`
}

// RankingConfig holds scoring and post-filter settings.
type RankingConfig struct {
	// MaxCandidates caps the scored candidate pool. Default: 200
	MaxCandidates int `koanf:"max_candidates"`

	// DefaultLimit is the feed page size when the caller omits one.
	// Default: 20
	DefaultLimit int `koanf:"default_limit"`

	// MaxLimit is the largest allowed page size. Default: 100
	MaxLimit int `koanf:"max_limit"`

	// StrategyTimeout bounds a single strategy's scoring pass. Default: 2s
	StrategyTimeout time.Duration `koanf:"strategy_timeout"`

	// QualityThreshold drops combined scores below it. Default: 0.3
	QualityThreshold float64 `koanf:"quality_threshold"`

	// FreshnessWeight scales the trending strategy; the similarity
	// strategy receives 0.35 minus this value. Default: 0.15
	FreshnessWeight float64 `koanf:"freshness_weight"`

	// MaxPerGenre caps how often one genre may appear in a page.
	// Default: 3
	MaxPerGenre int `koanf:"max_per_genre"`

	// ContentWeight and CollaborativeWeight are the remaining ensemble
	// weights. Defaults: 0.35 and 0.25.
	ContentWeight       float64 `koanf:"content_weight"`
	CollaborativeWeight float64 `koanf:"collaborative_weight"`
}

// ExperimentConfig holds A/B experiment routing settings.
type ExperimentConfig struct {
	// DefaultExperiment is the experiment feed requests are routed
	// through when none is named. Default: "ranking-weights"
	DefaultExperiment string `koanf:"default_experiment"`
}

// defaultConfig returns a Config with production defaults. These are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			RequestsPerMinute: 600,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Signals: SignalsConfig{
			StorePath:     "",
			Retention:     90 * 24 * time.Hour,
			BatchSize:     64,
			FlushInterval: 2 * time.Second,
		},
		Profile: ProfileConfig{
			HistoryWindow:   30 * 24 * time.Hour,
			CacheTTL:        15 * time.Minute,
			RebuildInterval: time.Hour,
		},
		Ranking: RankingConfig{
			MaxCandidates:       200,
			DefaultLimit:        20,
			MaxLimit:            100,
			StrategyTimeout:     2 * time.Second,
			QualityThreshold:    0.3,
			FreshnessWeight:     0.15,
			MaxPerGenre:         3,
			ContentWeight:       0.35,
			CollaborativeWeight: 0.25,
		},
		Experiment: ExperimentConfig{
			DefaultExperiment: "ranking-weights",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}

	if c.Signals.BatchSize < 1 {
		return fmt.Errorf("signals.batch_size must be positive, got %d", c.Signals.BatchSize)
	}
	if c.Signals.FlushInterval <= 0 {
		return fmt.Errorf("signals.flush_interval must be positive, got %v", c.Signals.FlushInterval)
	}
	if c.Signals.Retention <= 0 {
		return fmt.Errorf("signals.retention must be positive, got %v", c.Signals.Retention)
	}

	if c.Profile.HistoryWindow <= 0 {
		return fmt.Errorf("profile.history_window must be positive, got %v", c.Profile.HistoryWindow)
	}
	if c.Profile.CacheTTL <= 0 {
		return fmt.Errorf("profile.cache_ttl must be positive, got %v", c.Profile.CacheTTL)
	}

	if c.Ranking.MaxCandidates < 1 {
		return fmt.Errorf("ranking.max_candidates must be positive, got %d", c.Ranking.MaxCandidates)
	}
	if c.Ranking.DefaultLimit < 1 {
		return fmt.Errorf("ranking.default_limit must be positive, got %d", c.Ranking.DefaultLimit)
	}
	if c.Ranking.MaxLimit < c.Ranking.DefaultLimit {
		return fmt.Errorf("ranking.max_limit must be >= ranking.default_limit, got %d < %d",
			c.Ranking.MaxLimit, c.Ranking.DefaultLimit)
	}
	if c.Ranking.QualityThreshold < 0 || c.Ranking.QualityThreshold > 1 {
		return fmt.Errorf("ranking.quality_threshold must be in [0, 1], got %f", c.Ranking.QualityThreshold)
	}
	if c.Ranking.FreshnessWeight < 0 || c.Ranking.FreshnessWeight > 0.35 {
		return fmt.Errorf("ranking.freshness_weight must be in [0, 0.35], got %f", c.Ranking.FreshnessWeight)
	}
	if c.Ranking.MaxPerGenre < 1 {
		return fmt.Errorf("ranking.max_per_genre must be positive, got %d", c.Ranking.MaxPerGenre)
	}
	if c.Ranking.StrategyTimeout <= 0 {
		return fmt.Errorf("ranking.strategy_timeout must be positive, got %v", c.Ranking.StrategyTimeout)
	}

	return nil
}
