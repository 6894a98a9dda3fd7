// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package experiment

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/quillfeed/quillfeed/internal/logging"
)

// Exposure is one feed impression under an experiment: which variant the
// user saw and which items were shown.
type Exposure struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	ShownItemIDs []string  `json:"shown_item_ids"`
	Timestamp    time.Time `json:"timestamp"`
}

// ExposureLog records exposures for offline analysis. Same durability
// posture as signals: losing one is acceptable, blocking a feed request
// is not.
type ExposureLog interface {
	LogExposure(ctx context.Context, e Exposure) error
	SaveAssignment(ctx context.Context, a Assignment) error
}

const exposureSchema = `
CREATE TABLE IF NOT EXISTS experiment_exposures (
	id            VARCHAR PRIMARY KEY,
	user_id       VARCHAR NOT NULL,
	experiment_id VARCHAR NOT NULL,
	variant_id    VARCHAR NOT NULL,
	shown_items   VARCHAR,
	ts            TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS experiment_assignments (
	user_id       VARCHAR NOT NULL,
	experiment_id VARCHAR NOT NULL,
	variant_id    VARCHAR NOT NULL,
	assigned_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, experiment_id)
);
`

// DuckDBExposureLog persists exposures and assignments next to the
// signal log.
type DuckDBExposureLog struct {
	db *sql.DB
}

// NewDuckDBExposureLog applies the exposure schema to db and returns the
// log.
func NewDuckDBExposureLog(db *sql.DB) (*DuckDBExposureLog, error) {
	if _, err := db.Exec(exposureSchema); err != nil {
		return nil, fmt.Errorf("apply exposure schema: %w", err)
	}
	return &DuckDBExposureLog{db: db}, nil
}

// LogExposure appends one exposure record.
func (l *DuckDBExposureLog) LogExposure(ctx context.Context, e Exposure) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	shown, err := json.Marshal(e.ShownItemIDs)
	if err != nil {
		return fmt.Errorf("marshal shown items: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO experiment_exposures (id, user_id, experiment_id, variant_id, shown_items, ts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, e.ExperimentID, e.VariantID, string(shown), e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert exposure: %w", err)
	}
	return nil
}

// SaveAssignment upserts the user's assignment. The variant never changes
// for a live experiment, so conflicts only refresh the row.
func (l *DuckDBExposureLog) SaveAssignment(ctx context.Context, a Assignment) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO experiment_assignments (user_id, experiment_id, variant_id, assigned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, experiment_id) DO NOTHING`,
		a.UserID, a.ExperimentID, a.VariantID, a.AssignedAt)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// MemoryExposureLog is the in-memory log used in tests.
type MemoryExposureLog struct {
	mu          sync.Mutex
	exposures   []Exposure
	assignments map[string]Assignment
}

// NewMemoryExposureLog creates an empty log.
func NewMemoryExposureLog() *MemoryExposureLog {
	return &MemoryExposureLog{assignments: map[string]Assignment{}}
}

func (l *MemoryExposureLog) LogExposure(_ context.Context, e Exposure) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	l.mu.Lock()
	l.exposures = append(l.exposures, e)
	l.mu.Unlock()
	return nil
}

func (l *MemoryExposureLog) SaveAssignment(_ context.Context, a Assignment) error {
	l.mu.Lock()
	l.assignments[a.UserID+"/"+a.ExperimentID] = a
	l.mu.Unlock()
	return nil
}

// Exposures returns a copy of all logged exposures.
func (l *MemoryExposureLog) Exposures() []Exposure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Exposure(nil), l.exposures...)
}

// AssignmentFor returns the stored assignment, if any.
func (l *MemoryExposureLog) AssignmentFor(userID, experimentID string) (Assignment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.assignments[userID+"/"+experimentID]
	return a, ok
}

// LogExposureAsync writes an exposure off the request path, logging
// failures instead of surfacing them.
func LogExposureAsync(log ExposureLog, e Exposure) {
	if log == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := log.LogExposure(ctx, e); err != nil {
			logging.Warn().Err(err).
				Str("user_id", e.UserID).
				Str("experiment_id", e.ExperimentID).
				Msg("exposure log failed")
		}
	}()
}
