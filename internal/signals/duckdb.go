// Quillfeed - Personalized Reading Feed Ranking
// Copyright 2026 Quillfeed Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quillfeed/quillfeed

package signals

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb database/sql driver
	"github.com/goccy/go-json"

	"github.com/quillfeed/quillfeed/internal/logging"
)

// signalsSchema creates the append-only signal log. The primary key makes
// batch replays idempotent: re-inserting an already-recorded signal is a
// silent no-op.
const signalsSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id        VARCHAR PRIMARY KEY,
	user_id   VARCHAR NOT NULL,
	item_id   VARCHAR,
	type      VARCHAR NOT NULL,
	value     DOUBLE NOT NULL,
	metadata  VARCHAR,
	ts        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_user_ts ON signals (user_id, ts);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals (ts);
`

// DuckDBStore is the production Store backed by an embedded DuckDB file.
type DuckDBStore struct {
	db *sql.DB
}

// OpenDuckDB opens (or creates) the signal database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func OpenDuckDB(path string) (*DuckDBStore, error) {
	if path == "" {
		return nil, fmt.Errorf("duckdb path required")
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// DuckDB is embedded and single-writer; a small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(signalsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply signals schema: %w", err)
	}

	logging.Info().Str("path", path).Msg("signal store opened")
	return &DuckDBStore{db: db}, nil
}

// Close closes the underlying database.
func (d *DuckDBStore) Close() error {
	return d.db.Close()
}

// DB exposes the underlying handle so other stores can share the same
// embedded database file.
func (d *DuckDBStore) DB() *sql.DB {
	return d.db
}

// Record appends a single signal.
func (d *DuckDBStore) Record(ctx context.Context, sig Signal) error {
	return d.RecordBatch(ctx, []Signal{sig})
}

// RecordBatch appends a batch of signals in one transaction. Either the
// whole batch lands or none of it does; duplicate IDs are skipped.
func (d *DuckDBStore) RecordBatch(ctx context.Context, sigs []Signal) error {
	if len(sigs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin signal batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals (id, user_id, item_id, type, value, metadata, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare signal insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range sigs {
		sig := &sigs[i]

		var meta sql.NullString
		if len(sig.Metadata) > 0 {
			raw, err := json.Marshal(sig.Metadata)
			if err != nil {
				return fmt.Errorf("marshal signal metadata: %w", err)
			}
			meta = sql.NullString{String: string(raw), Valid: true}
		}

		var itemID sql.NullString
		if sig.ItemID != "" {
			itemID = sql.NullString{String: sig.ItemID, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			sig.ID, sig.UserID, itemID, string(sig.Type), sig.Value, meta, sig.Timestamp,
		); err != nil {
			return fmt.Errorf("insert signal %s: %w", sig.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit signal batch: %w", err)
	}
	return nil
}

// QueryUser returns one user's signals at or after since.
func (d *DuckDBStore) QueryUser(ctx context.Context, userID string, since time.Time) ([]Signal, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, item_id, type, value, metadata, ts
		FROM signals
		WHERE user_id = ? AND ts >= ?
		ORDER BY ts ASC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query user signals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSignals(rows)
}

// QuerySince returns all users' signals at or after since.
func (d *DuckDBStore) QuerySince(ctx context.Context, since time.Time) ([]Signal, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, item_id, type, value, metadata, ts
		FROM signals
		WHERE ts >= ?
		ORDER BY ts ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("query signals since: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanSignals(rows)
}

// Prune discards signals older than before.
func (d *DuckDBStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM signals WHERE ts < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune signals: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // count is advisory; the delete succeeded
	}
	return int(n), nil
}

// scanSignals converts result rows into signals.
func scanSignals(rows *sql.Rows) ([]Signal, error) {
	out := make([]Signal, 0)
	for rows.Next() {
		var (
			sig     Signal
			itemID  sql.NullString
			sigType string
			meta    sql.NullString
		)

		if err := rows.Scan(&sig.ID, &sig.UserID, &itemID, &sigType, &sig.Value, &meta, &sig.Timestamp); err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}

		sig.ItemID = itemID.String
		sig.Type = Type(sigType)

		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &sig.Metadata); err != nil {
				// A corrupt metadata blob loses its detail, not the signal.
				logging.Warn().Err(err).Str("signal_id", sig.ID).Msg("unreadable signal metadata")
			}
		}

		out = append(out, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ Store = (*DuckDBStore)(nil)
var _ Store = (*MemoryStore)(nil)
