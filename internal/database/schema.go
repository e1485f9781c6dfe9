// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package database

import (
	"context"
	"fmt"
	"time"
)

// createTables creates the log entry schema. The UNIQUE constraint on
// dedup_key is what makes the ingestion pipeline at-least-once safe: replays
// after a crash or a stale resume offset collapse into no-op inserts.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := `CREATE TABLE IF NOT EXISTS log_entries (
		id UUID PRIMARY KEY,
		dedup_key VARCHAR NOT NULL UNIQUE,

		server_id VARCHAR NOT NULL,
		server_type VARCHAR NOT NULL,
		log_source VARCHAR NOT NULL,
		file_path VARCHAR NOT NULL,
		line_number BIGINT NOT NULL,

		timestamp TIMESTAMP NOT NULL,
		level VARCHAR NOT NULL,
		message VARCHAR NOT NULL,
		source VARCHAR,
		thread_id VARCHAR,

		session_id VARCHAR,
		user_id VARCHAR,
		device_id VARCHAR,
		item_id VARCHAR,
		play_session_id VARCHAR,

		exception_type VARCHAR,
		stack_trace VARCHAR,
		raw VARCHAR NOT NULL,
		metadata VARCHAR,

		created_at TIMESTAMP NOT NULL
	)`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create log_entries table: %w", err)
	}
	return nil
}

// createIndexes creates secondary indexes for the query helpers. DuckDB
// indexes are advisory for point lookups; the timestamp index matters most
// for the retention sweep and recent-entries queries.
func (db *DB) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_log_entries_timestamp ON log_entries (timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_log_entries_server ON log_entries (server_id, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_log_entries_level ON log_entries (level)",
	}
	for _, stmt := range indexes {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
