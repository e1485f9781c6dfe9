// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/models"
)

const insertEntryQuery = `INSERT INTO log_entries (
	id, dedup_key,
	server_id, server_type, log_source, file_path, line_number,
	timestamp, level, message, source, thread_id,
	session_id, user_id, device_id, item_id, play_session_id,
	exception_type, stack_trace, raw, metadata,
	created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (dedup_key) DO NOTHING`

// InsertLogEntries persists a batch inside one transaction and returns how
// many rows were actually inserted. Entries whose dedup_key already exists
// are silently skipped, so callers can compute the duplicate count as
// len(entries) minus the return value.
func (db *DB) InsertLogEntries(ctx context.Context, entries []*models.CreateLogEntryInput) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logging.Warn().Err(err).Msg("log entry batch rollback failed")
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertEntryQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close insert statement")
		}
	}()

	now := time.Now().UTC()
	var inserted int64
	for _, e := range entries {
		metadata, err := encodeMetadata(e.Metadata)
		if err != nil {
			return inserted, fmt.Errorf("failed to encode metadata for %s: %w", e.DedupKey, err)
		}
		res, err := stmt.ExecContext(ctx,
			uuid.New(), e.DedupKey,
			e.ServerID, e.ServerType, e.LogSource, e.FilePath, e.LineNumber,
			e.Timestamp.UTC(), string(e.Level), e.Message, nullable(e.Source), nullable(e.ThreadID),
			nullable(e.SessionID), nullable(e.UserID), nullable(e.DeviceID), nullable(e.ItemID), nullable(e.PlaySessionID),
			nullable(e.ExceptionType), nullable(e.StackTrace), e.Raw, metadata,
			now,
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert log entry: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit log entry batch: %w", err)
	}
	return inserted, nil
}

// EntryFilter narrows the recent-entries query. Zero values mean "any".
type EntryFilter struct {
	ServerID string
	Level    string
	Since    time.Time
	Limit    int
}

// RecentEntries returns the newest stored entries matching the filter,
// ordered newest first. Limit is clamped to 1000.
func (db *DB) RecentEntries(ctx context.Context, filter EntryFilter) ([]*models.LogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `SELECT
		id, dedup_key,
		server_id, server_type, log_source, file_path, line_number,
		timestamp, level, message, source, thread_id,
		session_id, user_id, device_id, item_id, play_session_id,
		exception_type, stack_trace, raw, metadata,
		created_at
	FROM log_entries WHERE 1=1`
	var args []any
	if filter.ServerID != "" {
		query += " AND server_id = ?"
		args = append(args, filter.ServerID)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent entries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close entries rows")
		}
	}()

	var out []*models.LogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// CountEntries returns the total number of stored entries.
func (db *DB) CountEntries(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_entries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

func scanEntry(rows *sql.Rows) (*models.LogEntry, error) {
	var (
		e         models.LogEntry
		level     string
		source    sql.NullString
		threadID  sql.NullString
		sessionID sql.NullString
		userID    sql.NullString
		deviceID  sql.NullString
		itemID    sql.NullString
		playID    sql.NullString
		excType   sql.NullString
		stack     sql.NullString
		metadata  sql.NullString
	)
	err := rows.Scan(
		&e.ID, &e.DedupKey,
		&e.ServerID, &e.ServerType, &e.LogSource, &e.FilePath, &e.LineNumber,
		&e.Timestamp, &level, &e.Message, &source, &threadID,
		&sessionID, &userID, &deviceID, &itemID, &playID,
		&excType, &stack, &e.Raw, &metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan log entry: %w", err)
	}
	e.Level = models.LogLevel(level)
	e.Source = source.String
	e.ThreadID = threadID.String
	e.SessionID = sessionID.String
	e.UserID = userID.String
	e.DeviceID = deviceID.String
	e.ItemID = itemID.String
	e.PlaySessionID = playID.String
	e.ExceptionType = excType.String
	e.StackTrace = stack.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
		}
	}
	return &e, nil
}

func encodeMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
