// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/models"
)

func newTestDB(t *testing.T, cfg config.DatabaseConfig) *DB {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	db, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return db
}

func testEntry(serverID string, line int64, ts time.Time) *models.CreateLogEntryInput {
	raw := fmt.Sprintf("raw line %d", line)
	return &models.CreateLogEntryInput{
		ParsedLogEntry: models.ParsedLogEntry{
			Timestamp: ts,
			Level:     models.LevelInfo,
			Message:   fmt.Sprintf("message %d", line),
			Source:    "Api",
			Raw:       raw,
			Metadata:  map[string]string{"request_id": "abc"},
		},
		ServerID:   serverID,
		ServerType: "sonarr",
		LogSource:  models.LogSourceFile,
		FilePath:   "/var/lib/sonarr/logs/sonarr.txt",
		LineNumber: line,
		DedupKey:   models.ComputeDedupKey(serverID, "/var/lib/sonarr/logs/sonarr.txt", line, raw),
	}
}

func TestInsertLogEntriesDeduplicates(t *testing.T) {
	db := newTestDB(t, config.DatabaseConfig{})
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	batch := []*models.CreateLogEntryInput{
		testEntry("srv1", 1, now),
		testEntry("srv1", 2, now),
		testEntry("srv1", 3, now),
	}

	inserted, err := db.InsertLogEntries(ctx, batch)
	if err != nil {
		t.Fatalf("InsertLogEntries: %v", err)
	}
	if inserted != 3 {
		t.Errorf("inserted = %d, want 3", inserted)
	}

	// Replaying the same batch must be a no-op.
	inserted, err = db.InsertLogEntries(ctx, batch)
	if err != nil {
		t.Fatalf("InsertLogEntries replay: %v", err)
	}
	if inserted != 0 {
		t.Errorf("replay inserted = %d, want 0", inserted)
	}

	count, err := db.CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestInsertLogEntriesEmptyBatch(t *testing.T) {
	db := newTestDB(t, config.DatabaseConfig{})
	inserted, err := db.InsertLogEntries(context.Background(), nil)
	if err != nil {
		t.Fatalf("InsertLogEntries: %v", err)
	}
	if inserted != 0 {
		t.Errorf("inserted = %d, want 0", inserted)
	}
}

func TestRecentEntriesFilters(t *testing.T) {
	db := newTestDB(t, config.DatabaseConfig{})
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var batch []*models.CreateLogEntryInput
	for i := int64(1); i <= 5; i++ {
		e := testEntry("srv1", i, base.Add(time.Duration(i)*time.Minute))
		batch = append(batch, e)
	}
	errEntry := testEntry("srv2", 1, base.Add(10*time.Minute))
	errEntry.Level = models.LevelError
	errEntry.ExceptionType = "System.IO.IOException"
	errEntry.StackTrace = "   at Some.Frame()"
	batch = append(batch, errEntry)

	if _, err := db.InsertLogEntries(ctx, batch); err != nil {
		t.Fatalf("InsertLogEntries: %v", err)
	}

	all, err := db.RecentEntries(ctx, EntryFilter{})
	if err != nil {
		t.Fatalf("RecentEntries: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("got %d entries, want 6", len(all))
	}
	// Newest first.
	if all[0].ServerID != "srv2" {
		t.Errorf("first entry server = %s, want srv2", all[0].ServerID)
	}
	if all[0].ExceptionType != "System.IO.IOException" {
		t.Errorf("exception type = %q", all[0].ExceptionType)
	}
	if all[0].Metadata["request_id"] != "abc" {
		t.Errorf("metadata round trip failed: %v", all[0].Metadata)
	}

	bySrv, err := db.RecentEntries(ctx, EntryFilter{ServerID: "srv1"})
	if err != nil {
		t.Fatalf("RecentEntries srv1: %v", err)
	}
	if len(bySrv) != 5 {
		t.Errorf("srv1 entries = %d, want 5", len(bySrv))
	}

	byLevel, err := db.RecentEntries(ctx, EntryFilter{Level: string(models.LevelError)})
	if err != nil {
		t.Fatalf("RecentEntries level: %v", err)
	}
	if len(byLevel) != 1 {
		t.Errorf("error entries = %d, want 1", len(byLevel))
	}

	limited, err := db.RecentEntries(ctx, EntryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("RecentEntries limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited entries = %d, want 2", len(limited))
	}

	since, err := db.RecentEntries(ctx, EntryFilter{Since: base.Add(4 * time.Minute)})
	if err != nil {
		t.Fatalf("RecentEntries since: %v", err)
	}
	if len(since) != 3 {
		t.Errorf("since entries = %d, want 3", len(since))
	}
}

func TestPurgeExpiredBounded(t *testing.T) {
	db := newTestDB(t, config.DatabaseConfig{
		RetentionDays:       30,
		RetentionBatchSize:  2,
		RetentionMaxBatches: 2,
	})
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -60)
	var batch []*models.CreateLogEntryInput
	for i := int64(1); i <= 7; i++ {
		batch = append(batch, testEntry("srv1", i, old))
	}
	batch = append(batch, testEntry("srv1", 100, time.Now().UTC()))
	if _, err := db.InsertLogEntries(ctx, batch); err != nil {
		t.Fatalf("InsertLogEntries: %v", err)
	}

	// Batch budget caps one sweep at 2*2 deletions.
	deleted, err := db.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if deleted != 4 {
		t.Errorf("first sweep deleted = %d, want 4", deleted)
	}

	// The next sweep finishes the backlog and keeps the fresh entry.
	deleted, err = db.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired second sweep: %v", err)
	}
	if deleted != 3 {
		t.Errorf("second sweep deleted = %d, want 3", deleted)
	}

	count, err := db.CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries: %v", err)
	}
	if count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
}

func TestPurgeExpiredDisabled(t *testing.T) {
	db := newTestDB(t, config.DatabaseConfig{})
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -400)
	if _, err := db.InsertLogEntries(ctx, []*models.CreateLogEntryInput{testEntry("srv1", 1, old)}); err != nil {
		t.Fatalf("InsertLogEntries: %v", err)
	}

	deleted, err := db.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0 with retention disabled", deleted)
	}
}
