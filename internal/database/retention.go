// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/metrics"
)

// PurgeExpired deletes entries older than the retention horizon in bounded
// batches: it repeats until a batch deletes fewer rows than requested or the
// batch budget is spent, so one sweep can never hold the writer for an
// unbounded stretch. Returns the number of rows deleted.
func (db *DB) PurgeExpired(ctx context.Context) (int64, error) {
	if db.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -db.cfg.RetentionDays)
	batchSize := db.cfg.RetentionBatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}
	maxBatches := db.cfg.RetentionMaxBatches
	if maxBatches <= 0 {
		maxBatches = 20
	}

	// DuckDB has no DELETE ... LIMIT; bound each batch through a subquery.
	query := `DELETE FROM log_entries WHERE id IN (
		SELECT id FROM log_entries WHERE timestamp < ? LIMIT ?
	)`

	var total int64
	for i := 0; i < maxBatches; i++ {
		res, err := db.conn.ExecContext(ctx, query, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired entries: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to read deleted row count: %w", err)
		}
		total += n
		metrics.RetentionDeleted.Add(float64(n))
		if n < int64(batchSize) {
			break
		}
	}
	return total, nil
}

// Retention runs the periodic retention sweep. It implements suture.Service.
type Retention struct {
	db  *DB
	log zerolog.Logger
}

// NewRetention creates the sweep service for the given store.
func NewRetention(db *DB) *Retention {
	return &Retention{
		db:  db,
		log: logging.With().Str("component", "retention").Logger(),
	}
}

// Serve sweeps once at startup and then on a fixed interval until ctx is
// canceled. Sweep failures are logged, not fatal; the next interval retries.
func (r *Retention) Serve(ctx context.Context) error {
	if r.db.cfg.RetentionDays <= 0 {
		r.log.Info().Msg("retention disabled, entries kept forever")
		<-ctx.Done()
		return nil
	}

	sweepEvery := time.Duration(r.db.cfg.RetentionSweepHours) * time.Hour
	if sweepEvery <= 0 {
		sweepEvery = 6 * time.Hour
	}

	r.sweep(ctx)
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Retention) sweep(ctx context.Context) {
	deleted, err := r.db.PurgeExpired(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	if deleted > 0 {
		r.log.Info().Int64("deleted", deleted).Int("retention_days", r.db.cfg.RetentionDays).Msg("retention sweep completed")
	}
}
