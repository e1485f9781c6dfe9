// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package sink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/metrics"
	"github.com/chronista-io/chronista/internal/models"
)

// EntryStore is the persistence backend the appender writes to. The DuckDB
// store implements it; tests use mocks.
type EntryStore interface {
	// InsertLogEntries persists a batch and returns how many rows were
	// actually inserted (duplicates are skipped, not errors).
	InsertLogEntries(ctx context.Context, entries []*models.CreateLogEntryInput) (int64, error)
}

// AppenderConfig tunes the group-commit behavior.
type AppenderConfig struct {
	// BatchSize triggers an immediate flush once this many entries are
	// buffered across callers.
	BatchSize int
	// FlushInterval bounds how long a small batch waits before committing.
	FlushInterval time.Duration

	// Circuit breaker tuning. Zero values take the defaults below.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
	BreakerInterval  time.Duration
}

func (cfg *AppenderConfig) applyDefaults() {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
}

// pendingBatch is one caller's batch awaiting group commit.
type pendingBatch struct {
	entries []*models.CreateLogEntryInput
	done    chan error
}

// Appender implements EntrySink with group commit: concurrent PersistBatch
// calls coalesce into one transaction, and every caller blocks until its
// entries are durably accepted or the write failed. That keeps the tailers'
// offset-advance-after-accept contract intact while amortizing transaction
// overhead across the pool.
//
// A circuit breaker guards the store: after consecutive failures, writes are
// rejected immediately for a cool-down instead of hammering a wedged
// database. Rejected callers hold their offsets and retry from the poll
// loop, so breaker trips degrade to latency, never to data loss.
type Appender struct {
	store EntryStore
	cfg   AppenderConfig
	cb    *gobreaker.CircuitBreaker[int64]

	mu       sync.Mutex
	pending  []pendingBatch
	buffered int

	kick   chan struct{}
	closed atomic.Bool
}

// NewAppender creates an appender writing to store.
func NewAppender(store EntryStore, cfg AppenderConfig) (*Appender, error) {
	if store == nil {
		return nil, fmt.Errorf("entry store required")
	}
	cfg.applyDefaults()

	a := &Appender{
		store: store,
		cfg:   cfg,
		kick:  make(chan struct{}, 1),
	}
	a.cb = gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "log-entry-store",
		MaxRequests: 3,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("sink circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	return a, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// PersistBatch queues the entries for group commit and blocks until the
// commit containing them succeeds or fails. A nil return means the store
// accepted every entry (duplicates included).
func (a *Appender) PersistBatch(ctx context.Context, entries []*models.CreateLogEntryInput) error {
	if len(entries) == 0 {
		return nil
	}
	if a.closed.Load() {
		return ErrSinkClosed
	}

	batch := pendingBatch{entries: entries, done: make(chan error, 1)}
	a.mu.Lock()
	a.pending = append(a.pending, batch)
	a.buffered += len(entries)
	full := a.buffered >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}

	select {
	case err := <-batch.done:
		return err
	case <-ctx.Done():
		// The batch may still commit in the background; the caller will
		// replay and the dedup key absorbs it.
		return ctx.Err()
	}
}

// Serve runs the flush loop until ctx is canceled, then drains what is left.
// It implements suture.Service.
func (a *Appender) Serve(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.closed.Store(true)
			a.flush(context.WithoutCancel(ctx))
			return nil
		case <-a.kick:
			a.flush(ctx)
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// flush commits everything buffered as one insert and fans the result out to
// the waiting callers.
func (a *Appender) flush(ctx context.Context) {
	a.mu.Lock()
	batches := a.pending
	a.pending = nil
	a.buffered = 0
	a.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	var combined []*models.CreateLogEntryInput
	for _, b := range batches {
		combined = append(combined, b.entries...)
	}

	start := time.Now()
	inserted, err := a.cb.Execute(func() (int64, error) {
		return a.store.InsertLogEntries(ctx, combined)
	})
	metrics.SinkBatchDuration.Observe(time.Since(start).Seconds())
	metrics.SinkBatchSize.Observe(float64(len(combined)))

	if err != nil {
		metrics.SinkErrors.WithLabelValues("insert").Inc()
		logging.Error().Err(err).Int("entries", len(combined)).Msg("log entry batch rejected")
	} else if dup := int64(len(combined)) - inserted; dup > 0 {
		metrics.DedupRejects.Add(float64(dup))
	}

	for _, b := range batches {
		b.done <- err
	}
}
