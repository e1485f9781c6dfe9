// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package ingest coordinates the tailer pool: it discovers candidate log
// files per configured server, enforces single ownership per absolute path,
// bounds how many tailers run concurrently, staggers their startup, and
// periodically re-scans for files that appeared or vanished.
package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/metrics"
	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/provider"
	"github.com/chronista-io/chronista/internal/sink"
	"github.com/chronista-io/chronista/internal/tailer"
)

// candidate is one discovered (server, file) pair awaiting a tailer slot.
type candidate struct {
	serverID   string
	serverType string
	path       string
}

// ownedTailer is an entry in the single-owner registry. Exactly one exists
// per absolute path across the whole process.
type ownedTailer struct {
	serverID string
	cancel   context.CancelFunc
}

// Notify observes entry batches after the sink accepted them. The
// coordinator uses it to feed the live-tail stream; implementations must not
// block.
type Notify func(entries []*models.CreateLogEntryInput)

// Coordinator runs file discovery and the bounded tailer pool. It implements
// suture.Service via Serve.
type Coordinator struct {
	servers []config.ServerConfig
	cfg     config.IngestionConfig
	store   sink.Sink
	notify  Notify
	log     zerolog.Logger

	// limiter paces tailer startups (the stagger delay).
	limiter *rate.Limiter

	mu       sync.Mutex
	owners   map[string]*ownedTailer // keyed by absolute path
	queue    []candidate
	disabled map[string]bool // servers stopped at runtime
	wg       sync.WaitGroup
}

// NewCoordinator wires the coordinator for the given servers and tuning.
// notify may be nil.
func NewCoordinator(servers []config.ServerConfig, cfg config.IngestionConfig, store sink.Sink, notify Notify) *Coordinator {
	delay := cfg.TailerStartDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &Coordinator{
		servers:  servers,
		cfg:      cfg,
		store:    store,
		notify:   notify,
		limiter:  rate.NewLimiter(rate.Every(delay), 1),
		owners:   make(map[string]*ownedTailer),
		disabled: make(map[string]bool),
		log:      logging.With().Str("component", "ingest").Logger(),
	}
}

// Serve discovers files, fills tailer slots, and re-scans until ctx is
// canceled. Tailer failures never propagate: an unhealthy file degrades to
// an inactive LogFileState, not a crashed coordinator.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.log.Info().
		Int("servers", len(c.servers)).
		Int("max_tailers", c.cfg.MaxConcurrentTailers).
		Msg("ingestion coordinator starting")

	c.enqueue(c.discover(ctx, true))
	if err := c.fill(ctx); err != nil {
		return err
	}

	rescan := time.NewTicker(c.cfg.RescanInterval)
	defer rescan.Stop()

	// Slot-fill polling is decoupled from rescans so queued files start
	// promptly after a tailer exits.
	fillTick := time.NewTicker(c.cfg.PollInterval)
	defer fillTick.Stop()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.log.Info().Msg("ingestion coordinator stopped")
			return nil
		case <-rescan.C:
			c.enqueue(c.discover(ctx, false))
			if err := c.fill(ctx); err != nil {
				return err
			}
		case <-fillTick.C:
			if err := c.fill(ctx); err != nil {
				return err
			}
		}
	}
}

// enqueue adds candidates that are neither owned nor already queued.
func (c *Coordinator) enqueue(found []candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queued := make(map[string]bool, len(c.queue))
	for _, q := range c.queue {
		queued[q.path] = true
	}
	for _, cand := range found {
		if _, owned := c.owners[cand.path]; owned || queued[cand.path] {
			continue
		}
		c.queue = append(c.queue, cand)
		queued[cand.path] = true
	}
	metrics.TailersQueued.Set(float64(len(c.queue)))
}

// fill starts queued tailers while slots are free, pacing each start with
// the stagger limiter. Iterations are bounded by the queue length captured
// at entry, so a re-filling queue cannot loop forever.
func (c *Coordinator) fill(ctx context.Context) error {
	c.mu.Lock()
	budget := len(c.queue)
	c.mu.Unlock()

	for i := 0; i < budget; i++ {
		c.mu.Lock()
		if len(c.owners) >= c.cfg.MaxConcurrentTailers || len(c.queue) == 0 {
			c.mu.Unlock()
			break
		}
		cand := c.queue[0]
		c.queue = c.queue[1:]
		metrics.TailersQueued.Set(float64(len(c.queue)))
		c.mu.Unlock()

		if err := c.limiter.Wait(ctx); err != nil {
			return nil // ctx canceled during stagger
		}
		c.startTailer(ctx, cand)
	}
	return nil
}

// startTailer registers ownership and launches the tailer goroutine.
func (c *Coordinator) startTailer(ctx context.Context, cand candidate) {
	prov, ok := provider.ForType(cand.serverType)
	if !ok {
		c.log.Error().Str("type", cand.serverType).Msg("no provider for server type")
		return
	}

	tctx, cancel := context.WithCancel(ctx)
	tl := tailer.New(cand.serverID, cand.serverType, cand.path, prov, c.store, tailer.Config{
		PollInterval:     c.cfg.PollInterval,
		ReadChunkBytes:   c.cfg.ReadChunkBytes,
		ReadRetries:      c.cfg.ReadRetries,
		ReadRetryBackoff: c.cfg.ReadRetryBackoff,
		Notify:           c.notify,
	})

	c.mu.Lock()
	if _, owned := c.owners[cand.path]; owned || c.disabled[cand.serverID] {
		// Lost a race with a concurrent fill or a server stop; single
		// ownership wins.
		c.mu.Unlock()
		cancel()
		return
	}
	c.owners[cand.path] = &ownedTailer{serverID: cand.serverID, cancel: cancel}
	metrics.TailersActive.Set(float64(len(c.owners)))
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		if err := tl.Run(tctx); err != nil {
			// Persistent failure: already recorded on the file state. The
			// path stays eligible for rediscovery on a later rescan.
			c.log.Warn().Err(err).Str("path", cand.path).Msg("tailer exited with error")
		}

		c.mu.Lock()
		delete(c.owners, cand.path)
		metrics.TailersActive.Set(float64(len(c.owners)))
		c.mu.Unlock()
	}()
}

// StopServer cancels all tailers owned by one server and excludes it from
// future scans, e.g. when its ingestion is disabled. Each tailer finishes
// its current read cycle, persists state, and exits; no entry is forwarded
// after the signal.
func (c *Coordinator) StopServer(serverID string) {
	c.mu.Lock()
	c.disabled[serverID] = true
	for path, owned := range c.owners {
		if owned.serverID == serverID {
			owned.cancel()
			c.log.Info().Str("server", serverID).Str("path", path).Msg("tailer stop requested")
		}
	}
	// Drop queued candidates for the server as well.
	kept := c.queue[:0]
	for _, cand := range c.queue {
		if cand.serverID != serverID {
			kept = append(kept, cand)
		}
	}
	c.queue = kept
	metrics.TailersQueued.Set(float64(len(c.queue)))
	c.mu.Unlock()
}

// TailerStatus is one row of the coordinator's health snapshot.
type TailerStatus struct {
	ServerID string `json:"server_id"`
	Path     string `json:"path"`
}

// Status is the coordinator snapshot served by the operational API.
type Status struct {
	ActiveTailers int            `json:"active_tailers"`
	QueuedFiles   int            `json:"queued_files"`
	MaxTailers    int            `json:"max_tailers"`
	Tailers       []TailerStatus `json:"tailers"`
}

func (c *Coordinator) serverDisabled(serverID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled[serverID]
}

// Status returns a point-in-time snapshot of the pool.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		ActiveTailers: len(c.owners),
		QueuedFiles:   len(c.queue),
		MaxTailers:    c.cfg.MaxConcurrentTailers,
	}
	for path, owned := range c.owners {
		st.Tailers = append(st.Tailers, TailerStatus{ServerID: owned.serverID, Path: path})
	}
	sort.Slice(st.Tailers, func(i, j int) bool { return st.Tailers[i].Path < st.Tailers[j].Path })
	return st
}
