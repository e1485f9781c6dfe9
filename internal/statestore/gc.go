// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const defaultGCInterval = 5 * time.Minute

// GC periodically reclaims Badger value log space. It implements
// suture.Service.
type GC struct {
	store    *Store
	interval time.Duration
}

// NewGC creates the garbage collection service for the store.
func NewGC(store *Store, interval time.Duration) *GC {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &GC{store: store, interval: interval}
}

// Serve runs value log GC on the configured interval until ctx is canceled.
// In-memory stores have no value log; Serve just blocks.
func (g *GC) Serve(ctx context.Context) error {
	if g.store.inMemory {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.runGC()
		}
	}
}

// runGC rewrites value log files until Badger reports nothing left to
// reclaim. Each call rewrites at most one file, hence the loop.
func (g *GC) runGC() {
	for {
		err := g.store.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			g.store.log.Debug().Err(err).Msg("value log GC pass skipped")
			return
		}
	}
}
