// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package sink defines the persistence boundary of the ingestion core and
// the batching/circuit-breaking machinery in front of it. The concrete
// stores live in internal/database (DuckDB, entries) and internal/statestore
// (BadgerDB, resume state); nothing inside the pipeline touches durable
// storage except through these interfaces.
package sink

import (
	"context"
	"errors"

	"github.com/chronista-io/chronista/internal/models"
)

// Sentinel errors surfaced across the sink boundary.
var (
	// ErrSinkClosed is returned once a sink has been shut down.
	ErrSinkClosed = errors.New("sink: closed")

	// ErrSinkUnavailable wraps store failures that should stall the caller's
	// offset (at-least-once: the same bytes are re-submitted next cycle).
	ErrSinkUnavailable = errors.New("sink: unavailable")
)

// EntrySink persists normalized log entries. Implementations must be safe
// for concurrent use by many tailers and must enforce uniqueness on
// CreateLogEntryInput.DedupKey, silently skipping exact repeats.
type EntrySink interface {
	// PersistBatch durably stores a batch. A nil return means every entry
	// was accepted (stored or recognized as a duplicate); callers may then
	// advance their durable offsets. Partial writes must return an error.
	PersistBatch(ctx context.Context, entries []*models.CreateLogEntryInput) error
}

// StateStore persists LogFileState resume records keyed by (server, path).
type StateStore interface {
	// LoadFileState returns the stored state, or (nil, nil) when none exists.
	LoadFileState(ctx context.Context, serverID, path string) (*models.LogFileState, error)

	SaveFileState(ctx context.Context, state *models.LogFileState) error

	// ListFileStates returns all states for a server, active and inactive.
	ListFileStates(ctx context.Context, serverID string) ([]*models.LogFileState, error)
}

// Sink is the full persistence surface the coordinator wires into tailers.
type Sink interface {
	EntrySink
	StateStore
}

// Composite joins an entry sink and a state store into one Sink. The server
// wires the appender (entries, DuckDB-backed) and the Badger state store
// together through it.
type Composite struct {
	EntrySink
	StateStore
}
