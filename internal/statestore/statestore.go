// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package statestore persists per-file tail resume state in BadgerDB. The
// store is tiny and write-heavy: every durable offset advance lands here, so
// it lives in an embedded LSM store instead of the analytical database.
package statestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/models"
)

const statePrefix = "state/"

// Store implements sink.StateStore on BadgerDB.
type Store struct {
	db       *badger.DB
	inMemory bool
	log      zerolog.Logger
}

// Open opens (or creates) the state store at cfg.Path. With cfg.InMemory the
// store lives in RAM, which tests use and which turns resume state into
// start-from-scratch on every boot.
func Open(cfg *config.StateStoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	s := &Store{
		db:       db,
		inMemory: cfg.InMemory,
		log:      logging.With().Str("component", "statestore").Logger(),
	}
	s.log.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Msg("state store opened")
	return s, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// stateKey builds the storage key for one (server, file) pair. The path is
// hashed so arbitrary filesystem paths cannot collide with the key scheme's
// separators.
func stateKey(serverID, path string) []byte {
	sum := sha256.Sum256([]byte(path))
	return []byte(statePrefix + serverID + "/" + hex.EncodeToString(sum[:]))
}

// LoadFileState returns the stored state for the file, or (nil, nil) when
// the file has never been tailed.
func (s *Store) LoadFileState(ctx context.Context, serverID, path string) (*models.LogFileState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var state *models.LogFileState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(serverID, path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			state = &models.LogFileState{}
			return json.Unmarshal(val, state)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load file state: %w", err)
	}
	return state, nil
}

// SaveFileState upserts the state record, stamping UpdatedAt.
func (s *Store) SaveFileState(ctx context.Context, state *models.LogFileState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state.UpdatedAt = time.Now().UTC()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}
	val, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode file state: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.ServerID, state.FilePath), val)
	})
	if err != nil {
		return fmt.Errorf("save file state: %w", err)
	}
	return nil
}

// ListFileStates returns all stored states for one server, or for every
// server when serverID is empty.
func (s *Store) ListFileStates(ctx context.Context, serverID string) ([]*models.LogFileState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(statePrefix)
	if serverID != "" {
		prefix = []byte(statePrefix + serverID + "/")
	}

	var states []*models.LogFileState
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				state := &models.LogFileState{}
				if err := json.Unmarshal(val, state); err != nil {
					return err
				}
				states = append(states, state)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list file states: %w", err)
	}
	return states, nil
}

// DeleteFileState removes the record for one file, e.g. after an operator
// deletes a server.
func (s *Store) DeleteFileState(ctx context.Context, serverID, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stateKey(serverID, path))
	})
	if err != nil {
		return fmt.Errorf("delete file state: %w", err)
	}
	return nil
}
