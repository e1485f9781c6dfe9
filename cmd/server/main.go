// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package main is the entry point for the Chronista server.
//
// Chronista tails the on-disk log files of configured media servers and
// automation tools (Jellyfin, Emby, Plex, Sonarr, Radarr, Prowlarr),
// normalizes every entry into a common shape, and persists the result with
// exactly-once effects on top of at-least-once file reads.
//
// Startup order:
//
//  1. Configuration (Koanf v2: defaults, config.yaml, CHRONISTA_* env)
//  2. Logging (zerolog)
//  3. Stores: DuckDB entry store, BadgerDB resume-state store
//  4. Stream bus and WebSocket hub
//  5. Ingestion coordinator with the tailer pool
//  6. HTTP API
//  7. Supervisor tree (suture) running everything until SIGINT/SIGTERM
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/chronista-io/chronista/internal/api"
	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/database"
	"github.com/chronista-io/chronista/internal/ingest"
	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/sink"
	"github.com/chronista-io/chronista/internal/statestore"
	"github.com/chronista-io/chronista/internal/stream"
	"github.com/chronista-io/chronista/internal/supervisor"
	ws "github.com/chronista-io/chronista/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Int("servers", len(cfg.Servers)).
		Str("db_path", cfg.Database.Path).
		Str("state_path", cfg.State.Path).
		Msg("starting chronista")

	// Stores.
	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing database")
		}
	}()

	states, err := statestore.Open(&cfg.State)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open state store")
	}
	defer func() {
		if err := states.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing state store")
		}
	}()

	// Write path: group-commit appender in front of DuckDB.
	appender, err := sink.NewAppender(db, sink.AppenderConfig{
		BatchSize:     cfg.Ingestion.BatchSize,
		FlushInterval: cfg.Ingestion.FlushInterval,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create appender")
	}
	fullSink := sink.Composite{EntrySink: appender, StateStore: states}

	// Live tail: bus feeds the WebSocket hub.
	bus := stream.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing stream bus")
		}
	}()
	hub := ws.NewHub(bus)

	coordinator := ingest.NewCoordinator(cfg.Servers, cfg.Ingestion, fullSink, bus.PublishEntries)

	handler := api.NewHandler(&cfg.API, db, states, coordinator, hub)
	server := api.NewServer(&cfg.API, api.NewRouter(&cfg.API, handler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(appender)
	tree.AddDataService(database.NewRetention(db))
	tree.AddDataService(statestore.NewGC(states, cfg.State.GCInterval))
	tree.AddIngestService(hub)
	tree.AddIngestService(coordinator)
	tree.AddAPIService(server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	// Serve returns once ctx is canceled (signal handler above) or the tree
	// gives up; either way exactly one terminal error arrives here.
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("services", len(report)).Msg("some services did not stop in time")
	}

	logging.Info().Msg("chronista stopped")
}
