// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingService tracks how many times it was started.
type countingService struct {
	starts  atomic.Int32
	failing atomic.Bool
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	if s.failing.Load() {
		return errors.New("boom")
	}
	<-ctx.Done()
	return nil
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(testLogger(), DefaultTreeConfig())

	svc := &countingService{}
	tree.AddIngestService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("service never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(testLogger(), cfg)

	svc := &countingService{}
	svc.failing.Store(true)
	tree.AddDataService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("service restarted %d times, want >= 2", svc.starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Recovery: once the service stops failing, it stays up.
	svc.failing.Store(false)
	cancel()
	<-errCh
}

func TestTreeLayerIsolation(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(testLogger(), cfg)

	crashing := &countingService{}
	crashing.failing.Store(true)
	stable := &countingService{}

	tree.AddIngestService(crashing)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for crashing.starts.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("crashing service was not restarted enough to observe isolation")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The API layer service must not have been restarted by the ingest
	// layer's churn.
	if got := stable.starts.Load(); got != 1 {
		t.Errorf("stable service starts = %d, want 1", got)
	}

	cancel()
	<-errCh
}
