// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/chronista-io/chronista/internal/config"
	"github.com/chronista-io/chronista/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(&config.StateStoreConfig{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSaveAndLoadFileState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := models.NewLogFileState("srv1", "/var/log/jellyfin/log_20240101.log")
	state.ByteOffset = 4096
	state.LineNumber = 42
	state.FileInode = 123456
	state.FileSize = 8192

	if err := s.SaveFileState(ctx, state); err != nil {
		t.Fatalf("SaveFileState: %v", err)
	}
	if state.UpdatedAt.IsZero() || state.CreatedAt.IsZero() {
		t.Error("timestamps not stamped on save")
	}

	got, err := s.LoadFileState(ctx, "srv1", "/var/log/jellyfin/log_20240101.log")
	if err != nil {
		t.Fatalf("LoadFileState: %v", err)
	}
	if got == nil {
		t.Fatal("LoadFileState returned nil for saved state")
	}
	if got.ByteOffset != 4096 || got.LineNumber != 42 || got.FileInode != 123456 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoadFileStateMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadFileState(context.Background(), "srv1", "/nonexistent")
	if err != nil {
		t.Fatalf("LoadFileState: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for unknown file", got)
	}
}

func TestSaveFileStateOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := models.NewLogFileState("srv1", "/var/log/app.log")
	state.ByteOffset = 100
	if err := s.SaveFileState(ctx, state); err != nil {
		t.Fatal(err)
	}
	created := state.CreatedAt

	time.Sleep(time.Millisecond)
	state.ByteOffset = 200
	if err := s.SaveFileState(ctx, state); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadFileState(ctx, "srv1", "/var/log/app.log")
	if err != nil {
		t.Fatal(err)
	}
	if got.ByteOffset != 200 {
		t.Errorf("offset = %d, want 200", got.ByteOffset)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: %v vs %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.After(created) {
		t.Error("UpdatedAt not advanced on update")
	}
}

func TestListFileStatesByServer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct{ server, path string }{
		{"srv1", "/logs/a.log"},
		{"srv1", "/logs/b.log"},
		{"srv2", "/logs/c.log"},
	} {
		if err := s.SaveFileState(ctx, models.NewLogFileState(tc.server, tc.path)); err != nil {
			t.Fatal(err)
		}
	}

	srv1, err := s.ListFileStates(ctx, "srv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(srv1) != 2 {
		t.Errorf("srv1 states = %d, want 2", len(srv1))
	}

	all, err := s.ListFileStates(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("all states = %d, want 3", len(all))
	}
}

func TestDeleteFileState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := models.NewLogFileState("srv1", "/logs/a.log")
	if err := s.SaveFileState(ctx, state); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteFileState(ctx, "srv1", "/logs/a.log"); err != nil {
		t.Fatalf("DeleteFileState: %v", err)
	}
	got, err := s.LoadFileState(ctx, "srv1", "/logs/a.log")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("state survived delete: %+v", got)
	}
}

func TestCanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SaveFileState(ctx, models.NewLogFileState("srv1", "/logs/a.log")); err == nil {
		t.Error("SaveFileState succeeded with canceled context")
	}
	if _, err := s.LoadFileState(ctx, "srv1", "/logs/a.log"); err == nil {
		t.Error("LoadFileState succeeded with canceled context")
	}
}
