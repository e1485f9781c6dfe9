// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package tailer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/provider"
	"github.com/chronista-io/chronista/internal/sink"
)

// mockSink is an in-memory sink with injectable batch failures, in place of
// the DuckDB/Badger pair.
type mockSink struct {
	mu          sync.Mutex
	entries     []*models.CreateLogEntryInput
	states      map[string]*models.LogFileState
	failBatches int
}

var _ sink.Sink = (*mockSink)(nil)

func newMockSink() *mockSink {
	return &mockSink{states: make(map[string]*models.LogFileState)}
}

func (m *mockSink) PersistBatch(_ context.Context, entries []*models.CreateLogEntryInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBatches > 0 {
		m.failBatches--
		return fmt.Errorf("%w: injected failure", sink.ErrSinkUnavailable)
	}
	// Dedup on key, as the real store does.
	seen := make(map[string]bool, len(m.entries))
	for _, e := range m.entries {
		seen[e.DedupKey] = true
	}
	for _, e := range entries {
		if !seen[e.DedupKey] {
			m.entries = append(m.entries, e)
		}
	}
	return nil
}

func (m *mockSink) LoadFileState(_ context.Context, serverID, path string) (*models.LogFileState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[serverID+"|"+path]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *mockSink) SaveFileState(_ context.Context, state *models.LogFileState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.ServerID+"|"+state.FilePath] = &cp
	return nil
}

func (m *mockSink) ListFileStates(_ context.Context, serverID string) ([]*models.LogFileState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LogFileState
	for _, st := range m.states {
		if st.ServerID == serverID {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockSink) entryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *mockSink) state(serverID, path string) *models.LogFileState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[serverID+"|"+path]
}

func testConfig() Config {
	return Config{
		PollInterval:     10 * time.Millisecond,
		ReadChunkBytes:   64 << 10,
		ReadRetries:      2,
		ReadRetryBackoff: time.Millisecond,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func newTestTailer(t *testing.T, path string, store sink.Sink) *Tailer {
	t.Helper()
	prov, ok := provider.ForType("sonarr")
	if !ok {
		t.Fatal("sonarr provider missing")
	}
	return New("srv-1", "sonarr", path, prov, store, testConfig())
}

const (
	line1 = "2024-01-01 10:00:00.0|Info|Api|message one\n"
	line2 = "2024-01-01 10:00:01.0|Warn|Api|message two\n"
	line3 = "2024-01-01 10:00:02.0|Info|Api|message three\n"
)

func TestTailerFullFileThenIdempotentResume(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1+line2+line3)
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tl.cycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	// Second, idle cycle finalizes the trailing pending entry.
	if err := tl.cycle(ctx); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	tl.close()

	if got := store.entryCount(); got != 3 {
		t.Fatalf("entries = %d, want 3", got)
	}

	st := store.state("srv-1", path)
	if st == nil {
		t.Fatal("no persisted state")
	}
	fi, _ := os.Stat(path)
	if st.ByteOffset != fi.Size() {
		t.Errorf("ByteOffset = %d, want %d", st.ByteOffset, fi.Size())
	}
	if st.LineNumber != 3 {
		t.Errorf("LineNumber = %d, want 3", st.LineNumber)
	}
	if !st.IsActive {
		t.Error("state should remain active")
	}

	// Restart from the persisted state with no new bytes: zero additional
	// entries may be emitted.
	tl2 := newTestTailer(t, path, store)
	if err := tl2.start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := tl2.cycle(ctx); err != nil {
			t.Fatalf("resume cycle: %v", err)
		}
	}
	tl2.close()

	if got := store.entryCount(); got != 3 {
		t.Errorf("entries after resume = %d, want 3 (no duplicates)", got)
	}
}

func TestTailerMultiLineAssembly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path,
		"2024-01-01 10:00:00.0|Error|DownloadService|grab failed\n"+
			"System.Net.WebException: request timed out\n"+
			"   at Sonarr.Core.Download.Grab()\n"+
			line3)
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	tl.cycle(ctx)
	tl.cycle(ctx)
	tl.close()

	if got := store.entryCount(); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}
	first := store.entries[0]
	if !strings.Contains(first.StackTrace, "at Sonarr.Core.Download.Grab()") {
		t.Errorf("stack trace = %q", first.StackTrace)
	}
	if first.ExceptionType != "System.Net.WebException" {
		t.Errorf("exception type = %q", first.ExceptionType)
	}
	if store.entries[1].StackTrace != "" {
		t.Error("second entry must not inherit the stack trace")
	}
}

func TestTailerAppendAcrossCycles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1)
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	tl.cycle(ctx) // reads line1, leaves it pending
	tl.cycle(ctx) // idle flush emits line1

	appendFile(t, path, line2)
	tl.cycle(ctx) // reads line2, pending
	tl.cycle(ctx) // idle flush
	tl.close()

	if got := store.entryCount(); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}
	for i, want := range []int64{1, 2} {
		if store.entries[i].LineNumber != want {
			t.Errorf("entry %d line = %d, want %d", i, store.entries[i].LineNumber, want)
		}
	}
}

func TestTailerPartialLineBuffering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, "2024-01-01 10:00:00.0|Info|Api|incomp") // no newline
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	tl.cycle(ctx)
	tl.cycle(ctx)

	if got := store.entryCount(); got != 0 {
		t.Fatalf("entries = %d, want 0 while the line is unterminated", got)
	}

	appendFile(t, path, "lete\n"+line2)
	tl.cycle(ctx)
	tl.cycle(ctx)
	tl.close()

	if got := store.entryCount(); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}
	if store.entries[0].Message != "incomplete" {
		t.Errorf("reassembled message = %q", store.entries[0].Message)
	}
}

func TestTailerRotationByTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1+line2)
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	tl.cycle(ctx)
	tl.cycle(ctx)
	if got := store.entryCount(); got != 2 {
		t.Fatalf("entries before rotation = %d, want 2", got)
	}

	// Same inode, smaller size: truncation must restart from offset 0 and
	// never seek past the new end.
	writeFile(t, path, line3)
	if err := tl.cycle(ctx); err != nil {
		t.Fatalf("rotation cycle: %v", err)
	}
	tl.cycle(ctx)
	tl.cycle(ctx)
	tl.close()

	st := store.state("srv-1", path)
	fi, _ := os.Stat(path)
	if st.ByteOffset > fi.Size() {
		t.Errorf("ByteOffset = %d beyond new size %d", st.ByteOffset, fi.Size())
	}
	if got := store.entryCount(); got != 3 {
		t.Fatalf("entries = %d, want 3 (two old, one new)", got)
	}
	last := store.entries[2]
	if last.Message != "message three" || last.LineNumber != 1 {
		t.Errorf("post-rotation entry = %q line %d, want line 1 of the new file", last.Message, last.LineNumber)
	}
}

func TestTailerRotationByReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1)
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	tl.cycle(ctx)
	tl.cycle(ctx)

	// Replace the file wholesale: new inode under the old name.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, line2)
	if err := tl.cycle(ctx); err != nil {
		t.Fatalf("rotation cycle: %v", err)
	}
	tl.cycle(ctx)
	tl.cycle(ctx)
	tl.close()

	if got := store.entryCount(); got != 2 {
		t.Fatalf("entries = %d, want 2", got)
	}
	if store.entries[1].Message != "message two" {
		t.Errorf("post-rotation message = %q", store.entries[1].Message)
	}
}

func TestTailerRotationCarriesRejectedEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1)
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	tl.cycle(ctx) // reads line1, leaves it pending

	// Replace the file while the entry is still pending, with the sink down
	// for exactly the rotation flush. The old bytes are unrecoverable, so
	// the finalized entry must survive in memory until the sink accepts it.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, line2)
	store.mu.Lock()
	store.failBatches = 1
	store.mu.Unlock()

	if err := tl.cycle(ctx); err != nil {
		t.Fatalf("rotation cycle: %v", err)
	}
	if got := store.entryCount(); got != 0 {
		t.Fatalf("entries after rejected rotation flush = %d, want 0", got)
	}

	// Sink healthy again: the carried entry lands before the new file's
	// content so ordering holds.
	tl.cycle(ctx)
	tl.cycle(ctx)
	tl.cycle(ctx)
	tl.close()

	if got := store.entryCount(); got != 2 {
		t.Fatalf("entries = %d, want 2 (carried + new)", got)
	}
	if store.entries[0].Message != "message one" {
		t.Errorf("first stored message = %q, want the entry finalized at rotation", store.entries[0].Message)
	}
	if store.entries[1].Message != "message two" {
		t.Errorf("second stored message = %q", store.entries[1].Message)
	}
}

func TestTailerSinkRejectionKeepsOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1+line2)
	store := newMockSink()
	store.failBatches = 1
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tl.cycle(ctx); err != nil {
		t.Fatalf("rejected cycle must not be fatal: %v", err)
	}
	if got := store.entryCount(); got != 0 {
		t.Fatalf("entries after rejection = %d, want 0", got)
	}
	if st := store.state("srv-1", path); st.ByteOffset != 0 {
		t.Errorf("ByteOffset advanced to %d despite rejection", st.ByteOffset)
	}

	// Next cycles re-read the same bytes and succeed.
	tl.cycle(ctx)
	tl.cycle(ctx)
	tl.close()

	if got := store.entryCount(); got != 2 {
		t.Fatalf("entries after retry = %d, want 2", got)
	}
	if st := store.state("srv-1", path); st.LineNumber != 2 {
		t.Errorf("LineNumber = %d, want 2", st.LineNumber)
	}
}

func TestTailerMissingFileExhaustsRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1)
	store := newMockSink()
	ctx := context.Background()

	tl := newTestTailer(t, path, store)
	if err := tl.start(ctx); err != nil {
		t.Fatal(err)
	}
	tl.cycle(ctx)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	var last error
	for i := 0; i < 10; i++ {
		if last = tl.cycle(ctx); last != nil {
			break
		}
	}
	tl.close()

	if last == nil {
		t.Fatal("expected persistent failure after retry budget")
	}
	st := store.state("srv-1", path)
	if st.IsActive {
		t.Error("state should be inactive after persistent failure")
	}
	if st.LastError == "" {
		t.Error("LastError should be recorded")
	}
}

func TestTailerRunStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sonarr.txt")
	writeFile(t, path, line1)
	store := newMockSink()

	ctx, cancel := context.WithCancel(context.Background())
	tl := newTestTailer(t, path, store)

	done := make(chan error, 1)
	go func() { done <- tl.Run(ctx) }()

	// Give it a few poll intervals, then stop.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tailer did not stop")
	}

	if st := store.state("srv-1", path); st == nil {
		t.Error("final state was not persisted")
	}
}
