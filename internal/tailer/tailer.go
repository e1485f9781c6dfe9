// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package tailer implements the incremental, crash-resumable reader for one
// provider log file. A tailer owns its file's read cursor for the file's
// whole lifetime, including rotations it detects, and is the only writer of
// that file's LogFileState.
package tailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/chronista-io/chronista/internal/assemble"
	"github.com/chronista-io/chronista/internal/logging"
	"github.com/chronista-io/chronista/internal/metrics"
	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/provider"
	"github.com/chronista-io/chronista/internal/sink"
)

// ErrPersistentFailure is returned when a tailer exhausts its retry budget.
// The file's state is marked inactive with the cause preserved in LastError;
// a later discovery pass may try the file again.
var ErrPersistentFailure = errors.New("tailer: persistent read failure")

// maxReadsPerCycle bounds how many chunk reads one poll cycle performs, so a
// large backlog cannot monopolize a tailer slot indefinitely.
const maxReadsPerCycle = 8

// Config carries the per-tailer tuning shared by the pool.
type Config struct {
	PollInterval     time.Duration
	ReadChunkBytes   int
	ReadRetries      int
	ReadRetryBackoff time.Duration

	// Notify, when set, observes each batch after the sink accepted it.
	// Used by the coordinator to feed the live-tail stream. Must not block.
	Notify func(entries []*models.CreateLogEntryInput)
}

// Tailer reads appended bytes from a single log file, drives the multi-line
// assembler, and persists entries plus resume state through the sink.
// Not safe for concurrent use; the coordinator guarantees single ownership
// per absolute path.
type Tailer struct {
	serverID   string
	serverType string
	path       string
	prov       provider.Provider
	asm        *assemble.Assembler
	extract    *assemble.Extractor
	store      sink.Sink
	cfg        Config
	log        zerolog.Logger

	file  *os.File
	inode uint64
	state *models.LogFileState

	// partial holds the trailing bytes of an incomplete final line between
	// read cycles; they are only fed once the terminating newline arrives.
	partial []byte

	// Working cursor: position and line count after the last complete line
	// fed to the assembler. Committed into state only after the sink accepts.
	feedOffset int64
	feedLine   int64

	// Start of the assembler's pending entry. The durable offset never
	// advances past a pending entry, so a crash replays it instead of
	// losing it.
	pendingStart     int64
	pendingStartLine int64

	// carry holds entries finalized at a rotation boundary that the sink
	// rejected. Their bytes are gone with the old file, so they are retried
	// from memory at the start of every cycle until accepted.
	carry []*assemble.Entry

	consecutiveErrs int
}

// New creates a tailer for one (server, path) pair.
func New(serverID, serverType, path string, prov provider.Provider, store sink.Sink, cfg Config) *Tailer {
	return &Tailer{
		serverID:   serverID,
		serverType: serverType,
		path:       path,
		prov:       prov,
		asm:        assemble.New(prov),
		extract:    assemble.NewExtractor(prov),
		store:      store,
		cfg:        cfg,
		log: logging.With().
			Str("component", "tailer").
			Str("server", serverID).
			Str("path", path).
			Logger(),
	}
}

// Path returns the absolute file path this tailer owns.
func (t *Tailer) Path() string { return t.path }

// Run tails the file until ctx is canceled or a persistent failure exhausts
// the retry budget. A clean stop persists the final state and returns nil;
// historical LogFileState records are never deleted.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.start(ctx); err != nil {
		return err
	}
	defer t.close()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.persistState(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			if err := t.cycle(ctx); err != nil {
				return err
			}
		}
	}
}

// start opens the file and positions the cursor: at the stored offset when
// the resume state still matches the file identity, at zero otherwise.
func (t *Tailer) start(ctx context.Context) error {
	state, err := t.store.LoadFileState(ctx, t.serverID, t.path)
	if err != nil {
		return fmt.Errorf("load file state: %w", err)
	}
	if state == nil {
		state = models.NewLogFileState(t.serverID, t.path)
	}
	t.state = state

	if err := t.openAt(ctx); err != nil {
		return err
	}
	t.log.Info().
		Int64("offset", t.state.ByteOffset).
		Int64("line", t.state.LineNumber).
		Msg("tailer started")
	return nil
}

// openAt opens the file, decides resume vs restart, and persists the
// resulting state.
func (t *Tailer) openAt(ctx context.Context) error {
	f, err := os.Open(t.path)
	if err != nil {
		return t.recordOpenFailure(ctx, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return t.recordOpenFailure(ctx, err)
	}
	inode := fileInode(fi)

	if t.state.MatchesIdentity(inode, fi.Size()) {
		if _, err := f.Seek(t.state.ByteOffset, io.SeekStart); err != nil {
			f.Close()
			return t.recordOpenFailure(ctx, err)
		}
	} else {
		// New file, or rotation/truncation against the stored identity.
		if t.state.FileInode != 0 {
			metrics.RotationsDetected.WithLabelValues(t.serverType).Inc()
			t.log.Info().
				Uint64("old_inode", t.state.FileInode).
				Uint64("new_inode", inode).
				Msg("file identity changed, restarting from offset 0")
		}
		t.state.ByteOffset = 0
		t.state.LineNumber = 0
	}

	t.file = f
	t.inode = inode
	t.state.FileInode = inode
	t.state.FileSize = fi.Size()
	t.state.LastModified = fi.ModTime().UTC()
	t.state.IsActive = true
	t.state.LastError = ""
	t.feedOffset = t.state.ByteOffset
	t.feedLine = t.state.LineNumber
	t.partial = nil
	t.pendingStart = 0
	t.pendingStartLine = 0
	t.asm.Reset()
	t.consecutiveErrs = 0

	t.persistState(ctx)
	return nil
}

// cycle performs one poll: carried-entry retry, stat, rotation check,
// chunked reads, idle flush.
func (t *Tailer) cycle(ctx context.Context) error {
	// Carried entries precede everything read since, so they must land
	// before any new bytes are consumed to keep within-file ordering.
	if len(t.carry) > 0 {
		if err := t.submit(ctx, t.carry); err != nil {
			metrics.SinkErrors.WithLabelValues("persist_batch").Inc()
			t.state.LastError = err.Error()
			t.log.Warn().Err(err).Int("entries", len(t.carry)).Msg("sink rejected carried entries, retrying next cycle")
			return nil
		}
		t.carry = nil
	}

	fi, err := os.Stat(t.path)
	if err != nil {
		return t.transientFailure(ctx, fmt.Errorf("stat: %w", err))
	}
	inode := fileInode(fi)

	// Rotation or truncation: the pending entry is finalized without its
	// missing tail, then the cursor restarts against the new identity.
	if inode != t.inode || fi.Size() < t.feedOffset {
		metrics.RotationsDetected.WithLabelValues(t.serverType).Inc()
		t.log.Info().
			Int64("size", fi.Size()).
			Int64("offset", t.feedOffset).
			Msg("rotation detected")
		// The pending entry's bytes vanish with the old identity: a rewind
		// cannot replay them. On rejection the finalized entry is carried in
		// memory and retried each cycle instead of being dropped.
		if done := t.asm.Flush(); done != nil {
			t.pendingStart = 0
			t.pendingStartLine = 0
			if err := t.submit(ctx, []*assemble.Entry{done}); err != nil {
				metrics.SinkErrors.WithLabelValues("persist_batch").Inc()
				t.state.LastError = err.Error()
				t.log.Warn().Err(err).Msg("sink rejected entry finalized at rotation, carrying in memory")
				t.carry = append(t.carry, done)
			}
		}
		t.file.Close()
		t.file = nil
		t.state.ByteOffset = 0
		t.state.LineNumber = 0
		t.state.FileInode = 0
		metrics.TailerRestarts.WithLabelValues(t.serverType).Inc()
		return t.openAt(ctx)
	}

	t.state.FileSize = fi.Size()
	t.state.LastModified = fi.ModTime().UTC()

	grew := false
	for i := 0; i < maxReadsPerCycle && t.feedOffset+int64(len(t.partial)) < fi.Size(); i++ {
		n, err := t.readChunk(ctx, fi.Size())
		if err != nil {
			return t.transientFailure(ctx, err)
		}
		if n == 0 {
			break
		}
		grew = true
	}
	t.consecutiveErrs = 0

	// EOF-then-idle: a poll that finds no growth finalizes the pending
	// multi-line entry. A buffered partial line defers the flush; its
	// newline may still arrive and continue the entry.
	if !grew && t.asm.Pending() && len(t.partial) == 0 {
		t.flushPending(ctx)
	}

	t.state.LastReadAt = time.Now().UTC()
	t.persistState(ctx)
	return nil
}

// readChunk reads up to ReadChunkBytes, feeds complete lines to the
// assembler, and submits finalized entries. The durable cursor advances only
// after the sink accepts; on rejection the file position is rewound so the
// same bytes are re-read next cycle (at-least-once).
func (t *Tailer) readChunk(ctx context.Context, size int64) (int, error) {
	remaining := size - (t.feedOffset + int64(len(t.partial)))
	if remaining <= 0 {
		return 0, nil
	}
	limit := int64(t.cfg.ReadChunkBytes)
	if remaining < limit {
		limit = remaining
	}

	buf := make([]byte, limit)
	n, err := io.ReadFull(t.file, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	buf = buf[:n]

	entries := t.feedLines(buf)
	if len(entries) == 0 {
		return n, nil
	}
	if err := t.submit(ctx, entries); err != nil {
		// Not an I/O failure: rewind so the next cycle replays these bytes.
		t.rewind()
		metrics.SinkErrors.WithLabelValues("persist_batch").Inc()
		t.state.LastError = err.Error()
		t.log.Warn().Err(err).Msg("sink rejected batch, offset not advanced")
		return 0, nil
	}
	return n, nil
}

// feedLines splits a chunk into complete lines (buffering the trailing
// partial), feeds them through the assembler, and returns the finalized
// entries with the working cursor advanced past each fed line.
func (t *Tailer) feedLines(chunk []byte) []*assemble.Entry {
	data := chunk
	if len(t.partial) > 0 {
		data = append(t.partial, chunk...)
		t.partial = nil
	}

	var entries []*assemble.Entry
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimSuffix(data[:idx], []byte("\r")))
		data = data[idx+1:]

		lineStart := t.feedOffset
		t.feedOffset += int64(idx + 1)
		t.feedLine++

		wasPending := t.asm.Pending()
		done := t.asm.Feed(line, t.feedLine)
		if done != nil {
			entries = append(entries, done)
		}
		// A line that parsed became the new pending entry: either it just
		// finalized the previous one (done != nil) or it opened the first
		// (pending appeared). Record its start so the durable offset never
		// advances past it; continuations and discards leave the mark alone.
		if done != nil || (!wasPending && t.asm.Pending()) {
			t.pendingStart = lineStart
			t.pendingStartLine = t.feedLine
		}
	}
	if len(data) > 0 {
		t.partial = append([]byte(nil), data...)
	}
	return entries
}

// submit enriches, tags, and persists a batch, then advances the durable
// cursor and notifies observers.
func (t *Tailer) submit(ctx context.Context, entries []*assemble.Entry) error {
	inputs := make([]*models.CreateLogEntryInput, 0, len(entries))
	for _, e := range entries {
		enriched := t.extract.Enrich(e.ParsedLogEntry)
		inputs = append(inputs, &models.CreateLogEntryInput{
			ParsedLogEntry: *enriched,
			ServerID:       t.serverID,
			ServerType:     t.serverType,
			LogSource:      models.LogSourceFile,
			FilePath:       t.path,
			LineNumber:     e.LineNumber,
			DedupKey:       models.ComputeDedupKey(t.serverID, t.path, e.LineNumber, enriched.Raw),
		})
	}

	start := time.Now()
	if err := t.store.PersistBatch(ctx, inputs); err != nil {
		return err
	}
	metrics.SinkBatchDuration.Observe(time.Since(start).Seconds())
	metrics.SinkBatchSize.Observe(float64(len(inputs)))
	for _, in := range inputs {
		metrics.EntriesIngested.WithLabelValues(t.serverType, string(in.Level)).Inc()
	}

	t.commitCursor()
	t.state.LastError = ""
	t.persistState(ctx)

	if t.cfg.Notify != nil {
		t.cfg.Notify(inputs)
	}
	return nil
}

// commitCursor advances the durable offset: up to the pending entry's first
// byte when one is open, else past everything fed so far.
func (t *Tailer) commitCursor() {
	if t.asm.Pending() && t.pendingStartLine > 0 {
		t.state.ByteOffset = t.pendingStart
		t.state.LineNumber = t.pendingStartLine - 1
		return
	}
	t.state.ByteOffset = t.feedOffset
	t.state.LineNumber = t.feedLine
}

// rewind seeks back to the committed offset after a sink rejection so the
// next cycle re-reads and re-submits the same bytes.
func (t *Tailer) rewind() {
	if _, err := t.file.Seek(t.state.ByteOffset, io.SeekStart); err != nil {
		t.log.Error().Err(err).Msg("rewind seek failed")
	}
	t.feedOffset = t.state.ByteOffset
	t.feedLine = t.state.LineNumber
	t.partial = nil
	t.pendingStart = 0
	t.pendingStartLine = 0
	t.asm.Reset()
}

// flushPending finalizes the assembler's pending entry and submits it,
// rewinding on rejection so the still-present bytes are replayed. Used at
// EOF-then-idle only; rotation flushes carry in memory instead.
func (t *Tailer) flushPending(ctx context.Context) {
	done := t.asm.Flush()
	if done == nil {
		return
	}
	t.pendingStart = 0
	t.pendingStartLine = 0
	if err := t.submit(ctx, []*assemble.Entry{done}); err != nil {
		metrics.SinkErrors.WithLabelValues("persist_batch").Inc()
		t.state.LastError = err.Error()
		t.log.Warn().Err(err).Msg("sink rejected flushed entry")
		t.rewind()
	}
}

// transientFailure applies the bounded retry contract: record the error,
// back off, and only after the budget is exhausted mark the state inactive
// and exit.
func (t *Tailer) transientFailure(ctx context.Context, err error) error {
	t.consecutiveErrs++
	metrics.ReadErrors.WithLabelValues(t.serverType).Inc()
	t.state.LastError = err.Error()
	t.persistState(ctx)

	if t.consecutiveErrs > t.cfg.ReadRetries {
		t.state.IsActive = false
		t.persistState(ctx)
		t.log.Error().Err(err).Int("attempts", t.consecutiveErrs).Msg("retry budget exhausted, tailer stopping")
		return fmt.Errorf("%w: %v", ErrPersistentFailure, err)
	}

	backoff := time.Duration(t.consecutiveErrs) * t.cfg.ReadRetryBackoff
	t.log.Warn().Err(err).Dur("backoff", backoff).Msg("transient read failure")
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
	return nil
}

// recordOpenFailure is the start-phase variant of transientFailure: open
// errors are persistent by nature here because start has no poll loop to
// retry in; the coordinator's rescan retries discovery later.
func (t *Tailer) recordOpenFailure(ctx context.Context, err error) error {
	t.state.LastError = err.Error()
	t.state.IsActive = false
	t.persistState(ctx)
	return fmt.Errorf("%w: open %s: %v", ErrPersistentFailure, t.path, err)
}

func (t *Tailer) persistState(ctx context.Context) {
	t.state.UpdatedAt = time.Now().UTC()
	if err := t.store.SaveFileState(ctx, t.state); err != nil {
		metrics.SinkErrors.WithLabelValues("save_state").Inc()
		t.log.Error().Err(err).Msg("failed to persist file state")
	}
}

func (t *Tailer) close() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
	t.log.Info().
		Int64("offset", t.state.ByteOffset).
		Int64("line", t.state.LineNumber).
		Msg("tailer stopped")
}
