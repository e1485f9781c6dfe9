// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package assemble turns a stream of raw log lines for one file into a
// stream of complete entries, folding continuation lines (stack traces,
// wrapped exceptions) into the entry they extend.
package assemble

import (
	"strings"

	"github.com/chronista-io/chronista/internal/metrics"
	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/provider"
)

// Entry is one complete assembled entry plus the line number of its first
// line in the source file. The line number feeds both the resume state and
// the deduplication key.
type Entry struct {
	*models.ParsedLogEntry
	LineNumber int64
}

// Assembler is the Idle/Pending state machine over one file's line stream.
//
//   - Idle: no pending entry. A parseable line transitions to Pending;
//     everything else is discarded (a continuation with no owner would
//     corrupt an unrelated entry if kept).
//   - Pending: holding entry E. Continuation lines accumulate in the buffer.
//     A new parseable line finalizes and emits E and starts a new Pending.
//     Flush finalizes E at EOF-then-idle.
//
// An emitted entry is always complete: downstream never sees a partial
// multi-line exception. Not safe for concurrent use; each tailer owns one
// assembler.
type Assembler struct {
	prov provider.Provider

	pending     *models.ParsedLogEntry
	pendingLine int64
	buf         []string

	discarded int64
}

// New creates an assembler bound to one provider's parsing rules.
func New(prov provider.Provider) *Assembler {
	return &Assembler{prov: prov}
}

// Feed consumes one raw line (with its 1-based line number) and returns the
// entry it completed, or nil when no entry finished on this line.
func (a *Assembler) Feed(line string, lineNumber int64) *Entry {
	if parsed := a.prov.ParseLine(line); parsed != nil {
		done := a.finalize()
		a.pending = parsed
		a.pendingLine = lineNumber
		return done
	}

	if a.pending != nil && a.prov.IsContinuation(line) {
		a.buf = append(a.buf, line)
		metrics.ContinuationLines.WithLabelValues(a.prov.Name()).Inc()
		return nil
	}

	// Unparseable non-continuation (blank lines, corrupt bytes): dropped so
	// it attaches to neither the previous nor the next entry.
	if strings.TrimSpace(line) != "" {
		a.discarded++
		metrics.LinesDiscarded.WithLabelValues(a.prov.Name()).Inc()
	}
	return nil
}

// Flush finalizes and returns the pending entry, if any. The tailer calls it
// when a poll cycle finds the file idle at EOF, so a trailing multi-line
// entry is not held hostage waiting for the next entry header.
func (a *Assembler) Flush() *Entry {
	return a.finalize()
}

// Pending reports whether an entry is being held open.
func (a *Assembler) Pending() bool {
	return a.pending != nil
}

// Reset drops all in-flight state. Used when the tailer restarts against a
// rotated file identity.
func (a *Assembler) Reset() {
	a.pending = nil
	a.pendingLine = 0
	a.buf = nil
}

// Discarded returns how many non-blank lines were dropped as unparseable.
func (a *Assembler) Discarded() int64 {
	return a.discarded
}

func (a *Assembler) finalize() *Entry {
	if a.pending == nil {
		return nil
	}
	entry := a.pending
	if len(a.buf) > 0 {
		entry.StackTrace = strings.Join(a.buf, "\n")
		entry.ExceptionType = provider.ExtractExceptionType(entry.StackTrace)
	}
	done := &Entry{ParsedLogEntry: entry, LineNumber: a.pendingLine}
	a.pending = nil
	a.pendingLine = 0
	a.buf = nil
	return done
}
