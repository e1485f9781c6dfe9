// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogSourceFile marks entries that were ingested by tailing a provider log
// file on disk, as opposed to entries obtained from a provider's HTTP API.
const LogSourceFile = "file"

// ParsedLogEntry is the normalized form of one complete log entry as produced
// by a provider parser plus multi-line assembly and correlation extraction.
// It is a value: once emitted by the assembler it is never mutated, and it
// carries no identity beyond its content (storage uniqueness is derived via
// the deduplication key, not intrinsic to the entry).
type ParsedLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`

	// Source is the logging category or class the provider attributes the
	// line to (e.g. "Emby.Server.Implementations.ApplicationHost").
	Source   string `json:"source,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`

	// Correlation identifiers extracted from message text. Zero value means
	// "not present in this line"; the extractor only fills empty fields.
	SessionID     string `json:"session_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	DeviceID      string `json:"device_id,omitempty"`
	ItemID        string `json:"item_id,omitempty"`
	PlaySessionID string `json:"play_session_id,omitempty"`

	// Raw is the original first line of the entry, before any continuation
	// lines were folded in. Preserved verbatim for debugging and for the
	// deduplication key.
	Raw string `json:"raw"`

	// Metadata carries provider-specific structured fields that have no
	// dedicated column (request ids, HTTP status codes, queue names).
	Metadata map[string]string `json:"metadata,omitempty"`

	// ExceptionType and StackTrace are populated by the assembler when
	// continuation lines followed the entry (wrapped exceptions, frames).
	ExceptionType string `json:"exception_type,omitempty"`
	StackTrace    string `json:"stack_trace,omitempty"`
}

// Clone returns a deep copy of the entry. The correlation extractor enriches
// a copy so the assembler's emitted value stays immutable.
func (e *ParsedLogEntry) Clone() *ParsedLogEntry {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// CreateLogEntryInput is the write-side record handed to the persistence
// sink. It is a ParsedLogEntry tagged with its origin (server, file, line)
// and the precomputed deduplication key the store enforces uniqueness on.
type CreateLogEntryInput struct {
	ParsedLogEntry

	ServerID   string `json:"server_id"`
	ServerType string `json:"server_type"`
	LogSource  string `json:"log_source"` // always LogSourceFile for this pipeline
	FilePath   string `json:"file_path"`
	LineNumber int64  `json:"line_number"`
	DedupKey   string `json:"dedup_key"`
}

// LogEntry is the read-side record as stored: a CreateLogEntryInput that was
// accepted by the store and assigned an identity.
type LogEntry struct {
	ID uuid.UUID `json:"id"`
	CreateLogEntryInput
	CreatedAt time.Time `json:"created_at"`
}

// ComputeDedupKey derives the stable deduplication key for an entry:
// SHA-256 over server id, absolute file path, line number, and the raw first
// line. Re-tailing from a stale offset after a crash re-produces the same key
// for the same physical line, so the sink can reject the replay cheaply.
func ComputeDedupKey(serverID, filePath string, lineNumber int64, raw string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s", serverID, filePath, lineNumber, raw)
	return hex.EncodeToString(h.Sum(nil))
}
