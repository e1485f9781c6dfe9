// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package models

import "time"

// LogFileState is the durable resume record for one (server, file path)
// pair. Exactly one tailer owns the state for a given path at a time; it is
// persisted after every batch the sink accepts, so a restarted process can
// resume from ByteOffset without re-reading or dropping data.
//
// States are deactivated, never deleted: a file that disappears or a server
// whose ingestion is disabled keeps its record so a later rediscovery resumes
// instead of starting over.
type LogFileState struct {
	ServerID string `json:"server_id"`
	FilePath string `json:"file_path"` // absolute

	FileSize   int64 `json:"file_size"`
	ByteOffset int64 `json:"byte_offset"` // invariant: <= FileSize observed at read time
	LineNumber int64 `json:"line_number"` // last fully consumed line, 1-based

	// FileInode identifies the underlying file independent of its name.
	// A mismatch against a freshly stat'd file means rotation, not resume.
	FileInode uint64 `json:"file_inode"`

	LastModified time.Time `json:"last_modified"`
	LastReadAt   time.Time `json:"last_read_at"`

	IsActive  bool   `json:"is_active"`
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLogFileState returns an active state at offset zero for a freshly
// discovered file.
func NewLogFileState(serverID, filePath string) *LogFileState {
	now := time.Now().UTC()
	return &LogFileState{
		ServerID:  serverID,
		FilePath:  filePath,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MatchesIdentity reports whether a freshly stat'd file (inode, size) is the
// same file this state was recorded against and the recorded offset is still
// valid. False means the tailer must treat the file as rotated.
func (s *LogFileState) MatchesIdentity(inode uint64, size int64) bool {
	if s.FileInode == 0 {
		return false
	}
	return s.FileInode == inode && s.ByteOffset <= size
}
