// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package provider

import (
	"regexp"
	"strings"
	"time"

	"github.com/chronista-io/chronista/internal/models"
)

// plexLineRe matches "Plex Media Server.log" lines:
//
//	Jan 01, 2024 10:00:00.123 [0x7f8e4] DEBUG - Completed: 200 GET /identity
//
// Plex writes local time without a zone or year-independent offset; the
// parser records the wall-clock reading as UTC rather than guessing a zone.
var plexLineRe = regexp.MustCompile(
	`^([A-Z][a-z]{2} \d{2}, \d{4} \d{2}:\d{2}:\d{2}\.\d{3}) \[(0x[0-9a-f]+)\] ([A-Z]+) - (.*)$`)

const plexTimeLayout = "Jan 02, 2006 15:04:05.000"

type plex struct {
	patterns []CorrelationPattern
}

func newPlex() *plex {
	return &plex{
		patterns: []CorrelationPattern{
			{
				Name:    "session-key",
				Field:   FieldSessionID,
				Pattern: regexp.MustCompile(`(?i)\bsession(?:Key| key)[=:\s]+(\d+)`),
			},
			{
				Name:    "play-session-identifier",
				Field:   FieldPlaySessionID,
				Pattern: regexp.MustCompile(`X-Plex-Session-Identifier[=:\s]+([\w-]{8,})`),
			},
			{
				Name:    "user-id",
				Field:   FieldUserID,
				Pattern: regexp.MustCompile(`(?i)\buserID[=:\s]+(\d+)`),
			},
			{
				Name:    "client-identifier",
				Field:   FieldDeviceID,
				Pattern: regexp.MustCompile(`(?i)(?:machineIdentifier|X-Plex-Client-Identifier)[=:\s]+([\w-]{8,})`),
			},
			{
				Name:    "rating-key",
				Field:   FieldItemID,
				Pattern: regexp.MustCompile(`(?i)\bratingKey[=:\s/]+(\d+)`),
			},
		},
	}
}

func (p *plex) Name() string { return "plex" }

func (p *plex) ParseLine(line string) *models.ParsedLogEntry {
	m := plexLineRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	ts, err := time.Parse(plexTimeLayout, m[1])
	if err != nil {
		return nil
	}
	return &models.ParsedLogEntry{
		Timestamp: ts.UTC(),
		Level:     models.NormalizeLevel(m[3]),
		ThreadID:  m[2],
		Message:   m[4],
		Raw:       line,
	}
}

// IsContinuation: Plex logs are strictly single-line; anything that is not a
// new entry is noise, never a continuation.
func (p *plex) IsContinuation(line string) bool {
	// Indented backtrace dumps do occur around crashes.
	return line != "" && strings.TrimSpace(line) != "" &&
		(line[0] == ' ' || line[0] == '\t')
}

func (p *plex) FileConfig() (FileIngestConfig, bool) {
	return FileIngestConfig{
		DefaultPaths: map[string][]string{
			"linux": {
				"/var/lib/plexmediaserver/Library/Application Support/Plex Media Server/Logs",
			},
			"docker": {
				"/config/Library/Application Support/Plex Media Server/Logs",
			},
			"darwin": {
				"~/Library/Logs/Plex Media Server",
			},
			"windows": {
				`C:\Users\Public\AppData\Local\Plex Media Server\Logs`,
			},
		},
		// Rotated copies are "Plex Media Server.1.log" through ".5.log".
		FilePatterns: []string{"Plex Media Server*.log"},
	}, true
}

func (p *plex) CorrelationPatterns() []CorrelationPattern {
	return p.patterns
}
