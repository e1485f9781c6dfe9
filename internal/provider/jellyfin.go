// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package provider

import (
	"regexp"
	"time"

	"github.com/chronista-io/chronista/internal/models"
)

// jellyfinLineRe matches Jellyfin's default Serilog file template:
//
//	[2024-01-01 10:00:00.123 +00:00] [ERR] [21] Emby.Dlna.Main.DlnaEntryPoint: Error starting ssdp handlers
//
// The thread id bracket is optional (older releases omit it).
var jellyfinLineRe = regexp.MustCompile(
	`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} [+-]\d{2}:\d{2})\] \[([A-Z]{3})\](?: \[(\d+)\])? ([\w.<>]+): (.*)$`)

const jellyfinTimeLayout = "2006-01-02 15:04:05.000 -07:00"

type jellyfin struct {
	patterns []CorrelationPattern
}

func newJellyfin() *jellyfin {
	return &jellyfin{
		patterns: []CorrelationPattern{
			{
				Name:    "play-session-id",
				Field:   FieldPlaySessionID,
				Pattern: regexp.MustCompile(`(?i)PlaySessionId[="':\s]+([0-9a-f]{8,})`),
			},
			{
				Name:    "session-id",
				Field:   FieldSessionID,
				Pattern: regexp.MustCompile(`(?i)\bsession ([0-9a-f]{10,})\b`),
			},
			{
				Name:    "session-id-field",
				Field:   FieldSessionID,
				Pattern: regexp.MustCompile(`(?i)\bSessionId[="':\s]+([0-9a-f]{10,})`),
			},
			{
				Name:    "user-id",
				Field:   FieldUserID,
				Pattern: regexp.MustCompile(`(?i)UserId[="':\s]+([0-9a-f-]{8,})`),
			},
			{
				Name:    "device-id",
				Field:   FieldDeviceID,
				Pattern: regexp.MustCompile(`(?i)DeviceId[="':\s]+([\w+/=-]{6,})`),
			},
			{
				Name:    "item-id",
				Field:   FieldItemID,
				Pattern: regexp.MustCompile(`(?i)ItemId[="':\s]+([0-9a-f-]{8,})`),
			},
		},
	}
}

func (p *jellyfin) Name() string { return "jellyfin" }

func (p *jellyfin) ParseLine(line string) *models.ParsedLogEntry {
	m := jellyfinLineRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	ts, err := time.Parse(jellyfinTimeLayout, m[1])
	if err != nil {
		return nil
	}
	return &models.ParsedLogEntry{
		Timestamp: ts.UTC(),
		Level:     models.NormalizeLevel(m[2]),
		ThreadID:  m[3],
		Source:    m[4],
		Message:   m[5],
		Raw:       line,
	}
}

func (p *jellyfin) IsContinuation(line string) bool {
	return isDotNetContinuation(line)
}

func (p *jellyfin) FileConfig() (FileIngestConfig, bool) {
	return FileIngestConfig{
		DefaultPaths: map[string][]string{
			"linux":   {"/var/log/jellyfin", "/var/lib/jellyfin/log"},
			"docker":  {"/config/log"},
			"darwin":  {"~/Library/Application Support/jellyfin/log"},
			"windows": {`C:\ProgramData\Jellyfin\Server\log`},
		},
		// Jellyfin writes log_YYYYMMDD.log and rotates by date.
		FilePatterns: []string{"log_*.log", "jellyfin*.log"},
	}, true
}

func (p *jellyfin) CorrelationPatterns() []CorrelationPattern {
	return p.patterns
}
