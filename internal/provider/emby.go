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

// embyLineRe matches Emby's NLog file template:
//
//	2024-01-01 10:00:00.364 Info HttpServer: HTTP GET http://emby/emby/System/Info
//
// The fractional seconds width varies between releases, so the regex accepts
// any number of digits and time.Parse resolves them.
var embyLineRe = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d+) (\w+) ([\w.<>]+): (.*)$`)

// embyTimeLayout omits the fraction; Go accepts a fractional second after
// the seconds field during parsing even when the layout lacks one.
const embyTimeLayout = "2006-01-02 15:04:05"

// embyLevels is the closed set of severity words Emby emits in the level
// position. Anything else in that slot is not a log entry start.
var embyLevels = map[string]bool{
	"Trace": true, "Debug": true, "Info": true,
	"Warn": true, "Error": true, "Fatal": true,
}

type emby struct {
	patterns []CorrelationPattern
}

func newEmby() *emby {
	return &emby{
		patterns: []CorrelationPattern{
			{
				Name:    "play-session-id",
				Field:   FieldPlaySessionID,
				Pattern: regexp.MustCompile(`(?i)PlaySessionId[="':\s]+([0-9a-f]{8,})`),
			},
			{
				Name:    "session-id",
				Field:   FieldSessionID,
				Pattern: regexp.MustCompile(`(?i)\bSessionId[="':\s]+([0-9a-f]{8,})`),
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
				Pattern: regexp.MustCompile(`(?i)ItemId[="':\s]+(\d{2,})`),
			},
		},
	}
}

func (p *emby) Name() string { return "emby" }

func (p *emby) ParseLine(line string) *models.ParsedLogEntry {
	m := embyLineRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	// Guard against level-position words that are not severities ("Version",
	// startup banner noise); NormalizeLevel would misfile them as info.
	lvl := m[2]
	if !embyLevels[lvl] {
		return nil
	}
	ts, err := time.Parse(embyTimeLayout, m[1])
	if err != nil {
		return nil
	}
	return &models.ParsedLogEntry{
		Timestamp: ts.UTC(),
		Level:     models.NormalizeLevel(lvl),
		Source:    m[3],
		Message:   m[4],
		Raw:       line,
	}
}

func (p *emby) IsContinuation(line string) bool {
	return isDotNetContinuation(line)
}

func (p *emby) FileConfig() (FileIngestConfig, bool) {
	return FileIngestConfig{
		DefaultPaths: map[string][]string{
			"linux":   {"/var/lib/emby/logs", "/opt/emby-server/var/logs"},
			"docker":  {"/config/logs"},
			"darwin":  {"~/.config/emby-server/logs"},
			"windows": {`C:\Users\Public\Emby-Server\logs`},
		},
		// Emby writes embyserver.txt and rotates to embyserver-<n>.txt.
		FilePatterns: []string{"embyserver*.txt"},
	}, true
}

func (p *emby) CorrelationPatterns() []CorrelationPattern {
	return p.patterns
}
