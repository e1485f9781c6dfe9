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

// servarrLineRe matches the pipe-delimited NLog template shared by the
// Servarr applications (Sonarr, Radarr, Prowlarr):
//
//	2024-01-01 10:00:00.1|Info|DownloadDecisionMaker|Processing 25 releases
var servarrLineRe = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d+)\|(\w+)\|([^|]*)\|(.*)$`)

const servarrTimeLayout = "2006-01-02 15:04:05"

// servarr covers the *arr family; the format is identical, only the name,
// default paths, and file patterns differ.
type servarr struct {
	name     string
	patterns []CorrelationPattern
}

func newServarr(name string) *servarr {
	return &servarr{
		name: name,
		patterns: []CorrelationPattern{
			{
				Name:    "download-client-item",
				Field:   FieldItemID,
				Pattern: regexp.MustCompile(`(?i)\bdownload(?:Id| id)[=:\s]+([\w.]{6,})`),
			},
			{
				Name:    "grab-id",
				Field:   FieldItemID,
				Pattern: regexp.MustCompile(`(?i)\brelease(?:Id| id)[=:\s]+(\d+)`),
			},
		},
	}
}

func (p *servarr) Name() string { return p.name }

func (p *servarr) ParseLine(line string) *models.ParsedLogEntry {
	m := servarrLineRe.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	ts, err := time.Parse(servarrTimeLayout, m[1])
	if err != nil {
		return nil
	}
	return &models.ParsedLogEntry{
		Timestamp: ts.UTC(),
		Level:     models.NormalizeLevel(m[2]),
		Source:    m[3],
		Message:   m[4],
		Raw:       line,
	}
}

func (p *servarr) IsContinuation(line string) bool {
	return isDotNetContinuation(line)
}

func (p *servarr) FileConfig() (FileIngestConfig, bool) {
	return FileIngestConfig{
		DefaultPaths: map[string][]string{
			"linux":   {"/var/lib/" + p.name + "/logs"},
			"docker":  {"/config/logs"},
			"darwin":  {"~/.config/" + p.name + "/logs"},
			"windows": {`C:\ProgramData\` + p.name + `\logs`},
		},
		// sonarr.txt rotates to sonarr.0.txt .. sonarr.5.txt; the debug and
		// trace variants get their own series.
		FilePatterns: []string{p.name + "*.txt"},
	}, true
}

func (p *servarr) CorrelationPatterns() []CorrelationPattern {
	return p.patterns
}
