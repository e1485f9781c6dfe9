// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package provider implements per-backend log line parsing.
//
// Each supported backend (Jellyfin, Emby, Plex, and the Servarr family) has
// its own timestamp format, field layout, and rules for what counts as the
// start of a new entry versus a continuation of the previous one. Providers
// expose those rules behind a uniform capability interface so the assembler
// and coordinator never special-case a backend.
//
// Parsers are pure and total: any input string, including empty or binary
// garbage, returns nil rather than panicking. All shared state is immutable
// (compiled regexps, pattern lists), so a single provider value is safe for
// concurrent use by many tailers.
package provider

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/chronista-io/chronista/internal/models"
)

// Provider is the capability surface one backend exposes to the ingestion
// pipeline. File ingestion support is an explicit capability: FileConfig
// returns false for backends whose logs cannot be tailed, and the
// coordinator skips them without any runtime type checks.
type Provider interface {
	// Name is the canonical server type string ("jellyfin", "sonarr", ...).
	Name() string

	// ParseLine maps one raw line to a parsed entry, or nil when the line
	// does not start a new entry. Pure and total.
	ParseLine(line string) *models.ParsedLogEntry

	// IsContinuation reports whether the line extends the previous entry
	// (stack trace frame, wrapped exception, indented payload) rather than
	// starting a new one.
	IsContinuation(line string) bool

	// FileConfig returns the file ingestion defaults for this backend and
	// whether file ingestion is supported at all.
	FileConfig() (FileIngestConfig, bool)

	// CorrelationPatterns returns the ordered pattern list used to pull
	// session/user/device/item identifiers out of message text. Order is
	// significant: the first matching pattern wins per field.
	CorrelationPatterns() []CorrelationPattern
}

// FileIngestConfig carries a backend's platform-specific log locations and
// file name globs. Paths are starting points only; per-server configuration
// overrides them.
type FileIngestConfig struct {
	// DefaultPaths maps a platform key (linux, darwin, windows, docker) to
	// candidate log directories.
	DefaultPaths map[string][]string

	// FilePatterns are file-name globs matched within each log directory.
	FilePatterns []string
}

// PathsFor returns the default log directories for the given GOOS, preferring
// the docker paths when running containerized. Entries starting with "~" are
// expanded against the user's home directory; filepath.Glob does not expand
// them, so a literal tilde could never match.
func (c FileIngestConfig) PathsFor(goos string, docker bool) []string {
	if docker {
		if paths, ok := c.DefaultPaths["docker"]; ok {
			return paths
		}
	}
	return expandHome(c.DefaultPaths[goos])
}

func expandHome(paths []string) []string {
	home, err := os.UserHomeDir()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "~" || strings.HasPrefix(p, "~/") {
			if err != nil {
				// No home directory to resolve against.
				continue
			}
			p = filepath.Join(home, p[1:])
		}
		out = append(out, p)
	}
	return out
}

// CorrelationField names the ParsedLogEntry field a correlation pattern
// populates.
type CorrelationField string

const (
	FieldSessionID     CorrelationField = "session_id"
	FieldUserID        CorrelationField = "user_id"
	FieldDeviceID      CorrelationField = "device_id"
	FieldItemID        CorrelationField = "item_id"
	FieldPlaySessionID CorrelationField = "play_session_id"
)

// CorrelationPattern is one provider-declared identifier extraction rule.
// Pattern must have exactly one capture group: the identifier value.
type CorrelationPattern struct {
	Name    string
	Field   CorrelationField
	Pattern *regexp.Regexp
}

// registry is the closed set of supported providers. Emby and Jellyfin share
// a lineage but diverge in log format, so each gets its own parser; the
// Servarr applications share one NLog parser parameterized by name.
var registry = map[string]Provider{
	"jellyfin": newJellyfin(),
	"emby":     newEmby(),
	"plex":     newPlex(),
	"sonarr":   newServarr("sonarr"),
	"radarr":   newServarr("radarr"),
	"prowlarr": newServarr("prowlarr"),
}

// ForType returns the provider for a server type string.
func ForType(serverType string) (Provider, bool) {
	p, ok := registry[serverType]
	return p, ok
}

// Types returns all registered server type names.
func Types() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
