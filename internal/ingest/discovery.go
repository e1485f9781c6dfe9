// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/chronista-io/chronista/internal/provider"
)

// discover resolves every enabled server's log directories and patterns,
// globs them, and returns the matching regular files. On the initial scan,
// files older than MaxFileAgeDays with no stored resume state are skipped;
// a file we have state for is always resumed regardless of age.
func (c *Coordinator) discover(ctx context.Context, initial bool) []candidate {
	var found []candidate
	docker := inDocker()

	for _, srv := range c.servers {
		if !srv.Enabled || !srv.FileIngestion.Enabled || c.serverDisabled(srv.ID) {
			continue
		}
		prov, ok := provider.ForType(srv.Type)
		if !ok {
			c.log.Warn().Str("server", srv.ID).Str("type", srv.Type).Msg("skipping server with unknown type")
			continue
		}

		dirs := srv.FileIngestion.LogPaths
		patterns := srv.FileIngestion.LogFilePatterns
		if fc, ok := prov.FileConfig(); ok {
			if len(dirs) == 0 {
				dirs = fc.PathsFor(runtime.GOOS, docker)
			}
			if len(patterns) == 0 {
				patterns = fc.FilePatterns
			}
		}
		if len(dirs) == 0 || len(patterns) == 0 {
			c.log.Debug().Str("server", srv.ID).Msg("no log paths or patterns resolved")
			continue
		}

		for _, dir := range dirs {
			for _, pattern := range patterns {
				matches, err := filepath.Glob(filepath.Join(dir, pattern))
				if err != nil {
					// Only malformed patterns error here; report once per scan.
					c.log.Warn().Err(err).Str("pattern", pattern).Msg("invalid log file pattern")
					continue
				}
				for _, path := range matches {
					if cand, ok := c.admit(ctx, srv.ID, srv.Type, path, initial); ok {
						found = append(found, cand)
					}
				}
			}
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
	return found
}

// admit vets one glob match: it must be a regular file, and on the initial
// scan must either be recent enough or have stored resume state.
func (c *Coordinator) admit(ctx context.Context, serverID, serverType, path string, initial bool) (candidate, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return candidate{}, false
	}
	fi, err := os.Stat(abs)
	if err != nil || !fi.Mode().IsRegular() {
		return candidate{}, false
	}

	if initial && c.cfg.MaxFileAgeDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -c.cfg.MaxFileAgeDays)
		if fi.ModTime().Before(cutoff) {
			state, err := c.store.LoadFileState(ctx, serverID, abs)
			if err != nil || state == nil {
				c.log.Debug().Str("path", abs).Time("modified", fi.ModTime()).Msg("skipping stale log file")
				return candidate{}, false
			}
		}
	}

	return candidate{serverID: serverID, serverType: serverType, path: abs}, true
}

// inDocker reports whether the process appears to run inside a container,
// which switches provider default paths to their image layouts.
func inDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
