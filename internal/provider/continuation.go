// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package provider

import (
	"regexp"
	"strings"
)

// exceptionTypeRe matches .NET-style exception headers at the start of a
// line, e.g. "System.IO.FileNotFoundException: could not find ...". These
// appear at column zero inside multi-line error blocks, so they count as
// continuations even without leading whitespace.
var exceptionTypeRe = regexp.MustCompile(`^[A-Za-z_][\w.]*(?:Exception|Error)\b\s*:`)

// isDotNetContinuation implements the continuation heuristic shared by the
// .NET-family backends (Jellyfin, Emby, Servarr):
//
//   - indented lines (stack frames, wrapped payloads)
//   - "at Namespace.Type.Method(...)" frames
//   - "--->" inner exception separators
//   - exception-type headers at column zero
//
// Blank lines are NOT continuations; per the discard policy they must never
// be folded into an adjacent entry's stack trace.
func isDotNetContinuation(line string) bool {
	if line == "" || strings.TrimSpace(line) == "" {
		return false
	}
	if line[0] == ' ' || line[0] == '\t' {
		return true
	}
	if strings.HasPrefix(line, "at ") || strings.HasPrefix(line, "--->") {
		return true
	}
	return exceptionTypeRe.MatchString(line)
}

// ExtractExceptionType returns the exception type named at the start of a
// continuation block, or "" when the block carries no exception header.
// Given "System.IO.IOException: disk full" it returns
// "System.IO.IOException".
func ExtractExceptionType(continuation string) string {
	for _, line := range strings.Split(continuation, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "--->"))
		if m := exceptionTypeRe.FindString(line); m != "" {
			return strings.TrimSpace(strings.TrimSuffix(m, ":"))
		}
	}
	return ""
}
