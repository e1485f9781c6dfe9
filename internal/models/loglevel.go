// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package models

import "strings"

// LogLevel is the normalized severity of a log entry.
// Providers emit a wide range of spellings (e.g. "WRN", "Warning", "VERBOSE");
// parsers map them onto this closed set before entries leave the pipeline.
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// NormalizeLevel maps provider-specific severity spellings onto the closed
// LogLevel set. Unknown values default to info rather than failing the parse;
// a line with a garbled level is still a valid entry.
func NormalizeLevel(raw string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TRACE", "TRC", "VERBOSE", "VRB":
		return LevelTrace
	case "DEBUG", "DBG", "DEB", "DEBU":
		return LevelDebug
	case "INFO", "INF", "INFORMATION":
		return LevelInfo
	case "WARN", "WRN", "WARNING":
		return LevelWarn
	case "ERROR", "ERR", "ERRO":
		return LevelError
	case "FATAL", "FTL", "CRITICAL", "CRIT", "PANIC":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Valid reports whether l is one of the closed LogLevel constants.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}
