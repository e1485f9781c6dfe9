// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

//go:build windows

package tailer

import "os"

// fileInode has no cheap equivalent on Windows without opening an extra
// handle, so identity always reads as unknown. Resume then falls back to
// offset-0 restarts after process restarts; the deduplication key keeps the
// store free of repeats.
func fileInode(_ os.FileInfo) uint64 {
	return 0
}
