// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

//go:build !windows

package tailer

import (
	"os"
	"syscall"
)

// fileInode returns the inode number identifying the file independent of its
// name. Rotation swaps the name onto a new inode, which is how the tailer
// tells "same file grew" from "new file under the old name".
func fileInode(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
