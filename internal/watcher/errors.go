package watcher

import "errors"

var (
	// ErrDirectoryUnavailable is returned by Poll when the watched directory
	// is missing or cannot be listed. The cycle is skipped and the offset
	// table is left unchanged.
	ErrDirectoryUnavailable = errors.New("watcher: directory unavailable")

	// ErrFileUnreadable wraps failures to open or read a single tracked
	// file. Only that file is skipped for the cycle.
	ErrFileUnreadable = errors.New("watcher: file unreadable")
)
