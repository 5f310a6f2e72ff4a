package watcher

import "sort"

// Offset records how far a tracked file has been scanned.
type Offset struct {
	// Lines is the number of lines already examined.
	Lines int

	// pos is the byte position where unread content starts. When partial is
	// set it points at the start of the last counted line, which had no
	// terminating newline when it was read.
	pos      int64
	partial  bool
	reported bool

	// head is the xxhash of the first headLen bytes of the file, taken
	// from content already scanned.
	head    uint64
	headLen int64
}

// OffsetTable maps file names to scan progress. It is owned by a single
// poll loop and is not safe for concurrent use.
type OffsetTable struct {
	entries map[string]Offset
}

// NewOffsetTable returns an empty table.
func NewOffsetTable() *OffsetTable {
	return &OffsetTable{entries: make(map[string]Offset)}
}

// Get returns the offset for name. ok is false when name is not tracked.
func (t *OffsetTable) Get(name string) (off Offset, ok bool) {
	off, ok = t.entries[name]
	return off, ok
}

// Set stores off for name, replacing any previous value.
func (t *OffsetTable) Set(name string, off Offset) {
	t.entries[name] = off
}

// Remove forgets name.
func (t *OffsetTable) Remove(name string) {
	delete(t.entries, name)
}

// Keys returns a sorted copy of the tracked names. Callers may mutate the
// table while ranging over the result.
func (t *OffsetTable) Keys() []string {
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked files.
func (t *OffsetTable) Len() int {
	return len(t.entries)
}

// Snapshot returns a copy of the table as name -> lines examined.
func (t *OffsetTable) Snapshot() map[string]int {
	out := make(map[string]int, len(t.entries))
	for k, v := range t.entries {
		out[k] = v.Lines
	}
	return out
}
