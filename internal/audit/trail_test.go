package audit_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dirwatcher/dirwatcher/internal/audit"
	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func tmpTrail(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "audit.jsonl")
}

// openTrail opens the trail and registers a cleanup to close it.
func openTrail(t *testing.T, path string) *audit.Trail {
	t.Helper()
	tr, err := audit.Open(path)
	if err != nil {
		t.Fatalf("audit.Open(%q): %v", path, err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func matchEvent(file string, line int) watcher.Event {
	return watcher.Event{
		ID:        fmt.Sprintf("%s-%d", file, line),
		Kind:      watcher.EventMatch,
		Directory: "/srv/drop",
		File:      file,
		Line:      line,
		Magic:     "MAGIC",
		Timestamp: time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
	}
}

func mustAppend(t *testing.T, tr *audit.Trail, evt watcher.Event) audit.Entry {
	t.Helper()
	e, err := tr.Append(evt)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return e
}

func writeTrail(t *testing.T, path string, entries int) {
	t.Helper()
	tr, err := audit.Open(path)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	for i := 1; i <= entries; i++ {
		mustAppend(t, tr, matchEvent("a.txt", i))
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// --------------------------------------------------------------------------
// Append
// --------------------------------------------------------------------------

func TestAppend_FirstEntryLinksToGenesis(t *testing.T) {
	tr := openTrail(t, tmpTrail(t))
	e := mustAppend(t, tr, matchEvent("a.txt", 1))

	if e.Seq != 1 {
		t.Errorf("seq = %d, want 1", e.Seq)
	}
	if e.PrevHash != audit.GenesisHash {
		t.Errorf("prev_hash = %q, want genesis", e.PrevHash)
	}
	if len(e.Hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(e.Hash))
	}
	if e.Recorded.IsZero() {
		t.Error("recorded time must be set")
	}
}

func TestAppend_Chains(t *testing.T) {
	tr := openTrail(t, tmpTrail(t))

	var prev audit.Entry
	for i := 1; i <= 3; i++ {
		e := mustAppend(t, tr, matchEvent("a.txt", i))
		if e.Seq != int64(i) {
			t.Errorf("entry %d: seq = %d", i, e.Seq)
		}
		if i > 1 && e.PrevHash != prev.Hash {
			t.Errorf("entry %d: prev_hash does not link to entry %d", i, i-1)
		}
		prev = e
	}
}

func TestEmit_ImplementsSink(t *testing.T) {
	path := tmpTrail(t)
	tr := openTrail(t, path)

	var sink watcher.Sink = tr
	if err := sink.Emit(context.Background(), watcher.Event{Kind: watcher.EventCreate, File: "a.txt"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	entries, err := audit.Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.Kind != watcher.EventCreate {
		t.Errorf("entries = %+v", entries)
	}
}

func TestAppend_ConcurrentSafe(t *testing.T) {
	path := tmpTrail(t)
	tr := openTrail(t, path)

	const goroutines, each = 8, 25
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if _, err := tr.Append(matchEvent(fmt.Sprintf("f%d.txt", g), i+1)); err != nil {
					t.Errorf("Append: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	entries, err := audit.Verify(path)
	if err != nil {
		t.Fatalf("Verify after concurrent appends: %v", err)
	}
	if len(entries) != goroutines*each {
		t.Errorf("got %d entries, want %d", len(entries), goroutines*each)
	}
}

// --------------------------------------------------------------------------
// Open / Verify
// --------------------------------------------------------------------------

func TestOpen_ResumesExistingChain(t *testing.T) {
	path := tmpTrail(t)
	writeTrail(t, path, 2)

	tr := openTrail(t, path)
	e := mustAppend(t, tr, matchEvent("b.txt", 1))
	if e.Seq != 3 {
		t.Errorf("seq after reopen = %d, want 3", e.Seq)
	}

	entries, err := audit.Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(entries) != 3 || entries[2].PrevHash != entries[1].Hash {
		t.Errorf("chain did not continue across reopen: %+v", entries)
	}
}

func TestVerify_RoundTripsEvents(t *testing.T) {
	path := tmpTrail(t)
	writeTrail(t, path, 3)

	entries, err := audit.Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	got := entries[1].Event
	want := matchEvent("a.txt", 2)
	if got.ID != want.ID || got.Kind != want.Kind || got.Line != 2 || got.Magic != "MAGIC" || !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}

func TestVerify_EmptyFile(t *testing.T) {
	path := tmpTrail(t)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	entries, err := audit.Verify(path)
	if err != nil {
		t.Fatalf("Verify empty: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestVerify_MissingFile(t *testing.T) {
	if _, err := audit.Verify(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("expected error for missing trail")
	}
}

// --------------------------------------------------------------------------
// Tamper detection
// --------------------------------------------------------------------------

func TestVerify_DetectsTampering(t *testing.T) {
	cases := map[string]func(lines []string) []string{
		"modified event": func(lines []string) []string {
			lines[0] = strings.Replace(lines[0], `"file":"a.txt"`, `"file":"z.txt"`, 1)
			return lines
		},
		"deleted entry": func(lines []string) []string {
			return append(lines[:1], lines[2:]...)
		},
		"reordered entries": func(lines []string) []string {
			lines[0], lines[1] = lines[1], lines[0]
			return lines
		},
		"malformed line": func(lines []string) []string {
			lines[1] = "{not json"
			return lines
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			path := tmpTrail(t)
			writeTrail(t, path, 3)

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
			out := strings.Join(mutate(lines), "\n") + "\n"
			if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
				t.Fatal(err)
			}

			if _, err := audit.Verify(path); !errors.Is(err, audit.ErrChainBroken) {
				t.Errorf("Verify err = %v, want ErrChainBroken", err)
			}
			if _, err := audit.Open(path); !errors.Is(err, audit.ErrChainBroken) {
				t.Errorf("Open err = %v, want ErrChainBroken", err)
			}
		})
	}
}
