// Package audit keeps a tamper-evident trail of dirwatcher events.
//
// Every event is appended to a JSON-lines file together with the SHA-256
// hash of the previous entry. Entry N stores
//
//	hash = SHA-256( JSON({seq, recorded, event, prev_hash}) )
//
// and the first entry links to GenesisHash. Editing, reordering, or removing
// any line breaks the chain from that line on, which Verify reports.
//
// The file is opened with O_APPEND so each entry lands as a single write.
// Trail is safe for concurrent use.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

// GenesisHash is the prev_hash of the first entry in a trail.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// maxLineSize bounds a single trail line when reading it back.
const maxLineSize = 1 << 20

// ErrChainBroken is returned (wrapped) when a trail fails verification.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Entry is one line of the trail.
type Entry struct {
	Seq      int64         `json:"seq"`
	Recorded time.Time     `json:"recorded"`
	Event    watcher.Event `json:"event"`
	PrevHash string        `json:"prev_hash"`
	Hash     string        `json:"hash"`
}

// hashed is the part of an Entry covered by its hash.
type hashed struct {
	Seq      int64         `json:"seq"`
	Recorded time.Time     `json:"recorded"`
	Event    watcher.Event `json:"event"`
	PrevHash string        `json:"prev_hash"`
}

func (e Entry) computeHash() string {
	raw, err := json.Marshal(hashed{
		Seq:      e.Seq,
		Recorded: e.Recorded,
		Event:    e.Event,
		PrevHash: e.PrevHash,
	})
	if err != nil {
		// Every field is plain data; Marshal cannot fail.
		panic(fmt.Sprintf("audit: marshal entry: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Trail appends events to a hash-chained file. Create one with Open.
type Trail struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
	seq      int64
	now      func() time.Time
}

// Open opens (or creates) the trail at path. An existing trail is verified
// first so that new entries continue its chain; a broken trail is refused.
func Open(path string) (*Trail, error) {
	prevHash, seq := GenesisHash, int64(0)

	f, err := os.Open(path)
	switch {
	case err == nil:
		last, werr := walk(f, nil)
		f.Close()
		if werr != nil {
			return nil, fmt.Errorf("audit: %s: %w", path, werr)
		}
		if last.Seq > 0 {
			prevHash, seq = last.Hash, last.Seq
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}

	out, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q for appending: %w", path, err)
	}
	return &Trail{
		file:     out,
		prevHash: prevHash,
		seq:      seq,
		now:      time.Now,
	}, nil
}

// Emit appends evt. It implements watcher.Sink.
func (t *Trail) Emit(_ context.Context, evt watcher.Event) error {
	_, err := t.Append(evt)
	return err
}

// Append writes evt as the next entry and returns it.
func (t *Trail) Append(evt watcher.Event) (Entry, error) {
	evt.Timestamp = evt.Timestamp.UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{
		Seq:      t.seq + 1,
		Recorded: t.now().UTC(),
		Event:    evt,
		PrevHash: t.prevHash,
	}
	e.Hash = e.computeHash()

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return Entry{}, fmt.Errorf("audit: write entry %d: %w", e.Seq, err)
	}

	t.seq = e.Seq
	t.prevHash = e.Hash
	return e, nil
}

// Close syncs and closes the trail file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.file.Sync(); err != nil {
		_ = t.file.Close()
		return fmt.Errorf("audit: sync: %w", err)
	}
	return t.file.Close()
}

// Verify reads the trail at path and checks every link. It returns the
// entries in order, or an error wrapping ErrChainBroken at the first bad
// entry. An empty file is a valid, empty trail.
func Verify(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	if _, err := walk(f, func(e Entry) { entries = append(entries, e) }); err != nil {
		return nil, fmt.Errorf("audit: %s: %w", path, err)
	}
	return entries, nil
}

// walk decodes and checks each entry in r, calling fn (if non-nil) for every
// valid one. It returns the last valid entry.
func walk(r io.Reader, fn func(Entry)) (Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var last Entry
	prevHash := GenesisHash
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return last, fmt.Errorf("%w: line %d is malformed: %v", ErrChainBroken, lineNo, err)
		}
		if e.Seq != last.Seq+1 {
			return last, fmt.Errorf("%w: line %d has seq %d, want %d", ErrChainBroken, lineNo, e.Seq, last.Seq+1)
		}
		if e.PrevHash != prevHash {
			return last, fmt.Errorf("%w: seq %d links to %.12s, want %.12s", ErrChainBroken, e.Seq, e.PrevHash, prevHash)
		}
		if got := e.computeHash(); got != e.Hash {
			return last, fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, e.Seq)
		}

		if fn != nil {
			fn(e)
		}
		last = e
		prevHash = e.Hash
	}
	if err := sc.Err(); err != nil {
		return last, fmt.Errorf("read trail: %w", err)
	}
	return last, nil
}
