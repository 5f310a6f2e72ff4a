package watcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// DefaultExtension is the file name suffix scanned when none is configured.
const DefaultExtension = ".txt"

// readBufferSize is the bufio buffer used for tail reads. Lines longer than
// this are still handled; ReadBytes grows its result as needed.
const readBufferSize = 64 * 1024

// fingerprintSize caps how many leading bytes of a file are hashed to detect
// in-place rewrites.
const fingerprintSize = 256

// Config describes what a Scanner watches.
type Config struct {
	// Directory is the directory listed on every poll. Sub-directories are
	// ignored.
	Directory string
	// Extension is the case-sensitive file name suffix to scan. Empty uses
	// DefaultExtension.
	Extension string
	// Magic is the substring searched for in every line. Required.
	Magic string
}

// Stats summarises one poll cycle.
type Stats struct {
	Tracked int
	Created int
	Deleted int
	Scanned int
	Failed  int
	Matches int
}

// Scanner performs poll cycles over a single directory. The OffsetTable it
// updates is supplied by the caller so that the owner controls its lifetime.
// A Scanner is not safe for concurrent use; cycles must not overlap.
type Scanner struct {
	dir    string
	ext    string
	magic  []byte
	table  *OffsetTable
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewScanner returns a Scanner for cfg that records progress in table and
// reports events to sink. sink may be nil, in which case events are only
// logged.
func NewScanner(cfg Config, table *OffsetTable, sink Sink, logger *slog.Logger) (*Scanner, error) {
	if cfg.Directory == "" {
		return nil, errors.New("watcher: directory is required")
	}
	if cfg.Magic == "" {
		return nil, errors.New("watcher: magic string is required")
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultExtension
	}
	if table == nil {
		table = NewOffsetTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		dir:    cfg.Directory,
		ext:    cfg.Extension,
		magic:  []byte(cfg.Magic),
		table:  table,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Table returns the offset table the Scanner updates.
func (s *Scanner) Table() *OffsetTable {
	return s.table
}

// Poll runs one full cycle: list the directory, register new files, forget
// vanished ones, then scan the unread tail of every tracked file.
//
// Poll returns an error wrapping ErrDirectoryUnavailable when the directory
// cannot be listed; the table is not modified in that case. Failures on
// individual files are logged and counted in Stats.Failed.
func (s *Scanner) Poll(ctx context.Context) (Stats, error) {
	var st Stats

	present, matching, err := s.list()
	if err != nil {
		return st, err
	}

	for _, name := range matching {
		if _, ok := s.table.Get(name); ok {
			continue
		}
		s.table.Set(name, Offset{})
		st.Created++
		s.emit(ctx, Event{Kind: EventCreate, File: name})
	}

	// Compared against a snapshot of the keys so that removal never acts on
	// a half-updated table.
	for _, name := range s.table.Keys() {
		if _, ok := present[name]; ok {
			continue
		}
		s.table.Remove(name)
		st.Deleted++
		s.emit(ctx, Event{Kind: EventDelete, File: name})
	}

	for _, name := range s.table.Keys() {
		n, err := s.scanFile(ctx, name)
		st.Matches += n
		if err != nil {
			st.Failed++
			s.logger.Error("scanner: cannot scan file",
				slog.String("file", name),
				slog.Any("error", err),
			)
			continue
		}
		st.Scanned++
	}

	st.Tracked = s.table.Len()
	return st, nil
}

// list returns every non-directory entry name and the sorted subset whose
// name ends with the configured extension.
func (s *Scanner) list() (map[string]struct{}, []string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrDirectoryUnavailable, s.dir, err)
	}

	present := make(map[string]struct{}, len(entries))
	var matching []string
	for _, e := range entries {
		if e.IsDir() {
			continue // non-recursive
		}
		name := e.Name()
		present[name] = struct{}{}
		if strings.HasSuffix(name, s.ext) {
			matching = append(matching, name)
		}
	}
	return present, matching, nil
}

// scanFile reads the unseen tail of name and stores the new offset. It
// returns the number of matches reported.
func (s *Scanner) scanFile(ctx context.Context, name string) (int, error) {
	off, ok := s.table.Get(name)
	if !ok {
		return 0, nil
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFileUnreadable, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFileUnreadable, err)
	}

	if off.pos > 0 {
		rewritten, err := rewrittenSince(f, info.Size(), off)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrFileUnreadable, err)
		}
		if rewritten {
			s.emit(ctx, Event{Kind: EventTruncate, File: name, Line: off.Lines})
			off = Offset{}
		}
	}

	if off.pos > 0 {
		if _, err := f.Seek(off.pos, io.SeekStart); err != nil {
			return 0, fmt.Errorf("%w: seek: %w", ErrFileUnreadable, err)
		}
	}

	next, matches, err := s.readTail(ctx, name, f, off)
	if n := min(next.pos, fingerprintSize); n > next.headLen {
		if sum, ferr := fingerprint(f, n); ferr == nil {
			next.head, next.headLen = sum, n
		}
	}
	// Progress up to the failure is kept so matches already reported are
	// not reported again.
	s.table.Set(name, next)
	if err != nil {
		return matches, fmt.Errorf("%w: read: %w", ErrFileUnreadable, err)
	}
	return matches, nil
}

// rewrittenSince reports whether f no longer holds the content scanned up to
// off.pos: the file is shorter, the byte before pos is not a line break, or
// the leading bytes hash differently.
func rewrittenSince(f *os.File, size int64, off Offset) (bool, error) {
	if size < off.pos {
		return true, nil
	}
	// pos always starts a line, so the byte before it ends the previous one.
	var b [1]byte
	if _, err := f.ReadAt(b[:], off.pos-1); err != nil {
		return false, fmt.Errorf("read at %d: %w", off.pos-1, err)
	}
	if b[0] != '\n' {
		return true, nil
	}
	if off.headLen > 0 {
		sum, err := fingerprint(f, off.headLen)
		if err != nil {
			return false, err
		}
		if sum != off.head {
			return true, nil
		}
	}
	return false, nil
}

// fingerprint hashes the first n bytes of f without moving its offset.
func fingerprint(f *os.File, n int64) (uint64, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, n)); err != nil {
		return 0, fmt.Errorf("fingerprint: %w", err)
	}
	return h.Sum64(), nil
}

// readTail consumes r line by line starting at off and returns the advanced
// offset. An unterminated last line is counted, but off.pos stays at its
// start so the next poll re-reads it under the same line number.
func (s *Scanner) readTail(ctx context.Context, name string, r io.Reader, off Offset) (Offset, int, error) {
	br := bufio.NewReaderSize(r, readBufferSize)
	matches := 0

	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			terminated := line[len(line)-1] == '\n'

			lineNo := off.Lines + 1
			seen := false
			if off.partial {
				lineNo = off.Lines
				seen = off.reported
			}

			found := bytes.Contains(bytes.TrimSuffix(line, []byte{'\n'}), s.magic)
			if found && !seen {
				matches++
				s.emit(ctx, Event{Kind: EventMatch, File: name, Line: lineNo})
			}

			off.Lines = lineNo
			if terminated {
				off.pos += int64(len(line))
				off.partial = false
				off.reported = false
			} else {
				off.partial = true
				off.reported = found || seen
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return off, matches, nil
			}
			return off, matches, err
		}
	}
}

// emit stamps evt, logs its message, and forwards it to the sink.
func (s *Scanner) emit(ctx context.Context, evt Event) {
	evt.ID = uuid.NewString()
	evt.Directory = s.dir
	evt.Timestamp = s.now().UTC()
	if evt.Kind == EventMatch {
		evt.Magic = string(s.magic)
	}

	level := slog.LevelInfo
	if evt.Kind == EventTruncate {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, evt.Message(),
		slog.String("event", evt.Kind.String()),
		slog.String("file", evt.File),
	)

	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(ctx, evt); err != nil {
		s.logger.Warn("scanner: event sink failed",
			slog.String("event", evt.Kind.String()),
			slog.String("file", evt.File),
			slog.Any("error", err),
		)
	}
}
