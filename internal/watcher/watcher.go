// Package watcher implements the poll-based directory scan engine of
// dirwatcher. A Scanner lists one directory per poll cycle, reconciles the
// files it tracks against the listing, and reads only the unseen tail of each
// tracked file looking for the magic string. Every discovery is reported as an
// Event exactly once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventKind classifies an event reported by the Scanner.
type EventKind uint32

const (
	// EventCreate indicates a matching file appeared in the directory.
	EventCreate EventKind = iota + 1
	// EventDelete indicates a tracked file disappeared from the directory.
	EventDelete
	// EventMatch indicates a line containing the magic string was found.
	EventMatch
	// EventTruncate indicates a tracked file shrank below the scanned
	// position or was rewritten in place, and is being rescanned from the
	// start.
	EventTruncate
)

// String returns the lower-case name used in logs, the journal, and the
// status API.
func (k EventKind) String() string {
	switch k {
	case EventCreate:
		return "created"
	case EventDelete:
		return "deleted"
	case EventMatch:
		return "match"
	case EventTruncate:
		return "truncated"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "created":
		return EventCreate, nil
	case "deleted":
		return EventDelete, nil
	case "match":
		return EventMatch, nil
	case "truncated":
		return EventTruncate, nil
	}
	return 0, fmt.Errorf("watcher: unknown event kind %q", s)
}

// MarshalText encodes k as its String form.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind written by MarshalText.
func (k *EventKind) UnmarshalText(text []byte) error {
	parsed, err := ParseEventKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is a single lifecycle or match event.
type Event struct {
	// ID uniquely identifies the event across the journal and event store.
	ID string `json:"id"`
	// Kind classifies the event.
	Kind EventKind `json:"kind"`
	// Directory is the watched directory.
	Directory string `json:"directory"`
	// File is the file name relative to Directory.
	File string `json:"file"`
	// Line is the 1-based line number of a match. For truncation events it
	// holds the line count that was discarded. Zero otherwise.
	Line int `json:"line,omitempty"`
	// Magic is the searched string; set on match events only.
	Magic string `json:"magic,omitempty"`
	// Timestamp is when the Scanner observed the event (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// Message renders the event as a human-readable log line.
func (e Event) Message() string {
	switch e.Kind {
	case EventCreate:
		return fmt.Sprintf("file %s was created", e.File)
	case EventDelete:
		return fmt.Sprintf("file %s was deleted", e.File)
	case EventMatch:
		return fmt.Sprintf("magic string %q found in %s at line %d", e.Magic, e.File, e.Line)
	case EventTruncate:
		return fmt.Sprintf("file %s was truncated or rewritten below line %d; rescanning from the start", e.File, e.Line)
	default:
		return fmt.Sprintf("file %s: %s", e.File, e.Kind)
	}
}

// Sink receives every event the Scanner reports, in order. Emit is called
// synchronously from the poll cycle; an error is logged and does not stop the
// cycle.
type Sink interface {
	Emit(ctx context.Context, evt Event) error
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(ctx context.Context, evt Event) error

// Emit calls f(ctx, evt).
func (f SinkFunc) Emit(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// MultiSink returns a Sink that hands each event to every non-nil sink in
// order. A failing sink does not skip the ones after it; the errors are
// joined. With no sinks MultiSink returns nil.
func MultiSink(sinks ...Sink) Sink {
	var live multiSink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return live
}

type multiSink []Sink

func (m multiSink) Emit(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
