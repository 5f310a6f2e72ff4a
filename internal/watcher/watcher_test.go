package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEventKind_StringRoundTrip(t *testing.T) {
	for _, k := range []EventKind{EventCreate, EventDelete, EventMatch, EventTruncate} {
		got, err := ParseEventKind(k.String())
		if err != nil {
			t.Fatalf("ParseEventKind(%q): %v", k.String(), err)
		}
		if got != k {
			t.Errorf("ParseEventKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if _, err := ParseEventKind("renamed"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if s := EventKind(99).String(); s != "unknown(99)" {
		t.Errorf("String() of unknown kind = %q", s)
	}
}

func TestEvent_JSONUsesKindNames(t *testing.T) {
	evt := Event{
		ID:        "e1",
		Kind:      EventMatch,
		File:      "a.txt",
		Line:      4,
		Magic:     "MAGIC",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"kind":"match"`) {
		t.Errorf("encoded event = %s, want kind as a name", raw)
	}

	var back Event
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.ID != evt.ID || back.Kind != evt.Kind || back.Line != evt.Line ||
		back.Magic != evt.Magic || !back.Timestamp.Equal(evt.Timestamp) {
		t.Errorf("decoded = %+v, want %+v", back, evt)
	}

	if err := json.Unmarshal([]byte(`{"kind":"renamed"}`), &back); err == nil {
		t.Error("expected error decoding an unknown kind")
	}
}

func TestEvent_Message(t *testing.T) {
	cases := []struct {
		evt  Event
		want string
	}{
		{Event{Kind: EventCreate, File: "a.txt"}, "file a.txt was created"},
		{Event{Kind: EventDelete, File: "a.txt"}, "file a.txt was deleted"},
		{Event{Kind: EventMatch, File: "a.txt", Line: 3, Magic: "M"}, `magic string "M" found in a.txt at line 3`},
	}
	for _, tc := range cases {
		if got := tc.evt.Message(); got != tc.want {
			t.Errorf("Message() = %q, want %q", got, tc.want)
		}
	}
}

func TestMultiSink(t *testing.T) {
	if MultiSink() != nil || MultiSink(nil, nil) != nil {
		t.Fatal("MultiSink with no live sinks must be nil")
	}

	var order []string
	record := func(name string, err error) Sink {
		return SinkFunc(func(_ context.Context, _ Event) error {
			order = append(order, name)
			return err
		})
	}
	errA := errors.New("a failed")
	sink := MultiSink(record("a", errA), nil, record("b", nil))

	err := sink.Emit(context.Background(), Event{Kind: EventCreate, File: "x.txt"})
	if !errors.Is(err, errA) {
		t.Errorf("err = %v, want it to wrap %v", err, errA)
	}
	if strings.Join(order, ",") != "a,b" {
		t.Errorf("call order = %v, want [a b]", order)
	}
}
