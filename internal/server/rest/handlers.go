package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dirwatcher/dirwatcher/internal/agent"
	"github.com/dirwatcher/dirwatcher/internal/journal"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// StatusSource provides the agent status snapshot.
type StatusSource interface {
	Status() agent.Status
}

// EventSource provides recent journalled events.
type EventSource interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
}

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	status StatusSource
	events EventSource
	stream http.Handler
}

// NewServer creates a Server. events may be nil when the journal is
// disabled; /api/v1/events then answers 404.
func NewServer(status StatusSource, events EventSource) *Server {
	return &Server{status: status, events: events}
}

// WithStream mounts h as the live event stream at /api/v1/stream.
func (s *Server) WithStream(h http.Handler) *Server {
	s.stream = h
	return s
}

// fileDTO is one tracked file in the /api/v1/files response.
type fileDTO struct {
	Name  string `json:"name"`
	Lines int    `json:"lines"`
}

// eventDTO is the JSON form of a journalled event.
type eventDTO struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Directory string `json:"directory"`
	File      string `json:"file"`
	Line      int    `json:"line,omitempty"`
	Magic     string `json:"magic,omitempty"`
	Timestamp string `json:"timestamp"`
	Forwarded bool   `json:"forwarded"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz responds to GET /healthz with the status snapshot. It does
// not require authentication.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status.Status())
}

// handleGetFiles responds to GET /api/v1/files with the tracked files and
// their scanned line counts, sorted by name.
func (s *Server) handleGetFiles(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()

	files := make([]fileDTO, 0, len(st.Tracked))
	for name, lines := range st.Tracked {
		files = append(files, fileDTO{Name: name, Lines: lines})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	writeJSON(w, map[string]any{
		"directory": st.Directory,
		"files":     files,
	})
}

// handleGetEvents responds to GET /api/v1/events.
//
// Supported query parameters:
//
//	limit : maximum number of events, newest first (default 50, max 1000)
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSONError(w, http.StatusNotFound, "event journal is disabled")
		return
	}

	limit := defaultEventLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	entries, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]eventDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, eventDTO{
			Seq:       e.Seq,
			ID:        e.Event.ID,
			Kind:      e.Event.Kind.String(),
			Directory: e.Event.Directory,
			File:      e.Event.File,
			Line:      e.Event.Line,
			Magic:     e.Event.Magic,
			Timestamp: e.Event.Timestamp.UTC().Format(time.RFC3339Nano),
			Forwarded: e.Forwarded,
			Message:   e.Event.Message(),
		})
	}
	writeJSON(w, out)
}
