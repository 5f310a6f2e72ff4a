// Package agent contains the dirwatcher driver. It runs one scanner poll
// cycle per interval until its context is cancelled, forwards journalled
// events to the optional event store, and publishes a status snapshot for the
// HTTP API.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dirwatcher/dirwatcher/internal/journal"
	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

// Poller runs a single poll cycle. *watcher.Scanner implements it.
type Poller interface {
	Poll(ctx context.Context) (watcher.Stats, error)
	Table() *watcher.OffsetTable
}

// Journal is the local event journal the agent forwards from.
type Journal interface {
	// Pending returns up to n entries not yet forwarded, oldest first.
	Pending(ctx context.Context, n int) ([]journal.Entry, error)
	// Ack marks entries as forwarded.
	Ack(ctx context.Context, seqs []int64) error
	// Depth returns the number of entries not yet forwarded.
	Depth() int
	// Close releases the journal.
	Close() error
}

// EventStore is the remote store journalled events are forwarded to.
type EventStore interface {
	Insert(ctx context.Context, events []watcher.Event) error
	Close()
}

// DefaultBatchSize is the forwarding batch size used when none is given.
const DefaultBatchSize = 100

// forwardTimeout bounds the forwarding step of one cycle.
const forwardTimeout = 30 * time.Second

// Status is a point-in-time snapshot of the agent, served by the status API.
type Status struct {
	Status       string         `json:"status"`
	Directory    string         `json:"directory"`
	UptimeS      float64        `json:"uptime_s"`
	Polls        int64          `json:"polls"`
	Matches      int64          `json:"matches"`
	LastPollAt   string         `json:"last_poll_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Tracked      map[string]int `json:"tracked"`
	JournalDepth int            `json:"journal_depth"`
}

// Agent drives the poll loop. The offset table is touched only from Run;
// Status may be called from any goroutine.
type Agent struct {
	poller    Poller
	directory string
	interval  time.Duration
	logger    *slog.Logger
	journal   Journal
	store     EventStore
	batchSize int

	mu         sync.RWMutex
	startTime  time.Time
	polls      int64
	matches    int64
	lastPollAt time.Time
	lastErr    string
	tracked    map[string]int
}

// Option is a functional option for Agent construction.
type Option func(*Agent)

// WithJournal registers the event journal used for forwarding and status.
func WithJournal(j Journal) Option {
	return func(a *Agent) { a.journal = j }
}

// WithEventStore registers the store that journalled events are forwarded
// to after each poll cycle. batchSize ≤ 0 uses DefaultBatchSize.
func WithEventStore(s EventStore, batchSize int) Option {
	return func(a *Agent) {
		a.store = s
		a.batchSize = batchSize
	}
}

// WithDirectory sets the directory reported in Status.
func WithDirectory(dir string) Option {
	return func(a *Agent) { a.directory = dir }
}

// New creates an Agent that calls p once per interval.
func New(p Poller, interval time.Duration, logger *slog.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		poller:   p,
		interval: interval,
		logger:   logger,
		tracked:  map[string]int{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.batchSize <= 0 {
		a.batchSize = DefaultBatchSize
	}
	return a
}

// Run polls until ctx is cancelled, then logs the total run time and
// returns nil. Cancellation is observed between cycles: a cycle that has
// started always completes. The wait between cycles returns as soon as ctx
// is done.
func (a *Agent) Run(ctx context.Context) error {
	if a.interval <= 0 {
		return fmt.Errorf("agent: interval must be positive, got %s", a.interval)
	}

	start := time.Now()
	a.mu.Lock()
	a.startTime = start
	a.mu.Unlock()

	a.logger.Info("dirwatcher: started",
		slog.String("directory", a.directory),
		slog.Duration("interval", a.interval),
		slog.Time("start_time", start),
	)

	for ctx.Err() == nil {
		a.cycle(ctx)
		if !sleep(ctx, a.interval) {
			break
		}
	}

	elapsed := time.Since(start)
	a.logger.Info(fmt.Sprintf("dirwatcher: stopped after %s", elapsed.Round(time.Millisecond)),
		slog.Duration("elapsed", elapsed),
		slog.Int64("polls", a.pollCount()),
	)
	return nil
}

// Close releases the journal and the event store.
func (a *Agent) Close() error {
	if a.store != nil {
		a.store.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			return fmt.Errorf("agent: close journal: %w", err)
		}
	}
	return nil
}

// cycle runs one poll and the follow-up forwarding. Any error or panic is
// logged here and never propagates to Run.
func (a *Agent) cycle(ctx context.Context) {
	// The cycle must finish even if a stop arrives midway.
	cycleCtx := context.WithoutCancel(ctx)

	var (
		st  watcher.Stats
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("agent: poll cycle panicked: %v", r)
			}
		}()
		st, err = a.poller.Poll(cycleCtx)
	}()

	if err != nil {
		a.logger.Error("dirwatcher: poll cycle failed", slog.Any("error", err))
	} else {
		a.logger.Debug("dirwatcher: poll cycle complete",
			slog.Int("tracked", st.Tracked),
			slog.Int("created", st.Created),
			slog.Int("deleted", st.Deleted),
			slog.Int("matches", st.Matches),
			slog.Int("failed", st.Failed),
		)
	}

	fwdCtx, cancel := context.WithTimeout(cycleCtx, forwardTimeout)
	a.forward(fwdCtx)
	cancel()
	a.publish(st, err)
}

// forward moves pending journal entries into the event store, one batch at
// a time, acknowledging each batch after it is stored.
func (a *Agent) forward(ctx context.Context) {
	if a.journal == nil || a.store == nil {
		return
	}

	for {
		pending, err := a.journal.Pending(ctx, a.batchSize)
		if err != nil {
			a.logger.Warn("dirwatcher: read pending journal entries", slog.Any("error", err))
			return
		}
		if len(pending) == 0 {
			return
		}

		events := make([]watcher.Event, len(pending))
		seqs := make([]int64, len(pending))
		for i, p := range pending {
			events[i] = p.Event
			seqs[i] = p.Seq
		}

		if err := a.store.Insert(ctx, events); err != nil {
			a.logger.Warn("dirwatcher: forward events to store",
				slog.Int("count", len(events)),
				slog.Any("error", err),
			)
			return
		}
		if err := a.journal.Ack(ctx, seqs); err != nil {
			a.logger.Warn("dirwatcher: ack forwarded journal entries", slog.Any("error", err))
			return
		}
		if len(pending) < a.batchSize {
			return
		}
	}
}

// publish records the outcome of a cycle for Status.
func (a *Agent) publish(st watcher.Stats, err error) {
	tracked := a.poller.Table().Snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	a.matches += int64(st.Matches)
	a.lastPollAt = time.Now()
	a.tracked = tracked
	a.lastErr = ""
	if err != nil {
		a.lastErr = err.Error()
	}
}

func (a *Agent) pollCount() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.polls
}

// Status returns a snapshot of the agent state.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Status{
		Status:    "ok",
		Directory: a.directory,
		Polls:     a.polls,
		Matches:   a.matches,
		LastError: a.lastErr,
		Tracked:   make(map[string]int, len(a.tracked)),
	}
	if !a.startTime.IsZero() {
		s.UptimeS = time.Since(a.startTime).Seconds()
	}
	if !a.lastPollAt.IsZero() {
		s.LastPollAt = a.lastPollAt.UTC().Format(time.RFC3339)
	}
	if a.lastErr != "" {
		s.Status = "degraded"
	}
	for k, v := range a.tracked {
		s.Tracked[k] = v
	}
	if a.journal != nil {
		s.JournalDepth = a.journal.Depth()
	}
	return s
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
