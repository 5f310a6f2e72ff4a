// Package websocket streams dirwatcher events to connected clients as the
// scanner reports them.
//
// Each client has its own buffered channel of encoded messages. Delivery is
// non-blocking: when a client's buffer is full the message is dropped for that
// client and counted, so a slow reader never stalls the poll cycle.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

// defaultBufSize is the per-client buffer depth used when none is given.
const defaultBufSize = 64

// EventData is the event payload sent to clients.
type EventData struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Directory string `json:"directory"`
	File      string `json:"file"`
	Line      int    `json:"line,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// EventMessage is the JSON envelope written to clients. Type is "event".
type EventMessage struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// Client is one connected stream consumer.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64 // messages dropped because the buffer was full
}

// ID returns the client's identifier.
func (c *Client) ID() string { return c.id }

// Send returns the channel of encoded messages for this client. It is closed
// when the client is unregistered or the broadcaster is closed.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans events out to registered clients. It implements
// watcher.Sink and is safe for concurrent use.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	bufSize int
	logger  *slog.Logger
}

// NewBroadcaster creates a Broadcaster whose clients buffer up to bufSize
// messages. bufSize ≤ 0 uses 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[string]*Client),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Register adds a client under id. Once the broadcaster is closed, Register
// returns a client whose Send channel is already closed.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, b.bufSize)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(c.send)
		return c
	}
	if old, ok := b.clients[id]; ok {
		close(old.send)
	}
	b.clients[id] = c
	return c
}

// Unregister removes the client and closes its Send channel. Unknown ids are
// ignored.
func (b *Broadcaster) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(c.send)
	}
}

// ClientCount returns the number of registered clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast encodes msg and offers it to every client without blocking.
func (b *Broadcaster) Broadcast(msg EventMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("websocket: marshal message: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, c := range b.clients {
		select {
		case c.send <- raw:
		default:
			c.Dropped.Add(1)
			b.logger.Warn("websocket: client buffer full, dropping event",
				slog.String("client_id", c.id),
				slog.String("event_id", msg.Data.ID),
			)
		}
	}
	return nil
}

// Emit broadcasts evt to all clients. It implements watcher.Sink.
func (b *Broadcaster) Emit(_ context.Context, evt watcher.Event) error {
	return b.Broadcast(EventMessage{
		Type: "event",
		Data: EventData{
			ID:        evt.ID,
			Kind:      evt.Kind.String(),
			Directory: evt.Directory,
			File:      evt.File,
			Line:      evt.Line,
			Message:   evt.Message(),
			Timestamp: evt.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	})
}

// Close unregisters every client. Afterwards Broadcast is a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, c := range b.clients {
		delete(b.clients, id)
		close(c.send)
	}
}
