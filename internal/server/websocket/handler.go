package websocket

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // RFC 6455 §4.1 mandates SHA-1 for the accept key
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxFrameSize caps the payload of a client frame. Stream clients only send
// control frames, so anything larger drops the connection.
const maxFrameSize = 64 * 1024

// wsGUID is the RFC 6455 §4.1 key suffix for Sec-WebSocket-Accept.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	opText  = 0x1
	opClose = 0x8
	finBit  = 0x80
)

// Handler upgrades requests to WebSocket and streams broadcast events to the
// client until either side closes.
type Handler struct {
	bc           *Broadcaster
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewHandler returns a Handler for bc. writeTimeout ≤ 0 uses 10 seconds.
func NewHandler(bc *Broadcaster, logger *slog.Logger, writeTimeout time.Duration) *Handler {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bc: bc, logger: logger, writeTimeout: writeTimeout}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server does not support hijacking", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		h.logger.Error("websocket: hijack failed", slog.Any("error", err))
		return
	}
	// The server's read/write timeouts still apply to a hijacked conn.
	_ = conn.SetDeadline(time.Time{})

	if err := handshake(bufrw.Writer, key); err != nil {
		h.logger.Warn("websocket: handshake failed", slog.Any("error", err))
		conn.Close()
		return
	}

	clientID := uuid.NewString()
	client := h.bc.Register(clientID)
	defer h.bc.Unregister(clientID)

	logger := h.logger.With(slog.String("client_id", clientID))
	logger.Info("websocket: client connected", slog.String("remote_addr", conn.RemoteAddr().String()))

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("websocket: read loop panic recovered", slog.Any("panic", rec))
			}
		}()
		if err := readLoop(bufrw.Reader); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logger.Debug("websocket: read loop ended", slog.Any("error", err))
		}
		closeConn()
	}()

	for {
		select {
		case <-done:
			logger.Info("websocket: client disconnected")
			return
		case msg, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = writeFrame(conn, opClose, nil)
				return
			}
			if err := writeFrame(conn, opText, msg); err != nil {
				logger.Warn("websocket: write failed", slog.Any("error", err))
				return
			}
		}
	}
}

// isWebSocketUpgrade reports whether r carries the RFC 6455 upgrade headers.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func computeAcceptKey(key string) string {
	h := sha1.New() //nolint:gosec
	h.Write([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func handshake(w *bufio.Writer, key string) error {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + computeAcceptKey(key) + "\r\n\r\n"
	if _, err := w.WriteString(resp); err != nil {
		return err
	}
	return w.Flush()
}

// writeFrame writes payload as one unfragmented, unmasked frame. Server
// frames are never masked (RFC 6455 §5.1).
func writeFrame(w io.Writer, opcode byte, payload []byte) error {
	n := len(payload)
	var header []byte
	switch {
	case n < 126:
		header = []byte{finBit | opcode, byte(n)}
	case n < 1<<16:
		header = []byte{finBit | opcode, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = finBit | opcode
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if n > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// readLoop discards client frames until a close frame arrives or the
// connection fails. It returns nil on a clean close.
func readLoop(r io.Reader) error {
	var hdr [2]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return err
		}
		opcode := hdr[0] & 0x0F
		masked := hdr[1]&0x80 != 0
		length := uint64(hdr[1] & 0x7F)

		switch length {
		case 126:
			var ext [2]byte
			if _, err := io.ReadFull(r, ext[:]); err != nil {
				return err
			}
			length = uint64(binary.BigEndian.Uint16(ext[:]))
		case 127:
			var ext [8]byte
			if _, err := io.ReadFull(r, ext[:]); err != nil {
				return err
			}
			length = binary.BigEndian.Uint64(ext[:])
		}
		if length > maxFrameSize {
			return fmt.Errorf("frame of %d bytes exceeds limit", length)
		}

		if masked {
			var mask [4]byte
			if _, err := io.ReadFull(r, mask[:]); err != nil {
				return err
			}
		}
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return err
		}

		if opcode == opClose {
			return nil
		}
	}
}
