package lspbridge

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxCloseReason is the room left for a reason in a close frame.
	maxCloseReason = 123
)

// WebSocketClient adapts a gorilla WebSocket connection to ClientConn.
// Each payload travels as one text message.
type WebSocketClient struct {
	conn   *websocket.Conn
	logger Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketClient wraps conn and starts its keepalive pings.
// Messages larger than readLimit bytes are rejected by the connection.
func NewWebSocketClient(conn *websocket.Conn, readLimit int64, logger Logger) *WebSocketClient {
	if logger == nil {
		logger = defaultLogger()
	}

	c := &WebSocketClient{
		conn:   conn,
		logger: logger,
		closed: make(chan struct{}),
	}

	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()

	return c
}

// ReadMessage returns the next client message. It unblocks when the
// connection is closed; ctx is not consulted while waiting.
func (c *WebSocketClient) ReadMessage(_ context.Context) ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return nil, ErrConnectionClosed
		default:
		}

		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, ErrClientDisconnect
		}
		return nil, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	return payload, nil
}

// WriteMessage sends payload as a single text message, or as a binary
// message when payload is not valid UTF-8, which browsers reject in text
// messages.
func (c *WebSocketClient) WriteMessage(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)

	kind := websocket.TextMessage
	if !utf8.Valid(payload) {
		kind = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(kind, payload)
}

// Close closes the connection with a normal closure.
func (c *WebSocketClient) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError sends a close frame whose code and reason describe err,
// then closes the connection. Only the first call has an effect.
func (c *WebSocketClient) CloseWithError(err error) error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closed)

		code, reason := closeCode(err)
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil {
			c.logger.Debug("write close frame", "addr", c.conn.RemoteAddr(), "error", werr)
		}

		closeErr = c.conn.Close()
	})
	return closeErr
}

// Done is closed once the connection is closed, by CloseWithError or
// after a failed keepalive ping.
func (c *WebSocketClient) Done() <-chan struct{} {
	return c.closed
}

// RemoteAddr returns the client's network address.
func (c *WebSocketClient) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *WebSocketClient) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", "addr", c.conn.RemoteAddr(), "error", err)
				_ = c.CloseWithError(errors.Wrap(err, "keepalive"))
				return
			}
		}
	}
}

func closeCode(err error) (int, string) {
	var connectErr *ConnectError

	switch {
	case err == nil, errors.Is(err, ErrClientDisconnect), errors.Is(err, ErrSessionClosed):
		return websocket.CloseNormalClosure, ""
	case errors.As(err, &connectErr):
		return websocket.CloseTryAgainLater, truncateReason("backend unavailable: " + connectErr.Err.Error())
	case errors.Is(err, context.Canceled):
		return websocket.CloseGoingAway, "server shutting down"
	case errors.Is(err, ErrBackendDisconnect):
		return websocket.CloseGoingAway, "backend closed the connection"
	case errors.Is(err, ErrMessageTooLarge):
		return websocket.CloseMessageTooBig, "backend message too large"
	default:
		return websocket.CloseInternalServerErr, truncateReason(err.Error())
	}
}

func truncateReason(s string) string {
	if len(s) <= maxCloseReason {
		return s
	}
	// Keep the reason valid UTF-8.
	cut := maxCloseReason
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
