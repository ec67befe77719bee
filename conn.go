// Package lspbridge relays a browser WebSocket to a language server that
// speaks Content-Length framed messages over TCP.
//
// Each WebSocket client gets its own backend connection. Client messages are
// framed and written to the backend; the backend byte stream is decoded
// incrementally and every complete payload is sent back to the client as a
// single WebSocket message.
package lspbridge

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Default configuration values.
const (
	// defaultReadBufferSize is the number of bytes requested per socket read.
	defaultReadBufferSize = 32 * 1024
	// defaultMaxMessageSize bounds the payload of a backend message (32MB).
	defaultMaxMessageSize = 32 << 20
	// maxHeaderSize is the room the pending buffer allows for a frame
	// header on top of the largest payload.
	maxHeaderSize = 1024
	// defaultDialTimeout bounds backend connection setup.
	defaultDialTimeout = 5 * time.Second
)

// Conn is a connection to a language server backend.
// It frames outgoing messages with the configured codec and decodes the
// incoming stream into messages delivered to the OnMessage callback.
type Conn struct {
	rawConn net.Conn
	logger  Logger

	opts options

	// pending holds backend bytes that have not formed a complete frame yet.
	// Only readLoop touches it.
	pending []byte

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial connects to the backend at addr. Connection failures are returned as
// *ConnectError; Dial never retries.
func Dial(ctx context.Context, addr string, opt ...Option) (*Conn, error) {
	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: opts.dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	return newConnWithOptions(raw, opts), nil
}

// NewConn wraps an established connection to a backend.
// Returns an error if required options (onMessage) are missing.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

func buildOptions(opt []Option) (options, error) {
	opts := options{codec: ContentLengthCodec{}}
	for _, o := range opt {
		o(&opts)
	}

	return opts, checkOptions(&opts)
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.readBufferSize <= 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.dialTimeout <= 0 {
		opts.dialTimeout = defaultDialTimeout
	}

	if opts.idleTimeout < 0 {
		opts.idleTimeout = 0
	}

	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.codec == nil {
		return ErrInvalidCodec
	}

	if opts.onError == nil {
		opts.onError = func(err error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newConnWithOptions(c net.Conn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		logger:  opts.logger,
		opts:    opts,
	}
}

// Run reads from the backend until the connection fails, is closed, or ctx
// is canceled. Decoded messages are passed to the OnMessage callback in the
// order their frames completed. The callback runs on the read goroutine, so
// a slow callback stops further reads from the socket.
// The connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Debug("backend connection options", "addr", c.Addr(),
		"read_buffer_size", c.opts.readBufferSize,
		"max_message_size", c.opts.maxMessageSize,
		"idle_timeout", c.opts.idleTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	// readLoop blocks in Read; closing the socket is the only way to wake it.
	group.Go(func() error {
		<-child.Done()
		_ = c.Close()
		return nil
	})

	err := group.Wait()

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrConnectionClosed):
		c.logger.Debug("backend connection closed", "addr", c.Addr())
	default:
		c.logger.Info("backend connection closed with error", "addr", c.Addr(), "error", err)
	}

	return err
}

// Send frames message and writes it to the backend.
// Any failure is returned as *WriteError and leaves the connection unusable
// from the caller's point of view.
func (c *Conn) Send(message Message) error {
	if c.closed.Load() {
		return &WriteError{Addr: c.addrString(), Err: ErrConnectionClosed}
	}

	data, err := c.opts.codec.Encode(message)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.idleTimeout > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.idleTimeout))
	}

	n, err := c.rawConn.Write(data)
	backendBytes.WithLabelValues(directionToBackend).Add(float64(n))
	if err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		return &WriteError{Addr: c.addrString(), Err: err}
	}

	return nil
}

// Close closes the backend socket. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the backend.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

func (c *Conn) addrString() string {
	if addr := c.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// readLoop reads raw bytes from the backend and feeds them to the decoder.
// It never returns nil.
func (c *Conn) readLoop(ctx context.Context) error {
	buf := make([]byte, c.opts.readBufferSize)

	for {
		if c.opts.idleTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
		}

		n, err := c.rawConn.Read(buf)
		if n > 0 {
			backendBytes.WithLabelValues(directionToClient).Add(float64(n))
			if ferr := c.feed(buf[:n]); ferr != nil {
				return ferr
			}
		}

		if err == nil {
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		if errors.Is(err, io.EOF) {
			return ErrBackendDisconnect
		}

		c.logger.Debug("read error", "addr", c.Addr(), "error", err)

		// Only a deadline can be suppressed; anything else would spin.
		var netErr net.Error
		if c.opts.onError(err) == Continue && errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		return err
	}
}

// feed appends p to the pending buffer and delivers every frame it completes.
func (c *Conn) feed(p []byte) error {
	c.pending = append(c.pending, p...)

	frames, remainder, err := c.opts.codec.Decode(c.pending)
	if err != nil {
		c.logger.Debug("skipped malformed frame header", "addr", c.Addr(), "error", err)
		var skipped FrameParseErrors
		if errors.As(err, &skipped) {
			malformedHeaders.Add(float64(len(skipped)))
		} else {
			malformedHeaders.Inc()
		}
	}

	for _, frame := range frames {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		if frame.Length() > c.opts.maxMessageSize {
			return ErrMessageTooLarge
		}
		// Frames alias the pending buffer, which is compacted below.
		if err := c.opts.onMessage(Frame(bytes.Clone(frame.Body()))); err != nil {
			return err
		}
	}

	n := copy(c.pending, remainder)
	c.pending = c.pending[:n]

	if n == 0 && cap(c.pending) > 4*c.opts.readBufferSize {
		c.pending = nil
	}

	// A partial frame longer than this cannot carry an acceptable payload.
	if len(c.pending) > c.opts.maxMessageSize+maxHeaderSize {
		return ErrMessageTooLarge
	}

	return nil
}
