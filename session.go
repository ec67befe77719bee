package lspbridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a session.
type State int32

const (
	// StateOpen is the state of a session relaying in both directions.
	StateOpen State = iota
	// StateClosing is entered when either endpoint closed or failed.
	StateClosing
	// StateClosed is terminal: both endpoints have been released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientConn is the message-oriented side of a session, typically a WebSocket.
type ClientConn interface {
	// ReadMessage blocks until the next client message arrives.
	// It returns ErrClientDisconnect when the client closed normally.
	ReadMessage(ctx context.Context) ([]byte, error)
	// WriteMessage sends payload to the client as a single message.
	WriteMessage(ctx context.Context, payload []byte) error
	// Close releases the client connection. Safe to call multiple times.
	Close() error
}

// errorCloser is implemented by clients that can tell the peer why the
// session ended.
type errorCloser interface {
	CloseWithError(err error) error
}

// closeNotifier is implemented by clients that can close on their own,
// for example after a failed keepalive ping.
type closeNotifier interface {
	Done() <-chan struct{}
}

// Backend is the stream side of a session. *Conn implements it.
type Backend interface {
	Run(ctx context.Context) error
	Send(Message) error
	Close() error
}

// DialFunc opens the backend of a session. onMessage must receive every
// decoded backend message, in order.
type DialFunc func(ctx context.Context, onMessage func(Message) error) (Backend, error)

// BackendDialer returns a DialFunc that connects to addr with Dial.
func BackendDialer(addr string, opt ...Option) DialFunc {
	return func(ctx context.Context, onMessage func(Message) error) (Backend, error) {
		opts := make([]Option, 0, len(opt)+1)
		opts = append(opts, opt...)
		opts = append(opts, OnMessageOption(onMessage))

		conn, err := Dial(ctx, addr, opts...)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Session pairs one client with one backend connection for its lifetime.
type Session struct {
	id     string
	client ClientConn
	dial   DialFunc
	logger Logger

	// ctx is set before the backend starts and used for client writes.
	ctx context.Context

	mu      sync.Mutex
	state   State
	backend Backend
	// closed is set by Close; Run then reports a clean end.
	closed bool

	pending *pendingRequests
	done    chan struct{}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// SessionLoggerOption sets the logger of a session.
func SessionLoggerOption(logger Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// SessionIDOption overrides the generated session ID.
func SessionIDOption(id string) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

// NewSession creates a session for client. The backend is opened by Run.
func NewSession(client ClientConn, dial DialFunc, opts ...SessionOption) *Session {
	s := &Session{
		id:      uuid.NewString(),
		client:  client,
		dial:    dial,
		logger:  defaultLogger(),
		state:   StateOpen,
		pending: newPendingRequests(),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run opens the backend and relays messages in both directions until either
// endpoint closes or fails, or ctx is canceled. Both endpoints are closed
// before Run returns.
//
// A backend that cannot be reached closes the client at once and Run
// returns the *ConnectError. A normal client disconnect or a call to Close
// returns nil.
func (s *Session) Run(ctx context.Context) error {
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	backend, err := s.dial(ctx, s.deliver)
	if err != nil {
		sessionsTotal.WithLabelValues("connect_error").Inc()
		s.logger.Warn("backend unavailable, closing client", "session", s.id, "error", err)
		s.beginClose()
		s.closeClient(err)
		s.finish()
		return err
	}

	if !s.attach(backend) {
		// Closed while dialing.
		_ = backend.Close()
		s.closeClient(ErrSessionClosed)
		s.finish()
		return nil
	}

	sessionsTotal.WithLabelValues("opened").Inc()
	sessionsCurrent.Inc()
	defer sessionsCurrent.Dec()

	s.logger.Info("session opened", "session", s.id)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := backend.Run(child); err != nil {
			return err
		}
		return ErrBackendDisconnect
	})

	// The client is read on its own goroutine so that a disconnect is seen
	// even while a backend write is blocked. The queue holds one message.
	queue := make(chan []byte, 1)

	group.Go(func() error {
		return s.readClient(child, queue)
	})

	group.Go(func() error {
		return s.sendBackend(child, backend, queue)
	})

	if n, ok := s.client.(closeNotifier); ok {
		group.Go(func() error {
			select {
			case <-n.Done():
				if child.Err() != nil {
					// Closed by teardown.
					return nil
				}
				return errors.Wrap(ErrConnectionClosed, "client")
			case <-child.Done():
				return nil
			}
		})
	}

	group.Go(func() error {
		<-child.Done()
		s.teardown(context.Cause(child))
		return nil
	})

	err = group.Wait()
	abandoned := s.finish()

	duration := time.Since(started)
	sessionDuration.Observe(duration.Seconds())

	if errors.Is(err, ErrClientDisconnect) || s.closedByCaller() {
		s.logger.Info("session closed", "session", s.id,
			"duration", duration, "abandoned_requests", abandoned)
		return nil
	}

	s.logger.Info("session closed with error", "session", s.id,
		"duration", duration, "abandoned_requests", abandoned, "error", err)
	return err
}

// Close moves the session to closing and releases both endpoints.
// Run returns shortly after. Safe to call multiple times.
func (s *Session) Close() error {
	backend, ok := s.beginClose()
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if backend != nil {
		_ = backend.Close()
	}
	s.closeClient(ErrSessionClosed)
	return nil
}

// readClient reads client messages and queues them for sendBackend.
// Handing a message over blocks while the previous one is being sent.
func (s *Session) readClient(ctx context.Context, queue chan<- []byte) error {
	for {
		payload, err := s.client.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, ErrClientDisconnect) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read from client")
		}

		select {
		case queue <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// sendBackend forwards queued client messages to the backend unchanged.
func (s *Session) sendBackend(ctx context.Context, backend Backend, queue <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-queue:
			s.pending.track(payload)

			if err := backend.Send(Frame(payload)); err != nil {
				return err
			}
			framesTotal.WithLabelValues(directionToBackend).Inc()
		}
	}
}

// deliver is the backend message handler. It runs on the backend read loop.
func (s *Session) deliver(message Message) error {
	if s.State() != StateOpen {
		return ErrSessionClosed
	}

	payload := message.Body()
	if method, elapsed, ok := s.pending.resolve(payload); ok {
		requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	}

	if err := s.client.WriteMessage(s.ctx, payload); err != nil {
		return errors.Wrap(err, "write to client")
	}
	framesTotal.WithLabelValues(directionToClient).Inc()

	return nil
}

// attach records the backend if the session is still open.
func (s *Session) attach(backend Backend) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return false
	}
	s.backend = backend
	return true
}

// beginClose performs the OPEN -> CLOSING transition. It reports false when
// the session was already leaving the open state.
func (s *Session) beginClose() (Backend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return nil, false
	}
	s.state = StateClosing
	return s.backend, true
}

func (s *Session) teardown(cause error) {
	backend, ok := s.beginClose()
	if !ok {
		return
	}

	s.logger.Debug("session closing", "session", s.id, "cause", cause)

	if backend != nil {
		_ = backend.Close()
	}
	s.closeClient(cause)
}

func (s *Session) closeClient(cause error) {
	var err error
	if c, ok := s.client.(errorCloser); ok && cause != nil {
		err = c.CloseWithError(cause)
	} else {
		err = s.client.Close()
	}

	if err != nil {
		s.logger.Debug("close client", "session", s.id, "error", err)
	}
}

func (s *Session) closedByCaller() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finish performs the CLOSING -> CLOSED transition and returns the number
// of requests left unanswered.
func (s *Session) finish() int {
	abandoned := s.pending.abandon()
	if abandoned > 0 {
		abandonedRequests.Add(float64(abandoned))
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return abandoned
	}
	s.state = StateClosed
	s.mu.Unlock()

	close(s.done)
	return abandoned
}
