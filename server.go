package lspbridge

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is the WebSocket bridge endpoint used when none is configured.
const DefaultPath = "/python-lsp"

var (
	errDrainTimeout = errors.New("shutdown timeout expired with sessions still open")
	errDrainAborted = errors.New("shutdown wait aborted by Close")
)

// Server accepts WebSocket clients on one path and hands each of them to a
// Handler. It also serves /metrics and /healthz.
type Server struct {
	listener        net.Listener
	logger          Logger
	shutdownTimeout time.Duration
	path            string
	readLimit       int64
	allowedOrigins  []string
	reusePort       bool

	upgrader websocket.Upgrader

	mu          sync.Mutex
	shutdown    bool
	closeOnce   sync.Once
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout

	sessions sync.WaitGroup
	active   atomic.Int64
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption bounds how long Serve waits for open sessions
// to close after its context is canceled. Zero waits until every session
// is closed. Close bypasses the wait.
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerPathOption sets the path of the WebSocket endpoint.
func ServerPathOption(path string) ServerOption {
	return func(s *Server) {
		s.path = path
	}
}

// ServerReadLimitOption sets the largest client message accepted.
func ServerReadLimitOption(limit int64) ServerOption {
	return func(s *Server) {
		s.readLimit = limit
	}
}

// ServerAllowedOriginsOption restricts the Origin header of upgrade
// requests. An empty list accepts every origin.
func ServerAllowedOriginsOption(origins ...string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// ServerReusePortOption sets SO_REUSEPORT on the listening socket so several
// processes can share the port. Ignored where unsupported.
func ServerReusePortOption(enabled bool) ServerOption {
	return func(s *Server) {
		s.reusePort = enabled
	}
}

// New creates a server bound to addr.
// Returns an error if the address cannot be bound.
func New(addr string, opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:      defaultLogger(),
		path:        DefaultPath,
		readLimit:   defaultMaxMessageSize,
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	listener, err := listenConfig(s.reusePort).Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	s.listener = listener

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

// Serve accepts clients and dispatches them to handler until ctx is
// canceled or the listener fails. On return no new client is accepted and
// every session has been driven to its end, unless the shutdown timeout
// expired or Close was called first.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	// Sessions outlive ctx briefly: they are canceled only after the
	// listener stops.
	sessionCtx, cancelSessions := context.WithCancel(context.Background())
	defer cancelSessions()

	router := mux.NewRouter()
	router.HandleFunc(s.path, s.bridge(sessionCtx, handler))
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)

	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: writeWait,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(s.listener)
	}()

	s.logger.Info("server started", "addr", s.listener.Addr(), "path", s.path)

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	s.mu.Lock()
	closedByUser := s.shutdown
	s.shutdown = true
	s.mu.Unlock()

	stopCtx, stop := context.WithTimeout(context.Background(), writeWait)
	_ = httpServer.Shutdown(stopCtx)
	stop()

	cancelSessions()
	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout, "sessions", s.active.Load())
	}
	if derr := s.drain(); derr != nil {
		s.logger.Warn("sessions left open at shutdown", "error", derr, "sessions", s.active.Load())
	}

	s.logger.Info("server stopped", "addr", s.listener.Addr())

	if err != nil && !closedByUser && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("accept error", "error", err)
		return err
	}
	return ctx.Err()
}

// Close stops accepting clients and bypasses any pending shutdown wait.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.shutdownNow)
	})

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Sessions returns the number of clients currently being served.
func (s *Server) Sessions() int64 {
	return s.active.Load()
}

func (s *Server) bridge(ctx context.Context, handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		s.sessions.Add(1)
		s.mu.Unlock()
		defer s.sessions.Done()

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		s.active.Add(1)
		defer s.active.Add(-1)

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		handler.Handle(ctx, NewWebSocketClient(conn, s.readLimit, s.logger))
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","sessions":%d}`+"\n", s.active.Load())
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range s.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	s.logger.Warn("websocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

// drain waits until every handler returned.
func (s *Server) drain() error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if s.shutdownTimeout > 0 {
		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
		return nil
	case <-timeout:
		return errDrainTimeout
	case <-s.shutdownNow:
		select {
		case <-done:
			return nil
		default:
			return errDrainAborted
		}
	}
}
