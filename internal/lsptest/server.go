// Package lsptest provides a fake language server that speaks the
// Content-Length framing over TCP.
//
// It answers initialize with a fixed capability set, every other request
// with an empty result, publishes empty diagnostics when a document is
// opened and hangs up on exit. It is meant for tests and local demos of
// the bridge, not for editing code.
package lsptest

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/Zereker/lspbridge"
)

// Capabilities is the result returned for initialize.
var Capabilities = map[string]any{
	"capabilities": map[string]any{
		"textDocumentSync":           1,
		"completionProvider":         map[string]any{"triggerCharacters": []string{"."}},
		"hoverProvider":              true,
		"signatureHelpProvider":      map[string]any{"triggerCharacters": []string{"(", ","}},
		"definitionProvider":         true,
		"referencesProvider":         true,
		"documentSymbolProvider":     true,
		"workspaceSymbolProvider":    true,
		"codeActionProvider":         true,
		"documentFormattingProvider": true,
		"renameProvider":             true,
	},
}

// malformedPreamble is a header without Content-Length.
const malformedPreamble = "X-Garbage: yes\r\n\r\n"

type request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Server is a fake language server.
type Server struct {
	listener  net.Listener
	logger    lspbridge.Logger
	chunkSize int
	garbage   bool

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	methods []string
	closed  bool

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// ChunkedWrites makes the server write every frame in pieces of n bytes.
func ChunkedWrites(n int) Option {
	return func(s *Server) {
		s.chunkSize = n
	}
}

// MalformedPreamble makes the server send a header without Content-Length
// before every frame.
func MalformedPreamble() Option {
	return func(s *Server) {
		s.garbage = true
	}
}

// WithLogger sets the logger of the server.
func WithLogger(logger lspbridge.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Start listens on addr and serves connections in the background.
func Start(addr string, opts ...Option) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "listen")
	}

	s := &Server{
		listener: listener,
		logger:   slog.Default(),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Methods returns the methods received so far, in arrival order.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every open connection, as a crashing server would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

// Close stops the server and waits for its goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	var (
		codec   lspbridge.ContentLengthCodec
		pending []byte
		buf     = make([]byte, 4096)
	)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			frames, remainder, _ := codec.Decode(pending)
			for _, frame := range frames {
				if !s.handle(conn, frame.Body()) {
					return
				}
			}
			pending = append([]byte(nil), remainder...)
		}

		if err != nil {
			return
		}
	}
}

// handle answers one message and reports whether the connection stays open.
func (s *Server) handle(conn net.Conn, payload []byte) bool {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn("fake server received invalid message", "error", err)
		return true
	}

	s.mu.Lock()
	s.methods = append(s.methods, req.Method)
	s.mu.Unlock()

	switch req.Method {
	case "exit":
		return false
	case "textDocument/didOpen":
		var params struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		}
		_ = json.Unmarshal(req.Params, &params)
		return s.write(conn, notification{
			JSONRPC: "2.0",
			Method:  "textDocument/publishDiagnostics",
			Params: map[string]any{
				"uri":         params.TextDocument.URI,
				"diagnostics": []any{},
			},
		})
	}

	if len(req.ID) == 0 {
		return true
	}

	var result any = map[string]any{}
	switch req.Method {
	case "initialize":
		result = Capabilities
	case "shutdown":
		result = nil
	}

	return s.write(conn, response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) write(conn net.Conn, v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("fake server marshal", "error", err)
		return false
	}

	data := lspbridge.Encode(payload)
	if s.garbage {
		data = append([]byte(malformedPreamble), data...)
	}

	if s.chunkSize <= 0 {
		_, err = conn.Write(data)
		return err == nil
	}

	for len(data) > 0 {
		n := min(s.chunkSize, len(data))
		if _, err := conn.Write(data[:n]); err != nil {
			return false
		}
		data = data[n:]
	}
	return true
}
