package lspbridge

import (
	"context"

	"github.com/pkg/errors"
)

// Handler is the interface for handling accepted client connections.
type Handler interface {
	// Handle serves client until the session ends. It must release client
	// before returning and return once ctx is canceled.
	Handle(ctx context.Context, client ClientConn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, client ClientConn)

// Handle calls f(ctx, client).
func (f HandlerFunc) Handle(ctx context.Context, client ClientConn) {
	f(ctx, client)
}

// Relay is a Handler that pairs every client with a fresh backend connection.
type Relay struct {
	dial   DialFunc
	logger Logger
}

// NewRelay returns a Relay that opens backends with dial.
func NewRelay(dial DialFunc, logger Logger) *Relay {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Relay{dial: dial, logger: logger}
}

// Handle runs a session for client.
func (r *Relay) Handle(ctx context.Context, client ClientConn) {
	session := NewSession(client, r.dial, SessionLoggerOption(r.logger))

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("session ended", "session", session.ID(), "error", err)
	}
}
