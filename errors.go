package lspbridge

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by connection and session operations.
var (
	// ErrInvalidCodec is returned when a nil codec is provided.
	ErrInvalidCodec = errors.New("invalid codec")
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrMessageTooLarge is returned when buffered backend bytes exceed the maximum message size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrClientDisconnect marks the normal end of a session initiated by the client.
	ErrClientDisconnect = errors.New("client disconnected")
	// ErrBackendDisconnect is returned when the backend closes its side of the stream.
	ErrBackendDisconnect = errors.New("backend disconnected")
	// ErrSessionClosed is returned when delivering to a session that is no longer open.
	ErrSessionClosed = errors.New("session closed")
)

// ConnectError reports that the backend could not be reached when a session started.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError reports that a frame could not be written to the backend.
// It is terminal for the connection; callers must not retry.
type WriteError struct {
	Addr string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Addr, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// FrameParseError describes a header that was skipped during decoding
// because it carried no usable Content-Length field.
type FrameParseError struct {
	Offset int
	Header []byte
}

func (e *FrameParseError) Error() string {
	return fmt.Sprintf("malformed frame header at offset %d: %q", e.Offset, e.Header)
}
