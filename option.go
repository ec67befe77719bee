package lspbridge

import (
	"time"
)

// ErrorAction defines the action to take when a read error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and keeps reading.
	Continue
)

// options holds the configuration for a backend connection.
type options struct {
	codec  Codec
	logger Logger

	onMessage func(message Message) error
	// onError is called when a read error occurs.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	readBufferSize int           // size of a single socket read
	maxMessageSize int           // bound on a message payload
	idleTimeout    time.Duration // read/write deadline, 0 disables
	dialTimeout    time.Duration
}

// Option is a function that configures connection options.
type Option func(*options)

// CustomCodecOption returns an Option that sets the message codec.
// ContentLengthCodec is used when none is given.
func CustomCodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// ReadBufferSizeOption sets how many bytes are requested from the socket per read.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// IdleTimeoutOption sets the read and write deadline applied before every
// socket operation. Zero disables deadlines, which suits language servers
// that stay silent for long periods.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// DialTimeoutOption bounds how long Dial waits for the backend.
func DialTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = timeout
	}
}

// MessageMaxSize returns an Option that bounds the payload of a backend
// message, excluding its header. Larger messages end the connection with
// ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// OnErrorOption returns an Option that sets the read error callback.
// Return Disconnect to close the connection, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnMessageOption returns an Option that sets the message handler callback.
// This callback is required and is invoked for each decoded frame, in order.
func OnMessageOption(cb func(Message) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
