package lspbridge

import "log/slog"

// Logger receives the structured logs of connections, sessions and the
// server. *slog.Logger satisfies it; cmd/lspbridge plugs in zap.
// args are alternating keys and values.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger is used when no logger option is given.
func defaultLogger() Logger {
	return slog.Default()
}
