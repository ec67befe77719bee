package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Zereker/lspbridge"
	"github.com/Zereker/lspbridge/internal/config"
)

var (
	configPath  string
	listenAddr  string
	bridgePath  string
	backendAddr string
	verbose     bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lspbridge",
		Short: "Relay browser WebSocket clients to a TCP language server",
		Long: `lspbridge accepts WebSocket connections and pairs each of them with its own
TCP connection to a language server. Client messages are framed with a
Content-Length header; framed server output is split back into messages.`,
		SilenceUsage: true,
		RunE:         run,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML configuration file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address for WebSocket clients (overrides listen.addr)")
	cmd.Flags().StringVar(&bridgePath, "path", "", "WebSocket endpoint path (overrides listen.path)")
	cmd.Flags().StringVar(&backendAddr, "backend", "", "language server host:port (overrides backend.addr)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen.Addr = listenAddr
	}
	if flags.Changed("path") {
		cfg.Listen.Path = bridgePath
	}
	if flags.Changed("backend") {
		cfg.Backend.Addr = backendAddr
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	zl, err := newZapLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := zapLogger{s: zl.Sugar()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := lspbridge.New(cfg.Listen.Addr,
		lspbridge.ServerLoggerOption(logger),
		lspbridge.ServerPathOption(cfg.Listen.Path),
		lspbridge.ServerShutdownTimeoutOption(cfg.ShutdownTimeout()),
		lspbridge.ServerReadLimitOption(int64(cfg.Backend.MaxMessageSize)),
		lspbridge.ServerAllowedOriginsOption(cfg.Listen.AllowedOrigins...),
		lspbridge.ServerReusePortOption(cfg.Listen.ReusePort),
	)
	if err != nil {
		return err
	}

	dial := lspbridge.BackendDialer(cfg.Backend.Addr,
		lspbridge.DialTimeoutOption(cfg.DialTimeout()),
		lspbridge.IdleTimeoutOption(cfg.IdleTimeout()),
		lspbridge.MessageMaxSize(cfg.Backend.MaxMessageSize),
		lspbridge.LoggerOption(logger),
	)

	logger.Info("forwarding to language server", "backend", cfg.Backend.Addr)

	err = server.Serve(ctx, lspbridge.NewRelay(dial, logger))
	if errors.Is(err, context.Canceled) {
		logger.Info("shut down")
		return nil
	}
	return err
}

func newZapLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, errors.Wrap(err, "parse log level")
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return logger, nil
}

// zapLogger adapts a zap SugaredLogger to lspbridge.Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l zapLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l zapLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
