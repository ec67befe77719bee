// Command fakelsp runs the fake language server from internal/lsptest so
// the bridge can be tried without a real language server:
//
//	go run ./example/fakelsp -addr 127.0.0.1:3000
//	go run ./cmd/lspbridge --backend 127.0.0.1:3000
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/lspbridge/internal/lsptest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3000", "listen address")
	chunk := flag.Int("chunk", 0, "write every frame in pieces of this many bytes")
	garbage := flag.Bool("garbage", false, "send a malformed header before every frame")
	flag.Parse()

	opts := []lsptest.Option{lsptest.ChunkedWrites(*chunk)}
	if *garbage {
		opts = append(opts, lsptest.MalformedPreamble())
	}

	server, err := lsptest.Start(*addr, opts...)
	if err != nil {
		slog.Error("failed to start fake language server", "error", err)
		os.Exit(1)
	}

	slog.Info("fake language server started", "addr", server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down fake language server...")
	if err := server.Close(); err != nil {
		slog.Error("close", "error", err)
	}
}
