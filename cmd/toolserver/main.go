// Command toolserver serves the built-in tools over MCP streamable HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joebot/toolbot/internal/cli"
	"github.com/joebot/toolbot/internal/logging"
	"github.com/joebot/toolbot/internal/tool"
	"github.com/joebot/toolbot/internal/toolserver"
)

func main() {
	port := flag.Int("port", 8002, "listen port")
	root := flag.String("root", "", "directory exposed to read_file and list_dir; empty disables them")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	lvl, err := logging.ParseLevel(*level)
	if err != nil {
		slog.Error("Bad log level", "err", err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, &logging.Options{Level: lvl})))

	reg := tool.Defaults(*root)
	srv := toolserver.New("toolbot-tools", cli.Version, reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(*port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("Tool server listening", "addr", httpServer.Addr, "tools", reg.Names())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Tool server failed", "err", err)
		os.Exit(1)
	}
}
