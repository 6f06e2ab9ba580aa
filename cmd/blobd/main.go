// Package main is the entry point for blobd, the HTTP server in front of the
// configured blob stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bleepstore/s3blob/internal/config"
	"github.com/bleepstore/s3blob/internal/logging"
	"github.com/bleepstore/s3blob/internal/metrics"
	"github.com/bleepstore/s3blob/internal/server"
	"github.com/bleepstore/s3blob/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json, logfmt (default: from config or text)")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "graceful shutdown timeout (default: from config or 30s)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Metrics.Enabled {
		metrics.Register()
	}

	// Opening a store verifies access and, for local stores, removes temp
	// files left behind by interrupted writes.
	openCtx, cancelOpen := context.WithTimeout(context.Background(), time.Minute)
	stores, err := storage.Open(openCtx, cfg, logger)
	cancelOpen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open stores: %v\n", err)
		os.Exit(1)
	}
	if len(stores.Names()) == 0 {
		slog.Warn("No stores configured")
	}

	srv := server.New(cfg, stores, server.WithLogger(logger))
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("blobd listening", "addr", addr, "stores", stores.Names())
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		// Give in-flight requests time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
