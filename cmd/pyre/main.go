// Command pyre runs the HTTP log store server.
//
// Startup requires -address and -port; missing either is a fatal error.
// -debug raises log verbosity and -datadir relocates the storage root.
// The server drains connections and persists every loaded log on SIGINT
// or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iamNilotpal/pyre/internal/engine"
	"github.com/iamNilotpal/pyre/internal/server"
	"github.com/iamNilotpal/pyre/pkg/logger"
	"github.com/iamNilotpal/pyre/pkg/options"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		address = flag.String("address", "", "interface to bind the http server to (required)")
		port    = flag.Uint("port", 0, "tcp port to listen on (required)")
		debug   = flag.Int("debug", 0, "debug log verbosity; 0 disables")
		dataDir = flag.String("datadir", options.DefaultDataDir, "storage root directory")
	)
	flag.Parse()

	if *address == "" {
		fmt.Fprintln(os.Stderr, `Missing "-address" command line argument!`)
		os.Exit(1)
	}
	if *port == 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, `Missing "-port" command line argument!`)
		os.Exit(1)
	}

	log := logger.New("pyre", *debug)
	defer log.Sync()

	if err := run(log, *address, uint16(*port), *dataDir); err != nil {
		log.Errorw("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger, address string, port uint16, dataDir string) error {
	opts := options.NewDefaultOptions()
	options.WithDataDir(dataDir)(&opts)
	options.WithAddress(address)(&opts)
	options.WithPort(port)(&opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, &engine.Config{Options: &opts, Logger: log})
	if err != nil {
		return err
	}

	srv := server.New(&server.Config{Engine: eng, Options: &opts, Logger: log})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		_ = eng.Close()
		return err
	case <-ctx.Done():
	}

	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown failed", "error", err)
	}

	return eng.Close()
}
