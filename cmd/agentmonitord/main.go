// Command agentmonitord is the AgentMonitor telemetry daemon: it opens the
// SQLite store, wires the HTTP API and SSE hub, and runs until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/davisbuilds/agentmonitor/internal/api"
	"github.com/davisbuilds/agentmonitor/internal/config"
	"github.com/davisbuilds/agentmonitor/internal/runtime"
	"github.com/davisbuilds/agentmonitor/internal/store"
)

func newLogger(verbose bool) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr}
	lvl := zerolog.InfoLevel
	if verbose {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(out).With().Timestamp().Logger()
}

func run(verbose bool) error {
	log := newLogger(verbose)

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	state := runtime.NewAppState(st, cfg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	host := runtime.Start(ctx, state)

	server := &http.Server{
		Addr:         cfg.BindAddr(),
		Handler:      api.NewRouter(state),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "daemon").Str("addr", cfg.BindAddr()).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Str("component", "daemon").Msg("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			cancel()
			host.Wait()
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("component", "daemon").Msg("http shutdown")
	}

	host.Wait()
	return nil
}

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:   "agentmonitord",
		Short: "AgentMonitor telemetry daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(verbose)
		},
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
