// Package app is the shared entry point for the wsprism binary: it loads
// configuration, wires the gateway, and runs the signal loop until shutdown.
package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wsprism/wsprism/internal/config"
	"github.com/wsprism/wsprism/internal/obs"
	"github.com/wsprism/wsprism/internal/reload"
)

// RunParams configures the main loop.
type RunParams struct {
	// ConfigPath is the YAML configuration file.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run starts the gateway and blocks until a shutdown signal arrives. SIGHUP
// and config file changes trigger a live reload of tenant policy; SIGINT and
// SIGTERM start the drain sequence.
func Run(params RunParams) error {
	cfg, err := config.Load(params.ConfigPath)
	if err != nil {
		return err
	}

	// Ticket values are bearer credentials and must never reach log output.
	redactor := obs.NewRedactor()
	for _, dt := range cfg.Auth.DevTickets {
		redactor.AddLiteral(dt.Ticket)
	}
	log := slog.New(obs.NewRedactingHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: params.LogLevel}),
		redactor,
	))
	log.Info("starting", "version", params.Version, "commit", params.Commit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := wire(ctx, params.ConfigPath, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = w.tickets.Close() }()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- w.server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watcher := reload.NewWatcher(reload.WatcherConfig{ConfigPath: params.ConfigPath})
	watcher.Start(ctx)
	defer watcher.Stop()

	for {
		select {
		case err := <-serveErr:
			return err
		case path := <-watcher.Changes():
			log.Info("config file changed, reloading", "path", path)
			if err := w.server.Reload(); err != nil {
				log.Error("reload failed", "error", err)
			}
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info("SIGHUP received, reloading configuration")
				if err := w.server.Reload(); err != nil {
					log.Error("reload failed", "error", err)
				}
				continue
			}

			log.Info("shutdown signal received", "signal", sig.String())
			drainCtx, drainCancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.Gateway.DrainGraceMs)*time.Millisecond+10*time.Second)
			err := w.server.Drain(drainCtx)
			drainCancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = w.tracing.Shutdown(shutdownCtx)
			shutdownCancel()

			log.Info("shutdown complete")
			return err
		}
	}
}
