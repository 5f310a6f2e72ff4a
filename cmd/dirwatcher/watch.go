package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/dirwatcher/dirwatcher/internal/agent"
	"github.com/dirwatcher/dirwatcher/internal/audit"
	"github.com/dirwatcher/dirwatcher/internal/config"
	"github.com/dirwatcher/dirwatcher/internal/journal"
	"github.com/dirwatcher/dirwatcher/internal/logging"
	"github.com/dirwatcher/dirwatcher/internal/server/rest"
	"github.com/dirwatcher/dirwatcher/internal/server/websocket"
	"github.com/dirwatcher/dirwatcher/internal/storage"
	"github.com/dirwatcher/dirwatcher/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var f overrideFlags
	cmd := &cobra.Command{
		Use:   "watch <directory> <magic>",
		Short: "Poll a directory and report magic string occurrences",
		Long: "Poll a directory at a fixed interval, scan every file with the configured\n" +
			"extension for the magic string, and log each new occurrence exactly once.\n" +
			"Runs until SIGINT, SIGTERM, or SIGHUP.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(opts.configPath, args, cmd.Flags(), &f)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}
	bindOverrideFlags(cmd.Flags(), &f)
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	logger, logCloser, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		File:    cfg.LogFile,
		Console: stderr,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	var jwtCfg *rest.JWTConfig
	if cfg.Status.JWTPublicKey != "" {
		pub, err := rest.LoadRSAPublicKey(cfg.Status.JWTPublicKey)
		if err != nil {
			return err
		}
		jwtCfg = &rest.JWTConfig{
			PublicKey: pub,
			Issuer:    cfg.Status.Issuer,
			Audience:  cfg.Status.Audience,
			Logger:    logger,
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		opts   = []agent.Option{agent.WithDirectory(cfg.Directory)}
		sinks  []watcher.Sink
		events rest.EventSource
		// closers release what was opened if setup fails before the
		// agent takes ownership of the journal and store.
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Journal.Path != "" {
		lock := flock.New(cfg.Journal.Path + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("lock journal: %w", err)
		}
		if !locked {
			return fmt.Errorf("journal %s is in use by another dirwatcher process", cfg.Journal.Path)
		}
		defer lock.Unlock()

		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		logger.Info("event journal opened",
			slog.String("path", cfg.Journal.Path),
			slog.Int("pending", j.Depth()),
		)
		sinks = append(sinks, j)
		events = j
		opts = append(opts, agent.WithJournal(j))
		closers = append(closers, func() { j.Close() })

		if cfg.Postgres.DSN != "" {
			store, err := storage.New(ctx, cfg.Postgres.DSN)
			if err != nil {
				cleanup()
				return err
			}
			logger.Info("forwarding events to PostgreSQL", slog.Int("batch_size", cfg.Postgres.BatchSize))
			opts = append(opts, agent.WithEventStore(store, cfg.Postgres.BatchSize))
			closers = append(closers, store.Close)
		}
	}

	var trail *audit.Trail
	if cfg.Audit.Path != "" {
		trail, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			cleanup()
			return err
		}
		logger.Info("event trail opened", slog.String("path", cfg.Audit.Path))
		sinks = append(sinks, trail)
		closers = append(closers, func() { trail.Close() })
	}

	var stream *websocket.Broadcaster
	if cfg.Status.Addr != "" {
		stream = websocket.NewBroadcaster(logger, 0)
		sinks = append(sinks, stream)
	}

	scanner, err := watcher.NewScanner(watcher.Config{
		Directory: cfg.Directory,
		Extension: cfg.Extension,
		Magic:     cfg.Magic,
	}, watcher.NewOffsetTable(), watcher.MultiSink(sinks...), logger)
	if err != nil {
		cleanup()
		return err
	}
	ag := agent.New(scanner, cfg.Interval.Duration(), logger, opts...)

	var httpServer *http.Server
	if cfg.Status.Addr != "" {
		srv := rest.NewServer(ag, events).WithStream(websocket.NewHandler(stream, logger, 0))
		httpServer = newStatusServer(cfg.Status.Addr, srv, jwtCfg, logger)
		go func() {
			logger.Info("status API listening", slog.String("addr", cfg.Status.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status API error", slog.Any("error", err))
			}
		}()
	}

	runErr := ag.Run(ctx)

	if httpServer != nil {
		// Hijacked stream connections are not tracked by Shutdown; closing
		// the broadcaster ends them.
		stream.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status API shutdown error", slog.Any("error", err))
		}
		shutdownCancel()
	}
	if err := ag.Close(); err != nil {
		logger.Warn("close failed", slog.Any("error", err))
	}
	if trail != nil {
		if err := trail.Close(); err != nil {
			logger.Warn("event trail close failed", slog.Any("error", err))
		}
	}
	return runErr
}

// newStatusServer builds the HTTP server for the status API. A non-nil
// jwtCfg enables RS256 authentication on the /api routes.
func newStatusServer(addr string, srv *rest.Server, jwtCfg *rest.JWTConfig, logger *slog.Logger) *http.Server {
	if jwtCfg != nil {
		logger.Info("status API JWT validation enabled")
	} else {
		logger.Warn("status API authentication disabled; no JWT public key configured")
	}
	return &http.Server{
		Addr:         addr,
		Handler:      rest.NewRouter(srv, jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
