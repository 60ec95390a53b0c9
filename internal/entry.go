// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/mwhitley/ticketsync/internal/api"
	"github.com/mwhitley/ticketsync/internal/drain"
	"github.com/mwhitley/ticketsync/internal/events"
	"github.com/mwhitley/ticketsync/internal/jira"
	"github.com/mwhitley/ticketsync/internal/ledger"
	"github.com/mwhitley/ticketsync/internal/mcpserver"
	"github.com/mwhitley/ticketsync/internal/syncservice"
)

// bootstrap builds the shared runtime pieces: logger, ledger, drainer, and
// scheduler service. The caller owns closing the returned ledger store.
func bootstrap(app *application, broker *events.Broker, logOut io.Writer) (*slog.Logger, *ledger.Store, *syncservice.Service, error) {
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init ledger: %w", err)
	}

	gw := app.gateway
	if gw == nil {
		gw = jira.NewClient(jira.Config{
			Server:    cfg.Jira.Server,
			Email:     cfg.Jira.Email,
			APIToken:  cfg.Jira.APIToken,
			Project:   cfg.Jira.Project,
			IssueType: cfg.Jira.IssueType,
		})
	}

	drainer := drain.New(gw, logger)
	drainer.Backoff = cfg.Sync.LockBackoff.Std()
	drainer.OnSubmit = func(sub drain.Submission) {
		err := store.Record(ledger.Entry{
			Fingerprint: sub.Fingerprint,
			TicketKey:   sub.TicketKey,
			Summary:     sub.Summary,
			Labels:      sub.Labels,
			SourceFile:  sub.SourceFile,
			CreatedAt:   sub.CreatedAt,
		})
		if err != nil {
			logger.Warn("ledger: record failed",
				slog.String("ticket", sub.TicketKey),
				slog.String("error", err.Error()))
		}
	}

	svc := syncservice.New(drainer, cfg.Inbox.Path, cfg.Sync.Interval.Std(), logger, broker)
	return logger, store, svc, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	broker := events.NewBroker()
	defer broker.Close()

	logger, store, svc, err := bootstrap(app, broker, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("inbox_path", cfg.Inbox.Path),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("interval", cfg.Sync.Interval.String()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Build API router.
	apiRouter := api.NewRouter(svc, store, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the periodic drain scheduler.
	g.Go(func() error {
		return svc.Run(gCtx)
	})

	// Start the inbox watcher.
	if cfg.Sync.Watch {
		g.Go(func() error {
			return svc.Watch(gCtx)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server with the given options. No HTTP surface
// or periodic scheduler runs in this mode; drains happen on explicit tool
// calls.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	// stdout carries the MCP protocol, so logs go to stderr here.
	logger, store, svc, err := bootstrap(app, nil, os.Stderr)
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("MCP server starting on stdio",
		slog.String("inbox_path", app.config.Inbox.Path))

	return mcpserver.New(svc, store).ServeStdio()
}
