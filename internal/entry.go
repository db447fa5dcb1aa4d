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

	"github.com/starford/kenaz-import/internal/api"
	"github.com/starford/kenaz-import/internal/apperr"
	"github.com/starford/kenaz-import/internal/assets"
	"github.com/starford/kenaz-import/internal/hooks"
	"github.com/starford/kenaz-import/internal/importer"
	"github.com/starford/kenaz-import/internal/importservice"
	"github.com/starford/kenaz-import/internal/mapper"
	"github.com/starford/kenaz-import/internal/mcpserver"
	"github.com/starford/kenaz-import/internal/media"
	"github.com/starford/kenaz-import/internal/redirect"
	"github.com/starford/kenaz-import/internal/source"
	"github.com/starford/kenaz-import/internal/sse"
	"github.com/starford/kenaz-import/internal/storage"
	"github.com/starford/kenaz-import/internal/store"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required: %w", apperr.ErrSetup)
	}
	return app, nil
}

// newLogger builds the structured JSON logger.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// runtime holds the components shared by every entry point.
type runtime struct {
	app    *application
	cfg    *Config
	logger *slog.Logger
	db     *store.DB
	files  storage.Provider
	lib    *media.Library
}

func openRuntime(app *application, logger *slog.Logger) (*runtime, error) {
	cfg := app.config

	if err := os.MkdirAll(cfg.Media.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w: %v", apperr.ErrSetup, err)
	}
	files, err := storage.NewFS(cfg.Media.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w: %v", apperr.ErrSetup, err)
	}

	db, err := store.Open(cfg.Store.Path, store.Options{
		Kinds:      cfg.Store.Kinds,
		Taxonomies: cfg.Store.Taxonomies,
		HomeURL:    cfg.Store.HomeURL,
		Redirects:  cfg.Store.Redirects,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w: %v", apperr.ErrSetup, err)
	}

	fetch := media.NewFetcher(media.FetchConfig{
		MaxBytes:          cfg.Media.MaxBytes,
		Timeout:           cfg.Media.Timeout,
		AllowPrivateHosts: cfg.Media.AllowPrivateHosts,
	})
	lib := media.NewLibrary(db, files, fetch, cfg.Media.BaseURL, logger)

	return &runtime{app: app, cfg: cfg, logger: logger, db: db, files: files, lib: lib}, nil
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

// importKind runs one import. Setup problems are returned before any record
// is processed; extra, when set, registers additional stage handlers.
func (rt *runtime) importKind(ctx context.Context, kind string, doRedirect bool, extra func(*hooks.Registry)) (*importer.Report, error) {
	cfg := rt.cfg
	query, ok := cfg.Source.Query(kind)
	if !ok {
		return nil, fmt.Errorf("no source query for kind %q: %w", kind, apperr.ErrSetup)
	}
	mcfg, ok := cfg.Mapping[kind]
	if !ok {
		return nil, fmt.Errorf("no mapping for kind %q: %w", kind, apperr.ErrSetup)
	}
	m, err := mapper.NewColumnMapper(mcfg)
	if err != nil {
		return nil, fmt.Errorf("mapping for kind %q: %w: %v", kind, apperr.ErrSetup, err)
	}

	opts := []importer.Option{
		importer.WithResolver(assets.NewResolver(rt.lib, assets.Config{
			LocalDomain:    cfg.Media.Domain(),
			FileExtensions: cfg.Media.AllowedFileExt,
			Concurrency:    cfg.Media.Concurrency,
		}, rt.logger)),
	}
	if doRedirect {
		rs, err := rt.db.Redirects(ctx)
		if err != nil {
			return nil, fmt.Errorf("redirects requested: %w", err)
		}
		bridge, err := redirect.New(rs, rt.db, cfg.Redirect.Group, rt.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, importer.WithRedirects(bridge))
	}

	q := rt.app.querier
	if q == nil {
		src, err := source.Open(ctx, cfg.Source.Driver, cfg.Source.DSN)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		q = src
	}
	rows, err := q.Rows(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query source for kind %q: %w: %v", kind, apperr.ErrSetup, err)
	}
	rt.logger.Info("source rows loaded", slog.String("kind", kind), slog.Int("rows", len(rows)))

	imp := importer.New(rt.db, m, importer.Config{
		FlushEvery:   cfg.Import.FlushEvery,
		UniqueTerms:  cfg.Import.UniqueTerms,
		DeferredKeys: cfg.Import.DeferredKeys,
		KindDefaults: cfg.Import.KindDefaults,
		Debug:        cfg.App.Debug,
	}, rt.logger, opts...)
	if rt.app.hooks != nil {
		rt.app.hooks(imp.Hooks())
	}
	if extra != nil {
		extra(imp.Hooks())
	}
	return imp.Import(ctx, rows, kind)
}

// RunImport imports one kind and prints the run summary.
func RunImport(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	if app.kind == "" {
		return fmt.Errorf("kind is required: %w", apperr.ErrSetup)
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("kind", app.kind),
		slog.String("store_path", cfg.Store.Path),
		slog.String("media_dir", cfg.Media.Dir),
		slog.Bool("redirect", app.doRedirect),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := openRuntime(app, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.importKind(ctx, app.kind, app.doRedirect || cfg.Redirect.Enabled, nil)
	if err != nil {
		return err
	}
	report.WriteSummary(app.out)
	return nil
}

// ServeMCP serves the MCP tools on stdin/stdout.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	logger := newLogger(app.config, os.Stderr)
	slog.SetDefault(logger)

	rt, err := openRuntime(app, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := importservice.NewService(rt.db, func(ctx context.Context, req importservice.ImportRequest) (*importer.Report, error) {
		return rt.importKind(ctx, req.Kind, req.Redirect || rt.cfg.Redirect.Enabled, nil)
	})
	return mcpserver.New(svc, rt.lib).ServeStdio()
}

// Serve starts the HTTP server with the given options.
func Serve(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("media_dir", cfg.Media.Dir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt, err := openRuntime(app, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Run initial media sync.
	if err := rt.lib.Sync(ctx); err != nil {
		logger.Warn("initial media sync failed", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	svc := importservice.NewService(rt.db, func(ctx context.Context, req importservice.ImportRequest) (*importer.Report, error) {
		broker.PublishImportEvent(sse.PhaseStarted, req)
		return rt.importKind(ctx, req.Kind, req.Redirect || cfg.Redirect.Enabled, func(reg *hooks.Registry) {
			reg.RecordCompleted.Observe(func(_ context.Context, ev hooks.CompletedEvent) {
				broker.PublishImportEvent(sse.PhaseRecord, ev.Outcome)
			})
			reg.RunCompleted.Observe(func(_ context.Context, ev hooks.RunEvent) {
				broker.PublishImportEvent(sse.PhaseFinished, ev.Run)
			})
		})
	})
	mediaHandler := api.NewMediaHandler(rt.files, rt.lib)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, mediaHandler)

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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if running, _ := svc.Status(); running {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"importing"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Media files (unauthenticated, they are the public copies).
	r.Get("/media/*", mediaHandler.ServeFile)

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// Anything else may be a legacy URL.
	r.NotFound(api.RedirectFallback(svc))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start media watcher with SSE callback.
	if cfg.Media.Watch {
		g.Go(func() error {
			if err := rt.lib.Watch(gCtx, broker.PublishMediaEvent); err != nil {
				logger.Warn("media watcher stopped", slog.String("error", err.Error()))
			}
			return nil
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
