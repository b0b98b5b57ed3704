// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/thomas-villani/nb-sub001/internal/api"
	"github.com/thomas-villani/nb-sub001/internal/chunker"
	"github.com/thomas-villani/nb-sub001/internal/embed"
	"github.com/thomas-villani/nb-sub001/internal/index"
	"github.com/thomas-villani/nb-sub001/internal/mcpserver"
	"github.com/thomas-villani/nb-sub001/internal/noteservice"
	"github.com/thomas-villani/nb-sub001/internal/scanner"
	"github.com/thomas-villani/nb-sub001/internal/search"
	"github.com/thomas-villani/nb-sub001/internal/sse"
	"github.com/thomas-villani/nb-sub001/internal/storage"
	"github.com/thomas-villani/nb-sub001/internal/syncer"
)

// App holds the wired components over one notes root.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Store   *storage.FS
	DB      *index.DB
	Indexer *index.Indexer
	Service *noteservice.Service
}

// Open wires storage, the index, the ranker and the syncer from the
// configuration. The caller must Close the returned App.
func Open(opts ...Option) (*App, error) {
	app := newApplication(opts)
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return open(app)
}

func open(app *application) (*App, error) {
	cfg := app.config
	logger := app.logger

	if err := os.MkdirAll(cfg.Notes.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Notes.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	ch, err := chunker.New(cfg.Embeddings.ChunkStrategy, cfg.Embeddings.ChunkMaxTokens)
	if err != nil {
		db.Close()
		return nil, err
	}

	var embedder embed.Provider
	switch p, err := embed.New(cfg.Embeddings.Embed()); {
	case errors.Is(err, embed.ErrDisabled):
		logger.Info("embeddings disabled, search is keyword only")
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("init embeddings: %w", err)
	default:
		embedder = p
	}

	sc := scanner.New(scanner.Options{
		ReservedDir: cfg.Notes.ReservedDir,
		Ignore:      cfg.Notes.Ignore,
		Workers:     cfg.Notes.Workers,
	}, logger)

	ixOpts := []index.IndexerOption{
		index.WithChunker(ch),
		index.WithLinked(cfg.LinkedPaths()),
		index.WithWorkers(cfg.Notes.Workers),
		index.WithLogger(logger),
	}
	if embedder != nil {
		ixOpts = append(ixOpts, index.WithEmbedder(embedder))
	}
	ix := index.NewIndexer(db, store, sc, store.Root(), ixOpts...)

	ranker := search.NewRanker(db, embedder, cfg.Search.Ranker(), search.WithLogger(logger))
	sy := syncer.New(ix, store, syncer.Options{AutoCompleteChildren: cfg.Todo.AutoCompleteChildren}, logger)

	logger.Debug("Configuration loaded",
		slog.String("notes_root", store.Root()),
		slog.String("sqlite_path", cfg.IndexPath()),
		slog.String("embeddings", cfg.Embeddings.Provider),
		slog.Int("linked", len(cfg.Linked)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		DB:      db,
		Indexer: ix,
		Service: noteservice.NewService(store, ix, ranker, sy),
	}, nil
}

// Close releases the index.
func (a *App) Close() error {
	return a.DB.Close()
}

// ServeMCP indexes the notes tree and serves MCP tools over stdio.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := Open(opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	if _, err := app.Service.Index(ctx); err != nil {
		app.Logger.Warn("initial index failed", slog.String("error", err.Error()))
	}
	return mcpserver.New(app.Service).ServeStdio()
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a := newApplication(opts)
	if a.config == nil {
		return fmt.Errorf("config is required")
	}
	app, err := open(a)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config
	logger := app.Logger

	// Run initial index.
	if rep, err := app.Service.Index(ctx); err != nil {
		logger.Warn("initial index failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial index complete",
			slog.Int("added", rep.Added),
			slog.Int("modified", rep.Modified),
			slog.Int("deleted", rep.Deleted))
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	apiRouter := api.NewRouter(app.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		if _, err := app.Service.NotebookCounts(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	if a.watch {
		g.Go(func() error {
			err := index.Watch(gCtx, app.Indexer, index.WatchOptions{ReservedDir: cfg.Notes.ReservedDir}, broker.PublishNoteEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		stop()

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
