package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/yangwenmai/reqscribe/internal/api"
	"github.com/yangwenmai/reqscribe/internal/broker"
	"github.com/yangwenmai/reqscribe/internal/config"
	"github.com/yangwenmai/reqscribe/internal/content"
	"github.com/yangwenmai/reqscribe/internal/engine"
	"github.com/yangwenmai/reqscribe/internal/intake"
	"github.com/yangwenmai/reqscribe/internal/media"
	"github.com/yangwenmai/reqscribe/internal/stage"
	"github.com/yangwenmai/reqscribe/internal/store"
	"github.com/yangwenmai/reqscribe/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// app holds the long-lived dependencies shared by the commands.
type app struct {
	cfg    config.Config
	db     *sql.DB
	store  *store.Store
	files  *content.Store
	broker broker.Broker
}

// openStore opens the database and ledger only.
func openStore(cfg config.Config) (*sql.DB, *store.Store, error) {
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	s, err := store.New(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	return db, s, nil
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	files, err := content.New(cfg.DataDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init content store: %w", err)
	}
	b, err := broker.Open(ctx, cfg.BrokerOptions(), db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open broker: %w", err)
	}
	slog.Info("app opened",
		"db", cfg.DBPath, "data_dir", files.Root(), "broker", cfg.BrokerDriver)
	return &app{cfg: cfg, db: db, store: s, files: files, broker: b}, nil
}

func (a *app) Close() {
	if err := a.broker.Close(); err != nil && !errors.Is(err, broker.ErrClosed) {
		slog.Warn("close broker", "error", err)
	}
	if err := a.db.Close(); err != nil {
		slog.Warn("close db", "error", err)
	}
}

func (a *app) modelClient() engine.ModelClient {
	if a.cfg.UseStubs() {
		slog.Info("using stub model client")
		return &engine.StubModelClient{}
	}
	slog.Info("using ollama model client", "url", a.cfg.OllamaURL)
	return engine.NewOllamaClient(a.cfg.OllamaURL, engine.WithHTTPTimeout(a.cfg.HTTPTimeout))
}

func (a *app) toolkit() *media.Toolkit {
	return media.NewToolkit(media.Paths{
		FFmpeg:  a.cfg.FFmpegPath,
		FFprobe: a.cfg.FFprobePath,
		Whisper: a.cfg.WhisperPath,
	})
}

// handler builds the stage consuming the named queue.
func (a *app) handler(name string) (worker.Handler, error) {
	deps := stage.Deps{Ledger: a.store, Publisher: a.broker, Documents: a.store}
	switch name {
	case stage.NameGatekeeper:
		gk, err := a.cfg.GatekeeperConfig()
		if err != nil {
			return nil, err
		}
		return stage.NewGatekeeper(deps, a.toolkit(), a.modelClient(), a.files, gk), nil
	case stage.NameTranscription:
		return stage.NewTranscription(deps, a.toolkit(), a.files, stage.TranscriptionConfig{
			WhisperModel: a.cfg.TranscriptionModel,
			Language:     a.cfg.TranscriptionLanguage,
		}), nil
	case stage.NameAnalyst:
		return stage.NewAnalyst(deps, a.modelClient(), a.files, stage.AnalystConfig{
			LLMModel: a.cfg.AnalystLLMModel,
			Format:   a.cfg.AnalystOutput,
		}), nil
	case stage.NameFailures:
		return stage.NewFailures(deps), nil
	default:
		return nil, fmt.Errorf("unknown stage %q (want one of %v)", name, stageNames)
	}
}

var stageNames = []string{stage.NameGatekeeper, stage.NameTranscription, stage.NameAnalyst, stage.NameFailures}

// startWorkers runs one worker per stage until ctx is cancelled. The
// returned WaitGroup completes once every in-flight message has settled.
func (a *app) startWorkers(ctx context.Context, names []string) (*sync.WaitGroup, error) {
	handlers := make([]worker.Handler, 0, len(names))
	for _, name := range names {
		h, err := a.handler(name)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		w := worker.New(a.broker, h, a.cfg.WorkerInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}
	return &wg, nil
}

func (a *app) httpServer() *http.Server {
	svc := intake.New(a.store, a.files, a.broker)
	srv := api.New(svc, api.Options{
		CORSOrigin:     a.cfg.CORSOrigin,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
		Version:        version,
	})
	return &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("reqscribe listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
