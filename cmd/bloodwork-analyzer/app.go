package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vetlab/bloodwork-analyzer/internal/analysis"
	"github.com/vetlab/bloodwork-analyzer/internal/blob"
	"github.com/vetlab/bloodwork-analyzer/internal/cache"
	"github.com/vetlab/bloodwork-analyzer/internal/config"
	"github.com/vetlab/bloodwork-analyzer/internal/llm"
	"github.com/vetlab/bloodwork-analyzer/internal/metrics"
	"github.com/vetlab/bloodwork-analyzer/internal/observability"
	"github.com/vetlab/bloodwork-analyzer/internal/pdf"
	"github.com/vetlab/bloodwork-analyzer/internal/sequence"
	"github.com/vetlab/bloodwork-analyzer/internal/storage"
)

// app holds the wired components shared by the commands.
type app struct {
	db        *sql.DB
	cache     cache.Client
	metrics   *metrics.Metrics
	allocator *sequence.Allocator
	service   *analysis.Service

	shutdownTimeout time.Duration
}

// openDatabase opens the configured database and the allocator over it.
func openDatabase(ctx context.Context, cfg *config.Config, logger *observability.Logger, m *metrics.Metrics) (*sql.DB, *sequence.Allocator, error) {
	db, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	alloc := sequence.New(storage.NewCounterRepository(db), logger, sequence.WithMetrics(m))
	return db, alloc, nil
}

// newApp wires every component from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	m := metrics.New()

	db, alloc, err := openDatabase(ctx, cfg, logger, m)
	if err != nil {
		return nil, err
	}

	a := &app{db: db, metrics: m, allocator: alloc, shutdownTimeout: cfg.Server.GracefulShutdown}

	if err := alloc.Initialize(ctx); err != nil {
		a.Close()
		return nil, err
	}

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	a.cache, err = cache.Open(ctx, cfg.Cache)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	vision, err := llm.New(cfg.Vision, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	instruction, err := llm.LoadInstruction(cfg.Vision.PromptPath)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service, err = analysis.NewService(analysis.Dependencies{
		Allocator: alloc,
		Records:   storage.NewDiagnosticRepository(db),
		Blobs:     blobs,
		Renderer:  pdf.NewRenderer(cfg.Renderer.DPI, logger),
		Vision:    vision,
		Validator: pdf.NewValidator(cfg.MaxUploadBytes()),
		Cache:     a.cache,
		Metrics:   m,
		Logger:    logger,
	}, analysis.Options{
		Instruction:       instruction,
		MaxConcurrent:     int64(cfg.Renderer.MaxConcurrent),
		AllowPartialPages: cfg.Renderer.AllowPartialPages,
		CacheTTL:          cfg.Cache.TTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("blob", cfg.Blob.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("vision", cfg.Vision.Driver).
		Str("model", vision.Model()).
		Msg("Analyzer initialized")

	return a, nil
}

// Close releases the cache and database. The service must be shut down
// first.
func (a *app) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
