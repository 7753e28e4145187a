package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/config"
	"github.com/kozaktomas/consent-audit/internal/constants"
	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/database/hasura"
	"github.com/kozaktomas/consent-audit/internal/database/postgres"
	"github.com/kozaktomas/consent-audit/internal/extractor"
	"github.com/kozaktomas/consent-audit/internal/inference"
	"github.com/kozaktomas/consent-audit/internal/pipeline"
)

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.Store, func(), error) {
	switch cfg.Store.Backend {
	case "", "postgres":
		if cfg.Database.URL == "" {
			return nil, nil, errors.New("DATABASE_URL environment variable is required")
		}
		pool, err := postgres.NewPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		applied, err := pool.Migrate(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		for _, name := range applied {
			logger.Info("applied migration", zap.String("name", name))
		}
		logger.Debug("using PostgreSQL store")
		return postgres.NewStore(pool), func() { pool.Close() }, nil
	case "hasura":
		client, err := hasura.NewClient(&cfg.Hasura)
		if err != nil {
			return nil, nil, fmt.Errorf("HASURA_GRAPHQL_URL: %w", err)
		}
		logger.Debug("using Hasura store", zap.String("url", cfg.Hasura.URL))
		return hasura.NewStore(client), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q (expected postgres or hasura)", cfg.Store.Backend)
	}
}

// newOrchestrator wires the inference service and ffmpeg into a pipeline orchestrator.
func newOrchestrator(ctx context.Context, cfg *config.Config, store database.Store, logger *zap.Logger) (*pipeline.Orchestrator, error) {
	ex := extractor.New(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FramesDir, cfg.Pipeline.LUTDir, extractor.ExecRunner{}, logger)
	if err := ex.CheckFFmpeg(ctx); err != nil {
		return nil, err
	}
	engine := inference.NewClient(cfg.Inference.URL)
	return pipeline.NewOrchestrator(store, engine, ex, nil, logger, pipeline.Options{
		MaxIterations: cfg.Pipeline.MaxIterations,
		Thresholds:    cfg,
	}), nil
}

// shutdownContext bounds the graceful stop of long-running components.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.ShutdownTimeout)
}
