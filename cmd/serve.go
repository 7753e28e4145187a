package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/pipeline"
	"github.com/kozaktomas/consent-audit/internal/watch"
	"github.com/kozaktomas/consent-audit/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Consent Audit API server.
The server starts and stops processing tasks, streams task progress
and runs watch-folder monitors that enqueue new clips as they arrive.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	orch, err := newOrchestrator(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	service := pipeline.NewService(ctx, store, orch, logger)
	registry := watch.NewRegistry(store, logger)

	server := web.NewServer(cfg, web.Deps{Processing: service, Watcher: registry}, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigChan
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := shutdownContext()
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Error("watch monitors shutdown", zap.Error(err))
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("pipeline shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting Consent Audit API",
		zap.String("addr", fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)),
		zap.String("store", cfg.Store.Backend))

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-stopped
	return nil
}
