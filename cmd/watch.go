package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [folder-id]",
	Short: "Monitor a watch folder and enqueue new clips",
	Long: `Polls the directory of a watch folder and creates a queued clip for every new
video file that appears. Monitoring ends on Ctrl+C or after the configured
period without new files.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var scanCmd = &cobra.Command{
	Use:   "scan [folder-id]",
	Short: "Scan a watch folder once and enqueue the clips not yet known",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scanCmd)

	watchCmd.Flags().Duration("poll", 0, "Poll interval (overrides WATCH_POLL_SECONDS)")
	watchCmd.Flags().Duration("inactivity", 0, "Stop after this long without new files (overrides WATCH_INACTIVITY_MINUTES)")
	scanCmd.Flags().Bool("json", false, "Output as JSON")
}

func runWatch(cmd *cobra.Command, args []string) error {
	folderID := args[0]
	cfg := loadConfig()

	opts := watch.Options{
		PollInterval:      time.Duration(cfg.Watch.PollSeconds) * time.Second,
		InactivityTimeout: time.Duration(cfg.Watch.InactivityMinutes) * time.Minute,
	}
	if d, _ := cmd.Flags().GetDuration("poll"); d > 0 {
		opts.PollInterval = d
	}
	if d, _ := cmd.Flags().GetDuration("inactivity"); d > 0 {
		opts.InactivityTimeout = d
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

	registry := watch.NewRegistry(store, logger)
	if err := registry.Start(ctx, folderID, opts); err != nil {
		return fmt.Errorf("failed to start monitoring: %w", err)
	}
	fmt.Printf("Monitoring watch folder %s every %s\n", folderID, opts.PollInterval)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			shutdownCtx, shutdownCancel := shutdownContext()
			defer shutdownCancel()
			if err := registry.Shutdown(shutdownCtx); err != nil {
				logger.Error("watch monitors shutdown", zap.Error(err))
			}
			fmt.Println("Monitoring stopped")
			return nil
		case <-ticker.C:
			if !slices.Contains(registry.Active(), folderID) {
				fmt.Println("Monitoring ended after inactivity")
				return nil
			}
		}
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg := loadConfig()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := watch.NewRegistry(store, logger).Scan(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to scan watch folder: %w", err)
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("Folder:        %s\n", res.FolderPath)
	fmt.Printf("Clips found:   %d\n", res.ClipsFound)
	fmt.Printf("Clips created: %d\n", res.ClipsCreated)
	if len(res.DuplicateFilenames) > 0 {
		fmt.Printf("Skipped %d files whose names are already on the card:\n", len(res.DuplicateFilenames))
		for _, name := range res.DuplicateFilenames {
			fmt.Printf("  %s\n", name)
		}
	}
	return nil
}
