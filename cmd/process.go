package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process [card-id]",
	Short: "Process the queued clips of a card",
	Long: `Runs the consent audit for one card in the foreground: frames are extracted
from every queued clip, faces are detected and matched against the consent
reference set and every frame is annotated.

The stored card configuration can be overridden per run:
  consent-audit process <card-id> --set model_name=ArcFace --set threshold=0.35

Ctrl+C requests cancellation; work done so far is kept and a later run resumes it.
A second Ctrl+C aborts immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringArray("set", nil, "Override a card configuration key (key=value, repeatable)")
	processCmd.Flags().Bool("json", false, "Print the final task as JSON")
	processCmd.Flags().Bool("quiet", false, "Do not show the progress bar")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cardID := args[0]
	jsonOutput := mustGetBool(cmd, "json")
	quiet := mustGetBool(cmd, "quiet") || jsonOutput

	overrides, err := parseOverrides(mustGetStringArray(cmd, "set"))
	if err != nil {
		return err
	}

	cfg := loadConfig()
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

	res, err := service.Start(ctx, cardID, overrides)
	if err != nil {
		return fmt.Errorf("failed to start processing: %w", err)
	}
	if !jsonOutput {
		fmt.Println(res.Message)
	}
	if res.Status == pipeline.StatusNoClips || res.Existing {
		return nil
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nStopping after the current step, press Ctrl+C again to abort...")
		if _, err := service.Stop(context.Background(), res.TaskID); err != nil {
			logger.Warn("failed to request cancellation", zap.Error(err))
		}
		<-sigChan
		shutdownCtx, shutdownCancel := shutdownContext()
		defer shutdownCancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("pipeline shutdown", zap.Error(err))
		}
	}()

	task, err := followTask(ctx, service, res.TaskID, quiet)
	service.Wait()
	if err != nil {
		return err
	}
	// The run may have written its final state after the last poll.
	if latest, err := service.Task(ctx, res.TaskID); err == nil {
		task = latest
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	}

	fmt.Printf("\nTask %s finished: %s\n", task.ID, task.Status)
	if task.Message != "" {
		fmt.Println(task.Message)
	}
	if pending, err := orch.PendingCounts(ctx, cardID); err == nil && pending.Total() > 0 {
		fmt.Printf("Remaining work: %d clips, %d frames, %d faces, %d annotations\n",
			pending.Clips, pending.Frames, pending.Faces, pending.Annotations)
	}
	if task.Status == database.TaskError {
		return fmt.Errorf("task %s failed", task.ID)
	}
	return nil
}

// followTask polls a task until it reaches a terminal status or the service stops
// running it, rendering progress on a bar.
func followTask(ctx context.Context, service *pipeline.Service, taskID string, quiet bool) (*database.Task, error) {
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("Starting"),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	done := make(chan struct{})
	go func() {
		service.Wait()
		close(done)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	finished := false
	for {
		task, err := service.Task(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to read task: %w", err)
		}
		if bar != nil {
			bar.Describe(task.Stage)
			_ = bar.Set(int(task.Progress * 100))
		}
		if task.Status.IsTerminal() || finished {
			if bar != nil {
				_ = bar.Finish()
			}
			return task, nil
		}

		select {
		case <-ticker.C:
		case <-done:
			// The run returned; one more read picks up its final write.
			finished = true
		case <-ctx.Done():
			return task, ctx.Err()
		}
	}
}
