package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/consent-audit/internal/database"
	"github.com/kozaktomas/consent-audit/internal/pipeline"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List processing tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the state of a processing task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop [task-id]",
	Short: "Request cancellation of a processing task",
	Long: `Marks a running task as cancelling. The process running the task stops at its
next checkpoint and keeps the work finished so far.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)

	tasksCmd.Flags().Bool("json", false, "Output as JSON")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
}

// withService opens the store and runs fn against a service that only reads and
// updates task records.
func withService(fn func(ctx context.Context, service *pipeline.Service) error) error {
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

	return fn(ctx, pipeline.NewService(ctx, store, nil, logger))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runTasks(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	return withService(func(ctx context.Context, service *pipeline.Service) error {
		tasks, err := service.Tasks(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		if jsonOutput {
			if tasks == nil {
				tasks = []database.Task{}
			}
			return printJSON(tasks)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tCARD\tSTATUS\tSTAGE\tPROGRESS\tUPDATED")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\n",
				t.ID, t.CardID, t.Status, t.Stage, t.Progress*100, t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	return withService(func(ctx context.Context, service *pipeline.Service) error {
		task, err := service.Task(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}
		if jsonOutput {
			return printJSON(task)
		}

		fmt.Printf("Task:     %s\n", task.ID)
		fmt.Printf("Card:     %s\n", task.CardID)
		fmt.Printf("Status:   %s\n", task.Status)
		fmt.Printf("Stage:    %s\n", task.Stage)
		fmt.Printf("Progress: %.0f%%\n", task.Progress*100)
		if task.Message != "" {
			fmt.Printf("Message:  %s\n", task.Message)
		}
		fmt.Printf("Created:  %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:  %s\n", task.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	})
}

func runStop(cmd *cobra.Command, args []string) error {
	return withService(func(ctx context.Context, service *pipeline.Service) error {
		res, err := service.Stop(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to stop task: %w", err)
		}
		fmt.Println(res.Message)
		return nil
	})
}
