package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pt-crawler/internal/dispatcher"
)

func newCrawlCmd() *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl of a configured task",
		Long: `Runs a single crawl of the named task in the foreground and prints
the run summary as JSON. SIGINT/SIGTERM cancel the run between requests.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			run, runErr := a.Dispatcher().RunNow(ctx, task, dispatcher.TriggerCLI)
			if run.ID != "" {
				out := json.NewEncoder(cmd.OutOrStdout())
				out.SetIndent("", "  ")
				if err := out.Encode(run); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("crawl %s: %w", task, runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task name from the config file")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
