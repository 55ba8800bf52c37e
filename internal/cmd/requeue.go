package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Queue failed jobs again",
	Long: `Reset failed jobs to queued with their attempt count cleared.
--stale also returns processing jobs that have logged no progress for
stale_timeout, which happens when a worker dies without finishing its job.`,
	Args: cobra.NoArgs,
	RunE: runRequeue,
}

func init() {
	requeueCmd.Flags().String("queue", "", "Only requeue jobs of this queue")
	requeueCmd.Flags().Bool("stale", false, "Also requeue jobs stuck in processing")

	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, _ []string) error {
	queueName, _ := cmd.Flags().GetString("queue")
	if err := checkQueue(queueName); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	broker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	n, err := broker.RetryFailed(ctx, queueName)
	if err != nil {
		return fmt.Errorf("failed to requeue jobs: %w", err)
	}
	fmt.Fprintf(out, "Requeued %d failed job(s)\n", n)

	if stale, _ := cmd.Flags().GetBool("stale"); stale {
		n, err := broker.RequeueStale(ctx, cfg.StaleTimeout)
		if err != nil {
			return fmt.Errorf("failed to requeue stale jobs: %w", err)
		}
		fmt.Fprintf(out, "Requeued %d stale job(s)\n", n)
	}
	return nil
}
