package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/masahif/adtrail/internal/queue"
	"github.com/masahif/adtrail/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show queue counts, recent jobs or one job",
	Long: `Without arguments, print job counts per queue and status.
With --queue or --status, also list matching jobs, newest first.
With a job id, print that job. --logs prints the log lines of a job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	f := statusCmd.Flags()
	f.String("queue", "", "Only list jobs of this queue")
	f.String("status", "", "Only list jobs in this status (queued, processing, completed, failed)")
	f.Int("limit", 20, "Maximum number of jobs to list")
	f.String("logs", "", "Print the log lines of this job id")
	f.Bool("products", false, "Also count stored products")

	rootCmd.AddCommand(statusCmd)
}

var jobStatuses = []queue.Status{queue.StatusQueued, queue.StatusProcessing, queue.StatusCompleted, queue.StatusFailed}

func runStatus(cmd *cobra.Command, args []string) error {
	queueName, _ := cmd.Flags().GetString("queue")
	if err := checkQueue(queueName); err != nil {
		return err
	}
	statusName, _ := cmd.Flags().GetString("status")
	status := queue.Status(statusName)
	if status != "" && !validStatus(status) {
		return fmt.Errorf("unknown status %q", statusName)
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

	if logsID, _ := cmd.Flags().GetString("logs"); logsID != "" {
		return printLogs(cmd, broker, logsID)
	}

	if len(args) == 1 {
		job, err := broker.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", args[0], err)
		}
		data, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	counts, err := broker.Counts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}
	printCounts(out, counts)

	if showProducts, _ := cmd.Flags().GetBool("products"); showProducts {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		n, err := store.Count(ctx, storage.Filter{})
		if err != nil {
			return fmt.Errorf("failed to count products: %w", err)
		}
		fmt.Fprintf(out, "\nStored products: %d\n", n)
	}

	if queueName == "" && status == "" {
		return nil
	}
	limit, _ := cmd.Flags().GetInt("limit")
	jobs, err := broker.List(ctx, queueName, status, limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	fmt.Fprintln(out)
	printJobs(out, jobs)
	return nil
}

func validStatus(s queue.Status) bool {
	for _, known := range jobStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func printCounts(w io.Writer, counts []queue.QueueCount) {
	table := make(map[string]map[queue.Status]int, len(pipelineQueues))
	for _, c := range counts {
		if table[c.Queue] == nil {
			table[c.Queue] = make(map[queue.Status]int)
		}
		table[c.Queue][c.Status] = c.Count
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tQUEUED\tPROCESSING\tCOMPLETED\tFAILED")
	for _, name := range pipelineQueues {
		row := table[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", name,
			row[queue.StatusQueued], row[queue.StatusProcessing],
			row[queue.StatusCompleted], row[queue.StatusFailed])
	}
	_ = tw.Flush()
}

func printJobs(w io.Writer, jobs []queue.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No matching jobs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUEUE\tSTATUS\tATTEMPTS\tPROGRESS\tCREATED\tERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%.0f%%\t%s\t%s\n",
			j.ID, j.Queue, j.Status, j.Attempts, j.MaxAttempts, j.Progress,
			j.CreatedAt.Local().Format(time.DateTime), j.LastError)
	}
	_ = tw.Flush()
}

func printLogs(cmd *cobra.Command, broker queue.Broker, id string) error {
	ctx := cmd.Context()
	if _, err := broker.Get(ctx, id); err != nil {
		return fmt.Errorf("failed to load job %s: %w", id, err)
	}
	entries, err := broker.Logs(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read logs of %s: %w", id, err)
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "No log lines for job %s\n", id)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s\n", e.LoggedAt.Local().Format(time.DateTime), e.Message)
	}
	return nil
}
