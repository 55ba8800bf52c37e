package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/masahif/adtrail/internal/models"
	"github.com/masahif/adtrail/internal/pipeline"
)

var submitCmd = &cobra.Command{
	Use:   "submit <queue> [payload]",
	Short: "Validate a JSON payload and enqueue it",
	Long: `Validate a payload against the queue's schema and enqueue it.

The payload is taken from the second argument, from --file ("-" reads stdin),
or for the listing queue from the --category, --subcategory, --page and
--pages flags. Invalid payloads are rejected with one line per field.

Examples:
  adtrail submit listing --category computadoras --pages 3
  adtrail submit listing '{"category":"celulares","pageNumber":2}'
  adtrail submit detail -f urls.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringP("file", "f", "", "Read the payload from a file, '-' for stdin")
	f.String("category", "", "Listing category")
	f.String("subcategory", "", "Listing subcategory")
	f.Int("page", 0, "First listing page")
	f.Int("pages", 0, "Number of listing pages")

	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	queueName := args[0]
	if err := checkQueue(queueName); err != nil {
		return err
	}

	payload, err := readPayload(cmd, args)
	if err != nil {
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

	orch, err := newOrchestrator(cfg, broker, pipeline.Deps{}, nil)
	if err != nil {
		return err
	}

	id, err := orch.Submit(cmd.Context(), queueName, payload)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			printValidation(cmd.ErrOrStderr(), verr)
			return fmt.Errorf("payload rejected with %d validation error(s)", len(verr.Fields))
		}
		return fmt.Errorf("failed to submit job: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s to %s\n", id, queueName)
	return nil
}

// readPayload picks the payload source in order: argument, --file, listing flags.
func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 2 {
		return []byte(args[1]), nil
	}

	if file, _ := cmd.Flags().GetString("file"); file != "" {
		if file == "-" {
			return io.ReadAll(cmd.InOrStdin())
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return data, nil
	}

	if args[0] != pipeline.ListingQueue {
		return nil, fmt.Errorf("queue %s needs a JSON payload argument or --file", args[0])
	}

	job := pipeline.ListingJob{}
	job.Category, _ = cmd.Flags().GetString("category")
	job.Subcategory, _ = cmd.Flags().GetString("subcategory")
	if cmd.Flags().Changed("page") {
		page, _ := cmd.Flags().GetInt("page")
		job.PageNumber = &page
	}
	if cmd.Flags().Changed("pages") {
		pages, _ := cmd.Flags().GetInt("pages")
		job.TotalPages = &pages
	}
	return json.Marshal(job)
}

func printValidation(w io.Writer, verr *models.ValidationError) {
	fmt.Fprintln(w, "Validation failed:")
	for _, f := range verr.Fields {
		fmt.Fprintf(w, "  %s: %s\n", f.Field, f.Message)
	}
}
