package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var errPurgeNotConfirmed = errors.New("refusing to delete products without --yes")

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished jobs or stored products",
	Long: `Delete completed and failed jobs that finished more than --older-than ago.
With --products, delete every stored product record instead. This cannot be
undone and needs --yes.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func init() {
	f := purgeCmd.Flags()
	f.Duration("older-than", 7*24*time.Hour, "Age of finished jobs to delete")
	f.Bool("products", false, "Delete all stored products")
	f.Bool("yes", false, "Confirm deleting products")

	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, _ []string) error {
	products, _ := cmd.Flags().GetBool("products")
	confirmed, _ := cmd.Flags().GetBool("yes")
	if products && !confirmed {
		return errPurgeNotConfirmed
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if products {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := store.DeleteAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete products: %w", err)
		}
		fmt.Fprintf(out, "Deleted %d product(s)\n", n)
		return nil
	}

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan < 0 {
		return fmt.Errorf("--older-than must not be negative, got %v", olderThan)
	}

	broker, err := openBroker(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	n, err := broker.PurgeFinished(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("failed to purge jobs: %w", err)
	}
	fmt.Fprintf(out, "Deleted %d finished job(s)\n", n)
	return nil
}
