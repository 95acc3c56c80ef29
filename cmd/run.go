package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/alphaops/edgar-ingest/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process pending filings",
	Long: `Drain the filing pipeline: download PENDING filings into blob storage,
then extract XBRL facts from DOWNLOADED filings. Filings that keep erroring
are marked FAILED and can be retried with "requeue".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "run: migrate")
		}

		blobs, err := initBlob(ctx)
		if err != nil {
			return err
		}

		client := initClient()
		runner := pipeline.NewRunner(st,
			pipeline.NewDownloadTask(client, st, blobs),
			pipeline.NewExtractTask(st, blobs),
			pipeline.RunnerOptions{
				Workers:     cfg.Pipeline.Workers,
				BatchSize:   cfg.Pipeline.BatchSize,
				MaxAttempts: cfg.Pipeline.MaxAttempts,
			})

		stats, err := runner.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "run")
		}
		fmt.Printf("Downloaded %d, processed %d, failed %d\n",
			stats.Downloaded, stats.Processed, stats.Failed)
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue <accession-number>...",
	Short: "Retry failed filings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, accession := range args {
			if err := st.Requeue(ctx, accession); err != nil {
				return eris.Wrapf(err, "requeue %s", accession)
			}
			fmt.Printf("Requeued %s\n", accession)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(requeueCmd)
}
