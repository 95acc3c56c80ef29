package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/alphaops/edgar-ingest/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the EDGAR recent-filings feed",
	Long: `Poll the EDGAR recent-filings Atom feed and record new filings as PENDING.

With --once a single poll cycle runs and the command exits. Otherwise the
watcher polls on the configured interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("watch"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "watch: migrate")
		}

		blobs, err := initBlob(ctx)
		if err != nil {
			return err
		}

		w := watcher.New(initClient(), st, blobs, watcher.Options{
			Forms:      cfg.Watch.Forms,
			Interval:   cfg.Watch.Interval(),
			Cooldown:   cfg.Watch.Cooldown(),
			FetchIndex: cfg.Watch.FetchIndex,
		})

		once, _ := cmd.Flags().GetBool("once")
		if once {
			n, err := w.Poll(ctx)
			if err != nil {
				return eris.Wrap(err, "watch")
			}
			fmt.Printf("Discovered %d new filings\n", n)
			return nil
		}

		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return eris.Wrap(err, "watch")
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Bool("once", false, "run a single poll cycle and exit")
	rootCmd.AddCommand(watchCmd)
}
