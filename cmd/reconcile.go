package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/alphaops/edgar-ingest/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Backfill filings from daily index files",
	Long: `Diff EDGAR daily master index files against the store and insert any
filings the feed watcher missed.

By default yesterday's index is reconciled. Use --date for a single day or
--from/--to for a range. Days without a published index (weekends, holidays)
count as zero new filings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		from, to, err := parseDateRange(cmd)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "reconcile: migrate")
		}

		r := reconcile.New(initClient(), st, reconcile.Options{Forms: cfg.Watch.Forms})

		n, err := r.Backfill(ctx, from, to)
		if err != nil {
			return eris.Wrap(err, "reconcile")
		}
		fmt.Printf("Inserted %d missing filings\n", n)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().String("date", "", "single day to reconcile (YYYY-MM-DD)")
	reconcileCmd.Flags().String("from", "", "start of range (YYYY-MM-DD)")
	reconcileCmd.Flags().String("to", "", "end of range (YYYY-MM-DD), defaults to --from")
	rootCmd.AddCommand(reconcileCmd)
}

func parseDateRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	const layout = "2006-01-02"

	if dateStr, _ := cmd.Flags().GetString("date"); dateStr != "" {
		day, err := time.Parse(layout, dateStr)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "invalid --date %q", dateStr)
		}
		return day, day, nil
	}

	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	if fromStr == "" {
		yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
		return yesterday, yesterday, nil
	}

	from, err := time.Parse(layout, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "invalid --from %q", fromStr)
	}
	to := from
	if toStr != "" {
		to, err = time.Parse(layout, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "invalid --to %q", toStr)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, eris.New("--to is before --from")
	}
	return from, to, nil
}
