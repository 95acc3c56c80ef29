package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/alphaops/edgar-ingest/internal/factsync"
)

var factsCmd = &cobra.Command{
	Use:   "facts [cik]...",
	Short: "Bulk-load structured facts from the company facts API",
	Long: `Fetch pre-extracted XBRL facts from the EDGAR company facts API and
replace the stored facts for each issuer. With --all every issuer that has
at least one filing on record is synced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("facts"); err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return eris.New("facts: give at least one CIK or use --all")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "facts: migrate")
		}

		syncer := factsync.New(initClient(), st)

		var n int64
		if all {
			n, err = syncer.SyncAll(ctx)
		} else {
			n, err = syncer.SyncCIKs(ctx, args)
		}
		if err != nil {
			return eris.Wrap(err, "facts")
		}
		fmt.Printf("Synced %d facts\n", n)
		return nil
	},
}

func init() {
	factsCmd.Flags().Bool("all", false, "sync every issuer with a filing on record")
	rootCmd.AddCommand(factsCmd)
}
