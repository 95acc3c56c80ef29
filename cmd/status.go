package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphaops/edgar-ingest/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show filing counts and recent ingest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.CountByState(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Filings:")
		for _, state := range []model.FilingState{
			model.StatePending, model.StateDownloaded, model.StateProcessed, model.StateFailed,
		} {
			fmt.Printf("  %-12s %d\n", state, counts[state])
		}

		limit, _ := cmd.Flags().GetInt("runs")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}

		fmt.Println("\nRecent runs:")
		for _, r := range runs {
			line := fmt.Sprintf("  %s  %-10s %-8s new=%d",
				r.StartedAt.Format(time.RFC3339), r.Source, r.Status, r.NewFilings)
			if r.Error != "" {
				line += "  error=" + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("runs", 10, "number of recent ingest runs to show")
	rootCmd.AddCommand(statusCmd)
}
