package main

import (
	"github.com/spf13/cobra"
)

var (
	summaryFormat string
	summaryStats  bool
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print fleet summary, dashboard metrics and elimination candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		summary, err := e.Reports.Summary(ctx)
		if err != nil {
			return err
		}
		metrics, err := e.Reports.Metrics(ctx)
		if err != nil {
			return err
		}
		elim, err := e.Reports.EliminationSummary(ctx)
		if err != nil {
			return err
		}

		out := map[string]any{
			"summary":             summary,
			"metrics":             metrics,
			"elimination_summary": elim,
		}
		if summaryStats {
			stats, err := e.Reports.Statistics(ctx)
			if err != nil {
				return err
			}
			out["statistics"] = stats
		}
		return printValue(cmd.OutOrStdout(), summaryFormat, out)
	},
}

func init() {
	summaryCmd.Flags().StringVar(&summaryFormat, "format", formatJSON, "output format (json|yaml)")
	summaryCmd.Flags().BoolVar(&summaryStats, "stats", false, "include corrosion and remaining life statistics")
	rootCmd.AddCommand(summaryCmd)
}
