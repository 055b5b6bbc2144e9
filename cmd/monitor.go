package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/monitoring"
)

var (
	monitorSend   bool
	monitorFormat string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Collect a health snapshot and evaluate alert thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := e.Monitor.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if monitorSend {
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Info("alerts sent", zap.Int("triggered", len(alerts)), zap.Int("sent", sent))
		}

		return printValue(cmd.OutOrStdout(), monitorFormat, map[string]any{
			"snapshot": snap,
			"alerts":   alerts,
		})
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorSend, "send", false, "deliver triggered alerts to the configured webhook")
	monitorCmd.Flags().StringVar(&monitorFormat, "format", formatJSON, "output format (json|yaml)")
	rootCmd.AddCommand(monitorCmd)
}
