package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	forecastPeriods  int
	forecastStrategy string
	forecastLatest   bool
	forecastFormat   string
)

var forecastCmd = &cobra.Command{
	Use:   "forecast <cml-id> [cml-id...]",
	Short: "Forecast wall thickness and estimate failure dates",
	Long:  "Forecasts one or more locations. With several ids the forecasts run in parallel and failures are reported per location.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "forecast")
		if err != nil {
			return err
		}
		defer e.Close()

		if len(args) == 1 {
			if forecastLatest {
				run, err := e.Forecasts.LatestForecast(ctx, args[0])
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), forecastFormat, run)
			}
			run, err := e.Forecasts.Forecast(ctx, args[0], forecastPeriods, forecastStrategy)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), forecastFormat, run)
		}

		results := e.Forecasts.ForecastMany(ctx, args, forecastPeriods, forecastStrategy)
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		zap.L().Info("forecast batch complete",
			zap.Int("total", len(results)),
			zap.Int("failed", failed),
		)
		return printValue(cmd.OutOrStdout(), forecastFormat, results)
	},
}

func init() {
	forecastCmd.Flags().IntVar(&forecastPeriods, "periods", 0, "monthly periods to forecast (default from config)")
	forecastCmd.Flags().StringVar(&forecastStrategy, "strategy", "", "forecast strategy: linear, holt or rate (default from config)")
	forecastCmd.Flags().BoolVar(&forecastLatest, "latest", false, "print the latest stored forecast instead of running a new one")
	forecastCmd.Flags().StringVar(&forecastFormat, "format", formatJSON, "output format (json|yaml)")
	rootCmd.AddCommand(forecastCmd)
}
