package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/config"
)

var (
	cfg *config.Config

	cmdTimeout time.Duration
	cancelCmd  context.CancelFunc = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "cml-cli",
	Short: "CML degradation forecasting and elimination decisions",
	Long:  "Reconciles condition monitoring location uploads, forecasts wall thickness, scores elimination candidates and records SME overrides.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		// serve runs until signalled and is bounded per request instead.
		if cmdTimeout > 0 && cmd.Name() != "serve" {
			ctx, cancel := context.WithTimeout(cmd.Context(), cmdTimeout)
			cmd.SetContext(ctx)
			cancelCmd = cancel
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		cancelCmd()
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 0, "abort the command after this duration (0 disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
