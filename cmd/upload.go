package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/ingest"
)

var (
	uploadUser   string
	uploadFormat string
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.xlsx|file.csv>",
	Short: "Reconcile a spreadsheet of CML records into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		e, err := initEnv(ctx, "upload")
		if err != nil {
			return err
		}
		defer e.Close()

		rows, err := ingest.ReadFile(ctx, path, cfg.Upload)
		if err != nil {
			return err
		}

		outcome, err := e.Reconciler.Reconcile(ctx, filepath.Base(path), uploadUser, rows)
		if err != nil {
			return err
		}

		zap.L().Info("upload complete",
			zap.String("file", path),
			zap.String("status", string(outcome.Status)),
			zap.Int("failed", outcome.Failed),
		)
		return printValue(cmd.OutOrStdout(), uploadFormat, outcome)
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadUser, "user", "", "user recorded on the upload")
	uploadCmd.Flags().StringVar(&uploadFormat, "format", formatJSON, "output format (json|yaml)")
	rootCmd.AddCommand(uploadCmd)
}
