package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/store"
)

var (
	exportOut      string
	exportFacility string
	exportElimOnly bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export locations to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", exportOut)
		}

		n, err := e.Reports.Export(ctx, f, store.LocationFilter{
			Facility:        exportFacility,
			EliminationOnly: exportElimOnly,
		})
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "close %s", exportOut)
		}
		if err != nil {
			_ = os.Remove(exportOut)
			return err
		}

		zap.L().Info("export written", zap.String("file", exportOut), zap.Int("locations", n))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "cml_export.xlsx", "output file")
	exportCmd.Flags().StringVar(&exportFacility, "facility", "", "only export this facility")
	exportCmd.Flags().BoolVar(&exportElimOnly, "elimination-only", false, "only export elimination candidates")
	rootCmd.AddCommand(exportCmd)
}
