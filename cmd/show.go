package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/cml-optimizer/internal/model"
)

var (
	showFormat   string
	showReadings bool
)

// locationDetail is a location with its reading history.
type locationDetail struct {
	model.MonitoringLocation `yaml:",inline"`
	Readings                 []model.ThicknessReading `json:"readings" yaml:"readings"`
}

var showCmd = &cobra.Command{
	Use:   "show <cml-id>",
	Short: "Print one location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		loc, err := e.Store.GetLocation(ctx, args[0])
		if err != nil {
			return err
		}
		if !showReadings {
			return printValue(cmd.OutOrStdout(), showFormat, loc)
		}

		readings, err := e.Store.ListReadings(ctx, args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), showFormat, locationDetail{MonitoringLocation: *loc, Readings: readings})
	},
}

func init() {
	showCmd.Flags().StringVar(&showFormat, "format", formatJSON, "output format (json|yaml)")
	showCmd.Flags().BoolVar(&showReadings, "readings", false, "include the thickness reading history")
	rootCmd.AddCommand(showCmd)
}
