package main

import (
	"github.com/spf13/cobra"
)

var (
	overrideDecision string
	overrideReason   string
	overrideUser     string
	overrideFormat   string
)

var overrideCmd = &cobra.Command{
	Use:   "override <cml-id>",
	Short: "Record an SME keep/eliminate decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		loc, err := e.Decisions.Override(ctx, args[0], overrideDecision, overrideReason, overrideUser)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), overrideFormat, loc)
	},
}

var clearOverrideCmd = &cobra.Command{
	Use:   "clear-override <cml-id>",
	Short: "Remove an SME decision and fall back to the scored recommendation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer e.Close()

		loc, err := e.Decisions.ClearOverride(ctx, args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), overrideFormat, loc)
	},
}

func init() {
	overrideCmd.Flags().StringVar(&overrideDecision, "decision", "", "keep or eliminate")
	overrideCmd.Flags().StringVar(&overrideReason, "reason", "", "reason for the decision")
	overrideCmd.Flags().StringVar(&overrideUser, "user", "", "SME recording the decision")
	overrideCmd.Flags().StringVar(&overrideFormat, "format", formatJSON, "output format (json|yaml)")
	_ = overrideCmd.MarkFlagRequired("decision")
	_ = overrideCmd.MarkFlagRequired("user")

	clearOverrideCmd.Flags().StringVar(&overrideFormat, "format", formatJSON, "output format (json|yaml)")

	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(clearOverrideCmd)
}
