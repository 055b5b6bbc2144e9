package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/scorer"
	"github.com/sells-group/cml-optimizer/internal/store"
)

var (
	analyzeIDs           []string
	analyzeFacility      string
	analyzeSystem        string
	analyzeRisk          string
	analyzeStrategy      string
	analyzeRetrain       bool
	analyzeThreshold     float64
	analyzeClearOverride bool
	analyzeFormat        string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score locations for elimination",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, "analyze")
		if err != nil {
			return err
		}
		defer e.Close()

		filter := store.LocationFilter{Facility: analyzeFacility, System: analyzeSystem}
		if analyzeRisk != "" {
			rc, err := model.ParseRiskCategory(analyzeRisk)
			if err != nil {
				return err
			}
			filter.Risk = rc
		}

		analysis, err := e.Scorer.Score(ctx, scorer.Request{
			IDs:           analyzeIDs,
			Filter:        filter,
			Strategy:      analyzeStrategy,
			Retrain:       analyzeRetrain,
			Threshold:     analyzeThreshold,
			ClearOverride: analyzeClearOverride,
		})
		if err != nil {
			return err
		}

		zap.L().Info("analysis complete",
			zap.Int("analyzed", analysis.TotalAnalyzed),
			zap.Int("eliminations", analysis.EliminationsRecommended),
			zap.Int("high_confidence", analysis.HighConfidenceCount),
		)
		return printValue(cmd.OutOrStdout(), analyzeFormat, analysis)
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringSliceVar(&analyzeIDs, "ids", nil, "location ids to score (default all matching the filters)")
	f.StringVar(&analyzeFacility, "facility", "", "only score this facility")
	f.StringVar(&analyzeSystem, "system", "", "only score this system")
	f.StringVar(&analyzeRisk, "risk", "", "only score this risk level")
	f.StringVar(&analyzeStrategy, "strategy", "", "scoring strategy: logistic or rules (default from config)")
	f.BoolVar(&analyzeRetrain, "retrain", false, "retrain the strategy before scoring")
	f.Float64Var(&analyzeThreshold, "threshold", 0, "elimination threshold (default from config)")
	f.BoolVar(&analyzeClearOverride, "clear-override", false, "drop SME overrides on the scored locations")
	f.StringVar(&analyzeFormat, "format", formatJSON, "output format (json|yaml)")
	rootCmd.AddCommand(analyzeCmd)
}
