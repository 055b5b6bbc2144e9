package scorer

import (
	"math"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/model"
)

// Feature names in vector order.
const (
	FeatureMarginRatio       = "thickness_margin_ratio"
	FeatureCorrosionRate     = "corrosion_rate"
	FeatureRemainingLife     = "remaining_life"
	FeatureInspectionCount   = "inspection_count"
	FeatureRiskCritical      = "risk_critical"
	FeatureRiskHigh          = "risk_high"
	FeatureRiskMedium        = "risk_medium"
	FeatureRiskLow           = "risk_low"
	FeatureAllowanceConsumed = "allowance_consumed"
)

// FeatureNames lists the vector layout.
var FeatureNames = []string{
	FeatureMarginRatio,
	FeatureCorrosionRate,
	FeatureRemainingLife,
	FeatureInspectionCount,
	FeatureRiskCritical,
	FeatureRiskHigh,
	FeatureRiskMedium,
	FeatureRiskLow,
	FeatureAllowanceConsumed,
}

// NumFeatures is the length of a feature vector.
var NumFeatures = len(FeatureNames)

// inspectionCountScale is the count that maps to 1.0 after log scaling.
const inspectionCountScale = 20

// Vector is a feature vector laid out as FeatureNames.
type Vector []float64

// Extract maps a location to its feature vector. Every component lies in
// [0, 1] except the margin ratio, which lies in [-1, 1]. Missing inputs
// contribute 0, except remaining life, which is neutral at 0.5.
func Extract(loc *model.MonitoringLocation, f config.FeatureConfig) Vector {
	x := make(Vector, NumFeatures)

	x[0] = marginRatio(loc.CurrentThicknessMM, loc.MinAllowableThicknessMM, loc.DesignThicknessMM)
	x[1] = corrosionRate(loc.AverageCorrosionRate, f.MaxCorrosionRate)
	x[2] = remainingLife(loc.RemainingLifeYears, f.MinRemainingLife, f.MaxRemainingLife)
	x[3] = inspectionCount(loc.NumberOfInspections)

	if o := loc.RiskCategory.Ordinal(); o >= 0 {
		x[4+o] = 1
	}

	x[8] = allowanceConsumed(loc.DesignThicknessMM, loc.CurrentThicknessMM, loc.CorrosionAllowanceMM)
	return x
}

// marginRatio is (current - min) / design.
func marginRatio(current, minAllowable, design *float64) float64 {
	if current == nil || minAllowable == nil || design == nil || *design <= 0 {
		return 0
	}
	return clamp((*current-*minAllowable) / *design, -1, 1)
}

// corrosionRate normalizes the rate to [0, 1] of maxRate.
func corrosionRate(rate *float64, maxRate float64) float64 {
	if rate == nil || maxRate <= 0 {
		return 0
	}
	return clamp(*rate, 0, maxRate) / maxRate
}

func remainingLife(years *float64, lo, hi float64) float64 {
	if years == nil || hi <= lo {
		return 0.5 // neutral when data unavailable
	}
	return (clamp(*years, lo, hi) - lo) / (hi - lo)
}

func inspectionCount(n *int) float64 {
	if n == nil || *n <= 0 {
		return 0
	}
	return math.Min(math.Log1p(float64(*n))/math.Log1p(inspectionCountScale), 1)
}

// allowanceConsumed is the share of the corrosion allowance already lost.
func allowanceConsumed(design, current, allowance *float64) float64 {
	if design == nil || current == nil || allowance == nil || *allowance <= 0 {
		return 0
	}
	return clamp((*design-*current) / *allowance, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
