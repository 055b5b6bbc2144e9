package model

import "time"

// Decision is an SME override decision.
type Decision string

const (
	DecisionKeep      Decision = "keep"
	DecisionEliminate Decision = "eliminate"
)

// ParseDecision validates a raw decision value.
func ParseDecision(raw string) (Decision, error) {
	switch Decision(raw) {
	case DecisionKeep, DecisionEliminate:
		return Decision(raw), nil
	default:
		return "", ErrInvalidOverride
	}
}

// DecisionState is the derived state of a location's elimination decision.
type DecisionState string

const (
	StateUnscored   DecisionState = "unscored"
	StateScoredAuto DecisionState = "scored_auto"
	StateOverridden DecisionState = "overridden"
)

// Prediction is the model-provenance block written by the scorer.
type Prediction struct {
	Probability float64            `json:"probability" yaml:"probability"`
	Confidence  float64            `json:"confidence" yaml:"confidence"`
	Threshold   float64            `json:"threshold" yaml:"threshold"`
	Strategy    string             `json:"strategy" yaml:"strategy"`
	PredictedAt time.Time          `json:"predicted_at" yaml:"predicted_at"`
	Attribution map[string]float64 `json:"attribution,omitempty" yaml:"attribution,omitempty"`
}

// Recommendation is the scorer's automated verdict.
func (p *Prediction) Recommendation() Decision {
	if p.Probability >= p.Threshold {
		return DecisionEliminate
	}
	return DecisionKeep
}

// Override is the SME override block. All fields change together.
type Override struct {
	Decision  Decision  `json:"decision" yaml:"decision"`
	Reason    string    `json:"reason" yaml:"reason"`
	Actor     string    `json:"actor" yaml:"actor"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// MonitoringLocation is the canonical record of a condition monitoring
// location (CML). Optional attributes are pointers so that a partial
// update can tell "absent" from "zero".
type MonitoringLocation struct {
	LocationID string `json:"location_id" yaml:"location_id"`

	// Classification.
	LineID              *string `json:"line_id,omitempty" yaml:"line_id,omitempty"`
	EquipmentID         *string `json:"equipment_id,omitempty" yaml:"equipment_id,omitempty"`
	Facility            *string `json:"facility,omitempty" yaml:"facility,omitempty"`
	System              *string `json:"system,omitempty" yaml:"system,omitempty"`
	Commodity           *string `json:"commodity,omitempty" yaml:"commodity,omitempty"`
	MaterialType        *string `json:"material_type,omitempty" yaml:"material_type,omitempty"`
	FeatureType         *string `json:"feature_type,omitempty" yaml:"feature_type,omitempty"`
	CMLShape            *string `json:"cml_shape,omitempty" yaml:"cml_shape,omitempty"`
	IsometricID         *string `json:"isometric_id,omitempty" yaml:"isometric_id,omitempty"`
	InspectionTechnique *string `json:"inspection_technique,omitempty" yaml:"inspection_technique,omitempty"`

	// Thickness metrics (mm).
	DesignThicknessMM       *float64 `json:"design_thickness_mm,omitempty" yaml:"design_thickness_mm,omitempty"`
	MinAllowableThicknessMM *float64 `json:"min_allowable_thickness_mm,omitempty" yaml:"min_allowable_thickness_mm,omitempty"`
	CorrosionAllowanceMM    *float64 `json:"corrosion_allowance_mm,omitempty" yaml:"corrosion_allowance_mm,omitempty"`
	CurrentThicknessMM      *float64 `json:"current_thickness_mm,omitempty" yaml:"current_thickness_mm,omitempty"`

	// Derived metrics.
	AverageCorrosionRate *float64 `json:"average_corrosion_rate,omitempty" yaml:"average_corrosion_rate,omitempty"`
	RemainingLifeYears   *float64 `json:"remaining_life_years,omitempty" yaml:"remaining_life_years,omitempty"`

	// Inspection metadata.
	YearsInService                *int       `json:"years_in_service,omitempty" yaml:"years_in_service,omitempty"`
	NumberOfInspections           *int       `json:"number_of_inspections,omitempty" yaml:"number_of_inspections,omitempty"`
	FirstInspectionDate           *time.Time `json:"first_inspection_date,omitempty" yaml:"first_inspection_date,omitempty"`
	LastInspectionDate            *time.Time `json:"last_inspection_date,omitempty" yaml:"last_inspection_date,omitempty"`
	DataQualityScore              *float64   `json:"data_quality_score,omitempty" yaml:"data_quality_score,omitempty"`
	Notes                         *string    `json:"notes,omitempty" yaml:"notes,omitempty"`
	InspectionHistoryDates        *string    `json:"inspection_history_dates,omitempty" yaml:"inspection_history_dates,omitempty"`
	InspectionHistoryMeasurements *string    `json:"inspection_history_measurements,omitempty" yaml:"inspection_history_measurements,omitempty"`

	RiskCategory RiskCategory `json:"risk_category,omitempty" yaml:"risk_category,omitempty"`

	// Decision block.
	EliminationCandidate bool `json:"elimination_candidate" yaml:"elimination_candidate"`
	RequiresReview       bool `json:"requires_review" yaml:"requires_review"`

	Prediction *Prediction `json:"prediction,omitempty" yaml:"prediction,omitempty"`
	Override   *Override   `json:"override,omitempty" yaml:"override,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// State derives the decision state from the provenance and override blocks.
func (l *MonitoringLocation) State() DecisionState {
	switch {
	case l.Override != nil:
		return StateOverridden
	case l.Prediction != nil:
		return StateScoredAuto
	default:
		return StateUnscored
	}
}

// Str returns the value of an optional string, or "" when unset.
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Float returns the value of an optional float, or 0 when unset.
func Float(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Int returns the value of an optional int, or 0 when unset.
func Int(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
