package model

import "time"

// ThicknessReading is one historical wall-thickness observation.
type ThicknessReading struct {
	LocationID  string    `json:"location_id"`
	Date        time.Time `json:"date"`
	ThicknessMM float64   `json:"thickness_mm"`
	Technique   string    `json:"technique,omitempty"`
}

// ForecastPoint is one projected thickness with its uncertainty band.
type ForecastPoint struct {
	Date        time.Time `json:"date"`
	PredictedMM float64   `json:"predicted_thickness"`
	LowerMM     float64   `json:"lower_bound"`
	UpperMM     float64   `json:"upper_bound"`
}

// ForecastRun is an immutable, persisted forecast for one location.
type ForecastRun struct {
	ID                   string          `json:"id"`
	LocationID           string          `json:"location_id"`
	Strategy             string          `json:"strategy"`
	Horizon              int             `json:"horizon"`
	ConfidenceLevel      float64         `json:"confidence"`
	CurrentThicknessMM   float64         `json:"current_thickness"`
	MinAllowableMM       float64         `json:"min_allowable"`
	EstimatedFailureDate *time.Time      `json:"estimated_failure_date,omitempty"`
	Points               []ForecastPoint `json:"forecast_points"`
	CreatedAt            time.Time       `json:"created_at"`
}

// TrainingRun records one training of a scoring strategy.
type TrainingRun struct {
	ID         string             `json:"id"`
	Strategy   string             `json:"strategy"`
	Samples    int                `json:"training_samples"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	ConfigHash string             `json:"config_hash"`
	State      []byte             `json:"-"`
	TrainedAt  time.Time          `json:"trained_at"`
}
