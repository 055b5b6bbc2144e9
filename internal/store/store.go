package store

import (
	"context"

	"github.com/sells-group/cml-optimizer/internal/model"
)

// LocationFilter specifies criteria for listing monitoring locations.
type LocationFilter struct {
	IDs             []string           `json:"ids,omitempty"`
	Facility        string             `json:"facility,omitempty"`
	System          string             `json:"system,omitempty"`
	Risk            model.RiskCategory `json:"risk_level,omitempty"`
	EliminationOnly bool               `json:"elimination_only,omitempty"`
	Limit           int                `json:"limit,omitempty"`
	Offset          int                `json:"offset,omitempty"`
}

// UpdateFunc mutates a location inside a per-key transaction. exists is
// false when no record with the id is stored yet; loc then holds a fresh
// record with only LocationID set. Returning an error aborts the write.
type UpdateFunc func(loc *model.MonitoringLocation, exists bool) error

// Store defines the persistence interface for the CML engine.
type Store interface {
	// Locations
	GetLocation(ctx context.Context, id string) (*model.MonitoringLocation, error)
	ListLocations(ctx context.Context, filter LocationFilter) ([]model.MonitoringLocation, error)
	// UpdateLocation runs a read-modify-write of one location while holding
	// a lock on its id. Readings are appended in the same transaction;
	// readings already stored with the same date and thickness are skipped.
	UpdateLocation(ctx context.Context, id string, fn UpdateFunc, readings ...model.ThicknessReading) (loc *model.MonitoringLocation, created bool, err error)

	// Readings
	ListReadings(ctx context.Context, id string) ([]model.ThicknessReading, error)

	// Forecasts
	SaveForecastRun(ctx context.Context, run *model.ForecastRun) error
	LatestForecastRun(ctx context.Context, id string) (*model.ForecastRun, error)
	ListForecastRuns(ctx context.Context, id string) ([]model.ForecastRun, error)

	// Upload history
	SaveOutcome(ctx context.Context, outcome *model.ReconciliationOutcome) error
	ListOutcomes(ctx context.Context, limit int) ([]model.ReconciliationOutcome, error)

	// Scoring strategy state
	SaveTrainingRun(ctx context.Context, run *model.TrainingRun) error
	LatestTrainingRun(ctx context.Context, strategy string) (*model.TrainingRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
