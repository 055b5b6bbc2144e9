package report

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/store"
)

// Service loads locations from the store and builds reports over them.
type Service struct {
	store          store.Store
	highConfidence float64
	now            func() time.Time
}

// NewService creates a report service. highConfidence is the confidence
// above which a prediction counts as high confidence.
func NewService(st store.Store, highConfidence float64) *Service {
	return &Service{store: st, highConfidence: highConfidence, now: time.Now}
}

func (s *Service) load(ctx context.Context, filter store.LocationFilter) ([]model.MonitoringLocation, error) {
	locs, err := s.store.ListLocations(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "report: list locations")
	}
	return locs, nil
}

// Summary returns the overview of all locations.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	locs, err := s.load(ctx, store.LocationFilter{})
	if err != nil {
		return Summary{}, err
	}
	return BuildSummary(locs), nil
}

// Metrics returns the dashboard metrics.
func (s *Service) Metrics(ctx context.Context) (DashboardMetrics, error) {
	locs, err := s.load(ctx, store.LocationFilter{})
	if err != nil {
		return DashboardMetrics{}, err
	}
	return BuildMetrics(locs, s.now().UTC()), nil
}

// FacilityBreakdown returns per-facility counts.
func (s *Service) FacilityBreakdown(ctx context.Context) (map[string]*FacilityCounts, error) {
	locs, err := s.load(ctx, store.LocationFilter{})
	if err != nil {
		return nil, err
	}
	return FacilityBreakdown(locs), nil
}

// CorrosionTrends returns corrosion rates grouped by commodity.
func (s *Service) CorrosionTrends(ctx context.Context) ([]Trend, error) {
	locs, err := s.load(ctx, store.LocationFilter{})
	if err != nil {
		return nil, err
	}
	return CorrosionTrends(locs), nil
}

// RiskMatrix returns the corrosion rate / remaining life grid.
func (s *Service) RiskMatrix(ctx context.Context) ([]MatrixPoint, error) {
	locs, err := s.load(ctx, store.LocationFilter{})
	if err != nil {
		return nil, err
	}
	return RiskMatrix(locs), nil
}

// EliminationSummary lists the current elimination candidates.
func (s *Service) EliminationSummary(ctx context.Context) (EliminationSummary, error) {
	locs, err := s.load(ctx, store.LocationFilter{EliminationOnly: true})
	if err != nil {
		return EliminationSummary{}, err
	}
	return BuildEliminationSummary(locs), nil
}

// Statistics returns the statistical summary.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	locs, err := s.load(ctx, store.LocationFilter{})
	if err != nil {
		return Statistics{}, err
	}
	return BuildStatistics(locs, s.highConfidence), nil
}

// Export writes the locations matching filter as an xlsx workbook. No
// matching location is ErrNotFound.
func (s *Service) Export(ctx context.Context, w io.Writer, filter store.LocationFilter) (int, error) {
	locs, err := s.load(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(locs) == 0 {
		return 0, eris.Wrap(model.ErrNotFound, "report: no locations to export")
	}
	if err := WriteXLSX(w, locs); err != nil {
		return 0, err
	}
	return len(locs), nil
}
