package forecast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/store"
)

// Service loads locations and readings, runs the engine and persists
// each run.
type Service struct {
	store  store.Store
	engine *Engine
	cfg    config.ForecastConfig
	now    func() time.Time
}

// NewService creates a forecast service using the built-in strategies.
func NewService(st store.Store, cfg config.ForecastConfig) *Service {
	return &Service{
		store:  st,
		engine: NewEngine(NewRegistry(), cfg.MaxHorizon, cfg.DefaultMarginMM),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine { return s.engine }

// Forecast runs strategy over the stored readings of location id and
// persists the run. Zero horizon and empty strategy fall back to the
// configured defaults.
func (s *Service) Forecast(ctx context.Context, id string, horizon int, strategy string) (*model.ForecastRun, error) {
	if horizon == 0 {
		horizon = s.cfg.DefaultHorizon
	}
	if strategy == "" {
		strategy = s.cfg.DefaultStrategy
	}

	loc, err := s.store.GetLocation(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "forecast: load location %s", id)
	}
	readings, err := s.store.ListReadings(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "forecast: load readings %s", id)
	}

	run, err := s.engine.Forecast(readings, horizon, strategy, model.Float(loc.MinAllowableThicknessMM))
	if err != nil {
		return nil, eris.Wrapf(err, "forecast: location %s", id)
	}

	run.ID = uuid.New().String()
	run.LocationID = id
	run.CreatedAt = s.now().UTC()
	if loc.CurrentThicknessMM != nil {
		run.CurrentThicknessMM = *loc.CurrentThicknessMM
	} else if len(readings) > 0 {
		run.CurrentThicknessMM = readings[len(readings)-1].ThicknessMM
	}

	if err := s.store.SaveForecastRun(ctx, run); err != nil {
		return nil, eris.Wrapf(err, "forecast: save run for %s", id)
	}

	fields := []zap.Field{
		zap.String("location_id", id),
		zap.String("strategy", run.Strategy),
		zap.Int("horizon", run.Horizon),
	}
	if run.EstimatedFailureDate != nil {
		fields = append(fields, zap.Time("estimated_failure_date", *run.EstimatedFailureDate))
	}
	zap.L().Info("forecast: run saved", fields...)
	return run, nil
}

// LatestForecast returns the most recent persisted run for id.
func (s *Service) LatestForecast(ctx context.Context, id string) (*model.ForecastRun, error) {
	if _, err := s.store.GetLocation(ctx, id); err != nil {
		return nil, eris.Wrapf(err, "forecast: load location %s", id)
	}
	run, err := s.store.LatestForecastRun(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "forecast: latest run for %s", id)
	}
	return run, nil
}

// Result is the outcome of one location in ForecastMany.
type Result struct {
	LocationID string             `json:"location_id"`
	Run        *model.ForecastRun `json:"run,omitempty"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// ForecastMany forecasts ids in parallel, at most cfg.Concurrency at a
// time. Failures are reported per location and never stop the others.
// Results are in the order of ids.
func (s *Service) ForecastMany(ctx context.Context, ids []string, horizon int, strategy string) []Result {
	results := make([]Result, len(ids))
	if len(ids) == 0 {
		return results
	}

	limit := s.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, id := range ids {
		g.Go(func() error {
			run, err := s.Forecast(gctx, id, horizon, strategy)
			results[i] = Result{LocationID: id, Run: run, Err: err}
			if err != nil {
				results[i].Error = err.Error()
				zap.L().Warn("forecast: location failed", zap.String("location_id", id), zap.Error(err))
			}
			return nil // don't abort on individual failure
		})
	}
	_ = g.Wait()
	return results
}
