// Package forecast projects future wall thickness of a monitoring location
// and estimates when it crosses the minimum allowable thickness.
package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/model"
)

const (
	// MinReadings is the number of distinct reading dates a forecast needs.
	MinReadings = 3
	// ConfidenceLevel of the linear prediction band.
	ConfidenceLevel = 0.95

	daysPerYear = 365.25
	// Bands narrower than this are rounding noise from an exact fit.
	minBand = 1e-6
)

// Engine runs a registered strategy over a reading history.
type Engine struct {
	registry   *Registry
	maxHorizon int
	marginMM   float64
}

// NewEngine creates an Engine. Horizons above maxHorizon are rejected and
// strategies without a band get central ± marginMM.
func NewEngine(registry *Registry, maxHorizon int, marginMM float64) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{registry: registry, maxHorizon: maxHorizon, marginMM: marginMM}
}

// Registry returns the engine's strategy registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Forecast projects horizon monthly points after the last reading. The
// returned run carries the strategy, horizon, points and the first point
// whose central value is at or below minAllowable. Identity and location
// fields are left for the caller.
func (e *Engine) Forecast(history []model.ThicknessReading, horizon int, strategyID string, minAllowable float64) (*model.ForecastRun, error) {
	if horizon < 1 || horizon > e.maxHorizon {
		return nil, eris.Wrapf(model.ErrInvalidHorizon, "forecast: horizon %d not in 1..%d", horizon, e.maxHorizon)
	}
	strategy, err := e.registry.Get(strategyID)
	if err != nil {
		return nil, err
	}

	origin, last, series := buildSeries(history)
	if len(series) < MinReadings {
		return nil, eris.Wrapf(model.ErrInsufficientHistory, "forecast: %d distinct reading dates, need %d", len(series), MinReadings)
	}

	dates := make([]time.Time, horizon)
	at := make([]float64, horizon)
	for i := range dates {
		dates[i] = addMonths(last, i+1)
		at[i] = yearsBetween(origin, dates[i])
	}

	projections, err := strategy.Project(series, at)
	if err != nil {
		return nil, err
	}
	if len(projections) != horizon {
		return nil, eris.Errorf("forecast: strategy %s returned %d points, want %d", strategy.Name(), len(projections), horizon)
	}

	run := &model.ForecastRun{
		Strategy:        strategy.Name(),
		Horizon:         horizon,
		ConfidenceLevel: ConfidenceLevel,
		MinAllowableMM:  minAllowable,
		Points:          make([]model.ForecastPoint, horizon),
	}
	for i, p := range projections {
		band := p.Band
		if band < minBand || math.IsNaN(band) {
			band = e.marginMM
		}
		run.Points[i] = model.ForecastPoint{
			Date:        dates[i],
			PredictedMM: round2(p.Central),
			LowerMM:     round2(p.Central - band),
			UpperMM:     round2(p.Central + band),
		}
	}
	run.EstimatedFailureDate = FailureDate(run.Points, minAllowable)
	return run, nil
}

// FailureDate returns the date of the first point whose predicted
// thickness is at or below minAllowable, or nil when none is.
func FailureDate(points []model.ForecastPoint, minAllowable float64) *time.Time {
	for _, p := range points {
		if p.PredictedMM <= minAllowable {
			d := p.Date
			return &d
		}
	}
	return nil
}

// buildSeries sorts readings and collapses same-date readings into their
// mean. T is years since the first date. It also returns the first and
// last reading dates.
func buildSeries(history []model.ThicknessReading) (origin, last time.Time, series []Sample) {
	if len(history) == 0 {
		return time.Time{}, time.Time{}, nil
	}
	sorted := make([]model.ThicknessReading, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	origin = dateOnly(sorted[0].Date)
	var (
		sum   float64
		count int
		cur   time.Time
	)
	flush := func() {
		if count == 0 {
			return
		}
		if count > 1 {
			zap.L().Warn("forecast: multiple readings on one date, using mean",
				zap.String("location_id", sorted[0].LocationID),
				zap.String("date", cur.Format("2006-01-02")),
				zap.Int("readings", count),
			)
		}
		series = append(series, Sample{T: yearsBetween(origin, cur), Y: sum / float64(count)})
		last = cur
	}
	for _, r := range sorted {
		d := dateOnly(r.Date)
		if count > 0 && !d.Equal(cur) {
			flush()
			sum, count = 0, 0
		}
		cur = d
		sum += r.ThicknessMM
		count++
	}
	flush()
	return origin, last, series
}

func yearsBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24 / daysPerYear
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// addMonths moves n calendar months forward, clamping the day to the
// target month's length.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
