package forecast

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/model"
)

// Strategy identifiers.
const (
	StrategyLinear = "linear"
	StrategyHolt   = "holt"
	StrategyRate   = "rate"
)

// Sample is one observation on the fitting time axis. T is measured in
// years since the first reading.
type Sample struct {
	T float64
	Y float64
}

// Projection is a predicted thickness with an optional symmetric band.
// Band is zero when the strategy produces none.
type Projection struct {
	Central float64
	Band    float64
}

// Strategy projects thickness at future times from a sorted series.
type Strategy interface {
	Name() string
	Project(series []Sample, at []float64) ([]Projection, error)
}

// Registry maps strategy ids to their implementations.
type Registry struct {
	strategies map[string]Strategy
	order      []string
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(Linear{})
	r.Register(Holt{Alpha: 0.6, Beta: 0.3})
	r.Register(Rate{})
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	name := s.Name()
	if _, ok := r.strategies[name]; !ok {
		r.order = append(r.order, name)
	}
	r.strategies[name] = s
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, eris.Wrapf(model.ErrUnknownStrategy, "forecast: strategy %q", name)
	}
	return s, nil
}

// Names lists registered strategies in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Linear fits ordinary least squares of thickness on time. The band is
// 1.96 residual standard errors.
type Linear struct{}

// Name implements Strategy.
func (Linear) Name() string { return StrategyLinear }

// Project implements Strategy.
func (Linear) Project(series []Sample, at []float64) ([]Projection, error) {
	n := float64(len(series))
	var meanT, meanY float64
	for _, s := range series {
		meanT += s.T
		meanY += s.Y
	}
	meanT /= n
	meanY /= n

	var sxx, sxy float64
	for _, s := range series {
		dt := s.T - meanT
		sxx += dt * dt
		sxy += dt * (s.Y - meanY)
	}
	if sxx == 0 {
		return nil, eris.Wrap(model.ErrInsufficientHistory, "forecast: linear: readings share one date")
	}
	slope := sxy / sxx
	intercept := meanY - slope*meanT

	var band float64
	if len(series) > 2 {
		var sse float64
		for _, s := range series {
			r := s.Y - (intercept + slope*s.T)
			sse += r * r
		}
		band = 1.96 * math.Sqrt(sse/(n-2))
	}

	out := make([]Projection, len(at))
	for i, t := range at {
		out[i] = Projection{Central: intercept + slope*t, Band: band}
	}
	return out, nil
}

// Holt is double exponential smoothing with a level and a per-year trend.
// Irregular spacing scales the trend by the gap between readings.
type Holt struct {
	Alpha float64
	Beta  float64
}

// Name implements Strategy.
func (Holt) Name() string { return StrategyHolt }

// Project implements Strategy.
func (h Holt) Project(series []Sample, at []float64) ([]Projection, error) {
	level := series[0].Y
	trend := (series[1].Y - series[0].Y) / (series[1].T - series[0].T)

	for i := 1; i < len(series); i++ {
		dt := series[i].T - series[i-1].T
		prev := level
		level = h.Alpha*series[i].Y + (1-h.Alpha)*(level+trend*dt)
		trend = h.Beta*(level-prev)/dt + (1-h.Beta)*trend
	}

	last := series[len(series)-1].T
	out := make([]Projection, len(at))
	for i, t := range at {
		out[i] = Projection{Central: level + trend*(t-last)}
	}
	return out, nil
}

// Rate extends the last reading by the mean of the historical
// per-interval loss rates.
type Rate struct{}

// Name implements Strategy.
func (Rate) Name() string { return StrategyRate }

// Project implements Strategy.
func (Rate) Project(series []Sample, at []float64) ([]Projection, error) {
	var sum float64
	for i := 1; i < len(series); i++ {
		sum += (series[i-1].Y - series[i].Y) / (series[i].T - series[i-1].T)
	}
	rate := sum / float64(len(series)-1)

	last := series[len(series)-1]
	out := make([]Projection, len(at))
	for i, t := range at {
		out[i] = Projection{Central: last.Y - rate*(t-last.T)}
	}
	return out, nil
}
