package scorer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/decision"
	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/store"
)

// MaxResults is the number of per-location results an Analysis carries.
const MaxResults = 50

// applyConcurrency bounds concurrent per-location writes.
const applyConcurrency = 4

// Request selects locations and scoring options.
type Request struct {
	IDs           []string             `json:"cml_ids,omitempty"`
	Filter        store.LocationFilter `json:"filter"`
	Strategy      string               `json:"strategy,omitempty"`
	Retrain       bool                 `json:"retrain"`
	Threshold     float64              `json:"threshold,omitempty"` // 0 uses the configured threshold
	ClearOverride bool                 `json:"clear_override,omitempty"`
}

// Result is the scoring outcome of one location.
type Result struct {
	LocationID           string              `json:"location_id"`
	Probability          float64             `json:"probability"`
	Confidence           float64             `json:"confidence"`
	Recommendation       model.Decision      `json:"recommendation"`
	HighConfidence       bool                `json:"high_confidence"`
	RequiresReview       bool                `json:"requires_review"`
	EliminationCandidate bool                `json:"elimination_candidate"`
	State                model.DecisionState `json:"state"`
	Attribution          map[string]float64  `json:"attribution,omitempty"`
	Error                string              `json:"error,omitempty"`
}

// Analysis summarizes one scoring call.
type Analysis struct {
	TotalAnalyzed           int                `json:"total_analyzed"`
	Failed                  int                `json:"failed"`
	EliminationsRecommended int                `json:"eliminations_recommended"`
	HighConfidenceCount     int                `json:"high_confidence_count"`
	Strategy                string             `json:"strategy"`
	Threshold               float64            `json:"threshold"`
	TrainingRunID           string             `json:"training_run_id,omitempty"`
	Timestamp               time.Time          `json:"analysis_timestamp"`
	Results                 []Result           `json:"results"`
	Metrics                 map[string]float64 `json:"model_metrics,omitempty"`
}

// Scorer scores locations and hands each result to the decision service.
type Scorer struct {
	store     store.Store
	decisions *decision.Service
	model     config.ModelConfig
	features  config.FeatureConfig
	now       func() time.Time
}

// New creates a Scorer after validating its configuration.
func New(st store.Store, decisions *decision.Service, m config.ModelConfig, f config.FeatureConfig) (*Scorer, error) {
	if err := ValidateConfig(m, f); err != nil {
		return nil, err
	}
	return &Scorer{store: st, decisions: decisions, model: m, features: f, now: time.Now}, nil
}

// NewStrategy builds a fresh strategy by id.
func (s *Scorer) NewStrategy(name string) (Strategy, error) {
	switch name {
	case StrategyLogistic:
		return NewLogistic(s.model.TrainingIterations, s.model.LearningRate), nil
	case StrategyRules:
		return NewRules(), nil
	default:
		return nil, eris.Wrapf(model.ErrUnknownStrategy, "scorer: strategy %q", name)
	}
}

// Score estimates every selected location, applies the review rules and
// persists each result through the decision service. Overrides are never
// touched unless req.ClearOverride is set.
//
// Each location is written independently, so a failed write leaves the
// others applied. Failures are reported per result and counted in
// Analysis.Failed; an error is returned only when every write failed.
func (s *Scorer) Score(ctx context.Context, req Request) (*Analysis, error) {
	name := req.Strategy
	if name == "" {
		name = s.model.DefaultStrategy
	}
	threshold := s.model.EliminationThreshold
	if req.Threshold > 0 {
		threshold = req.Threshold
	}
	if threshold > 1 {
		return nil, eris.Errorf("scorer: threshold %.2f must be between 0 and 1", threshold)
	}

	strategy, err := s.NewStrategy(name)
	if err != nil {
		return nil, err
	}

	filter := req.Filter
	if len(req.IDs) > 0 {
		filter.IDs = req.IDs
	}
	locs, err := s.store.ListLocations(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "scorer: list locations")
	}
	if len(locs) == 0 {
		return nil, eris.Wrap(model.ErrNotFound, "scorer: no locations match")
	}

	analysis := &Analysis{Strategy: name, Threshold: threshold}
	if t, ok := strategy.(Trainable); ok {
		run, err := s.prepare(ctx, t, locs, req.Retrain)
		if err != nil {
			return nil, err
		}
		analysis.TrainingRunID = run.ID
		analysis.Metrics = run.Metrics
	}

	now := s.now().UTC()
	results := make([]Result, len(locs))

	var g errgroup.Group
	g.SetLimit(applyConcurrency)
	errs := make([]error, len(locs))
	for i := range locs {
		loc := &locs[i]
		g.Go(func() error {
			score := s.evaluate(strategy, loc, threshold, now)
			updated, err := s.decisions.ApplyScore(ctx, loc.LocationID, score, req.ClearOverride)
			if err != nil {
				errs[i] = eris.Wrapf(err, "scorer: apply score to %s", loc.LocationID)
				results[i] = Result{LocationID: loc.LocationID, State: loc.State(), Error: errs[i].Error()}
				return nil
			}
			results[i] = newResult(updated, score, s.model.ConfidenceThreshold)
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range results {
		if errs[i] != nil {
			analysis.Failed++
			zap.L().Warn("scorer: location not scored", zap.String("location_id", r.LocationID), zap.Error(errs[i]))
			continue
		}
		if r.EliminationCandidate {
			analysis.EliminationsRecommended++
		}
		if r.HighConfidence {
			analysis.HighConfidenceCount++
		}
	}
	if analysis.Failed == len(results) {
		return nil, errs[0]
	}
	analysis.TotalAnalyzed = len(results) - analysis.Failed
	analysis.Timestamp = now
	if len(results) > MaxResults {
		results = results[:MaxResults]
	}
	analysis.Results = results

	zap.L().Info("scorer: scoring complete",
		zap.String("strategy", name),
		zap.Int("analyzed", analysis.TotalAnalyzed),
		zap.Int("failed", analysis.Failed),
		zap.Int("eliminations", analysis.EliminationsRecommended),
		zap.Int("high_confidence", analysis.HighConfidenceCount),
	)
	return analysis, nil
}

func (s *Scorer) evaluate(strategy Strategy, loc *model.MonitoringLocation, threshold float64, at time.Time) decision.Score {
	est := strategy.Estimate(Extract(loc, s.features))
	pred := model.Prediction{
		Probability: est.Probability,
		Confidence:  est.Confidence,
		Threshold:   threshold,
		Strategy:    strategy.Name(),
		PredictedAt: at,
		Attribution: est.Attribution,
	}
	return decision.Score{
		Prediction:     pred,
		RequiresReview: RequiresReview(loc, &pred, s.model),
	}
}

// RequiresReview applies the deterministic review rules: a Critical or
// High risk location recommended for elimination, a location with less
// than the configured remaining life recommended for elimination, or any
// low-confidence estimate.
func RequiresReview(loc *model.MonitoringLocation, p *model.Prediction, m config.ModelConfig) bool {
	if p.Confidence < m.ReviewConfidence {
		return true
	}
	if p.Recommendation() != model.DecisionEliminate {
		return false
	}
	if loc.RiskCategory == model.RiskCritical || loc.RiskCategory == model.RiskHigh {
		return true
	}
	return loc.RemainingLifeYears != nil && *loc.RemainingLifeYears < m.ReviewRemainingLife
}

func newResult(loc *model.MonitoringLocation, score decision.Score, highConfidence float64) Result {
	p := score.Prediction
	return Result{
		LocationID:           loc.LocationID,
		Probability:          p.Probability,
		Confidence:           p.Confidence,
		Recommendation:       p.Recommendation(),
		HighConfidence:       p.Confidence > highConfidence,
		RequiresReview:       loc.RequiresReview,
		EliminationCandidate: loc.EliminationCandidate,
		State:                loc.State(),
		Attribution:          p.Attribution,
	}
}
