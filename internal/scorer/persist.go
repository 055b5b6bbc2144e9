package scorer

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/model"
)

// prepare readies a trainable strategy. It trains when retraining is
// requested or no state is persisted and there are enough samples;
// otherwise it restores the latest persisted state. It returns the
// training run whose state is in use.
func (s *Scorer) prepare(ctx context.Context, t Trainable, locs []model.MonitoringLocation, retrain bool) (*model.TrainingRun, error) {
	persisted, err := s.store.LatestTrainingRun(ctx, t.Name())
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: load training run for %s", t.Name())
	}

	samples := trainingSamples(locs, s.features)
	enough := len(samples) >= s.model.MinTrainingSamples

	if (retrain || persisted == nil) && enough {
		return s.train(ctx, t, samples)
	}

	if persisted == nil {
		return nil, eris.Wrapf(model.ErrModelUnavailable,
			"scorer: %s has no trained state and %d samples (need %d)",
			t.Name(), len(samples), s.model.MinTrainingSamples)
	}

	if retrain {
		zap.L().Warn("scorer: too few samples to retrain, reusing persisted state",
			zap.String("strategy", t.Name()),
			zap.Int("samples", len(samples)),
			zap.Int("min_samples", s.model.MinTrainingSamples),
			zap.String("training_run_id", persisted.ID),
		)
	}
	if persisted.ConfigHash != s.configHash(t.Name()) {
		zap.L().Warn("scorer: persisted state was trained with a different config",
			zap.String("strategy", t.Name()),
			zap.String("training_run_id", persisted.ID),
		)
	}

	if err := t.Load(persisted.State); err != nil {
		return nil, err
	}
	return persisted, nil
}

func (s *Scorer) train(ctx context.Context, t Trainable, samples []Sample) (*model.TrainingRun, error) {
	state, metrics, err := t.Train(samples)
	if err != nil {
		return nil, err
	}

	run := &model.TrainingRun{
		ID:         uuid.New().String(),
		Strategy:   t.Name(),
		Samples:    len(samples),
		Metrics:    metrics,
		ConfigHash: s.configHash(t.Name()),
		State:      state,
		TrainedAt:  s.now().UTC(),
	}
	if err := s.store.SaveTrainingRun(ctx, run); err != nil {
		return nil, eris.Wrapf(err, "scorer: save training run for %s", t.Name())
	}

	zap.L().Info("scorer: trained strategy",
		zap.String("strategy", t.Name()),
		zap.Int("samples", len(samples)),
		zap.Float64("training_accuracy", metrics["training_accuracy"]),
		zap.String("training_run_id", run.ID),
	)
	return run, nil
}

// trainingSamples labels every location with its override decision when
// one is set, else with its current elimination_candidate flag.
func trainingSamples(locs []model.MonitoringLocation, f config.FeatureConfig) []Sample {
	out := make([]Sample, 0, len(locs))
	for i := range locs {
		loc := &locs[i]
		lbl := loc.EliminationCandidate
		if loc.Override != nil {
			lbl = loc.Override.Decision == model.DecisionEliminate
		}
		out = append(out, Sample{X: Extract(loc, f), Label: lbl})
	}
	return out
}

func (s *Scorer) configHash(strategy string) string {
	return ConfigHash(struct {
		Strategy     string
		Iterations   int
		LearningRate float64
		Features     config.FeatureConfig
	}{strategy, s.model.TrainingIterations, s.model.LearningRate, s.features})
}
