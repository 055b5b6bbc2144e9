// Package scorer estimates per-location elimination probabilities and
// applies deterministic review rules on top of them.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/config"
)

// DefaultModelConfig returns a config.ModelConfig with sensible defaults.
func DefaultModelConfig() config.ModelConfig {
	return config.ModelConfig{
		EliminationThreshold: 0.70,
		ConfidenceThreshold:  0.85,
		MinTrainingSamples:   50,
		DefaultStrategy:      StrategyLogistic,
		ReviewRemainingLife:  5,
		ReviewConfidence:     0.5,
		TrainingIterations:   2000,
		LearningRate:         0.5,
	}
}

// DefaultFeatureConfig returns the default feature bounds.
func DefaultFeatureConfig() config.FeatureConfig {
	return config.FeatureConfig{
		MaxCorrosionRate: 5.0,
		MinRemainingLife: 0,
		MaxRemainingLife: 100,
	}
}

// ValidateConfig checks that model and feature settings are internally
// consistent.
func ValidateConfig(m config.ModelConfig, f config.FeatureConfig) error {
	var errs []string

	// Probabilities.
	if m.EliminationThreshold < 0 || m.EliminationThreshold > 1 {
		errs = append(errs, "elimination_threshold must be between 0 and 1")
	}
	if m.ConfidenceThreshold < 0 || m.ConfidenceThreshold > 1 {
		errs = append(errs, "confidence_threshold must be between 0 and 1")
	}
	if m.ReviewConfidence < 0 || m.ReviewConfidence > 1 {
		errs = append(errs, "review_confidence must be between 0 and 1")
	}

	// Training.
	if m.MinTrainingSamples < 1 {
		errs = append(errs, "min_training_samples must be >= 1")
	}
	if m.TrainingIterations < 1 {
		errs = append(errs, "training_iterations must be >= 1")
	}
	if m.LearningRate <= 0 {
		errs = append(errs, "learning_rate must be > 0")
	}

	// Feature bounds.
	if f.MaxCorrosionRate <= 0 {
		errs = append(errs, "max_corrosion_rate must be > 0")
	}
	if f.MaxRemainingLife <= f.MinRemainingLife {
		errs = append(errs, "max_remaining_life must be > min_remaining_life")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of the scoring config for reproducibility.
func ConfigHash(cfg any) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}
