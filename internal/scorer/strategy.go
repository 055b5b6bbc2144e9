package scorer

import (
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/model"
)

// Strategy identifiers.
const (
	StrategyLogistic = "logistic"
	StrategyRules    = "rules"
)

// Estimate is one strategy output.
type Estimate struct {
	Probability float64
	Confidence  float64
	Attribution map[string]float64
}

// Sample is one labelled feature vector. Label is true for eliminate.
type Sample struct {
	X     Vector
	Label bool
}

// Strategy turns a feature vector into an elimination probability.
type Strategy interface {
	Name() string
	Estimate(x Vector) Estimate
}

// Trainable is a Strategy that learns from labelled samples and can be
// restored from persisted state.
type Trainable interface {
	Strategy
	Train(samples []Sample) (state []byte, metrics map[string]float64, err error)
	Load(state []byte) error
}

// linear is a logistic model over the feature vector.
type linear struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func (m *linear) logit(x Vector) float64 {
	z := m.Bias
	for i, w := range m.Weights {
		z += w * x[i]
	}
	return z
}

func (m *linear) estimate(x Vector) Estimate {
	p := sigmoid(m.logit(x))
	attr := make(map[string]float64, len(m.Weights))
	for i, w := range m.Weights {
		attr[FeatureNames[i]] = w * x[i]
	}
	return Estimate{
		Probability: p,
		Confidence:  confidence(p),
		Attribution: attr,
	}
}

// confidence is the distance from the decision boundary, scaled to [0, 1].
func confidence(p float64) float64 {
	return math.Abs(p-0.5) * 2
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Logistic is a logistic regression trained by batch gradient descent.
// Training starts from zero weights and visits samples in order, so equal
// inputs always yield equal state.
type Logistic struct {
	Iterations   int
	LearningRate float64

	model linear
}

// NewLogistic creates an untrained Logistic strategy.
func NewLogistic(iterations int, learningRate float64) *Logistic {
	return &Logistic{
		Iterations:   iterations,
		LearningRate: learningRate,
		model:        linear{Weights: make([]float64, NumFeatures)},
	}
}

// Name implements Strategy.
func (l *Logistic) Name() string { return StrategyLogistic }

// Estimate implements Strategy.
func (l *Logistic) Estimate(x Vector) Estimate { return l.model.estimate(x) }

// Train implements Trainable.
func (l *Logistic) Train(samples []Sample) ([]byte, map[string]float64, error) {
	if len(samples) == 0 {
		return nil, nil, eris.Wrap(model.ErrModelUnavailable, "scorer: logistic: no training samples")
	}

	m := linear{Weights: make([]float64, NumFeatures)}
	n := float64(len(samples))
	grad := make([]float64, NumFeatures)

	for it := 0; it < l.Iterations; it++ {
		for i := range grad {
			grad[i] = 0
		}
		var gradBias float64
		for _, s := range samples {
			diff := sigmoid(m.logit(s.X)) - label(s.Label)
			for i := range grad {
				grad[i] += diff * s.X[i]
			}
			gradBias += diff
		}
		for i := range m.Weights {
			m.Weights[i] -= l.LearningRate * grad[i] / n
		}
		m.Bias -= l.LearningRate * gradBias / n
	}

	l.model = m
	state, err := json.Marshal(m)
	if err != nil {
		return nil, nil, eris.Wrap(err, "scorer: logistic: marshal state")
	}
	return state, trainingMetrics(&m, samples), nil
}

// Load implements Trainable.
func (l *Logistic) Load(state []byte) error {
	var m linear
	if err := json.Unmarshal(state, &m); err != nil {
		return eris.Wrap(err, "scorer: logistic: unmarshal state")
	}
	if len(m.Weights) != NumFeatures {
		return eris.Wrapf(model.ErrModelUnavailable,
			"scorer: logistic: state has %d weights, want %d", len(m.Weights), NumFeatures)
	}
	l.model = m
	return nil
}

func label(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// trainingMetrics reports accuracy and mean log loss at p = 0.5.
func trainingMetrics(m *linear, samples []Sample) map[string]float64 {
	var correct, positives int
	var loss float64
	for _, s := range samples {
		p := sigmoid(m.logit(s.X))
		if (p >= 0.5) == s.Label {
			correct++
		}
		if s.Label {
			positives++
		}
		p = clamp(p, 1e-12, 1-1e-12)
		if s.Label {
			loss -= math.Log(p)
		} else {
			loss -= math.Log(1 - p)
		}
	}
	n := float64(len(samples))
	return map[string]float64{
		"training_accuracy": float64(correct) / n,
		"log_loss":          loss / n,
		"positive_rate":     float64(positives) / n,
	}
}

// Rules is a fixed-weight strategy that needs no training. Thick,
// slowly corroding, long-lived, low-risk locations score high.
type Rules struct {
	model linear
}

// NewRules creates the fixed-weight strategy.
func NewRules() *Rules {
	return &Rules{model: linear{
		Weights: []float64{
			3.0,  // margin ratio
			-4.0, // corrosion rate
			3.0,  // remaining life
			0.5,  // inspection count
			-3.0, // critical
			-1.5, // high
			0,    // medium
			1.0,  // low
			-2.0, // allowance consumed
		},
		Bias: -1.0,
	}}
}

// Name implements Strategy.
func (r *Rules) Name() string { return StrategyRules }

// Estimate implements Strategy.
func (r *Rules) Estimate(x Vector) Estimate { return r.model.estimate(x) }
