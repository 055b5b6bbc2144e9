package decision

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cml-optimizer/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func score(p float64) Score {
	return Score{Prediction: model.Prediction{Probability: p, Confidence: 0.9, Threshold: 0.7, Strategy: "rules"}}
}

func TestApplyScore_Unscored(t *testing.T) {
	loc := &model.MonitoringLocation{LocationID: "CML-1"}
	ApplyScore(loc, score(0.8), false)
	assert.Equal(t, model.StateScoredAuto, loc.State())
	assert.True(t, loc.EliminationCandidate)

	ApplyScore(loc, score(0.2), false)
	assert.False(t, loc.EliminationCandidate)
}

func TestApplyScore_ThresholdInclusive(t *testing.T) {
	loc := &model.MonitoringLocation{}
	ApplyScore(loc, score(0.7), false)
	assert.True(t, loc.EliminationCandidate)
}

func TestApplyScore_OverrideIsSticky(t *testing.T) {
	loc := &model.MonitoringLocation{}
	require.NoError(t, ApplyOverride(loc, "keep", "sme review", "alice", t0))

	ApplyScore(loc, score(0.99), false)
	assert.Equal(t, model.StateOverridden, loc.State())
	assert.False(t, loc.EliminationCandidate)
	require.NotNil(t, loc.Prediction)
	assert.InDelta(t, 0.99, loc.Prediction.Probability, 1e-9)

	ApplyScore(loc, score(0.99), true)
	assert.Equal(t, model.StateScoredAuto, loc.State())
	assert.True(t, loc.EliminationCandidate)
}

func TestApplyOverride(t *testing.T) {
	loc := &model.MonitoringLocation{}
	ApplyScore(loc, score(0.1), false)

	require.NoError(t, ApplyOverride(loc, "eliminate", "  redundant  ", " bob ", t0))
	assert.Equal(t, model.StateOverridden, loc.State())
	assert.True(t, loc.EliminationCandidate)
	assert.Equal(t, "redundant", loc.Override.Reason)
	assert.Equal(t, "bob", loc.Override.Actor)
	assert.Equal(t, t0, loc.Override.Timestamp)

	require.NoError(t, ApplyOverride(loc, "keep", "", "carol", t0.Add(time.Hour)))
	assert.False(t, loc.EliminationCandidate)
	assert.Equal(t, "carol", loc.Override.Actor)
	assert.Empty(t, loc.Override.Reason)
}

func TestApplyOverride_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		decision string
		actor    string
	}{
		{"unknown decision", "remove", "alice"},
		{"empty decision", "", "alice"},
		{"empty actor", "keep", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := &model.MonitoringLocation{}
			err := ApplyOverride(loc, tt.decision, "", tt.actor, t0)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrInvalidOverride)
			assert.Nil(t, loc.Override)
		})
	}
}

func TestClearOverride(t *testing.T) {
	scored := &model.MonitoringLocation{}
	ApplyScore(scored, score(0.9), false)
	require.NoError(t, ApplyOverride(scored, "keep", "", "alice", t0))
	ClearOverride(scored)
	assert.Equal(t, model.StateScoredAuto, scored.State())
	assert.True(t, scored.EliminationCandidate)

	unscored := &model.MonitoringLocation{}
	require.NoError(t, ApplyOverride(unscored, "eliminate", "", "alice", t0))
	ClearOverride(unscored)
	assert.Equal(t, model.StateUnscored, unscored.State())
	assert.False(t, unscored.EliminationCandidate)
}

func TestDerive_UnscoredKeepsLabel(t *testing.T) {
	loc := &model.MonitoringLocation{EliminationCandidate: true}
	Derive(loc)
	assert.True(t, loc.EliminationCandidate)
}

// The flag must always follow the override when one is set and the
// scorer recommendation otherwise, whatever the order of transitions.
func TestDecisionInvariant_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	for seq := 0; seq < 200; seq++ {
		loc := &model.MonitoringLocation{LocationID: "CML-X"}
		for step := 0; step < 20; step++ {
			switch rng.IntN(4) {
			case 0, 1:
				ApplyScore(loc, score(rng.Float64()), rng.IntN(5) == 0)
			case 2:
				d := "keep"
				if rng.IntN(2) == 0 {
					d = "eliminate"
				}
				require.NoError(t, ApplyOverride(loc, d, "", "sme", t0))
			case 3:
				ClearOverride(loc)
			}

			switch loc.State() {
			case model.StateOverridden:
				require.Equal(t, loc.Override.Decision == model.DecisionEliminate, loc.EliminationCandidate)
			case model.StateScoredAuto:
				require.Equal(t, loc.Prediction.Probability >= loc.Prediction.Threshold, loc.EliminationCandidate)
			}
		}
	}
}
