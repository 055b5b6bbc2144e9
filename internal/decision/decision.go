// Package decision reconciles automated elimination recommendations with
// SME overrides into one durable decision per location.
//
// The state of a location is derived from its record: no provenance and no
// override is Unscored, provenance only is ScoredAuto, and any override is
// Overridden. elimination_candidate is recomputed by Derive after every
// transition, so an override always wins over the scorer.
package decision

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/model"
)

// Score is one scorer result ready to be applied to a location.
type Score struct {
	Prediction     model.Prediction
	RequiresReview bool
}

// Derive sets elimination_candidate from the decision state. Unscored
// locations keep their uploaded label.
func Derive(loc *model.MonitoringLocation) {
	switch loc.State() {
	case model.StateOverridden:
		loc.EliminationCandidate = loc.Override.Decision == model.DecisionEliminate
	case model.StateScoredAuto:
		loc.EliminationCandidate = loc.Prediction.Recommendation() == model.DecisionEliminate
	}
}

// ApplyScore records a scorer result. An existing override stays
// authoritative unless clearOverride is set.
func ApplyScore(loc *model.MonitoringLocation, s Score, clearOverride bool) {
	p := s.Prediction
	loc.Prediction = &p
	loc.RequiresReview = s.RequiresReview
	if clearOverride {
		loc.Override = nil
	}
	Derive(loc)
}

// NewOverride validates an override request.
func NewOverride(decision, reason, actor string, at time.Time) (*model.Override, error) {
	d, err := model.ParseDecision(strings.TrimSpace(decision))
	if err != nil {
		return nil, eris.Wrapf(err, "decision: unsupported decision %q", decision)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, eris.Wrap(model.ErrInvalidOverride, "decision: actor is required")
	}
	return &model.Override{
		Decision:  d,
		Reason:    strings.TrimSpace(reason),
		Actor:     actor,
		Timestamp: at.UTC(),
	}, nil
}

// ApplyOverride replaces the whole override block.
func ApplyOverride(loc *model.MonitoringLocation, decision, reason, actor string, at time.Time) error {
	ov, err := NewOverride(decision, reason, actor, at)
	if err != nil {
		return err
	}
	loc.Override = ov
	Derive(loc)
	return nil
}

// ClearOverride drops the override. A location that was never scored
// falls back to keep.
func ClearOverride(loc *model.MonitoringLocation) {
	loc.Override = nil
	if loc.State() == model.StateUnscored {
		loc.EliminationCandidate = false
		return
	}
	Derive(loc)
}
