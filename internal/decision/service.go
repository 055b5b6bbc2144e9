package decision

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/store"
)

// Service runs decision transitions inside the store's per-location
// transactional update.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a decision service.
func NewService(st store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// Override sets an SME override on an existing location.
func (s *Service) Override(ctx context.Context, id, decision, reason, actor string) (*model.MonitoringLocation, error) {
	ov, err := NewOverride(decision, reason, actor, s.now())
	if err != nil {
		return nil, err
	}

	loc, _, err := s.store.UpdateLocation(ctx, id, func(loc *model.MonitoringLocation, exists bool) error {
		if !exists {
			return eris.Wrapf(model.ErrNotFound, "decision: location %s", id)
		}
		o := *ov
		loc.Override = &o
		Derive(loc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("decision: override applied",
		zap.String("location_id", id),
		zap.String("decision", string(ov.Decision)),
		zap.String("actor", ov.Actor),
	)
	return loc, nil
}

// ClearOverride removes the override from an existing location.
func (s *Service) ClearOverride(ctx context.Context, id string) (*model.MonitoringLocation, error) {
	loc, _, err := s.store.UpdateLocation(ctx, id, func(loc *model.MonitoringLocation, exists bool) error {
		if !exists {
			return eris.Wrapf(model.ErrNotFound, "decision: location %s", id)
		}
		ClearOverride(loc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("decision: override cleared", zap.String("location_id", id))
	return loc, nil
}

// ApplyScore persists a scorer result on an existing location.
func (s *Service) ApplyScore(ctx context.Context, id string, score Score, clearOverride bool) (*model.MonitoringLocation, error) {
	loc, _, err := s.store.UpdateLocation(ctx, id, func(loc *model.MonitoringLocation, exists bool) error {
		if !exists {
			return eris.Wrapf(model.ErrNotFound, "decision: location %s", id)
		}
		ApplyScore(loc, score, clearOverride)
		return nil
	})
	return loc, err
}
