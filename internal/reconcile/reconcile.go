// Package reconcile merges inbound batches of location rows into the
// canonical per-location records.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/decision"
	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/store"
)

// Reconciler applies row batches to the store.
type Reconciler struct {
	store    store.Store
	upload   config.UploadConfig
	features config.FeatureConfig
	now      func() time.Time
}

// New creates a Reconciler.
func New(st store.Store, upload config.UploadConfig, features config.FeatureConfig) *Reconciler {
	return &Reconciler{store: st, upload: upload, features: features, now: time.Now}
}

// Reconcile applies rows in order. A failing row never aborts the batch;
// its error is recorded and the loop moves on. Once started the batch runs
// to completion even if ctx is cancelled. The persisted outcome keeps up
// to MaxStoredErrors row errors; the returned copy keeps
// MaxReturnedErrors.
func (r *Reconciler) Reconcile(ctx context.Context, source, actor string, rows []Row) (*model.ReconciliationOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	start := r.now()

	outcome := &model.ReconciliationOutcome{
		ID:         uuid.New().String(),
		Source:     source,
		Actor:      actor,
		TotalRows:  len(rows),
		UploadedAt: start.UTC(),
	}

	for i, row := range rows {
		status, err := r.reconcileRow(ctx, i, row)
		switch status {
		case model.RowCreated:
			outcome.Created++
			outcome.Succeeded++
		case model.RowUpdated:
			outcome.Updated++
			outcome.Succeeded++
		default:
			outcome.Failed++
			if len(outcome.Errors) < r.upload.MaxStoredErrors {
				outcome.Errors = append(outcome.Errors, asRowError(i, err))
			}
			zap.L().Debug("reconcile: row failed", zap.Int("row", i), zap.Error(err))
		}
	}

	outcome.Status = batchStatus(outcome)
	outcome.Duration = r.now().Sub(start)

	if err := r.store.SaveOutcome(ctx, outcome); err != nil {
		return nil, eris.Wrap(err, "reconcile: save outcome")
	}

	zap.L().Info("reconcile: batch complete",
		zap.String("batch_id", outcome.ID),
		zap.String("source", source),
		zap.Int("total", outcome.TotalRows),
		zap.Int("created", outcome.Created),
		zap.Int("updated", outcome.Updated),
		zap.Int("failed", outcome.Failed),
		zap.Duration("duration", outcome.Duration),
	)

	returned := *outcome
	returned.Errors = outcome.Preview(r.upload.MaxReturnedErrors)
	return &returned, nil
}

func (r *Reconciler) reconcileRow(ctx context.Context, index int, row Row) (model.RowStatus, error) {
	p, err := buildPatch(index, row)
	if err != nil {
		return model.RowFailed, err
	}

	_, created, err := r.store.UpdateLocation(ctx, p.id, func(loc *model.MonitoringLocation, _ bool) error {
		p.apply(loc)
		r.deriveMetrics(loc, p)
		decision.Derive(loc)
		return nil
	}, p.readings...)
	if err != nil {
		return model.RowFailed, eris.Wrapf(err, "reconcile: update location %s", p.id)
	}
	if created {
		return model.RowCreated, nil
	}
	return model.RowUpdated, nil
}

// deriveMetrics fills values that follow from others. Remaining life is
// recomputed whenever the row changes one of its inputs without giving
// an explicit value, and filled in when the record has none.
func (r *Reconciler) deriveMetrics(loc *model.MonitoringLocation, p *patch) {
	if !p.lifeGiven && (p.lifeInputs || loc.RemainingLifeYears == nil) {
		loc.RemainingLifeYears = r.remainingLife(loc)
	}

	readings := p.readings
	if len(readings) == 0 {
		return
	}
	first, last := readings[0].Date, readings[len(readings)-1].Date
	if loc.FirstInspectionDate == nil || first.Before(*loc.FirstInspectionDate) {
		loc.FirstInspectionDate = &first
	}
	if loc.LastInspectionDate == nil || last.After(*loc.LastInspectionDate) {
		loc.LastInspectionDate = &last
	}
}

// remainingLife is (current - min) / rate, clamped to the configured
// bounds. A missing input keeps the stored value; a rate that is not
// positive yields nil.
func (r *Reconciler) remainingLife(loc *model.MonitoringLocation) *float64 {
	if loc.CurrentThicknessMM == nil || loc.MinAllowableThicknessMM == nil || loc.AverageCorrosionRate == nil {
		return loc.RemainingLifeYears
	}
	rate := *loc.AverageCorrosionRate
	if rate <= 0 {
		return nil
	}
	life := clamp((*loc.CurrentThicknessMM-*loc.MinAllowableThicknessMM)/rate,
		r.features.MinRemainingLife, r.features.MaxRemainingLife)
	return &life
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func asRowError(index int, err error) model.RowError {
	var rerr *model.RowError
	if errors.As(err, &rerr) {
		return *rerr
	}
	return model.RowError{Index: index, Message: err.Error(), Err: err}
}

func batchStatus(o *model.ReconciliationOutcome) model.BatchStatus {
	switch {
	case o.Failed == 0:
		return model.BatchSuccess
	case o.Succeeded == 0:
		return model.BatchFailed
	default:
		return model.BatchPartial
	}
}
