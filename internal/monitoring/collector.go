// Package monitoring watches upload quality and asset integrity and raises
// webhook alerts when thresholds are breached.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/store"
)

// maxImminentIDs bounds the location ids carried in a snapshot.
const maxImminentIDs = 20

// outcomeScanLimit bounds the upload history read per collection.
const outcomeScanLimit = 10000

// MetricsSnapshot holds a point-in-time view of upload and asset health.
type MetricsSnapshot struct {
	// Upload metrics (within lookback window).
	UploadsTotal   int     `json:"uploads_total"`
	UploadsPartial int     `json:"uploads_partial"`
	UploadsFailed  int     `json:"uploads_failed"`
	RowsTotal      int     `json:"rows_total"`
	RowsFailed     int     `json:"rows_failed"`
	RowFailRate    float64 `json:"row_fail_rate"`

	// Asset metrics (current state).
	LocationsTotal   int      `json:"locations_total"`
	ImminentFailures int      `json:"imminent_failures"`
	ImminentIDs      []string `json:"imminent_ids,omitempty"`
	ReviewBacklog    int      `json:"review_backlog"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the slice of the store the collector reads.
type Source interface {
	ListOutcomes(ctx context.Context, limit int) ([]model.ReconciliationOutcome, error)
	ListLocations(ctx context.Context, filter store.LocationFilter) ([]model.MonitoringLocation, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	source       Source
	criticalLife float64
	now          func() time.Time
}

// NewCollector creates a metrics collector. Locations with less than
// criticalLife years remaining, or already at or below their minimum
// allowable thickness, count as imminent failures.
func NewCollector(src Source, criticalLife float64) *Collector {
	return &Collector{source: src, criticalLife: criticalLife, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	outcomes, err := c.source.ListOutcomes(ctx, outcomeScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list outcomes")
	}
	for _, o := range outcomes {
		if o.UploadedAt.Before(cutoff) {
			continue
		}
		snap.UploadsTotal++
		switch o.Status {
		case model.BatchPartial:
			snap.UploadsPartial++
		case model.BatchFailed:
			snap.UploadsFailed++
		}
		snap.RowsTotal += o.TotalRows
		snap.RowsFailed += o.Failed
	}
	if snap.RowsTotal > 0 {
		snap.RowFailRate = float64(snap.RowsFailed) / float64(snap.RowsTotal)
	}

	locs, err := c.source.ListLocations(ctx, store.LocationFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list locations")
	}
	snap.LocationsTotal = len(locs)
	for i := range locs {
		loc := &locs[i]
		if loc.RequiresReview && loc.Override == nil {
			snap.ReviewBacklog++
		}
		if c.imminent(loc) {
			snap.ImminentFailures++
			snap.ImminentIDs = append(snap.ImminentIDs, loc.LocationID)
		}
	}
	sort.Strings(snap.ImminentIDs)
	if len(snap.ImminentIDs) > maxImminentIDs {
		snap.ImminentIDs = snap.ImminentIDs[:maxImminentIDs]
	}

	return snap, nil
}

// imminent reports whether loc is at or near its retirement thickness.
// Locations an SME has kept off the elimination list still count.
func (c *Collector) imminent(loc *model.MonitoringLocation) bool {
	if loc.CurrentThicknessMM != nil && loc.MinAllowableThicknessMM != nil &&
		*loc.CurrentThicknessMM <= *loc.MinAllowableThicknessMM {
		return true
	}
	return loc.RemainingLifeYears != nil && *loc.RemainingLifeYears < c.criticalLife
}
