package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cml-optimizer/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedLocation(t *testing.T, st Store, id string, mutate func(loc *model.MonitoringLocation)) *model.MonitoringLocation {
	t.Helper()
	loc, created, err := st.UpdateLocation(context.Background(), id, func(loc *model.MonitoringLocation, _ bool) error {
		if mutate != nil {
			mutate(loc)
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, created)
	return loc
}

// --- Locations ---

func TestSQLite_UpdateLocation_CreateThenUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	loc, created, err := st.UpdateLocation(ctx, "CML-001", func(loc *model.MonitoringLocation, exists bool) error {
		assert.False(t, exists)
		assert.Equal(t, "CML-001", loc.LocationID)
		loc.Facility = ptr("Plant A")
		loc.RiskCategory = model.RiskHigh
		return nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, loc.CreatedAt.IsZero())

	loc, created, err = st.UpdateLocation(ctx, "CML-001", func(loc *model.MonitoringLocation, exists bool) error {
		assert.True(t, exists)
		assert.Equal(t, "Plant A", model.Str(loc.Facility))
		loc.CurrentThicknessMM = ptr(8.5)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := st.GetLocation(ctx, "CML-001")
	require.NoError(t, err)
	assert.Equal(t, "Plant A", model.Str(got.Facility))
	assert.Equal(t, model.RiskHigh, got.RiskCategory)
	assert.InDelta(t, 8.5, model.Float(got.CurrentThicknessMM), 1e-9)
	assert.Equal(t, loc.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())
}

func TestSQLite_UpdateLocation_FuncErrorAbortsWrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	_, _, err := st.UpdateLocation(ctx, "CML-404", func(_ *model.MonitoringLocation, exists bool) error {
		if !exists {
			return model.ErrNotFound
		}
		return boom
	})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = st.GetLocation(ctx, "CML-404")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLite_UpdateLocation_Concurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLocation(t, st, "CML-C", func(loc *model.MonitoringLocation) { loc.NumberOfInspections = ptr(0) })

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := st.UpdateLocation(ctx, "CML-C", func(loc *model.MonitoringLocation, _ bool) error {
				loc.NumberOfInspections = ptr(model.Int(loc.NumberOfInspections) + 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := st.GetLocation(ctx, "CML-C")
	require.NoError(t, err)
	assert.Equal(t, writers, model.Int(got.NumberOfInspections))
	assert.Zero(t, st.locks.size())
}

func TestSQLite_GetLocation_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetLocation(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLite_ListLocations_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, fac := range []string{"Plant A", "Plant A", "Plant B"} {
		id := fmt.Sprintf("CML-%03d", i)
		seedLocation(t, st, id, func(loc *model.MonitoringLocation) {
			loc.Facility = ptr(fac)
			loc.RiskCategory = model.RiskLow
			loc.EliminationCandidate = i == 2
		})
	}

	all, err := st.ListLocations(ctx, LocationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "CML-000", all[0].LocationID)

	plantA, err := st.ListLocations(ctx, LocationFilter{Facility: "Plant A"})
	require.NoError(t, err)
	assert.Len(t, plantA, 2)

	elim, err := st.ListLocations(ctx, LocationFilter{EliminationOnly: true})
	require.NoError(t, err)
	require.Len(t, elim, 1)
	assert.Equal(t, "CML-002", elim[0].LocationID)

	byID, err := st.ListLocations(ctx, LocationFilter{IDs: []string{"CML-000", "CML-002"}})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	page, err := st.ListLocations(ctx, LocationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "CML-001", page[0].LocationID)

	none, err := st.ListLocations(ctx, LocationFilter{Risk: model.RiskCritical})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Readings ---

func TestSQLite_Readings_Deduplicated(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	readings := []model.ThicknessReading{
		{Date: date(2021, 1, 1), ThicknessMM: 9.5},
		{Date: date(2020, 1, 1), ThicknessMM: 10.0},
	}
	noop := func(*model.MonitoringLocation, bool) error { return nil }

	_, _, err := st.UpdateLocation(ctx, "CML-R", noop, readings...)
	require.NoError(t, err)
	_, _, err = st.UpdateLocation(ctx, "CML-R", noop, append(readings, model.ThicknessReading{Date: date(2022, 1, 1), ThicknessMM: 9.0})...)
	require.NoError(t, err)

	got, err := st.ListReadings(ctx, "CML-R")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, date(2020, 1, 1), got[0].Date)
	assert.Equal(t, "CML-R", got[0].LocationID)
	assert.InDelta(t, 9.0, got[2].ThicknessMM, 1e-9)
}

// --- Forecasts ---

func TestSQLite_ForecastRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedLocation(t, st, "CML-F", nil)

	_, err := st.LatestForecastRun(ctx, "CML-F")
	assert.ErrorIs(t, err, model.ErrNotFound)

	failure := date(2024, 6, 1)
	first := &model.ForecastRun{
		LocationID: "CML-F", Strategy: "linear", Horizon: 2, ConfidenceLevel: 0.95,
		CurrentThicknessMM: 9, MinAllowableMM: 6,
		CreatedAt: time.Now().Add(-time.Hour).UTC(),
		Points: []model.ForecastPoint{
			{Date: date(2023, 2, 1), PredictedMM: 8.9, LowerMM: 8.4, UpperMM: 9.4},
			{Date: date(2023, 3, 1), PredictedMM: 8.8, LowerMM: 8.3, UpperMM: 9.3},
		},
	}
	require.NoError(t, st.SaveForecastRun(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &model.ForecastRun{
		LocationID: "CML-F", Strategy: "holt", Horizon: 1, ConfidenceLevel: 0.95,
		CurrentThicknessMM: 9, MinAllowableMM: 6, EstimatedFailureDate: &failure,
		Points: []model.ForecastPoint{{Date: date(2023, 2, 1), PredictedMM: 5.9, LowerMM: 5.4, UpperMM: 6.4}},
	}
	require.NoError(t, st.SaveForecastRun(ctx, second))

	latest, err := st.LatestForecastRun(ctx, "CML-F")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "holt", latest.Strategy)
	require.NotNil(t, latest.EstimatedFailureDate)
	assert.Equal(t, failure, *latest.EstimatedFailureDate)
	require.Len(t, latest.Points, 1)

	runs, err := st.ListForecastRuns(ctx, "CML-F")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.Nil(t, runs[1].EstimatedFailureDate)
}

// --- Outcomes ---

func TestSQLite_Outcomes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	older := &model.ReconciliationOutcome{Source: "a.xlsx", Status: model.BatchSuccess, UploadedAt: time.Now().Add(-time.Minute)}
	newer := &model.ReconciliationOutcome{
		Source: "b.xlsx", Status: model.BatchPartial, TotalRows: 2, Failed: 1, UploadedAt: time.Now(),
		Errors: []model.RowError{{Index: 1, Message: "missing location_id"}},
	}
	require.NoError(t, st.SaveOutcome(ctx, older))
	require.NoError(t, st.SaveOutcome(ctx, newer))

	got, err := st.ListOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b.xlsx", got[0].Source)
	require.Len(t, got[0].Errors, 1)
	assert.Equal(t, "missing location_id", got[0].Errors[0].Message)
}

// --- Training runs ---

func TestSQLite_TrainingRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := st.LatestTrainingRun(ctx, "logistic")
	require.NoError(t, err)
	assert.Nil(t, none)

	run := &model.TrainingRun{
		Strategy: "logistic", Samples: 60, ConfigHash: "abc",
		Metrics: map[string]float64{"accuracy": 0.9}, State: []byte(`{"weights":[1,2]}`),
	}
	require.NoError(t, st.SaveTrainingRun(ctx, run))

	got, err := st.LatestTrainingRun(ctx, "logistic")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 60, got.Samples)
	assert.Equal(t, run.State, got.State)
	assert.InDelta(t, 0.9, got.Metrics["accuracy"], 1e-9)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Contains(t, sqliteDSN("cml.db"), "cml.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, sqliteDSN("file:cml.db?cache=shared"), "cache=shared&_pragma=")
	assert.Contains(t, sqliteDSN("cml.db"), "_txlock=immediate")
}
