package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cml-optimizer/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := newPostgresWithPool(mock, nil)
	s.retry.InitialBackoff = time.Millisecond
	s.retry.MaxBackoff = time.Millisecond
	return s, mock
}

func TestPostgresStore_GetLocation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT record FROM locations WHERE location_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLocation(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLocation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	raw, err := json.Marshal(model.MonitoringLocation{LocationID: "CML-1", RiskCategory: model.RiskLow})
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT record FROM locations`).
		WithArgs("CML-1").
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(raw))

	loc, err := s.GetLocation(context.Background(), "CML-1")
	require.NoError(t, err)
	assert.Equal(t, model.RiskLow, loc.RiskCategory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListLocations_BuildsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	raw, _ := json.Marshal(model.MonitoringLocation{LocationID: "CML-1"})
	mock.ExpectQuery(`AND facility = \$1 AND risk_category = \$2 AND elimination_candidate ORDER BY location_id LIMIT \$3`).
		WithArgs("Plant A", "High", 10).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(raw))

	locs, err := s.ListLocations(context.Background(), LocationFilter{
		Facility: "Plant A", Risk: model.RiskHigh, EliminationOnly: true, Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLocation_Create(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("CML-9").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT record FROM locations WHERE location_id = \$1 FOR UPDATE`).
		WithArgs("CML-9").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO "locations" .* ON CONFLICT \("location_id"\) DO UPDATE SET`).
		WithArgs("CML-9", "", "", "", "Medium", false, false,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "readings" .* DO NOTHING`).
		WithArgs("CML-9", pgxmock.AnyArg(), 9.5, "UT").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	loc, created, err := s.UpdateLocation(context.Background(), "CML-9",
		func(loc *model.MonitoringLocation, exists bool) error {
			assert.False(t, exists)
			loc.RiskCategory = model.RiskMedium
			return nil
		},
		model.ThicknessReading{Date: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), ThicknessMM: 9.5, Technique: "UT"},
	)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "CML-9", loc.LocationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLocation_RetriesSerializationFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("CML-9").
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("CML-9").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("CML-9").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, _, err := s.UpdateLocation(context.Background(), "CML-9",
		func(_ *model.MonitoringLocation, exists bool) error {
			if !exists {
				return model.ErrNotFound
			}
			return nil
		})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveForecastRun_CopiesPoints(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO forecast_runs`).
		WithArgs("run-1", "CML-1", "linear", 2, 0.95, 9.0, 6.0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"forecast_points"}, forecastPointCols).WillReturnResult(2)
	mock.ExpectCommit()

	run := &model.ForecastRun{
		ID: "run-1", LocationID: "CML-1", Strategy: "linear", Horizon: 2, ConfidenceLevel: 0.95,
		CurrentThicknessMM: 9, MinAllowableMM: 6,
		Points: []model.ForecastPoint{{PredictedMM: 8.9}, {PredictedMM: 8.8}},
	}
	require.NoError(t, s.SaveForecastRun(context.Background(), run))
	assert.False(t, run.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveForecastRun_CopyFailureRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO forecast_runs`).
		WithArgs("run-2", "CML-1", "linear", 1, 0.95, 9.0, 6.0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"forecast_points"}, forecastPointCols).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	run := &model.ForecastRun{
		ID: "run-2", LocationID: "CML-1", Strategy: "linear", Horizon: 1, ConfidenceLevel: 0.95,
		CurrentThicknessMM: 9, MinAllowableMM: 6,
		Points: []model.ForecastPoint{{PredictedMM: 8.9}},
	}
	err := s.SaveForecastRun(context.Background(), run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO forecast_points")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestForecastRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM forecast_runs`).WithArgs("CML-1").WillReturnError(pgx.ErrNoRows)

	_, err := s.LatestForecastRun(context.Background(), "CML-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestTrainingRun_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM training_runs`).WithArgs("logistic").WillReturnError(pgx.ErrNoRows)

	run, err := s.LatestTrainingRun(context.Background(), "logistic")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveOutcome(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO outcomes`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	o := &model.ReconciliationOutcome{Status: model.BatchSuccess}
	require.NoError(t, s.SaveOutcome(context.Background(), o))
	assert.NotEmpty(t, o.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS locations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
