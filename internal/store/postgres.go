package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/db"
	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	retry   resilience.RetryConfig
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var locationColumns = []string{
	"location_id", "facility", "system", "commodity", "risk_category",
	"elimination_candidate", "requires_review", "record", "created_at", "updated_at",
}

var (
	readingColumns    = []string{"location_id", "reading_date", "thickness_mm", "technique"}
	forecastPointCols = []string{"run_id", "seq", "point_date", "predicted_mm", "lower_mm", "upper_mm"}
)

var upsertLocationSQL = mustUpsertSQL(db.UpsertConfig{
	Table:        "locations",
	Columns:      locationColumns,
	ConflictKeys: []string{"location_id"},
	UpdateCols: []string{
		"facility", "system", "commodity", "risk_category",
		"elimination_candidate", "requires_review", "record", "updated_at",
	},
})

var insertReadingSQL = mustUpsertSQL(db.UpsertConfig{
	Table:        "readings",
	Columns:      readingColumns,
	ConflictKeys: []string{"location_id", "reading_date", "thickness_mm"},
	DoNothing:    true,
})

func mustUpsertSQL(cfg db.UpsertConfig) string {
	stmt, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return stmt
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool, pool.Close), nil
}

func newPostgresWithPool(pool db.Pool, closeFn func()) *PostgresStore {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("postgres", "write")
	return &PostgresStore{pool: pool, closeFn: closeFn, retry: retry}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS locations (
	location_id           TEXT PRIMARY KEY,
	facility              TEXT NOT NULL DEFAULT '',
	system                TEXT NOT NULL DEFAULT '',
	commodity             TEXT NOT NULL DEFAULT '',
	risk_category         TEXT NOT NULL DEFAULT '',
	elimination_candidate BOOLEAN NOT NULL DEFAULT false,
	requires_review       BOOLEAN NOT NULL DEFAULT false,
	record                JSONB NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS readings (
	location_id  TEXT NOT NULL REFERENCES locations(location_id),
	reading_date DATE NOT NULL,
	thickness_mm DOUBLE PRECISION NOT NULL,
	technique    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (location_id, reading_date, thickness_mm)
);

CREATE TABLE IF NOT EXISTS forecast_runs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	location_id      TEXT NOT NULL REFERENCES locations(location_id),
	strategy         TEXT NOT NULL,
	horizon          INTEGER NOT NULL,
	confidence_level DOUBLE PRECISION NOT NULL,
	current_mm       DOUBLE PRECISION NOT NULL,
	min_allowable_mm DOUBLE PRECISION NOT NULL,
	failure_date     DATE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS forecast_points (
	run_id       TEXT NOT NULL REFERENCES forecast_runs(id),
	seq          INTEGER NOT NULL,
	point_date   DATE NOT NULL,
	predicted_mm DOUBLE PRECISION NOT NULL,
	lower_mm     DOUBLE PRECISION NOT NULL,
	upper_mm     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS outcomes (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	record      JSONB NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS training_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	strategy    TEXT NOT NULL,
	samples     INTEGER NOT NULL,
	metrics     JSONB NOT NULL,
	config_hash TEXT NOT NULL,
	state       BYTEA NOT NULL,
	trained_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_locations_facility ON locations(facility);
CREATE INDEX IF NOT EXISTS idx_locations_risk ON locations(risk_category);
CREATE INDEX IF NOT EXISTS idx_locations_elimination ON locations(elimination_candidate);
CREATE INDEX IF NOT EXISTS idx_forecast_runs_location ON forecast_runs(location_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_uploaded_at ON outcomes(uploaded_at DESC);
CREATE INDEX IF NOT EXISTS idx_training_runs_strategy ON training_runs(strategy, trained_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Locations ---

func (s *PostgresStore) GetLocation(ctx context.Context, id string) (*model.MonitoringLocation, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM locations WHERE location_id = $1`, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: location %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get location %s", id)
	}
	return decodeLocation(raw)
}

func (s *PostgresStore) ListLocations(ctx context.Context, filter LocationFilter) ([]model.MonitoringLocation, error) {
	query := `SELECT record FROM locations WHERE true`
	args := []any{}
	argIdx := 1

	if len(filter.IDs) > 0 {
		query += fmt.Sprintf(` AND location_id = ANY($%d)`, argIdx)
		args = append(args, filter.IDs)
		argIdx++
	}
	if filter.Facility != "" {
		query += fmt.Sprintf(` AND facility = $%d`, argIdx)
		args = append(args, filter.Facility)
		argIdx++
	}
	if filter.System != "" {
		query += fmt.Sprintf(` AND system = $%d`, argIdx)
		args = append(args, filter.System)
		argIdx++
	}
	if filter.Risk != "" {
		query += fmt.Sprintf(` AND risk_category = $%d`, argIdx)
		args = append(args, string(filter.Risk))
		argIdx++
	}
	if filter.EliminationOnly {
		query += ` AND elimination_candidate`
	}
	query += ` ORDER BY location_id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list locations")
	}
	defer rows.Close()

	var locs []model.MonitoringLocation
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location")
		}
		loc, err := decodeLocation(raw)
		if err != nil {
			return nil, err
		}
		locs = append(locs, *loc)
	}
	return locs, eris.Wrap(rows.Err(), "postgres: list locations iterate")
}

// UpdateLocation serializes writers on a transaction-scoped advisory lock
// keyed by the location id, then reads the row FOR UPDATE.
func (s *PostgresStore) UpdateLocation(ctx context.Context, id string, fn UpdateFunc, readings ...model.ThicknessReading) (*model.MonitoringLocation, bool, error) {
	res, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (updateResult, error) {
		return s.updateLocationTx(ctx, id, fn, readings)
	})
	if err != nil {
		return nil, false, err
	}
	return res.loc, res.created, nil
}

func (s *PostgresStore) updateLocationTx(ctx context.Context, id string, fn UpdateFunc, readings []model.ThicknessReading) (updateResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return updateResult{}, eris.Wrap(err, "postgres: begin update")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return updateResult{}, eris.Wrapf(err, "postgres: lock location %s", id)
	}

	var raw []byte
	exists := true
	loc := &model.MonitoringLocation{LocationID: id}
	err = tx.QueryRow(ctx,
		`SELECT record FROM locations WHERE location_id = $1 FOR UPDATE`, id,
	).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		exists = false
	case err != nil:
		return updateResult{}, eris.Wrapf(err, "postgres: load location %s", id)
	default:
		if loc, err = decodeLocation(raw); err != nil {
			return updateResult{}, err
		}
	}

	if err := fn(loc, exists); err != nil {
		return updateResult{}, err
	}
	prepareLocation(loc, id, exists, time.Now().UTC())

	row, err := toLocationRow(loc)
	if err != nil {
		return updateResult{}, err
	}
	_, err = tx.Exec(ctx, upsertLocationSQL,
		row.ID, row.Facility, row.System, row.Commodity, row.Risk,
		row.Eliminate, row.Review, row.Record, loc.CreatedAt, loc.UpdatedAt,
	)
	if err != nil {
		return updateResult{}, eris.Wrapf(err, "postgres: upsert location %s", id)
	}

	for _, r := range readings {
		if _, err := tx.Exec(ctx, insertReadingSQL, id, r.Date, r.ThicknessMM, r.Technique); err != nil {
			return updateResult{}, eris.Wrapf(err, "postgres: insert reading for %s", id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return updateResult{}, eris.Wrapf(err, "postgres: commit location %s", id)
	}
	return updateResult{loc: loc, created: !exists}, nil
}

// --- Readings ---

func (s *PostgresStore) ListReadings(ctx context.Context, id string) ([]model.ThicknessReading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT reading_date, thickness_mm, technique FROM readings
		 WHERE location_id = $1 ORDER BY reading_date, thickness_mm`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list readings %s", id)
	}
	defer rows.Close()

	var out []model.ThicknessReading
	for rows.Next() {
		r := model.ThicknessReading{LocationID: id}
		if err := rows.Scan(&r.Date, &r.ThicknessMM, &r.Technique); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reading")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list readings iterate")
}

// --- Forecasts ---

func (s *PostgresStore) SaveForecastRun(ctx context.Context, run *model.ForecastRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	points := make([][]any, len(run.Points))
	for i, p := range run.Points {
		points[i] = []any{run.ID, i, p.Date, p.PredictedMM, p.LowerMM, p.UpperMM}
	}

	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return eris.Wrap(err, "postgres: begin forecast run")
		}
		defer func() { _ = tx.Rollback(ctx) }()

		_, err = tx.Exec(ctx,
			`INSERT INTO forecast_runs (id, location_id, strategy, horizon, confidence_level,
				current_mm, min_allowable_mm, failure_date, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			run.ID, run.LocationID, run.Strategy, run.Horizon, run.ConfidenceLevel,
			run.CurrentThicknessMM, run.MinAllowableMM, run.EstimatedFailureDate, run.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert forecast run %s", run.ID)
		}

		if _, err := db.CopyFrom(ctx, tx, "forecast_points", forecastPointCols, points); err != nil {
			return err
		}
		return eris.Wrap(tx.Commit(ctx), "postgres: commit forecast run")
	})
}

const pgForecastRunColumns = `id, location_id, strategy, horizon, confidence_level,
	current_mm, min_allowable_mm, failure_date, created_at`

func (s *PostgresStore) LatestForecastRun(ctx context.Context, id string) (*model.ForecastRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgForecastRunColumns+` FROM forecast_runs
		 WHERE location_id = $1 ORDER BY created_at DESC LIMIT 1`,
		id,
	)
	run, err := scanPgForecastRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: no forecast for %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT point_date, predicted_mm, lower_mm, upper_mm FROM forecast_points
		 WHERE run_id = $1 ORDER BY seq`,
		run.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list forecast points %s", run.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.ForecastPoint
		if err := rows.Scan(&p.Date, &p.PredictedMM, &p.LowerMM, &p.UpperMM); err != nil {
			return nil, eris.Wrap(err, "postgres: scan forecast point")
		}
		run.Points = append(run.Points, p)
	}
	return run, eris.Wrap(rows.Err(), "postgres: forecast points iterate")
}

// ListForecastRuns returns run headers for a location, newest first.
func (s *PostgresStore) ListForecastRuns(ctx context.Context, id string) ([]model.ForecastRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgForecastRunColumns+` FROM forecast_runs
		 WHERE location_id = $1 ORDER BY created_at DESC`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list forecast runs %s", id)
	}
	defer rows.Close()

	var runs []model.ForecastRun
	for rows.Next() {
		run, err := scanPgForecastRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list forecast runs iterate")
}

func scanPgForecastRun(row pgx.Row) (*model.ForecastRun, error) {
	var run model.ForecastRun
	err := row.Scan(&run.ID, &run.LocationID, &run.Strategy, &run.Horizon, &run.ConfidenceLevel,
		&run.CurrentThicknessMM, &run.MinAllowableMM, &run.EstimatedFailureDate, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan forecast run")
	}
	return &run, nil
}

// --- Outcomes ---

func (s *PostgresStore) SaveOutcome(ctx context.Context, outcome *model.ReconciliationOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal outcome")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO outcomes (id, record, uploaded_at) VALUES ($1, $2, $3)`,
		outcome.ID, raw, outcome.UploadedAt,
	)
	return eris.Wrap(err, "postgres: insert outcome")
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, limit int) ([]model.ReconciliationOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM outcomes ORDER BY uploaded_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var out []model.ReconciliationOutcome
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		var o model.ReconciliationOutcome
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal outcome")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

// --- Training runs ---

func (s *PostgresStore) SaveTrainingRun(ctx context.Context, run *model.TrainingRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now().UTC()
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal training metrics")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO training_runs (id, strategy, samples, metrics, config_hash, state, trained_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Strategy, run.Samples, metrics, run.ConfigHash, run.State, run.TrainedAt,
	)
	return eris.Wrap(err, "postgres: insert training run")
}

// LatestTrainingRun returns nil, nil when the strategy was never trained.
func (s *PostgresStore) LatestTrainingRun(ctx context.Context, strategy string) (*model.TrainingRun, error) {
	var run model.TrainingRun
	var metrics []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, strategy, samples, metrics, config_hash, state, trained_at FROM training_runs
		 WHERE strategy = $1 ORDER BY trained_at DESC LIMIT 1`,
		strategy,
	).Scan(&run.ID, &run.Strategy, &run.Samples, &metrics, &run.ConfigHash, &run.State, &run.TrainedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get training run")
	}
	if err := json.Unmarshal(metrics, &run.Metrics); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal training metrics")
	}
	return &run, nil
}
