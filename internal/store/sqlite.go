package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	locks *keyLock
	retry resilience.RetryConfig
}

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// NewSQLite opens a SQLite database at the given path. Write transactions
// start with BEGIN IMMEDIATE so concurrent writers queue on the busy
// timeout instead of failing on lock upgrade.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("sqlite", "write")
	return &SQLiteStore{db: db, locks: newKeyLock(), retry: retry}, nil
}

func sqliteDSN(path string) string {
	params := make([]string, 0, len(sqlitePragmas)+1)
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_txlock=immediate")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS locations (
	location_id           TEXT PRIMARY KEY,
	facility              TEXT NOT NULL DEFAULT '',
	system                TEXT NOT NULL DEFAULT '',
	commodity             TEXT NOT NULL DEFAULT '',
	risk_category         TEXT NOT NULL DEFAULT '',
	elimination_candidate INTEGER NOT NULL DEFAULT 0,
	requires_review       INTEGER NOT NULL DEFAULT 0,
	record                TEXT NOT NULL,
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS readings (
	location_id  TEXT NOT NULL REFERENCES locations(location_id),
	reading_date TEXT NOT NULL,
	thickness_mm REAL NOT NULL,
	technique    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (location_id, reading_date, thickness_mm)
);

CREATE TABLE IF NOT EXISTS forecast_runs (
	id               TEXT PRIMARY KEY,
	location_id      TEXT NOT NULL REFERENCES locations(location_id),
	strategy         TEXT NOT NULL,
	horizon          INTEGER NOT NULL,
	confidence_level REAL NOT NULL,
	current_mm       REAL NOT NULL,
	min_allowable_mm REAL NOT NULL,
	failure_date     TEXT,
	created_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS forecast_points (
	run_id       TEXT NOT NULL REFERENCES forecast_runs(id),
	seq          INTEGER NOT NULL,
	point_date   TEXT NOT NULL,
	predicted_mm REAL NOT NULL,
	lower_mm     REAL NOT NULL,
	upper_mm     REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS outcomes (
	id          TEXT PRIMARY KEY,
	record      TEXT NOT NULL,
	uploaded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS training_runs (
	id          TEXT PRIMARY KEY,
	strategy    TEXT NOT NULL,
	samples     INTEGER NOT NULL,
	metrics     TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	state       BLOB NOT NULL,
	trained_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_locations_facility ON locations(facility);
CREATE INDEX IF NOT EXISTS idx_locations_risk ON locations(risk_category);
CREATE INDEX IF NOT EXISTS idx_locations_elimination ON locations(elimination_candidate);
CREATE INDEX IF NOT EXISTS idx_forecast_runs_location ON forecast_runs(location_id, created_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_uploaded_at ON outcomes(uploaded_at);
CREATE INDEX IF NOT EXISTS idx_training_runs_strategy ON training_runs(strategy, trained_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Locations ---

func (s *SQLiteStore) GetLocation(ctx context.Context, id string) (*model.MonitoringLocation, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM locations WHERE location_id = ?`, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: location %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get location %s", id)
	}
	return decodeLocation([]byte(raw))
}

func (s *SQLiteStore) ListLocations(ctx context.Context, filter LocationFilter) ([]model.MonitoringLocation, error) {
	query := `SELECT record FROM locations WHERE 1=1`
	var args []any

	if len(filter.IDs) > 0 {
		query += ` AND location_id IN (?` + strings.Repeat(`, ?`, len(filter.IDs)-1) + `)`
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Facility != "" {
		query += ` AND facility = ?`
		args = append(args, filter.Facility)
	}
	if filter.System != "" {
		query += ` AND system = ?`
		args = append(args, filter.System)
	}
	if filter.Risk != "" {
		query += ` AND risk_category = ?`
		args = append(args, string(filter.Risk))
	}
	if filter.EliminationOnly {
		query += ` AND elimination_candidate = 1`
	}
	query += ` ORDER BY location_id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list locations")
	}
	defer rows.Close()

	var locs []model.MonitoringLocation
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location")
		}
		loc, err := decodeLocation([]byte(raw))
		if err != nil {
			return nil, err
		}
		locs = append(locs, *loc)
	}
	return locs, eris.Wrap(rows.Err(), "sqlite: list locations iterate")
}

type updateResult struct {
	loc     *model.MonitoringLocation
	created bool
}

func (s *SQLiteStore) UpdateLocation(ctx context.Context, id string, fn UpdateFunc, readings ...model.ThicknessReading) (*model.MonitoringLocation, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (updateResult, error) {
		return s.updateLocationTx(ctx, id, fn, readings)
	})
	if err != nil {
		return nil, false, err
	}
	return res.loc, res.created, nil
}

func (s *SQLiteStore) updateLocationTx(ctx context.Context, id string, fn UpdateFunc, readings []model.ThicknessReading) (updateResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return updateResult{}, eris.Wrap(err, "sqlite: begin update")
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	exists := true
	loc := &model.MonitoringLocation{LocationID: id}
	err = tx.QueryRowContext(ctx, `SELECT record FROM locations WHERE location_id = ?`, id).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return updateResult{}, eris.Wrapf(err, "sqlite: load location %s", id)
	default:
		if loc, err = decodeLocation([]byte(raw)); err != nil {
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
	_, err = tx.ExecContext(ctx,
		`INSERT INTO locations (location_id, facility, system, commodity, risk_category,
			elimination_candidate, requires_review, record, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (location_id) DO UPDATE SET
			facility = excluded.facility,
			system = excluded.system,
			commodity = excluded.commodity,
			risk_category = excluded.risk_category,
			elimination_candidate = excluded.elimination_candidate,
			requires_review = excluded.requires_review,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		row.ID, row.Facility, row.System, row.Commodity, row.Risk,
		row.Eliminate, row.Review, string(row.Record), row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return updateResult{}, eris.Wrapf(err, "sqlite: upsert location %s", id)
	}

	for _, r := range readings {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO readings (location_id, reading_date, thickness_mm, technique)
			 VALUES (?, ?, ?, ?)`,
			id, r.Date.Format(dateLayout), r.ThicknessMM, r.Technique,
		)
		if err != nil {
			return updateResult{}, eris.Wrapf(err, "sqlite: insert reading for %s", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return updateResult{}, eris.Wrapf(err, "sqlite: commit location %s", id)
	}
	return updateResult{loc: loc, created: !exists}, nil
}

// --- Readings ---

func (s *SQLiteStore) ListReadings(ctx context.Context, id string) ([]model.ThicknessReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reading_date, thickness_mm, technique FROM readings
		 WHERE location_id = ? ORDER BY reading_date, thickness_mm`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list readings %s", id)
	}
	defer rows.Close()

	var out []model.ThicknessReading
	for rows.Next() {
		var date string
		r := model.ThicknessReading{LocationID: id}
		if err := rows.Scan(&date, &r.ThicknessMM, &r.Technique); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reading")
		}
		if r.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list readings iterate")
}

// --- Forecasts ---

func (s *SQLiteStore) SaveForecastRun(ctx context.Context, run *model.ForecastRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return eris.Wrap(err, "sqlite: begin forecast run")
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO forecast_runs (id, location_id, strategy, horizon, confidence_level,
				current_mm, min_allowable_mm, failure_date, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.LocationID, run.Strategy, run.Horizon, run.ConfidenceLevel,
			run.CurrentThicknessMM, run.MinAllowableMM, nullableDate(run.EstimatedFailureDate),
			run.CreatedAt.UnixNano(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert forecast run %s", run.ID)
		}

		for i, p := range run.Points {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO forecast_points (run_id, seq, point_date, predicted_mm, lower_mm, upper_mm)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				run.ID, i, p.Date.Format(dateLayout), p.PredictedMM, p.LowerMM, p.UpperMM,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert forecast point %d", i)
			}
		}
		return eris.Wrap(tx.Commit(), "sqlite: commit forecast run")
	})
}

const forecastRunColumns = `id, location_id, strategy, horizon, confidence_level,
	current_mm, min_allowable_mm, failure_date, created_at`

func (s *SQLiteStore) LatestForecastRun(ctx context.Context, id string) (*model.ForecastRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+forecastRunColumns+` FROM forecast_runs
		 WHERE location_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		id,
	)
	run, err := scanForecastRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: no forecast for %s", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT point_date, predicted_mm, lower_mm, upper_mm FROM forecast_points
		 WHERE run_id = ? ORDER BY seq`,
		run.ID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list forecast points %s", run.ID)
	}
	defer rows.Close()

	for rows.Next() {
		var date string
		var p model.ForecastPoint
		if err := rows.Scan(&date, &p.PredictedMM, &p.LowerMM, &p.UpperMM); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan forecast point")
		}
		if p.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		run.Points = append(run.Points, p)
	}
	return run, eris.Wrap(rows.Err(), "sqlite: forecast points iterate")
}

// ListForecastRuns returns run headers for a location, newest first.
// Points are not loaded.
func (s *SQLiteStore) ListForecastRuns(ctx context.Context, id string) ([]model.ForecastRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+forecastRunColumns+` FROM forecast_runs
		 WHERE location_id = ? ORDER BY created_at DESC, rowid DESC`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list forecast runs %s", id)
	}
	defer rows.Close()

	var runs []model.ForecastRun
	for rows.Next() {
		run, err := scanForecastRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list forecast runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanForecastRun(row scannable) (*model.ForecastRun, error) {
	var run model.ForecastRun
	var failure sql.NullString
	var created int64

	err := row.Scan(&run.ID, &run.LocationID, &run.Strategy, &run.Horizon, &run.ConfidenceLevel,
		&run.CurrentThicknessMM, &run.MinAllowableMM, &failure, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan forecast run")
	}

	if failure.Valid {
		d, err := parseDate(failure.String)
		if err != nil {
			return nil, err
		}
		run.EstimatedFailureDate = &d
	}
	run.CreatedAt = unixTime(created)
	return &run, nil
}

// --- Outcomes ---

func (s *SQLiteStore) SaveOutcome(ctx context.Context, outcome *model.ReconciliationOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal outcome")
	}
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO outcomes (id, record, uploaded_at) VALUES (?, ?, ?)`,
			outcome.ID, string(raw), outcome.UploadedAt.UnixNano(),
		)
		return eris.Wrap(err, "sqlite: insert outcome")
	})
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int) ([]model.ReconciliationOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM outcomes ORDER BY uploaded_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close()

	var out []model.ReconciliationOutcome
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		var o model.ReconciliationOutcome
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal outcome")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

// --- Training runs ---

func (s *SQLiteStore) SaveTrainingRun(ctx context.Context, run *model.TrainingRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now().UTC()
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal training metrics")
	}
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO training_runs (id, strategy, samples, metrics, config_hash, state, trained_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Strategy, run.Samples, string(metrics), run.ConfigHash, run.State,
			run.TrainedAt.UnixNano(),
		)
		return eris.Wrap(err, "sqlite: insert training run")
	})
}

// LatestTrainingRun returns nil, nil when the strategy was never trained.
func (s *SQLiteStore) LatestTrainingRun(ctx context.Context, strategy string) (*model.TrainingRun, error) {
	var run model.TrainingRun
	var metrics string
	var trained int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, strategy, samples, metrics, config_hash, state, trained_at FROM training_runs
		 WHERE strategy = ? ORDER BY trained_at DESC, rowid DESC LIMIT 1`,
		strategy,
	).Scan(&run.ID, &run.Strategy, &run.Samples, &metrics, &run.ConfigHash, &run.State, &trained)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get training run")
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal training metrics")
	}
	run.TrainedAt = unixTime(trained)
	return &run, nil
}
