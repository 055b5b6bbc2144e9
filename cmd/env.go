package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/api"
	"github.com/sells-group/cml-optimizer/internal/decision"
	"github.com/sells-group/cml-optimizer/internal/forecast"
	"github.com/sells-group/cml-optimizer/internal/ingest"
	"github.com/sells-group/cml-optimizer/internal/monitoring"
	"github.com/sells-group/cml-optimizer/internal/reconcile"
	"github.com/sells-group/cml-optimizer/internal/report"
	"github.com/sells-group/cml-optimizer/internal/scorer"
	"github.com/sells-group/cml-optimizer/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cml.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env holds the wired services shared by every command.
type env struct {
	Store      store.Store
	Reconciler *reconcile.Reconciler
	Forecasts  *forecast.Service
	Scorer     *scorer.Scorer
	Decisions  *decision.Service
	Reports    *report.Service
	Columns    ingest.ColumnMap
	Monitor    *monitoring.Collector
}

// initEnv validates the config for mode, opens and migrates the store and
// builds the services on top of it.
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	cols, err := ingest.LoadColumnMap(cfg.Upload.ColumnMapPath)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	decisions := decision.NewService(st)
	sc, err := scorer.New(st, decisions, cfg.Model, cfg.Features)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	return &env{
		Store:      st,
		Reconciler: reconcile.New(st, cfg.Upload, cfg.Features),
		Forecasts:  forecast.NewService(st, cfg.Forecast),
		Scorer:     sc,
		Decisions:  decisions,
		Reports:    report.NewService(st, cfg.Model.ConfidenceThreshold),
		Columns:    cols,
		Monitor:    monitoring.NewCollector(st, cfg.Monitoring.CriticalRemainingLife),
	}, nil
}

// Close releases the store.
func (e *env) Close() {
	if e == nil || e.Store == nil {
		return
	}
	_ = e.Store.Close()
}

func (e *env) apiDeps() api.Deps {
	return api.Deps{
		Store:      e.Store,
		Reconciler: e.Reconciler,
		Forecasts:  e.Forecasts,
		Scorer:     e.Scorer,
		Decisions:  e.Decisions,
		Reports:    e.Reports,
		Columns:    e.Columns,
		Monitor:    e.Monitor,
	}
}
