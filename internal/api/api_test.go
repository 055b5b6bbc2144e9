package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/decision"
	"github.com/sells-group/cml-optimizer/internal/forecast"
	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/monitoring"
	"github.com/sells-group/cml-optimizer/internal/reconcile"
	"github.com/sells-group/cml-optimizer/internal/report"
	"github.com/sells-group/cml-optimizer/internal/scorer"
	"github.com/sells-group/cml-optimizer/internal/store"
)

func newTestRouter(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	zap.ReplaceGlobals(zap.NewNop())

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	upload := config.UploadConfig{SheetName: "CML_Master_Data", MaxStoredErrors: 100, MaxReturnedErrors: 10}
	features := scorer.DefaultFeatureConfig()
	decisions := decision.NewService(st)
	sc, err := scorer.New(st, decisions, scorer.DefaultModelConfig(), features)
	require.NoError(t, err)

	h := New(Deps{
		Store:      st,
		Reconciler: reconcile.New(st, upload, features),
		Forecasts: forecast.NewService(st, config.ForecastConfig{
			DefaultStrategy: forecast.StrategyLinear,
			DefaultHorizon:  24,
			MaxHorizon:      120,
			DefaultMarginMM: 0.5,
			Concurrency:     2,
		}),
		Scorer:    sc,
		Decisions: decisions,
		Reports:   report.NewService(st, 0.85),
		Monitor:   monitoring.NewCollector(st, 2.0),
	}, config.ServerConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		TimeoutSecs:    5,
	}, upload)
	return h.Router(), st
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var sampleRows = []map[string]any{
	{
		"location_id":                     "CML-1",
		"facility":                        "Plant A",
		"system":                          "Crude",
		"commodity":                       "Crude Oil",
		"risk_level":                      "high",
		"current_thickness_mm":            8.0,
		"min_allowable_thickness_mm":      6.0,
		"average_corrosion_rate":          1.0,
		"inspection_history_dates":        "2020-06-01|2021-06-01|2022-06-01",
		"inspection_history_measurements": "10.0|9.0|8.0",
	},
	{
		"location_id":                "CML-2",
		"facility":                   "Plant B",
		"risk_level":                 "LOW",
		"current_thickness_mm":       12.0,
		"min_allowable_thickness_mm": 6.0,
		"average_corrosion_rate":     0.05,
	},
	{
		"location_id": "CML-3",
		"risk_level":  "Severe",
	},
}

func upload(t *testing.T, router http.Handler) model.ReconciliationOutcome {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/v1/cml/upload", map[string]any{
		"source": "test.json",
		"user":   "alice",
		"rows":   sampleRows,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[model.ReconciliationOutcome](t, rec)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestUpload_JSON(t *testing.T) {
	router, st := newTestRouter(t)

	out := upload(t, router)
	assert.Equal(t, model.BatchPartial, out.Status)
	assert.Equal(t, 3, out.TotalRows)
	assert.Equal(t, 2, out.Created)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, 2, out.Errors[0].Index)
	assert.Equal(t, "alice", out.Actor)

	readings, err := st.ListReadings(context.Background(), "CML-1")
	require.NoError(t, err)
	assert.Len(t, readings, 3)

	rec := do(t, router, http.MethodGet, "/api/v1/cml/uploads", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ReconciliationOutcome](t, rec), 1)
}

func TestUpload_Rejects(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/cml/upload", map[string]any{"rows": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cml/upload", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON body")
}

func TestUpload_MultipartCSV(t *testing.T) {
	router, st := newTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("user", "bob"))
	part, err := mw.CreateFormFile("file", "cmls.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("CML_ID,Facility,Risk_Level,Current_Thickness_mm\nCML-9,Plant C,Medium,7.5\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cml/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[model.ReconciliationOutcome](t, rec)
	assert.Equal(t, "cmls.csv", out.Source)
	assert.Equal(t, "bob", out.Actor)
	assert.Equal(t, 1, out.Created)

	loc, err := st.GetLocation(context.Background(), "CML-9")
	require.NoError(t, err)
	assert.Equal(t, model.RiskMedium, loc.RiskCategory)
	require.NotNil(t, loc.CurrentThicknessMM)
	assert.InDelta(t, 7.5, *loc.CurrentThicknessMM, 1e-9)
}

func TestUpload_MultipartUnsupported(t *testing.T) {
	router, _ := newTestRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "cmls.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cml/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAndListLocations(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	rec := do(t, router, http.MethodGet, "/api/v1/cml/CML-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loc := decode[model.MonitoringLocation](t, rec)
	assert.Equal(t, model.RiskHigh, loc.RiskCategory)

	rec = do(t, router, http.MethodGet, "/api/v1/cml/CML-404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	tests := []struct {
		name  string
		query string
		code  int
		want  int
	}{
		{"all", "", http.StatusOK, 2},
		{"facility", "?facility=Plant%20A", http.StatusOK, 1},
		{"risk", "?risk_level=low", http.StatusOK, 1},
		{"paged", "?skip=1&limit=1", http.StatusOK, 1},
		{"elimination only", "?elimination_only=true", http.StatusOK, 0},
		{"bad risk", "?risk_level=severe", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-1", http.StatusBadRequest, 0},
		{"bad bool", "?elimination_only=maybe", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/v1/cml"+tt.query, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code == http.StatusOK {
				assert.Len(t, decode[[]model.MonitoringLocation](t, rec), tt.want)
			}
		})
	}

	rec = do(t, router, http.MethodGet, "/api/v1/cml/CML-1/readings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ThicknessReading](t, rec), 3)
}

func TestSummary(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	rec := do(t, router, http.MethodGet, "/api/v1/cml/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[report.Summary](t, rec)
	assert.Equal(t, 2, s.TotalLocations)
	assert.Equal(t, []string{"Plant A", "Plant B"}, s.Facilities)
}

func TestForecast(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	rec := do(t, router, http.MethodGet, "/api/v1/forecast/CML-1/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/forecast/predict", ForecastRequest{LocationID: "CML-1", Periods: 36})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[model.ForecastRun](t, rec)
	assert.Len(t, run.Points, 36)
	require.NotNil(t, run.EstimatedFailureDate)
	assert.Equal(t, 2024, run.EstimatedFailureDate.Year())

	rec = do(t, router, http.MethodGet, "/api/v1/forecast/CML-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, run.ID, decode[model.ForecastRun](t, rec).ID)

	rec = do(t, router, http.MethodGet, "/api/v1/forecast/CML-1/history?all=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ForecastRun](t, rec), 1)
}

func TestForecast_Errors(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	tests := []struct {
		name string
		req  ForecastRequest
		code int
	}{
		{"missing id", ForecastRequest{}, http.StatusBadRequest},
		{"unknown location", ForecastRequest{LocationID: "CML-404"}, http.StatusNotFound},
		{"insufficient history", ForecastRequest{LocationID: "CML-2"}, http.StatusUnprocessableEntity},
		{"horizon too long", ForecastRequest{LocationID: "CML-1", Periods: 500}, http.StatusBadRequest},
		{"unknown strategy", ForecastRequest{LocationID: "CML-1", Strategy: "prophet"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/v1/forecast/predict", tt.req)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestForecastBatch(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	rec := do(t, router, http.MethodPost, "/api/v1/forecast/batch", ForecastBatchRequest{LocationIDs: []string{"CML-1", "CML-2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	results := decode[[]forecast.Result](t, rec)
	require.Len(t, results, 2)
	assert.NotNil(t, results[0].Run)
	assert.Contains(t, results[1].Error, "insufficient history")
}

func TestAnalyzeAndOverride(t *testing.T) {
	router, st := newTestRouter(t)
	upload(t, router)

	// Too few samples to train a fresh logistic model.
	rec := do(t, router, http.MethodPost, "/api/v1/cml/analyze", scorer.Request{})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/v1/cml/analyze", scorer.Request{Strategy: scorer.StrategyRules})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	analysis := decode[scorer.Analysis](t, rec)
	assert.Equal(t, 2, analysis.TotalAnalyzed)
	assert.Len(t, analysis.Results, 2)

	rec = do(t, router, http.MethodPost, "/api/v1/cml/analyze", scorer.Request{Threshold: 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/cml/analyze", scorer.Request{Strategy: "forest"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/cml/analyze", scorer.Request{
		Strategy: scorer.StrategyRules,
		Filter:   store.LocationFilter{Facility: "Plant Z"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/cml/override", OverrideRequest{
		LocationID: "CML-2", Decision: "eliminate", Reason: "redundant", User: "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	loc, err := st.GetLocation(context.Background(), "CML-2")
	require.NoError(t, err)
	assert.True(t, loc.EliminationCandidate)
	assert.Equal(t, model.StateOverridden, loc.State())

	rec = do(t, router, http.MethodGet, "/api/v1/dashboard/elimination-summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SME override: redundant")

	rec = do(t, router, http.MethodDelete, "/api/v1/cml/CML-2/override", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[model.MonitoringLocation](t, rec).Override)
}

func TestOverride_Errors(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	tests := []struct {
		name string
		req  OverrideRequest
		code int
	}{
		{"missing id", OverrideRequest{Decision: "keep"}, http.StatusBadRequest},
		{"bad decision", OverrideRequest{LocationID: "CML-1", Decision: "maybe"}, http.StatusBadRequest},
		{"missing user", OverrideRequest{LocationID: "CML-1", Decision: "keep"}, http.StatusBadRequest},
		{"unknown location", OverrideRequest{LocationID: "CML-404", Decision: "keep", User: "sme"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/v1/cml/override", tt.req)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, router, http.MethodDelete, "/api/v1/cml/CML-404/override", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboard(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	for _, path := range []string{
		"/api/v1/dashboard/metrics",
		"/api/v1/dashboard/facility-breakdown",
		"/api/v1/dashboard/corrosion-trends",
		"/api/v1/dashboard/risk-matrix",
		"/api/v1/dashboard/elimination-summary",
		"/api/v1/reports/summary-stats",
	} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}

	rec := do(t, router, http.MethodGet, "/api/v1/dashboard/facility-breakdown", nil)
	breakdown := decode[map[string]*report.FacilityCounts](t, rec)
	assert.Contains(t, breakdown, "Plant A")
	assert.Contains(t, breakdown, "Plant B")
}

func TestExport(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/v1/reports/export-excel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	upload(t, router)
	rec = do(t, router, http.MethodGet, "/api/v1/reports/export-excel?facility=Plant%20A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "CML_Export_Plant A_")
	assert.NotZero(t, rec.Body.Len())
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/cml", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/cml", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrInsufficientHistory, http.StatusUnprocessableEntity},
		{model.ErrModelUnavailable, http.StatusConflict},
		{model.ErrInvalidOverride, http.StatusBadRequest},
		{model.ErrUnknownStrategy, http.StatusBadRequest},
		{model.ErrInvalidHorizon, http.StatusBadRequest},
		{model.ErrUnknownCategory, http.StatusBadRequest},
		{badRequest("x"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteError_HidesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	writeError(rec, req, errors.New("db password leaked"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestMonitoringSnapshot(t *testing.T) {
	router, _ := newTestRouter(t)
	upload(t, router)

	rec := do(t, router, http.MethodGet, "/api/v1/monitoring/snapshot?lookback_hours=48", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[monitoring.MetricsSnapshot](t, rec)
	assert.Equal(t, 48, snap.LookbackHours)
	assert.Equal(t, 1, snap.UploadsTotal)
	assert.Equal(t, 3, snap.RowsTotal)
	assert.Equal(t, 1, snap.RowsFailed)
	assert.Equal(t, 2, snap.LocationsTotal)

	rec = do(t, router, http.MethodGet, "/api/v1/monitoring/snapshot?lookback_hours=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
