// Package api exposes the reconciler, forecaster, scorer and reports over
// HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/cml-optimizer/internal/config"
	"github.com/sells-group/cml-optimizer/internal/decision"
	"github.com/sells-group/cml-optimizer/internal/forecast"
	"github.com/sells-group/cml-optimizer/internal/ingest"
	"github.com/sells-group/cml-optimizer/internal/monitoring"
	"github.com/sells-group/cml-optimizer/internal/reconcile"
	"github.com/sells-group/cml-optimizer/internal/report"
	"github.com/sells-group/cml-optimizer/internal/scorer"
	"github.com/sells-group/cml-optimizer/internal/store"
)

// maxUploadBytes bounds upload request bodies.
const maxUploadBytes = 32 << 20

// Deps are the services the handler dispatches to.
type Deps struct {
	Store      store.Store
	Reconciler *reconcile.Reconciler
	Forecasts  *forecast.Service
	Scorer     *scorer.Scorer
	Decisions  *decision.Service
	Reports    *report.Service
	Columns    ingest.ColumnMap
	Monitor    *monitoring.Collector
}

// Handler serves the /api/v1 routes.
type Handler struct {
	Deps
	server config.ServerConfig
	upload config.UploadConfig
}

// New creates a Handler. A nil column map falls back to the defaults.
func New(deps Deps, server config.ServerConfig, upload config.UploadConfig) *Handler {
	if deps.Columns == nil {
		deps.Columns = ingest.DefaultColumnMap()
	}
	return &Handler{Deps: deps, server: server, upload: upload}
}

// Router builds the full chi router with middleware and every route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if h.server.TimeoutSecs > 0 {
		r.Use(middleware.Timeout(time.Duration(h.server.TimeoutSecs) * time.Second))
	}

	r.Get("/health", handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		h.Register(r)
	})
	return r
}

// Register mounts the API endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/cml", func(r chi.Router) {
		r.Post("/upload", h.handleUpload)
		r.Get("/uploads", h.handleListUploads)
		r.Get("/summary", h.handleSummary)
		r.Post("/analyze", h.handleAnalyze)
		r.Post("/override", h.handleOverride)
		r.Delete("/{id}/override", h.handleClearOverride)
		r.Get("/", h.handleListLocations)
		r.Get("/{id}", h.handleGetLocation)
		r.Get("/{id}/readings", h.handleListReadings)
	})
	r.Route("/forecast", func(r chi.Router) {
		r.Post("/predict", h.handlePredict)
		r.Post("/batch", h.handlePredictMany)
		r.Get("/{id}/history", h.handleForecastHistory)
	})
	r.Route("/dashboard", func(r chi.Router) {
		r.Get("/metrics", h.handleMetrics)
		r.Get("/facility-breakdown", h.handleFacilityBreakdown)
		r.Get("/corrosion-trends", h.handleCorrosionTrends)
		r.Get("/risk-matrix", h.handleRiskMatrix)
		r.Get("/elimination-summary", h.handleEliminationSummary)
	})
	r.Route("/reports", func(r chi.Router) {
		r.Get("/summary-stats", h.handleStatistics)
		r.Get("/export-excel", h.handleExport)
	})
	if h.Monitor != nil {
		r.Get("/monitoring/snapshot", h.handleSnapshot)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
