package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ForecastRequest asks for a forecast of one location.
type ForecastRequest struct {
	LocationID string `json:"cml_id"`
	Periods    int    `json:"periods"`
	Strategy   string `json:"model_type"`
}

// ForecastBatchRequest asks for forecasts of several locations.
type ForecastBatchRequest struct {
	LocationIDs []string `json:"cml_ids"`
	Periods     int      `json:"periods"`
	Strategy    string   `json:"model_type"`
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.LocationID == "" {
		writeError(w, r, badRequest("cml_id is required"))
		return
	}
	run, err := h.Forecasts.Forecast(r.Context(), req.LocationID, req.Periods, req.Strategy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handlePredictMany(w http.ResponseWriter, r *http.Request) {
	var req ForecastBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.LocationIDs) == 0 {
		writeError(w, r, badRequest("cml_ids is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.Forecasts.ForecastMany(r.Context(), req.LocationIDs, req.Periods, req.Strategy))
}

// handleForecastHistory returns the most recent forecast run, or every
// run when all=true.
func (h *Handler) handleForecastHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("all") == "true" {
		if _, err := h.Store.GetLocation(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		runs, err := h.Store.ListForecastRuns(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
		return
	}

	run, err := h.Forecasts.LatestForecast(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
