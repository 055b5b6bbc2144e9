package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.Reports.Metrics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleFacilityBreakdown(w http.ResponseWriter, r *http.Request) {
	b, err := h.Reports.FacilityBreakdown(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) handleCorrosionTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := h.Reports.CorrosionTrends(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trends": trends})
}

func (h *Handler) handleRiskMatrix(w http.ResponseWriter, r *http.Request) {
	points, err := h.Reports.RiskMatrix(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": points})
}

func (h *Handler) handleEliminationSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Reports.EliminationSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	s, err := h.Reports.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// handleSnapshot returns the current monitoring snapshot over the
// lookback_hours window (default 24).
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "lookback_hours", 24)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.Monitor.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleExport streams an xlsx workbook of the locations matching the
// optional facility filter.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	facility := r.URL.Query().Get("facility")
	var buf bytes.Buffer
	n, err := h.Reports.Export(r.Context(), &buf, store.LocationFilter{Facility: facility})
	if err != nil {
		writeError(w, r, err)
		return
	}

	label := facility
	if label == "" {
		label = "All"
	}
	name := fmt.Sprintf("CML_Export_%s_%s.xlsx", label, time.Now().UTC().Format("20060102_150405"))

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		zap.L().Warn("api: write export", zap.Error(err))
		return
	}
	zap.L().Info("api: export written", zap.Int("locations", n), zap.String("facility", facility))
}
