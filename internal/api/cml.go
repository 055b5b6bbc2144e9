package api

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/ingest"
	"github.com/sells-group/cml-optimizer/internal/model"
	"github.com/sells-group/cml-optimizer/internal/reconcile"
	"github.com/sells-group/cml-optimizer/internal/scorer"
	"github.com/sells-group/cml-optimizer/internal/store"
)

const defaultListLimit = 100

// UploadRequest is the JSON form of an upload.
type UploadRequest struct {
	Source string          `json:"source"`
	User   string          `json:"user"`
	Rows   []reconcile.Row `json:"rows"`
}

// OverrideRequest records an SME decision.
type OverrideRequest struct {
	LocationID string `json:"cml_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	User       string `json:"user"`
}

// handleUpload accepts either a JSON body of rows or a multipart form
// with an xlsx or csv "file" part.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = h.readUploadForm(r)
	} else {
		err = decodeJSON(r, &req)
		if req.Source == "" {
			req.Source = "api"
		}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, r, badRequest("upload contains no rows"))
		return
	}

	outcome, err := h.Reconciler.Reconcile(r.Context(), req.Source, req.User, req.Rows)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) readUploadForm(r *http.Request) (UploadRequest, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return UploadRequest{}, badRequest("invalid multipart form: %v", err)
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		return UploadRequest{}, badRequest("missing file part")
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		return UploadRequest{}, eris.Wrap(err, "api: read upload")
	}

	req := UploadRequest{Source: hdr.Filename, User: r.FormValue("user")}
	switch strings.ToLower(filepath.Ext(hdr.Filename)) {
	case ".xlsx":
		req.Rows, err = ingest.ReadXLSXBytes(data, ingest.XLSXOptions{SheetName: h.upload.SheetName}, h.Columns)
	case ".csv":
		req.Rows, err = ingest.ReadCSV(r.Context(), bytes.NewReader(data), h.Columns)
	default:
		return req, badRequest("unsupported file type %q (want .xlsx or .csv)", filepath.Ext(hdr.Filename))
	}
	if err != nil {
		return req, badRequest("parse %s: %v", hdr.Filename, err)
	}
	return req, nil
}

func (h *Handler) handleListUploads(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcomes, err := h.Store.ListOutcomes(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func (h *Handler) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.Store.GetLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (h *Handler) handleListReadings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Store.GetLocation(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	readings, err := h.Store.ListReadings(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func (h *Handler) handleListLocations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	locs, err := h.Store.ListLocations(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if locs == nil {
		locs = []model.MonitoringLocation{}
	}
	writeJSON(w, http.StatusOK, locs)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Reports.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req scorer.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		writeError(w, r, badRequest("threshold must be between 0 and 1"))
		return
	}
	analysis, err := h.Scorer.Score(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.LocationID == "" {
		writeError(w, r, badRequest("cml_id is required"))
		return
	}
	loc, err := h.Decisions.Override(r.Context(), req.LocationID, req.Decision, req.Reason, req.User)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":               "SME override recorded successfully",
		"cml_id":                loc.LocationID,
		"elimination_candidate": loc.EliminationCandidate,
		"state":                 loc.State(),
	})
}

func (h *Handler) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	loc, err := h.Decisions.ClearOverride(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// parseFilter reads the list query parameters: facility, system,
// risk_level, elimination_only, skip and limit.
func parseFilter(r *http.Request) (store.LocationFilter, error) {
	q := r.URL.Query()
	f := store.LocationFilter{
		Facility: q.Get("facility"),
		System:   q.Get("system"),
	}
	if raw := q.Get("risk_level"); raw != "" {
		rc, err := model.ParseRiskCategory(raw)
		if err != nil {
			return f, badRequest("unknown risk_level %q", raw)
		}
		f.Risk = rc
	}
	if raw := q.Get("elimination_only"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, badRequest("elimination_only must be a boolean")
		}
		f.EliminationOnly = b
	}
	var err error
	if f.Offset, err = queryInt(r, "skip", 0); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit", defaultListLimit); err != nil {
		return f, err
	}
	return f, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", key)
	}
	return n, nil
}
