package httpapi

import (
	"net/http"
	"strings"

	"github.com/Bomussa/Eme/internal/reports"
)

type pinResetRequest struct {
	Clinic string `json:"clinic"`
}

func (h *Handler) handlePinStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := h.svc.Pins.Status(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handlePinReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req pinResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	value, err := h.svc.Pins.Reset(r.Context(), normalizeClinic(req.Clinic))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status, err := h.svc.Admin.Status(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleDailyReport serves JSON by default and CSV with format=csv.
func (h *Handler) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	report, err := h.svc.Reports.Daily(r.Context(), strings.TrimSpace(query.Get("date")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if query.Get("format") != "csv" {
		writeJSON(w, http.StatusOK, report)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=daily-"+report.Date+".csv")
	if err := reports.WriteCSV(w, report); err != nil {
		h.logger.Warn().Err(err).Str("request_id", requestID(r)).Msg("write csv")
	}
}
