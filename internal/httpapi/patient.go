package httpapi

import (
	"net/http"
	"strings"
)

type loginRequest struct {
	PatientID string `json:"patientId"`
	Gender    string `json:"gender"`
	ExamType  string `json:"examType"`
}

type verifyPinRequest struct {
	PatientID string `json:"patientId"`
	Clinic    string `json:"clinic"`
	Pin       string `json:"pin"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.Patients.Login(r.Context(), strings.TrimSpace(req.PatientID), req.Gender, strings.ToLower(strings.TrimSpace(req.ExamType)))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) handleVerifyPin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req verifyPinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.Patients.VerifyAndAdvance(r.Context(), strings.TrimSpace(req.PatientID), normalizeClinic(req.Clinic), strings.TrimSpace(req.Pin))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handlePatientStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	view, err := h.svc.Patients.Get(r.Context(), strings.TrimSpace(r.URL.Query().Get("patientId")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
