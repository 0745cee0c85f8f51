package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Bomussa/Eme/internal/admin"
	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/hub"
	"github.com/Bomussa/Eme/internal/metrics"
	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/pin"
	"github.com/Bomussa/Eme/internal/progression"
	"github.com/Bomussa/Eme/internal/queue"
	"github.com/Bomussa/Eme/internal/reports"
	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/internal/validation"

	"github.com/rs/zerolog"
)

type QueueService interface {
	Enter(ctx context.Context, clinic, patientID string) (queue.EnterResult, error)
	CallNext(ctx context.Context, clinic string) (store.CallNextResult, error)
	MarkDone(ctx context.Context, clinic, patientID string) (models.Ticket, bool, error)
	Status(ctx context.Context, clinic string) (queue.Snapshot, error)
	Position(ctx context.Context, clinic, patientID string) (queue.Position, error)
}

type PatientService interface {
	Login(ctx context.Context, patientID, gender, examType string) (progression.LoginResult, error)
	VerifyAndAdvance(ctx context.Context, patientID, clinic, pin string) (progression.AdvanceResult, error)
	Get(ctx context.Context, patientID string) (progression.PatientView, error)
}

type PinService interface {
	Status(ctx context.Context, date string) (pin.Status, error)
	Reset(ctx context.Context, clinic string) (models.DailyPin, error)
	Require(ctx context.Context, clinic, supplied string) error
}

type AdminService interface {
	Status(ctx context.Context) (admin.Status, error)
}

type ReportService interface {
	Daily(ctx context.Context, date string) (reports.Daily, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups the collaborators behind the HTTP surface.
type Services struct {
	Catalog  *catalog.Catalog
	Queue    QueueService
	Patients PatientService
	Pins     PinService
	Admin    AdminService
	Reports  ReportService
	Hub      *hub.Hub
	Health   Pinger
}

type Options struct {
	HeartbeatInterval time.Duration
	Maintenance       bool
	Version           string
}

type Handler struct {
	svc     Services
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Collector
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(svc Services, opts Options, logger zerolog.Logger, m *metrics.Collector) *Handler {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	return &Handler{svc: svc, opts: opts, logger: logger.With().Str("component", "http").Logger(), metrics: m}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.HandleFunc("/api/v1/health", h.handleHealth)
	mux.HandleFunc("/api/v1/maintenance", h.handleMaintenance)

	mux.HandleFunc("/api/v1/patient/login", h.handleLogin)
	mux.HandleFunc("/api/v1/patient/verify-pin", h.handleVerifyPin)
	mux.HandleFunc("/api/v1/patient/status", h.handlePatientStatus)

	mux.HandleFunc("/api/v1/queue/enter", h.handleEnter)
	mux.HandleFunc("/api/v1/queue/call", h.handleCall)
	mux.HandleFunc("/api/v1/queue/done", h.handleDone)
	mux.HandleFunc("/api/v1/queue/status", h.handleQueueStatus)
	mux.HandleFunc("/api/v1/queue/position", h.handlePosition)

	mux.HandleFunc("/api/v1/pin/status", h.handlePinStatus)
	mux.HandleFunc("/api/v1/pin/reset", h.handlePinReset)
	mux.HandleFunc("/api/v1/admin/status", h.handleAdminStatus)
	mux.HandleFunc("/api/v1/reports/daily", h.handleDailyReport)

	mux.HandleFunc("/api/v1/events/stream", h.handleEventStream)
	if h.svc.Hub != nil {
		mux.Handle("/realtime/", h.sockJSHandler())
	}
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics.MetricsHandler())
	}
	return requestIDMiddleware(corsMiddleware(h.maintenanceMiddleware(mux)))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestID(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func normalizeClinic(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("request_id", requestID(r)).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, requestID(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	if verr, ok := validation.As(err); ok {
		return http.StatusBadRequest, "validation_error", verr.Error()
	}
	switch {
	case errors.Is(err, pin.ErrInvalidPin):
		return http.StatusBadRequest, "invalid_pin", "pin is incorrect"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "not_in_queue", "patient is not in this clinic queue"
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found"
	case errors.Is(err, store.ErrRouteMismatch):
		return http.StatusConflict, "route_mismatch", "clinic is not the patient's current step"
	case errors.Is(err, store.ErrPatientCompleted):
		return http.StatusConflict, "already_completed", "patient has already completed the route"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, please retry"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable", "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
