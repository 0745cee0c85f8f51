package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/queue"
	"github.com/Bomussa/Eme/internal/store"
)

type enterRequest struct {
	Clinic string `json:"clinic"`
	User   string `json:"user"`
}

type callRequest struct {
	Clinic string `json:"clinic"`
}

type doneRequest struct {
	Clinic string `json:"clinic"`
	User   string `json:"user"`
	Pin    string `json:"pin"`
}

type enterResponse struct {
	Ticket       models.Ticket `json:"ticket"`
	Created      bool          `json:"created"`
	Number       int64         `json:"number"`
	Position     int           `json:"position"`
	Ahead        int           `json:"ahead"`
	TotalWaiting int           `json:"total_waiting"`
}

type callResponse struct {
	Clinic      string         `json:"clinic"`
	Called      *models.Ticket `json:"called"`
	Completed   *models.Ticket `json:"completed"`
	NoneWaiting bool           `json:"none_waiting"`
}

type doneResponse struct {
	Ticket  models.Ticket `json:"ticket"`
	Changed bool          `json:"changed"`
}

func (h *Handler) handleEnter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req enterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.Queue.Enter(r.Context(), normalizeClinic(req.Clinic), strings.TrimSpace(req.User))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnterResponse(res))
}

func toEnterResponse(res queue.EnterResult) enterResponse {
	return enterResponse{
		Ticket:       res.Ticket,
		Created:      res.Created,
		Number:       res.Ticket.Number,
		Position:     res.Position,
		Ahead:        res.Ahead,
		TotalWaiting: res.TotalWaiting,
	}
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req callRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	clinic := normalizeClinic(req.Clinic)
	res, err := h.svc.Queue.CallNext(r.Context(), clinic)
	if err != nil && !errors.Is(err, store.ErrNoTicket) {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, callResponse{
		Clinic:      clinic,
		Called:      res.Called,
		Completed:   res.Completed,
		NoneWaiting: errors.Is(err, store.ErrNoTicket),
	})
}

// handleDone completes a ticket. The pin is optional here; when supplied it
// must match today's pin for the clinic.
func (h *Handler) handleDone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req doneRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	clinic := normalizeClinic(req.Clinic)
	if value := strings.TrimSpace(req.Pin); value != "" {
		if err := h.svc.Pins.Require(r.Context(), clinic, value); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	ticket, changed, err := h.svc.Queue.MarkDone(r.Context(), clinic, strings.TrimSpace(req.User))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doneResponse{Ticket: ticket, Changed: changed})
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, err := h.svc.Queue.Status(r.Context(), normalizeClinic(r.URL.Query().Get("clinic")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	pos, err := h.svc.Queue.Position(r.Context(), normalizeClinic(query.Get("clinic")), strings.TrimSpace(query.Get("user")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
