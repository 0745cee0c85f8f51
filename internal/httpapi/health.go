package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type maintenanceResponse struct {
	Maintenance bool      `json:"maintenance"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "healthy", Database: "connected", Version: h.opts.Version, Timestamp: time.Now().UTC()}
	status := http.StatusOK
	if h.svc.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.svc.Health.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("health ping failed")
			resp.Status = "degraded"
			resp.Database = "error"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := maintenanceResponse{Maintenance: h.opts.Maintenance, Status: "up", Message: "System is operational", Timestamp: time.Now().UTC()}
	if h.opts.Maintenance {
		resp.Status = "down"
		resp.Message = "System is under maintenance"
	}
	writeJSON(w, http.StatusOK, resp)
}

// maintenanceMiddleware rejects writes while maintenance mode is on. Reads
// keep working so screens stay up.
func (h *Handler) maintenanceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Maintenance && r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/") {
			writeError(w, requestID(r), http.StatusServiceUnavailable, "maintenance", "system is under maintenance")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control, X-Request-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
