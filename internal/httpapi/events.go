package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Bomussa/Eme/internal/hub"
	"github.com/Bomussa/Eme/internal/validation"

	"github.com/igm/sockjs-go/sockjs"
)

type streamFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) subscription(r *http.Request) (hub.Subscription, error) {
	query := r.URL.Query()
	sub := hub.Subscription{
		Clinic:    normalizeClinic(query.Get("clinic")),
		PatientID: strings.TrimSpace(query.Get("patientId")),
	}
	if sub.Clinic != "" && h.svc.Catalog != nil && !h.svc.Catalog.IsClinic(sub.Clinic) {
		return hub.Subscription{}, validation.New(fmt.Sprintf("unknown clinic %q", sub.Clinic), "clinic")
	}
	if sub.PatientID != "" {
		if err := validation.PatientID(sub.PatientID); err != nil {
			return hub.Subscription{}, err
		}
	}
	return sub, nil
}

// handleEventStream is a server-sent events feed. The heartbeat frames only
// keep proxies from closing idle connections.
func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.svc.Hub == nil {
		writeError(w, requestID(r), http.StatusServiceUnavailable, "service_unavailable", "event stream disabled")
		return
	}
	sub, err := h.subscription(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := hub.NewClient(sub)
	h.svc.Hub.Register(client)
	defer h.svc.Hub.Unregister(client)

	send := func(data []byte) bool {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		return rc.Flush() == nil
	}
	frame := func(kind string) []byte {
		data, _ := json.Marshal(streamFrame{Type: kind, Timestamp: time.Now().UTC()})
		return data
	}

	if !send(frame("CONNECTED")) {
		return
	}
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send(frame("HEARTBEAT")) {
				return
			}
		case msg, ok := <-client.Send:
			if !ok || !send(msg) {
				return
			}
		}
	}
}

func (h *Handler) sockJSHandler() http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		sub := hub.Subscription{}
		if req := session.Request(); req != nil {
			parsed, err := h.subscription(req)
			if err != nil {
				_ = session.Close(4000, "invalid subscription")
				return
			}
			sub = parsed
		}

		client := hub.NewClient(sub)
		h.svc.Hub.Register(client)
		defer h.svc.Hub.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.svc.Hub.UpdateSubscription(client, hub.Subscription{Muted: true})
				continue
			}
			if parsed.Clinic != "" && h.svc.Catalog != nil && !h.svc.Catalog.IsClinic(parsed.Clinic) {
				_ = session.Send(`{"type":"ERROR","message":"unknown clinic"}`)
				continue
			}
			h.svc.Hub.UpdateSubscription(client, hub.Subscription{Clinic: parsed.Clinic, PatientID: parsed.PatientID})
		}
	})
}
