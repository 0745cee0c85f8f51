// Package hub fans realtime payloads out to connected SSE and SockJS clients.
package hub

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/Bomussa/Eme/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultBuffer = 16

// Subscription scopes a client. Empty fields match everything; a muted
// subscription matches nothing.
type Subscription struct {
	Clinic    string
	PatientID string
	Muted     bool
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

func NewClient(sub Subscription) *Client {
	return &Client{ID: uuid.NewString(), Send: make(chan []byte, defaultBuffer), Subscription: sub}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
	metrics *metrics.Collector
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	Clinic    string `json:"clinic"`
	PatientID string `json:"patientId"`
}

func New(logger zerolog.Logger, m *metrics.Collector) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "hub").Logger(),
		metrics: m,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	if h.metrics != nil {
		h.metrics.RealtimeClients.Inc()
	}
}

// Unregister removes the client and closes its Send channel. Calling it twice
// for the same client is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	if h.metrics != nil {
		h.metrics.RealtimeClients.Dec()
	}
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers payload to matching clients without blocking. A client
// with a full buffer misses the message. Returns the number delivered.
func (h *Hub) Broadcast(payload []byte, meta Subscription) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, client := range h.clients {
		if !match(client.Subscription, meta) {
			continue
		}
		select {
		case client.Send <- payload:
			delivered++
		default:
			h.logger.Warn().Str("client_id", client.ID).Msg("client buffer full, dropping message")
		}
	}
	return delivered
}

func match(sub Subscription, meta Subscription) bool {
	if sub.Muted {
		return false
	}
	if sub.Clinic != "" && meta.Clinic != "" && meta.Clinic != sub.Clinic {
		return false
	}
	if sub.PatientID != "" && meta.PatientID != sub.PatientID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	msg.Clinic = strings.ToLower(strings.TrimSpace(msg.Clinic))
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
