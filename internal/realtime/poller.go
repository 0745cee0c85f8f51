// Package realtime tails the outbox and pushes each event to hub subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Bomussa/Eme/internal/hub"
	"github.com/Bomussa/Eme/internal/metrics"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/rs/zerolog"
)

const Consumer = "realtime"

// Envelope is the JSON frame delivered to realtime clients.
type Envelope struct {
	Type      string          `json:"type"`
	Clinic    string          `json:"clinic,omitempty"`
	PatientID string          `json:"patient_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Broadcaster interface {
	Broadcast(payload []byte, meta hub.Subscription) int
}

type Poller struct {
	store     store.OutboxStore
	hub       Broadcaster
	logger    zerolog.Logger
	metrics   *metrics.Collector
	batchSize int
	running   int32
}

func NewPoller(st store.OutboxStore, h Broadcaster, batchSize int, logger zerolog.Logger, m *metrics.Collector) *Poller {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Poller{
		store:     st,
		hub:       h,
		logger:    logger.With().Str("component", "realtime").Logger(),
		metrics:   m,
		batchSize: batchSize,
	}
}

// Poll broadcasts one batch past the stored offset and advances it. Overlapping
// calls return immediately.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return 0, nil
	}
	defer atomic.StoreInt32(&p.running, 0)

	offset, err := p.store.GetOffset(ctx, Consumer)
	if err != nil {
		return 0, fmt.Errorf("load offset: %w", err)
	}
	events, err := p.store.ListOutboxEvents(ctx, offset, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}
	for _, event := range events {
		payload, err := json.Marshal(Envelope{
			Type:      event.Type,
			Clinic:    event.Clinic,
			PatientID: event.PatientID,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			p.logger.Error().Err(err).Int64("seq", event.Seq).Msg("encode envelope")
		} else {
			p.hub.Broadcast(payload, hub.Subscription{Clinic: event.Clinic, PatientID: event.PatientID})
			if p.metrics != nil {
				p.metrics.EventsBroadcast.Inc()
			}
		}
		offset.LastSeq = event.Seq
	}
	if len(events) > 0 {
		if err := p.store.UpdateOffset(ctx, Consumer, offset); err != nil {
			return len(events), fmt.Errorf("update offset: %w", err)
		}
	}
	return len(events), nil
}

// Start polls every interval until ctx is done.
func (p *Poller) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if _, err := p.Poll(pollCtx); err != nil {
				p.logger.Error().Err(err).Msg("outbox poll failed")
			}
			cancel()
		}
	}
}
