// Package relay publishes outbox events to Kafka for downstream consumers
// such as notification senders and analytics.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Bomussa/Eme/internal/metrics"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const Consumer = "kafka"

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Config struct {
	BatchSize int
}

type Relay struct {
	store     store.OutboxStore
	writer    MessageWriter
	batchSize int
	logger    zerolog.Logger
	metrics   *metrics.Collector
}

func New(st store.OutboxStore, writer MessageWriter, cfg Config, logger zerolog.Logger, m *metrics.Collector) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:     st,
		writer:    writer,
		batchSize: cfg.BatchSize,
		logger:    logger.With().Str("component", "relay").Logger(),
		metrics:   m,
	}
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Run publishes one batch. The offset only moves after Kafka accepted the
// whole batch, so a failed write is retried on the next run.
func (r *Relay) Run(ctx context.Context) (int, error) {
	offset, err := r.store.GetOffset(ctx, Consumer)
	if err != nil {
		return 0, fmt.Errorf("load offset: %w", err)
	}
	events, err := r.store.ListOutboxEvents(ctx, offset, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return 0, fmt.Errorf("encode event %d: %w", event.Seq, err)
		}
		key := event.Clinic
		if key == "" {
			key = event.PatientID
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Time:  event.CreatedAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.Type)},
				{Key: "event_id", Value: []byte(event.EventID)},
			},
		})
	}
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("write messages: %w", err)
	}

	offset.LastSeq = events[len(events)-1].Seq
	if err := r.store.UpdateOffset(ctx, Consumer, offset); err != nil {
		return len(events), fmt.Errorf("update offset: %w", err)
	}
	if r.metrics != nil {
		r.metrics.EventsRelayed.Add(float64(len(events)))
	}
	r.logger.Debug().Int("count", len(events)).Int64("last_seq", offset.LastSeq).Msg("events relayed")
	return len(events), nil
}

func Start(ctx context.Context, interval time.Duration, r *Relay) {
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
			if _, err := r.Run(ctx); err != nil {
				r.logger.Error().Err(err).Msg("relay run failed")
			}
		}
	}
}
