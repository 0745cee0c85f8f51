package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType, clinic, patientID string, payload []byte, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, clinic, patient_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), eventType, clinic, patientID, payload, at)
	return err
}

func insertTicketEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket, at time.Time) error {
	payload, err := store.TicketPayload(ticket)
	if err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, eventType, ticket.Clinic, ticket.PatientID, payload, at)
}

func insertPatientEvent(ctx context.Context, tx pgx.Tx, eventType string, patient models.Patient, at time.Time) error {
	payload, err := store.PatientPayload(patient)
	if err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, eventType, patient.CurrentClinic(), patient.PatientID, payload, at)
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, type, clinic, patient_id, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, offset.LastSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &event.Clinic, &event.PatientID, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	var offset store.OutboxOffset
	row := s.pool.QueryRow(ctx, `SELECT last_seq FROM outbox_offsets WHERE consumer = $1`, consumer)
	if err := row.Scan(&offset.LastSeq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.OutboxOffset{}, nil
		}
		return store.OutboxOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_offsets (consumer, last_seq, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer)
		DO UPDATE SET last_seq = EXCLUDED.last_seq, updated_at = NOW()
	`, consumer, offset.LastSeq)
	return err
}
