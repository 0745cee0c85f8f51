package memory

import (
	"context"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/google/uuid"
)

func (s *Store) emitTicketLocked(eventType string, ticket models.Ticket, at time.Time) {
	s.emitLocked(eventType, ticket.Clinic, ticket.PatientID, at, func() ([]byte, error) { return store.TicketPayload(ticket) })
}

func (s *Store) emitPatientLocked(eventType string, patient models.Patient, at time.Time) {
	s.emitLocked(eventType, patient.CurrentClinic(), patient.PatientID, at, func() ([]byte, error) { return store.PatientPayload(patient) })
}

func (s *Store) emitLocked(eventType, clinic, patientID string, at time.Time, payload func() ([]byte, error)) {
	body, err := payload()
	if err != nil {
		return
	}
	s.seq++
	s.outbox = append(s.outbox, store.OutboxEvent{
		Seq:       s.seq,
		EventID:   uuid.NewString(),
		Type:      eventType,
		Clinic:    clinic,
		PatientID: patientID,
		Payload:   body,
		CreatedAt: at,
	})
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []store.OutboxEvent
	for _, event := range s.outbox {
		if event.Seq <= offset.LastSeq {
			continue
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets[consumer], nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[consumer] = offset
	return nil
}
