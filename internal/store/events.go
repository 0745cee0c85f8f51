package store

import (
	"encoding/json"
	"time"

	"github.com/Bomussa/Eme/internal/models"
)

const (
	EventTicketCreated     = "ticket.created"
	EventTicketCalled      = "ticket.called"
	EventTicketCompleted   = "ticket.completed"
	EventPatientRegistered = "patient.registered"
	EventPatientAdvanced   = "patient.advanced"
	EventPatientCompleted  = "patient.completed"
	EventPinReset          = "pin.reset"
)

type OutboxEvent struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Clinic    string          `json:"clinic,omitempty"`
	PatientID string          `json:"patient_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OutboxOffset is the position of a consumer in the outbox stream.
type OutboxOffset struct {
	LastSeq int64
}

func TicketPayload(ticket models.Ticket) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"ticket_id":    ticket.TicketID,
		"clinic":       ticket.Clinic,
		"patient_id":   ticket.PatientID,
		"number":       ticket.Number,
		"status":       ticket.Status,
		"entered_at":   ticket.EnteredAt,
		"called_at":    ticket.CalledAt,
		"completed_at": ticket.CompletedAt,
	})
}

func PatientPayload(patient models.Patient) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"patient_id":     patient.PatientID,
		"exam_type":      patient.ExamType,
		"status":         patient.Status,
		"current_index":  patient.CurrentIndex,
		"current_clinic": patient.CurrentClinic(),
		"total_clinics":  len(patient.Route),
	})
}

func PinPayload(pin models.DailyPin) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"clinic":       pin.Clinic,
		"date":         pin.Date,
		"generated_at": pin.GeneratedAt,
	})
}
