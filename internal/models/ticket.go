package models

import "time"

type Ticket struct {
	TicketID    string     `json:"ticket_id"`
	Clinic      string     `json:"clinic"`
	PatientID   string     `json:"patient_id"`
	Number      int64      `json:"number"`
	Status      string     `json:"status"`
	EnteredAt   time.Time  `json:"entered_at"`
	CalledAt    *time.Time `json:"called_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const (
	StatusWaiting   = "WAITING"
	StatusInService = "IN_SERVICE"
	StatusDone      = "DONE"
)

// Active reports whether the ticket still occupies a place in its clinic queue.
func (t Ticket) Active() bool {
	return t.Status == StatusWaiting || t.Status == StatusInService
}
