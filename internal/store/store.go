// Package store defines the persistence contract shared by the postgres and
// in-memory implementations. Every mutating call is a single transaction.
package store

import (
	"context"
	"time"

	"github.com/Bomussa/Eme/internal/models"
)

type EnterInput struct {
	Clinic    string
	PatientID string
	EnteredAt time.Time
}

type CallNextInput struct {
	Clinic   string
	CalledAt time.Time
}

// CallNextResult carries both halves of the call transition. Completed is set
// when an IN_SERVICE ticket was finished, Called when a WAITING ticket was
// promoted.
type CallNextResult struct {
	Called    *models.Ticket
	Completed *models.Ticket
}

type CompleteInput struct {
	Clinic      string
	PatientID   string
	CompletedAt time.Time
}

type RegisterInput struct {
	PatientID    string
	Gender       string
	ExamType     string
	Route        []string
	RegisteredAt time.Time
}

type RegisterResult struct {
	Patient models.Patient
	Ticket  models.Ticket
	Created bool
}

type AdvanceInput struct {
	PatientID  string
	Clinic     string
	AdvancedAt time.Time
}

type AdvanceResult struct {
	Patient   models.Patient
	Completed models.Ticket
	Next      *models.Ticket
	Finished  bool
}

type WaitingPosition struct {
	Ahead        int
	TotalWaiting int
}

type QueueStore interface {
	EnterQueue(ctx context.Context, input EnterInput) (models.Ticket, bool, error)
	CallNext(ctx context.Context, input CallNextInput) (CallNextResult, error)
	CompleteTicket(ctx context.Context, input CompleteInput) (models.Ticket, bool, error)
	GetActiveTicket(ctx context.Context, clinic, patientID string) (models.Ticket, error)
	// ListTickets returns a clinic's tickets entered at or after since, plus
	// any still WAITING or IN_SERVICE. A zero since returns every ticket.
	ListTickets(ctx context.Context, clinic string, since time.Time) ([]models.Ticket, error)
	ListTicketsEntered(ctx context.Context, from, to time.Time) ([]models.Ticket, error)
	CountWaiting(ctx context.Context, clinics []string) (map[string]int, error)
	WaitingPosition(ctx context.Context, clinic string, number int64) (WaitingPosition, error)
}

type PatientStore interface {
	GetPatient(ctx context.Context, patientID string) (models.Patient, error)
	RegisterPatient(ctx context.Context, input RegisterInput) (RegisterResult, error)
	AdvancePatient(ctx context.Context, input AdvanceInput) (AdvanceResult, error)
}

type PinStore interface {
	// GetOrCreatePin inserts a pin produced by generate when none exists for
	// (clinic, date). Concurrent callers observe the same stored row.
	GetOrCreatePin(ctx context.Context, clinic, date string, generate func() (string, error), at time.Time) (models.DailyPin, bool, error)
	GetPin(ctx context.Context, clinic, date string) (models.DailyPin, error)
	ListPins(ctx context.Context, date string) ([]models.DailyPin, error)
	ResetPin(ctx context.Context, clinic, date, pin string, at time.Time) (models.DailyPin, error)
}

type OutboxStore interface {
	ListOutboxEvents(ctx context.Context, offset OutboxOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset OutboxOffset) error
}

type Store interface {
	QueueStore
	PatientStore
	PinStore
	OutboxStore
	Ping(ctx context.Context) error
}
