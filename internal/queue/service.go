// Package queue implements per-clinic FIFO queue operations on top of the
// store's transactional primitives.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/metrics"
	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/internal/validation"

	"github.com/rs/zerolog"
)

type EnterResult struct {
	Ticket       models.Ticket
	Created      bool
	Position     int
	Ahead        int
	TotalWaiting int
}

type Position struct {
	Clinic       string `json:"clinic"`
	PatientID    string `json:"patient_id"`
	Number       int64  `json:"number"`
	Status       string `json:"status"`
	Position     int    `json:"position"`
	Ahead        int    `json:"ahead"`
	TotalWaiting int    `json:"total_waiting"`
}

// Calendar maps the operational day onto wall-clock bounds.
type Calendar interface {
	Today() string
	Window(date string) (time.Time, time.Time, error)
}

type Service struct {
	store    store.QueueStore
	catalog  *catalog.Catalog
	calendar Calendar
	logger   zerolog.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

type Option func(*Service)

// WithCalendar limits status snapshots to the current day. Without it every
// ticket the clinic ever issued is summarized.
func WithCalendar(c Calendar) Option {
	return func(s *Service) { s.calendar = c }
}

// WithClock overrides the wall clock used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.QueueStore, c *catalog.Catalog, logger zerolog.Logger, m *metrics.Collector, opts ...Option) *Service {
	s := &Service{
		store:   st,
		catalog: c,
		logger:  logger.With().Str("component", "queue").Logger(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) checkClinic(clinic string) error {
	if clinic == "" {
		return validation.New("is required", "clinic")
	}
	if !s.catalog.IsClinic(clinic) {
		return validation.New(fmt.Sprintf("unknown clinic %q", clinic), "clinic")
	}
	return nil
}

// Enter places a patient in a clinic queue. A patient already holding an
// active ticket in the clinic gets that ticket back unchanged.
func (s *Service) Enter(ctx context.Context, clinic, patientID string) (EnterResult, error) {
	if err := s.checkClinic(clinic); err != nil {
		return EnterResult{}, err
	}
	if err := validation.PatientID(patientID); err != nil {
		return EnterResult{}, err
	}

	ticket, created, err := s.store.EnterQueue(ctx, store.EnterInput{Clinic: clinic, PatientID: patientID, EnteredAt: s.now()})
	if err != nil {
		return EnterResult{}, fmt.Errorf("enter queue: %w", err)
	}
	if created {
		s.logger.Info().Str("clinic", clinic).Str("patient_id", patientID).Int64("number", ticket.Number).Msg("ticket issued")
		if s.metrics != nil {
			s.metrics.TicketsIssued.WithLabelValues(clinic).Inc()
		}
	}

	pos, err := s.store.WaitingPosition(ctx, clinic, ticket.Number)
	if err != nil {
		return EnterResult{}, fmt.Errorf("waiting position: %w", err)
	}
	return EnterResult{
		Ticket:       ticket,
		Created:      created,
		Position:     pos.Ahead + 1,
		Ahead:        pos.Ahead,
		TotalWaiting: pos.TotalWaiting,
	}, nil
}

// CallNext finishes the clinic's IN_SERVICE ticket, if any, and promotes the
// lowest-numbered WAITING ticket. store.ErrNoTicket is returned alongside the
// completion when nobody is waiting.
func (s *Service) CallNext(ctx context.Context, clinic string) (store.CallNextResult, error) {
	if err := s.checkClinic(clinic); err != nil {
		return store.CallNextResult{}, err
	}

	res, err := s.store.CallNext(ctx, store.CallNextInput{Clinic: clinic, CalledAt: s.now()})
	if res.Completed != nil {
		s.logger.Info().Str("clinic", clinic).Str("patient_id", res.Completed.PatientID).Int64("number", res.Completed.Number).Msg("ticket completed by call")
		if s.metrics != nil {
			s.metrics.ClinicsCompleted.WithLabelValues(clinic).Inc()
		}
	}
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			s.logger.Debug().Str("clinic", clinic).Msg("no patients waiting")
			return res, err
		}
		return store.CallNextResult{}, fmt.Errorf("call next: %w", err)
	}
	s.logger.Info().Str("clinic", clinic).Str("patient_id", res.Called.PatientID).Int64("number", res.Called.Number).Msg("patient called")
	if s.metrics != nil {
		s.metrics.PatientsCalled.WithLabelValues(clinic).Inc()
	}
	return res, nil
}

// MarkDone completes the patient's ticket whether WAITING or IN_SERVICE. A
// ticket that is already DONE is returned unchanged.
func (s *Service) MarkDone(ctx context.Context, clinic, patientID string) (models.Ticket, bool, error) {
	if err := s.checkClinic(clinic); err != nil {
		return models.Ticket{}, false, err
	}
	if err := validation.PatientID(patientID); err != nil {
		return models.Ticket{}, false, err
	}

	ticket, changed, err := s.store.CompleteTicket(ctx, store.CompleteInput{Clinic: clinic, PatientID: patientID, CompletedAt: s.now()})
	if err != nil {
		return models.Ticket{}, false, fmt.Errorf("mark done: %w", err)
	}
	if changed {
		s.logger.Info().Str("clinic", clinic).Str("patient_id", patientID).Int64("number", ticket.Number).Msg("ticket marked done")
		if s.metrics != nil {
			s.metrics.ClinicsCompleted.WithLabelValues(clinic).Inc()
		}
	}
	return ticket, changed, nil
}

func (s *Service) Status(ctx context.Context, clinic string) (Snapshot, error) {
	if err := s.checkClinic(clinic); err != nil {
		return Snapshot{}, err
	}
	since, err := s.dayStart()
	if err != nil {
		return Snapshot{}, err
	}
	tickets, err := s.store.ListTickets(ctx, clinic, since)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list tickets: %w", err)
	}
	return Summarize(clinic, tickets), nil
}

func (s *Service) dayStart() (time.Time, error) {
	if s.calendar == nil {
		return time.Time{}, nil
	}
	from, _, err := s.calendar.Window(s.calendar.Today())
	if err != nil {
		return time.Time{}, fmt.Errorf("day window: %w", err)
	}
	return from, nil
}

func (s *Service) Position(ctx context.Context, clinic, patientID string) (Position, error) {
	if err := s.checkClinic(clinic); err != nil {
		return Position{}, err
	}
	if err := validation.PatientID(patientID); err != nil {
		return Position{}, err
	}
	ticket, err := s.store.GetActiveTicket(ctx, clinic, patientID)
	if err != nil {
		return Position{}, fmt.Errorf("active ticket: %w", err)
	}
	pos, err := s.store.WaitingPosition(ctx, clinic, ticket.Number)
	if err != nil {
		return Position{}, fmt.Errorf("waiting position: %w", err)
	}
	return Position{
		Clinic:       clinic,
		PatientID:    patientID,
		Number:       ticket.Number,
		Status:       ticket.Status,
		Position:     pos.Ahead + 1,
		Ahead:        pos.Ahead,
		TotalWaiting: pos.TotalWaiting,
	}, nil
}
