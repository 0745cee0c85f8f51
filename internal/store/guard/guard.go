// Package guard wraps a store.Store with a circuit breaker so that an
// unreachable database fails fast with store.ErrUnavailable.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type Options struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

type Store struct {
	next store.Store
	cb   *gobreaker.CircuitBreaker[any]
}

var _ store.Store = (*Store)(nil)

func New(next store.Store, opts Options, logger zerolog.Logger) *Store {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	log := logger.With().Str("component", "store_guard").Logger()
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || store.IsDomainError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &Store{next: next, cb: cb}
}

func run[T any](s *Store, fn func() (T, error)) (T, error) {
	out, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	value, _ := out.(T)
	if isInfrastructure(err) {
		return value, fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return value, err
}

// isInfrastructure reports errors that mean the backend could not answer,
// as opposed to business outcomes and caller cancellation.
func isInfrastructure(err error) bool {
	if err == nil || store.IsDomainError(err) || errors.Is(err, store.ErrUnavailable) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type ticketResult struct {
	ticket  models.Ticket
	changed bool
}

type pinResult struct {
	pin     models.DailyPin
	created bool
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := run(s, func() (struct{}, error) { return struct{}{}, s.next.Ping(ctx) })
	return err
}

func (s *Store) EnterQueue(ctx context.Context, input store.EnterInput) (models.Ticket, bool, error) {
	res, err := run(s, func() (ticketResult, error) {
		ticket, created, err := s.next.EnterQueue(ctx, input)
		return ticketResult{ticket, created}, err
	})
	return res.ticket, res.changed, err
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (store.CallNextResult, error) {
	return run(s, func() (store.CallNextResult, error) { return s.next.CallNext(ctx, input) })
}

func (s *Store) CompleteTicket(ctx context.Context, input store.CompleteInput) (models.Ticket, bool, error) {
	res, err := run(s, func() (ticketResult, error) {
		ticket, changed, err := s.next.CompleteTicket(ctx, input)
		return ticketResult{ticket, changed}, err
	})
	return res.ticket, res.changed, err
}

func (s *Store) GetActiveTicket(ctx context.Context, clinic, patientID string) (models.Ticket, error) {
	return run(s, func() (models.Ticket, error) { return s.next.GetActiveTicket(ctx, clinic, patientID) })
}

func (s *Store) ListTickets(ctx context.Context, clinic string, since time.Time) ([]models.Ticket, error) {
	return run(s, func() ([]models.Ticket, error) { return s.next.ListTickets(ctx, clinic, since) })
}

func (s *Store) ListTicketsEntered(ctx context.Context, from, to time.Time) ([]models.Ticket, error) {
	return run(s, func() ([]models.Ticket, error) { return s.next.ListTicketsEntered(ctx, from, to) })
}

func (s *Store) CountWaiting(ctx context.Context, clinics []string) (map[string]int, error) {
	return run(s, func() (map[string]int, error) { return s.next.CountWaiting(ctx, clinics) })
}

func (s *Store) WaitingPosition(ctx context.Context, clinic string, number int64) (store.WaitingPosition, error) {
	return run(s, func() (store.WaitingPosition, error) { return s.next.WaitingPosition(ctx, clinic, number) })
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	return run(s, func() (models.Patient, error) { return s.next.GetPatient(ctx, patientID) })
}

func (s *Store) RegisterPatient(ctx context.Context, input store.RegisterInput) (store.RegisterResult, error) {
	return run(s, func() (store.RegisterResult, error) { return s.next.RegisterPatient(ctx, input) })
}

func (s *Store) AdvancePatient(ctx context.Context, input store.AdvanceInput) (store.AdvanceResult, error) {
	return run(s, func() (store.AdvanceResult, error) { return s.next.AdvancePatient(ctx, input) })
}

func (s *Store) GetOrCreatePin(ctx context.Context, clinic, date string, generate func() (string, error), at time.Time) (models.DailyPin, bool, error) {
	res, err := run(s, func() (pinResult, error) {
		pin, created, err := s.next.GetOrCreatePin(ctx, clinic, date, generate, at)
		return pinResult{pin, created}, err
	})
	return res.pin, res.created, err
}

func (s *Store) GetPin(ctx context.Context, clinic, date string) (models.DailyPin, error) {
	return run(s, func() (models.DailyPin, error) { return s.next.GetPin(ctx, clinic, date) })
}

func (s *Store) ListPins(ctx context.Context, date string) ([]models.DailyPin, error) {
	return run(s, func() ([]models.DailyPin, error) { return s.next.ListPins(ctx, date) })
}

func (s *Store) ResetPin(ctx context.Context, clinic, date, pin string, at time.Time) (models.DailyPin, error) {
	return run(s, func() (models.DailyPin, error) { return s.next.ResetPin(ctx, clinic, date, pin, at) })
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	return run(s, func() ([]store.OutboxEvent, error) { return s.next.ListOutboxEvents(ctx, offset, limit) })
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	return run(s, func() (store.OutboxOffset, error) { return s.next.GetOffset(ctx, consumer) })
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	_, err := run(s, func() (struct{}, error) { return struct{}{}, s.next.UpdateOffset(ctx, consumer, offset) })
	return err
}
