// Package memory is an in-process implementation of store.Store used for
// local development and tests. A single mutex makes every call atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/google/uuid"
)

type pinKey struct {
	clinic string
	date   string
}

type Store struct {
	mu       sync.Mutex
	patients map[string]models.Patient
	tickets  map[string][]*models.Ticket
	next     map[string]int64
	pins     map[pinKey]models.DailyPin
	outbox   []store.OutboxEvent
	offsets  map[string]store.OutboxOffset
	seq      int64
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		patients: make(map[string]models.Patient),
		tickets:  make(map[string][]*models.Ticket),
		next:     make(map[string]int64),
		pins:     make(map[pinKey]models.DailyPin),
		offsets:  make(map[string]store.OutboxOffset),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) EnterQueue(ctx context.Context, input store.EnterInput) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, created := s.enterLocked(input.Clinic, input.PatientID, stamp(input.EnteredAt))
	return ticket, created, nil
}

func (s *Store) enterLocked(clinic, patientID string, at time.Time) (models.Ticket, bool) {
	if active := s.activeLocked(clinic, patientID); active != nil {
		return *active, false
	}
	s.next[clinic]++
	ticket := &models.Ticket{
		TicketID:  uuid.NewString(),
		Clinic:    clinic,
		PatientID: patientID,
		Number:    s.next[clinic],
		Status:    models.StatusWaiting,
		EnteredAt: at,
	}
	s.tickets[clinic] = append(s.tickets[clinic], ticket)
	s.emitTicketLocked(store.EventTicketCreated, *ticket, at)
	return *ticket, true
}

func (s *Store) activeLocked(clinic, patientID string) *models.Ticket {
	for _, ticket := range s.tickets[clinic] {
		if ticket.PatientID == patientID && ticket.Active() {
			return ticket
		}
	}
	return nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (store.CallNextResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := stamp(input.CalledAt)
	var result store.CallNextResult
	var next *models.Ticket
	for _, ticket := range s.tickets[input.Clinic] {
		switch {
		case store.ValidTransition(store.ActionFinish, ticket.Status):
			s.transitionLocked(ticket, store.ActionFinish, at)
			done := *ticket
			result.Completed = &done
			s.emitTicketLocked(store.EventTicketCompleted, done, at)
		case store.ValidTransition(store.ActionCall, ticket.Status):
			if next == nil || ticket.Number < next.Number {
				next = ticket
			}
		}
	}
	if next == nil {
		return result, store.ErrNoTicket
	}
	s.transitionLocked(next, store.ActionCall, at)
	called := *next
	result.Called = &called
	s.emitTicketLocked(store.EventTicketCalled, called, at)
	return result, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.CompleteInput) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := stamp(input.CompletedAt)
	if active := s.activeLocked(input.Clinic, input.PatientID); active != nil {
		s.transitionLocked(active, store.ActionComplete, at)
		s.emitTicketLocked(store.EventTicketCompleted, *active, at)
		return *active, true, nil
	}
	if latest := s.latestLocked(input.Clinic, input.PatientID); latest != nil {
		return *latest, false, nil
	}
	return models.Ticket{}, false, store.ErrTicketNotFound
}

func (s *Store) latestLocked(clinic, patientID string) *models.Ticket {
	var latest *models.Ticket
	for _, ticket := range s.tickets[clinic] {
		if ticket.PatientID == patientID && (latest == nil || ticket.Number > latest.Number) {
			latest = ticket
		}
	}
	return latest
}

func (s *Store) transitionLocked(ticket *models.Ticket, action string, at time.Time) {
	ticket.Status = store.NextStatus(action)
	ts := at
	switch action {
	case store.ActionCall:
		ticket.CalledAt = &ts
	default:
		ticket.CompletedAt = &ts
	}
}

func (s *Store) GetActiveTicket(ctx context.Context, clinic, patientID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active := s.activeLocked(clinic, patientID); active != nil {
		return *active, nil
	}
	return models.Ticket{}, store.ErrTicketNotFound
}

func (s *Store) ListTickets(ctx context.Context, clinic string, since time.Time) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tickets := make([]models.Ticket, 0, len(s.tickets[clinic]))
	for _, ticket := range s.tickets[clinic] {
		if ticket.EnteredAt.Before(since) && ticket.Status == models.StatusDone {
			continue
		}
		tickets = append(tickets, *ticket)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Number < tickets[j].Number })
	return tickets, nil
}

func (s *Store) ListTicketsEntered(ctx context.Context, from, to time.Time) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tickets []models.Ticket
	for _, list := range s.tickets {
		for _, ticket := range list {
			if !ticket.EnteredAt.Before(from) && ticket.EnteredAt.Before(to) {
				tickets = append(tickets, *ticket)
			}
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].EnteredAt.Before(tickets[j].EnteredAt) })
	return tickets, nil
}

func (s *Store) CountWaiting(ctx context.Context, clinics []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(clinics))
	for _, clinic := range clinics {
		count := 0
		for _, ticket := range s.tickets[clinic] {
			if ticket.Status == models.StatusWaiting {
				count++
			}
		}
		counts[clinic] = count
	}
	return counts, nil
}

func (s *Store) WaitingPosition(ctx context.Context, clinic string, number int64) (store.WaitingPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pos store.WaitingPosition
	for _, ticket := range s.tickets[clinic] {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		pos.TotalWaiting++
		if ticket.Number < number {
			pos.Ahead++
		}
	}
	return pos, nil
}

func stamp(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}
