// Package progression walks a patient through their route: registration with
// a load-balanced route, then PIN-verified completion of each clinic.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/metrics"
	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/routing"
	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/internal/validation"

	"github.com/rs/zerolog"
)

type RouteComputer interface {
	ComputeRoute(ctx context.Context, examType string, gender catalog.Gender) (routing.Route, error)
}

type PinChecker interface {
	Require(ctx context.Context, clinic, supplied string) error
}

// Store is the subset of the persistence layer progression needs.
type Store interface {
	store.PatientStore
	GetActiveTicket(ctx context.Context, clinic, patientID string) (models.Ticket, error)
}

type LoginResult struct {
	Patient  models.Patient `json:"patient"`
	Ticket   *models.Ticket `json:"ticket,omitempty"`
	Existing bool           `json:"existing"`
}

type AdvanceResult struct {
	Patient      models.Patient `json:"patient"`
	Completed    bool           `json:"completed"`
	NextClinic   string         `json:"next_clinic,omitempty"`
	Remaining    int            `json:"remaining"`
	TotalClinics int            `json:"total_clinics"`
	Ticket       *models.Ticket `json:"ticket,omitempty"`
}

type PatientView struct {
	Patient       models.Patient `json:"patient"`
	CurrentClinic string         `json:"current_clinic,omitempty"`
	Remaining     int            `json:"remaining"`
	Ticket        *models.Ticket `json:"ticket,omitempty"`
}

type Service struct {
	store   Store
	catalog *catalog.Catalog
	router  RouteComputer
	pins    PinChecker
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st Store, c *catalog.Catalog, router RouteComputer, pins PinChecker, logger zerolog.Logger, m *metrics.Collector, opts ...Option) *Service {
	s := &Service{
		store:   st,
		catalog: c,
		router:  router,
		pins:    pins,
		logger:  logger.With().Str("component", "progression").Logger(),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login registers a patient on first contact and places them in the first
// clinic of a freshly balanced route. Returning patients get their stored
// route back untouched.
func (s *Service) Login(ctx context.Context, patientID, gender, examType string) (LoginResult, error) {
	if err := validation.PatientID(patientID); err != nil {
		return LoginResult{}, err
	}
	g, err := catalog.ParseGender(gender)
	if err != nil {
		return LoginResult{}, validation.New(err.Error(), "gender")
	}

	existing, err := s.store.GetPatient(ctx, patientID)
	switch {
	case err == nil:
		return LoginResult{Patient: existing, Ticket: s.activeTicket(ctx, existing), Existing: true}, nil
	case !errors.Is(err, store.ErrPatientNotFound):
		return LoginResult{}, fmt.Errorf("get patient: %w", err)
	}

	route, err := s.router.ComputeRoute(ctx, examType, g)
	if err != nil {
		return LoginResult{}, fmt.Errorf("compute route: %w", err)
	}
	res, err := s.store.RegisterPatient(ctx, store.RegisterInput{
		PatientID:    patientID,
		Gender:       string(g),
		ExamType:     route.ExamType,
		Route:        route.Clinics,
		RegisteredAt: s.now(),
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("register patient: %w", err)
	}
	if !res.Created {
		// Lost a registration race; the stored route wins.
		return LoginResult{Patient: res.Patient, Ticket: s.activeTicket(ctx, res.Patient), Existing: true}, nil
	}

	s.logger.Info().Str("patient_id", patientID).Str("exam_type", route.ExamType).Strs("route", route.Clinics).Msg("patient registered")
	if s.metrics != nil {
		s.metrics.RoutesAssigned.WithLabelValues(route.ExamType).Inc()
		s.metrics.TicketsIssued.WithLabelValues(res.Ticket.Clinic).Inc()
	}
	ticket := res.Ticket
	return LoginResult{Patient: res.Patient, Ticket: &ticket}, nil
}

// VerifyAndAdvance checks the clinic's PIN and, in a single store transaction,
// completes the patient's ticket there and moves them to the next clinic.
func (s *Service) VerifyAndAdvance(ctx context.Context, patientID, clinic, pin string) (AdvanceResult, error) {
	if err := validation.PatientID(patientID); err != nil {
		return AdvanceResult{}, err
	}
	if clinic == "" || !s.catalog.IsClinic(clinic) {
		return AdvanceResult{}, validation.New(fmt.Sprintf("unknown clinic %q", clinic), "clinic")
	}
	if pin == "" {
		return AdvanceResult{}, validation.New("is required", "pin")
	}
	if err := s.pins.Require(ctx, clinic, pin); err != nil {
		return AdvanceResult{}, err
	}

	res, err := s.store.AdvancePatient(ctx, store.AdvanceInput{PatientID: patientID, Clinic: clinic, AdvancedAt: s.now()})
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("advance patient: %w", err)
	}

	out := AdvanceResult{
		Patient:      res.Patient,
		Completed:    res.Finished,
		Remaining:    res.Patient.Remaining(),
		TotalClinics: len(res.Patient.Route),
		Ticket:       res.Next,
	}
	if res.Next != nil {
		out.NextClinic = res.Next.Clinic
	}

	log := s.logger.Info().Str("patient_id", patientID).Str("clinic", clinic)
	if s.metrics != nil {
		s.metrics.ClinicsCompleted.WithLabelValues(clinic).Inc()
	}
	if res.Finished {
		log.Msg("patient finished route")
		if s.metrics != nil {
			s.metrics.PatientsFinished.Inc()
		}
	} else {
		log.Str("next_clinic", out.NextClinic).Msg("patient advanced")
		if s.metrics != nil {
			s.metrics.TicketsIssued.WithLabelValues(out.NextClinic).Inc()
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, patientID string) (PatientView, error) {
	if err := validation.PatientID(patientID); err != nil {
		return PatientView{}, err
	}
	patient, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return PatientView{}, fmt.Errorf("get patient: %w", err)
	}
	return PatientView{
		Patient:       patient,
		CurrentClinic: patient.CurrentClinic(),
		Remaining:     patient.Remaining(),
		Ticket:        s.activeTicket(ctx, patient),
	}, nil
}

func (s *Service) activeTicket(ctx context.Context, patient models.Patient) *models.Ticket {
	clinic := patient.CurrentClinic()
	if clinic == "" {
		return nil
	}
	ticket, err := s.store.GetActiveTicket(ctx, clinic, patient.PatientID)
	if err != nil {
		if !errors.Is(err, store.ErrTicketNotFound) {
			s.logger.Warn().Err(err).Str("patient_id", patient.PatientID).Msg("active ticket lookup failed")
		}
		return nil
	}
	return &ticket
}
