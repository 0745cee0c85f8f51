package memory

import (
	"context"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"
)

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patient, ok := s.patients[patientID]
	if !ok {
		return models.Patient{}, store.ErrPatientNotFound
	}
	return clonePatient(patient), nil
}

func (s *Store) RegisterPatient(ctx context.Context, input store.RegisterInput) (store.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.patients[input.PatientID]; ok {
		return store.RegisterResult{Patient: clonePatient(existing)}, nil
	}
	if len(input.Route) == 0 {
		return store.RegisterResult{}, store.ErrInvalidState
	}

	at := stamp(input.RegisteredAt)
	patient := models.Patient{
		PatientID: input.PatientID,
		Gender:    input.Gender,
		ExamType:  input.ExamType,
		Route:     append([]string(nil), input.Route...),
		Status:    models.PatientInProgress,
		CreatedAt: at,
		UpdatedAt: at,
	}
	s.patients[patient.PatientID] = patient
	s.emitPatientLocked(store.EventPatientRegistered, patient, at)
	ticket, _ := s.enterLocked(patient.Route[0], patient.PatientID, at)
	return store.RegisterResult{Patient: clonePatient(patient), Ticket: ticket, Created: true}, nil
}

func (s *Store) AdvancePatient(ctx context.Context, input store.AdvanceInput) (store.AdvanceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	patient, ok := s.patients[input.PatientID]
	if !ok {
		return store.AdvanceResult{}, store.ErrPatientNotFound
	}
	if patient.Status == models.PatientCompleted {
		return store.AdvanceResult{}, store.ErrPatientCompleted
	}
	at := stamp(input.AdvancedAt)
	var result store.AdvanceResult
	if active := s.activeLocked(input.Clinic, input.PatientID); active != nil {
		if patient.CurrentClinic() != input.Clinic {
			return store.AdvanceResult{}, store.ErrRouteMismatch
		}
		s.transitionLocked(active, store.ActionComplete, at)
		s.emitTicketLocked(store.EventTicketCompleted, *active, at)
		result.Completed = *active
	} else {
		// Staff may already have closed the ticket with callNext or markDone.
		// Only the current step can be advanced that way.
		latest := s.latestLocked(input.Clinic, input.PatientID)
		if latest == nil || patient.CurrentClinic() != input.Clinic {
			return store.AdvanceResult{}, store.ErrTicketNotFound
		}
		result.Completed = *latest
	}

	patient.UpdatedAt = at
	if patient.CurrentIndex+1 >= len(patient.Route) {
		patient.Status = models.PatientCompleted
		completedAt := at
		patient.CompletedAt = &completedAt
		result.Finished = true
		s.patients[patient.PatientID] = patient
		s.emitPatientLocked(store.EventPatientCompleted, patient, at)
	} else {
		patient.CurrentIndex++
		s.patients[patient.PatientID] = patient
		s.emitPatientLocked(store.EventPatientAdvanced, patient, at)
		next, _ := s.enterLocked(patient.CurrentClinic(), patient.PatientID, at)
		result.Next = &next
	}
	result.Patient = clonePatient(patient)
	return result, nil
}

func clonePatient(p models.Patient) models.Patient {
	p.Route = append([]string(nil), p.Route...)
	if p.CompletedAt != nil {
		completedAt := *p.CompletedAt
		p.CompletedAt = &completedAt
	}
	return p
}
