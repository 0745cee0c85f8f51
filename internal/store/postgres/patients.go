package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/jackc/pgx/v5"
)

const patientColumns = `patient_id, gender, exam_type, route, current_index, status, created_at, updated_at, completed_at`

func scanPatient(row scanner) (models.Patient, error) {
	var patient models.Patient
	var completedAt sql.NullTime
	if err := row.Scan(&patient.PatientID, &patient.Gender, &patient.ExamType, &patient.Route, &patient.CurrentIndex, &patient.Status, &patient.CreatedAt, &patient.UpdatedAt, &completedAt); err != nil {
		return models.Patient{}, err
	}
	patient.CompletedAt = nullTimePtr(completedAt)
	return patient, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPatient(ctx context.Context, q querier, patientID string, forUpdate bool) (models.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE patient_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	patient, err := scanPatient(q.QueryRow(ctx, query, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (models.Patient, error) {
	return getPatient(ctx, s.pool, patientID, false)
}

func (s *Store) RegisterPatient(ctx context.Context, input store.RegisterInput) (store.RegisterResult, error) {
	if len(input.Route) == 0 {
		return store.RegisterResult{}, store.ErrInvalidState
	}
	at := stamp(input.RegisteredAt)
	var result store.RegisterResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		result = store.RegisterResult{}
		if err := lockKeys(ctx, tx, patientKey(input.PatientID)); err != nil {
			return err
		}

		existing, err := getPatient(ctx, tx, input.PatientID, false)
		if err == nil {
			result.Patient = existing
			return nil
		}
		if !errors.Is(err, store.ErrPatientNotFound) {
			return err
		}

		patient, err := scanPatient(tx.QueryRow(ctx, `
			INSERT INTO patients (patient_id, gender, exam_type, route, current_index, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, $5, $6, $6)
			RETURNING `+patientColumns,
			input.PatientID, input.Gender, input.ExamType, input.Route, models.PatientInProgress, at))
		if err != nil {
			return err
		}
		if err := insertPatientEvent(ctx, tx, store.EventPatientRegistered, patient, at); err != nil {
			return err
		}

		ticket, _, err := enterTx(ctx, tx, patient.Route[0], patient.PatientID, at)
		if err != nil {
			return err
		}
		result = store.RegisterResult{Patient: patient, Ticket: ticket, Created: true}
		return nil
	})
	if err != nil {
		return store.RegisterResult{}, err
	}
	return result, nil
}

func (s *Store) AdvancePatient(ctx context.Context, input store.AdvanceInput) (store.AdvanceResult, error) {
	at := stamp(input.AdvancedAt)
	var result store.AdvanceResult
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		result = store.AdvanceResult{}
		if err := lockKeys(ctx, tx, patientKey(input.PatientID)); err != nil {
			return err
		}
		patient, err := getPatient(ctx, tx, input.PatientID, true)
		if err != nil {
			return err
		}
		if patient.Status == models.PatientCompleted {
			return store.ErrPatientCompleted
		}

		nextIndex := patient.CurrentIndex + 1
		keys := []string{clinicKey(input.Clinic)}
		if nextIndex < len(patient.Route) {
			keys = append(keys, clinicKey(patient.Route[nextIndex]))
		}
		if err := lockKeys(ctx, tx, keys...); err != nil {
			return err
		}

		active, err := findActiveTicket(ctx, tx, input.Clinic, input.PatientID, true)
		switch {
		case err == nil:
			if patient.CurrentClinic() != input.Clinic {
				return store.ErrRouteMismatch
			}
			done, err := completeTicketTx(ctx, tx, active.TicketID, at)
			if err != nil {
				return err
			}
			result.Completed = done
		case errors.Is(err, store.ErrTicketNotFound):
			// Staff may already have closed the ticket with callNext or
			// markDone. Only the current step can be advanced that way.
			if patient.CurrentClinic() != input.Clinic {
				return store.ErrTicketNotFound
			}
			latest, err := findLatestTicket(ctx, tx, input.Clinic, input.PatientID)
			if err != nil {
				return err
			}
			result.Completed = latest
		default:
			return err
		}

		if nextIndex >= len(patient.Route) {
			patient, err = scanPatient(tx.QueryRow(ctx, `
				UPDATE patients SET status = $2, completed_at = $3, updated_at = $3
				WHERE patient_id = $1
				RETURNING `+patientColumns,
				patient.PatientID, models.PatientCompleted, at))
			if err != nil {
				return err
			}
			result.Patient = patient
			result.Finished = true
			return insertPatientEvent(ctx, tx, store.EventPatientCompleted, patient, at)
		}

		patient, err = scanPatient(tx.QueryRow(ctx, `
			UPDATE patients SET current_index = $2, updated_at = $3
			WHERE patient_id = $1
			RETURNING `+patientColumns,
			patient.PatientID, nextIndex, at))
		if err != nil {
			return err
		}
		if err := insertPatientEvent(ctx, tx, store.EventPatientAdvanced, patient, at); err != nil {
			return err
		}
		next, _, err := enterTx(ctx, tx, patient.CurrentClinic(), patient.PatientID, at)
		if err != nil {
			return err
		}
		result.Patient = patient
		result.Next = &next
		return nil
	})
	if err != nil {
		return store.AdvanceResult{}, err
	}
	return result, nil
}
