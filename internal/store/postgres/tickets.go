package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ticketColumns = `ticket_id, clinic, patient_id, number, status, entered_at, called_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTicket(row scanner) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAt, completedAt sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.Clinic, &ticket.PatientID, &ticket.Number, &ticket.Status, &ticket.EnteredAt, &calledAt, &completedAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	return ticket, nil
}

func (s *Store) EnterQueue(ctx context.Context, input store.EnterInput) (models.Ticket, bool, error) {
	var ticket models.Ticket
	var created bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		ticket, created, err = enterTx(ctx, tx, input.Clinic, input.PatientID, stamp(input.EnteredAt))
		return err
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, created, nil
}

func enterTx(ctx context.Context, tx pgx.Tx, clinic, patientID string, at time.Time) (models.Ticket, bool, error) {
	if err := lockKeys(ctx, tx, clinicKey(clinic)); err != nil {
		return models.Ticket{}, false, err
	}

	existing, err := findActiveTicket(ctx, tx, clinic, patientID, false)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrTicketNotFound) {
		return models.Ticket{}, false, err
	}

	number, err := nextTicketNumber(ctx, tx, clinic)
	if err != nil {
		return models.Ticket{}, false, err
	}

	ticket, err := scanTicket(tx.QueryRow(ctx, `
		INSERT INTO tickets (ticket_id, clinic, patient_id, number, status, entered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+ticketColumns,
		uuid.NewString(), clinic, patientID, number, models.StatusWaiting, at))
	if err != nil {
		return models.Ticket{}, false, err
	}
	if err := insertTicketEvent(ctx, tx, store.EventTicketCreated, ticket, at); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx, clinic string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO clinic_sequences (clinic, next_number)
		VALUES ($1, 1)
		ON CONFLICT (clinic)
		DO UPDATE SET next_number = clinic_sequences.next_number + 1
		RETURNING next_number
	`, clinic)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func findActiveTicket(ctx context.Context, tx pgx.Tx, clinic, patientID string, forUpdate bool) (models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE clinic = $1 AND patient_id = $2 AND status IN ('WAITING', 'IN_SERVICE')
		LIMIT 1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	ticket, err := scanTicket(tx.QueryRow(ctx, query, clinic, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (store.CallNextResult, error) {
	at := stamp(input.CalledAt)
	var result store.CallNextResult
	var empty bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		result = store.CallNextResult{}
		empty = false
		if err := lockKeys(ctx, tx, clinicKey(input.Clinic)); err != nil {
			return err
		}

		done, err := scanTicket(tx.QueryRow(ctx, `
			UPDATE tickets SET status = $2, completed_at = $3
			WHERE clinic = $1 AND status = $4
			RETURNING `+ticketColumns,
			input.Clinic, store.NextStatus(store.ActionFinish), at, models.StatusInService))
		switch {
		case err == nil:
			result.Completed = &done
			if err := insertTicketEvent(ctx, tx, store.EventTicketCompleted, done, at); err != nil {
				return err
			}
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		called, err := scanTicket(tx.QueryRow(ctx, `
			UPDATE tickets SET status = $2, called_at = $3
			WHERE ticket_id = (
				SELECT ticket_id FROM tickets
				WHERE clinic = $1 AND status = $4
				ORDER BY number ASC
				LIMIT 1
				FOR UPDATE
			)
			RETURNING `+ticketColumns,
			input.Clinic, store.NextStatus(store.ActionCall), at, models.StatusWaiting))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				empty = true
				return nil
			}
			return err
		}
		result.Called = &called
		return insertTicketEvent(ctx, tx, store.EventTicketCalled, called, at)
	})
	if err != nil {
		return store.CallNextResult{}, err
	}
	if empty {
		return result, store.ErrNoTicket
	}
	return result, nil
}

func (s *Store) CompleteTicket(ctx context.Context, input store.CompleteInput) (models.Ticket, bool, error) {
	at := stamp(input.CompletedAt)
	var ticket models.Ticket
	var changed bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		changed = false
		if err := lockKeys(ctx, tx, clinicKey(input.Clinic)); err != nil {
			return err
		}
		active, err := findActiveTicket(ctx, tx, input.Clinic, input.PatientID, true)
		if errors.Is(err, store.ErrTicketNotFound) {
			ticket, err = findLatestTicket(ctx, tx, input.Clinic, input.PatientID)
			return err
		}
		if err != nil {
			return err
		}
		if !store.ValidTransition(store.ActionComplete, active.Status) {
			return store.ErrInvalidState
		}
		ticket, err = completeTicketTx(ctx, tx, active.TicketID, at)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, changed, nil
}

func completeTicketTx(ctx context.Context, tx pgx.Tx, ticketID string, at time.Time) (models.Ticket, error) {
	ticket, err := scanTicket(tx.QueryRow(ctx, `
		UPDATE tickets SET status = $2, completed_at = $3
		WHERE ticket_id = $1
		RETURNING `+ticketColumns,
		ticketID, store.NextStatus(store.ActionComplete), at))
	if err != nil {
		return models.Ticket{}, err
	}
	if err := insertTicketEvent(ctx, tx, store.EventTicketCompleted, ticket, at); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func findLatestTicket(ctx context.Context, tx pgx.Tx, clinic, patientID string) (models.Ticket, error) {
	ticket, err := scanTicket(tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE clinic = $1 AND patient_id = $2
		ORDER BY number DESC
		LIMIT 1
	`, clinic, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetActiveTicket(ctx context.Context, clinic, patientID string) (models.Ticket, error) {
	ticket, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE clinic = $1 AND patient_id = $2 AND status IN ('WAITING', 'IN_SERVICE')
		LIMIT 1
	`, clinic, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, clinic string, since time.Time) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE clinic = $1 AND (entered_at >= $2 OR status IN ('WAITING', 'IN_SERVICE'))
		ORDER BY number ASC
	`, clinic, since)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ListTicketsEntered(ctx context.Context, from, to time.Time) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE entered_at >= $1 AND entered_at < $2
		ORDER BY entered_at ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) CountWaiting(ctx context.Context, clinics []string) (map[string]int, error) {
	counts := make(map[string]int, len(clinics))
	for _, clinic := range clinics {
		counts[clinic] = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT clinic, COUNT(*)
		FROM tickets
		WHERE status = 'WAITING' AND clinic = ANY($1)
		GROUP BY clinic
	`, clinics)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var clinic string
		var count int
		if err := rows.Scan(&clinic, &count); err != nil {
			return nil, err
		}
		counts[clinic] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) WaitingPosition(ctx context.Context, clinic string, number int64) (store.WaitingPosition, error) {
	var pos store.WaitingPosition
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE number < $2),
			COUNT(*)
		FROM tickets
		WHERE clinic = $1 AND status = 'WAITING'
	`, clinic, number)
	if err := row.Scan(&pos.Ahead, &pos.TotalWaiting); err != nil {
		return store.WaitingPosition{}, err
	}
	return pos, nil
}
