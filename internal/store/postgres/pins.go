package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"

	"github.com/jackc/pgx/v5"
)

const pinColumns = `clinic, pin_date, pin, active, generated_at`

func scanPin(row scanner) (models.DailyPin, error) {
	var pin models.DailyPin
	if err := row.Scan(&pin.Clinic, &pin.Date, &pin.Pin, &pin.Active, &pin.GeneratedAt); err != nil {
		return models.DailyPin{}, err
	}
	return pin, nil
}

func (s *Store) GetOrCreatePin(ctx context.Context, clinic, date string, generate func() (string, error), at time.Time) (models.DailyPin, bool, error) {
	existing, err := s.GetPin(ctx, clinic, date)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrPinNotFound) {
		return models.DailyPin{}, false, err
	}

	value, err := generate()
	if err != nil {
		return models.DailyPin{}, false, err
	}

	// Concurrent first readers race on the insert; the loser reads the winner's row.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO daily_pins (clinic, pin_date, pin, active, generated_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (clinic, pin_date) DO NOTHING
	`, clinic, date, value, stamp(at))
	if err != nil {
		return models.DailyPin{}, false, err
	}
	pin, err := s.GetPin(ctx, clinic, date)
	if err != nil {
		return models.DailyPin{}, false, err
	}
	return pin, tag.RowsAffected() == 1, nil
}

func (s *Store) GetPin(ctx context.Context, clinic, date string) (models.DailyPin, error) {
	pin, err := scanPin(s.pool.QueryRow(ctx, `
		SELECT `+pinColumns+`
		FROM daily_pins
		WHERE clinic = $1 AND pin_date = $2 AND active
	`, clinic, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyPin{}, store.ErrPinNotFound
		}
		return models.DailyPin{}, err
	}
	return pin, nil
}

func (s *Store) ListPins(ctx context.Context, date string) ([]models.DailyPin, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pinColumns+`
		FROM daily_pins
		WHERE pin_date = $1 AND active
		ORDER BY clinic ASC
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pins := []models.DailyPin{}
	for rows.Next() {
		pin, err := scanPin(rows)
		if err != nil {
			return nil, err
		}
		pins = append(pins, pin)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pins, nil
}

func (s *Store) ResetPin(ctx context.Context, clinic, date, value string, at time.Time) (models.DailyPin, error) {
	at = stamp(at)
	var pin models.DailyPin
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		pin, err = scanPin(tx.QueryRow(ctx, `
			INSERT INTO daily_pins (clinic, pin_date, pin, active, generated_at)
			VALUES ($1, $2, $3, TRUE, $4)
			ON CONFLICT (clinic, pin_date)
			DO UPDATE SET pin = EXCLUDED.pin, active = TRUE, generated_at = EXCLUDED.generated_at
			RETURNING `+pinColumns,
			clinic, date, value, at))
		if err != nil {
			return err
		}
		payload, err := store.PinPayload(pin)
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, store.EventPinReset, clinic, "", payload, at)
	})
	if err != nil {
		return models.DailyPin{}, err
	}
	return pin, nil
}
