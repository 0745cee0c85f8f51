// Package pin issues and checks the two-digit daily code each clinic uses to
// confirm a patient actually finished there.
package pin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/metrics"
	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/internal/validation"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

var ErrInvalidPin = errors.New("invalid pin")

type Verifier struct {
	store     store.PinStore
	catalog   *catalog.Catalog
	loc       *time.Location
	resetHour int
	logger    zerolog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
	generate  func() (string, error)
}

type Option func(*Verifier)

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithGenerator replaces the random source, mostly for tests.
func WithGenerator(generate func() (string, error)) Option {
	return func(v *Verifier) { v.generate = generate }
}

func New(st store.PinStore, c *catalog.Catalog, loc *time.Location, resetHour int, logger zerolog.Logger, m *metrics.Collector, opts ...Option) *Verifier {
	if loc == nil {
		loc = time.UTC
	}
	v := &Verifier{
		store:     st,
		catalog:   c,
		loc:       loc,
		resetHour: resetHour,
		logger:    logger.With().Str("component", "pin").Logger(),
		metrics:   m,
		now:       time.Now,
		generate:  GeneratePin,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// GeneratePin returns a uniformly random value in 01..99.
func GeneratePin() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(99))
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	return fmt.Sprintf("%02d", n.Int64()+1), nil
}

// DateAt maps an instant to its PIN day. The day rolls over at resetHour in
// the configured location, so 03:00 still belongs to the previous date.
func (v *Verifier) DateAt(t time.Time) string {
	return t.In(v.loc).Add(-time.Duration(v.resetHour) * time.Hour).Format(dateLayout)
}

func (v *Verifier) Today() string {
	return v.DateAt(v.now())
}

// Window returns the UTC bounds of a PIN day.
func (v *Verifier) Window(date string) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, date, v.loc)
	if err != nil {
		return time.Time{}, time.Time{}, validation.New("must be YYYY-MM-DD", "date")
	}
	from := day.Add(time.Duration(v.resetHour) * time.Hour)
	return from.UTC(), from.AddDate(0, 0, 1).UTC(), nil
}

func (v *Verifier) checkClinic(clinic string) error {
	if clinic == "" {
		return validation.New("is required", "clinic")
	}
	if !v.catalog.IsClinic(clinic) {
		return validation.New(fmt.Sprintf("unknown clinic %q", clinic), "clinic")
	}
	return nil
}

func (v *Verifier) resolveDate(date string) (string, error) {
	if date == "" {
		return v.Today(), nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", validation.New("must be YYYY-MM-DD", "date")
	}
	return date, nil
}

// GetOrCreate returns the clinic's pin for date, minting it on first use.
func (v *Verifier) GetOrCreate(ctx context.Context, clinic, date string) (models.DailyPin, error) {
	if err := v.checkClinic(clinic); err != nil {
		return models.DailyPin{}, err
	}
	date, err := v.resolveDate(date)
	if err != nil {
		return models.DailyPin{}, err
	}
	pin, created, err := v.store.GetOrCreatePin(ctx, clinic, date, v.generate, v.now().UTC())
	if err != nil {
		return models.DailyPin{}, fmt.Errorf("get or create pin: %w", err)
	}
	if created {
		v.logger.Info().Str("clinic", clinic).Str("date", date).Msg("daily pin generated")
		if v.metrics != nil {
			v.metrics.PinsGenerated.WithLabelValues(clinic).Inc()
		}
	}
	return pin, nil
}

// Current reads the stored pin without minting one.
func (v *Verifier) Current(ctx context.Context, clinic, date string) (models.DailyPin, bool, error) {
	if err := v.checkClinic(clinic); err != nil {
		return models.DailyPin{}, false, err
	}
	date, err := v.resolveDate(date)
	if err != nil {
		return models.DailyPin{}, false, err
	}
	pin, err := v.store.GetPin(ctx, clinic, date)
	if errors.Is(err, store.ErrPinNotFound) {
		return models.DailyPin{}, false, nil
	}
	if err != nil {
		return models.DailyPin{}, false, fmt.Errorf("get pin: %w", err)
	}
	return pin, true, nil
}

// Validate compares supplied against the stored pin. A clinic without a pin
// for date never validates.
func (v *Verifier) Validate(ctx context.Context, clinic, date, supplied string) (bool, error) {
	pin, found, err := v.Current(ctx, clinic, date)
	if err != nil {
		return false, err
	}
	if found && pin.Active && supplied != "" && pin.Pin == supplied {
		return true, nil
	}
	v.logger.Warn().Str("clinic", clinic).Bool("issued", found).Msg("pin rejected")
	if v.metrics != nil {
		v.metrics.PinFailures.WithLabelValues(clinic).Inc()
	}
	return false, nil
}

// Require is Validate for today's pin, returning ErrInvalidPin on mismatch.
func (v *Verifier) Require(ctx context.Context, clinic, supplied string) error {
	ok, err := v.Validate(ctx, clinic, v.Today(), supplied)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidPin
	}
	return nil
}

// Reset replaces today's pin for clinic with a fresh value.
func (v *Verifier) Reset(ctx context.Context, clinic string) (models.DailyPin, error) {
	if err := v.checkClinic(clinic); err != nil {
		return models.DailyPin{}, err
	}
	value, err := v.generate()
	if err != nil {
		return models.DailyPin{}, err
	}
	date := v.Today()
	pin, err := v.store.ResetPin(ctx, clinic, date, value, v.now().UTC())
	if err != nil {
		return models.DailyPin{}, fmt.Errorf("reset pin: %w", err)
	}
	v.logger.Info().Str("clinic", clinic).Str("date", date).Msg("daily pin reset")
	return pin, nil
}

type Status struct {
	Date string                     `json:"date"`
	Pins map[string]models.DailyPin `json:"pins"`
}

// Status lists pins for every clinic. Today's pins are minted on demand; other
// dates only report what was already issued.
func (v *Verifier) Status(ctx context.Context, date string) (Status, error) {
	date, err := v.resolveDate(date)
	if err != nil {
		return Status{}, err
	}
	status := Status{Date: date, Pins: make(map[string]models.DailyPin)}
	if date != v.Today() {
		pins, err := v.store.ListPins(ctx, date)
		if err != nil {
			return Status{}, fmt.Errorf("list pins: %w", err)
		}
		for _, pin := range pins {
			status.Pins[pin.Clinic] = pin
		}
		return status, nil
	}
	for _, clinic := range v.catalog.Clinics() {
		pin, err := v.GetOrCreate(ctx, clinic, date)
		if err != nil {
			return Status{}, err
		}
		status.Pins[clinic] = pin
	}
	return status, nil
}
