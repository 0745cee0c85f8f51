package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"
)

func (s *Store) GetOrCreatePin(ctx context.Context, clinic, date string, generate func() (string, error), at time.Time) (models.DailyPin, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pinKey{clinic: clinic, date: date}
	if pin, ok := s.pins[key]; ok {
		return pin, false, nil
	}
	value, err := generate()
	if err != nil {
		return models.DailyPin{}, false, err
	}
	pin := models.DailyPin{Clinic: clinic, Date: date, Pin: value, Active: true, GeneratedAt: stamp(at)}
	s.pins[key] = pin
	return pin, true, nil
}

func (s *Store) GetPin(ctx context.Context, clinic, date string) (models.DailyPin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin, ok := s.pins[pinKey{clinic: clinic, date: date}]
	if !ok {
		return models.DailyPin{}, store.ErrPinNotFound
	}
	return pin, nil
}

func (s *Store) ListPins(ctx context.Context, date string) ([]models.DailyPin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pins []models.DailyPin
	for key, pin := range s.pins {
		if key.date == date {
			pins = append(pins, pin)
		}
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].Clinic < pins[j].Clinic })
	return pins, nil
}

func (s *Store) ResetPin(ctx context.Context, clinic, date, value string, at time.Time) (models.DailyPin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pin := models.DailyPin{Clinic: clinic, Date: date, Pin: value, Active: true, GeneratedAt: stamp(at)}
	s.pins[pinKey{clinic: clinic, date: date}] = pin
	s.emitLocked(store.EventPinReset, clinic, "", pin.GeneratedAt, func() ([]byte, error) { return store.PinPayload(pin) })
	return pin, nil
}
