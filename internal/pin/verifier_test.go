package pin

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/store/memory"
	"github.com/Bomussa/Eme/internal/validation"

	"github.com/rs/zerolog"
)

func qatar(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Qatar")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func newVerifier(t *testing.T, now time.Time, opts ...Option) *Verifier {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(memory.NewStore(), catalog.Default(), qatar(t), 5, zerolog.Nop(), nil, opts...)
}

func TestDateAtRollsOverAtResetHour(t *testing.T) {
	loc := qatar(t)
	v := New(memory.NewStore(), catalog.Default(), loc, 5, zerolog.Nop(), nil)

	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2025, 3, 10, 4, 59, 0, 0, loc), "2025-03-09"},
		{time.Date(2025, 3, 10, 5, 0, 0, 0, loc), "2025-03-10"},
		{time.Date(2025, 3, 10, 23, 30, 0, 0, loc), "2025-03-10"},
		// 01:00 UTC is 04:00 in Doha.
		{time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC), "2025-03-09"},
	}
	for _, tc := range tests {
		if got := v.DateAt(tc.at); got != tc.want {
			t.Fatalf("DateAt(%s) = %s, want %s", tc.at, got, tc.want)
		}
	}
}

func TestWindow(t *testing.T) {
	v := newVerifier(t, time.Now())
	from, to, err := v.Window("2025-03-10")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if want := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC); !from.Equal(want) {
		t.Fatalf("from = %s, want %s", from, want)
	}
	if to.Sub(from) != 24*time.Hour {
		t.Fatalf("window length %s", to.Sub(from))
	}
	if _, _, err := v.Window("10/03/2025"); err == nil {
		t.Fatalf("expected error for malformed date")
	}
}

func TestGeneratePinRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		value, err := GeneratePin()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(value) != 2 {
			t.Fatalf("pin %q must be two digits", value)
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 99 {
			t.Fatalf("pin %q out of range", value)
		}
	}
}

func TestGetOrCreateIsStable(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(t, time.Now())

	first, err := v.GetOrCreate(ctx, "lab", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := v.GetOrCreate(ctx, "lab", "")
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if first.Pin != second.Pin || first.Date != v.Today() {
		t.Fatalf("pin changed between reads: %+v vs %+v", first, second)
	}
}

func TestGetOrCreateConcurrentReadersAgree(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(t, time.Now())

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pin, err := v.GetOrCreate(ctx, "vitals", "")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			results[i] = pin.Pin
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		if got != results[0] {
			t.Fatalf("readers disagree: %v", results)
		}
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(t, time.Now(), WithGenerator(func() (string, error) { return "42", nil }))
	today := v.Today()

	ok, err := v.Validate(ctx, "ent", today, "42")
	if err != nil || ok {
		t.Fatalf("a clinic without a pin must not validate: ok=%v err=%v", ok, err)
	}
	if _, err := v.GetOrCreate(ctx, "ent", today); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		supplied string
		want     bool
	}{
		{"42", true},
		{"24", false},
		{"", false},
		{"042", false},
	}
	for _, tc := range tests {
		ok, err := v.Validate(ctx, "ent", today, tc.supplied)
		if err != nil {
			t.Fatalf("validate %q: %v", tc.supplied, err)
		}
		if ok != tc.want {
			t.Fatalf("Validate(%q) = %v, want %v", tc.supplied, ok, tc.want)
		}
	}

	if err := v.Require(ctx, "ent", "13"); !errors.Is(err, ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	if err := v.Require(ctx, "ent", "42"); err != nil {
		t.Fatalf("require: %v", err)
	}
}

func TestUnknownClinicIsValidationError(t *testing.T) {
	v := newVerifier(t, time.Now())
	_, err := v.GetOrCreate(context.Background(), "cardio", "")
	if _, ok := validation.As(err); !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	values := []string{"11", "77"}
	v := newVerifier(t, time.Now(), WithGenerator(func() (string, error) {
		value := values[0]
		values = values[1:]
		return value, nil
	}))

	if _, err := v.GetOrCreate(ctx, "dental", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	reset, err := v.Reset(ctx, "dental")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Pin != "77" {
		t.Fatalf("reset pin = %s", reset.Pin)
	}
	current, found, err := v.Current(ctx, "dental", "")
	if err != nil || !found || current.Pin != "77" {
		t.Fatalf("current after reset: %+v found=%v err=%v", current, found, err)
	}
}

func TestStatusMintsOnlyForToday(t *testing.T) {
	ctx := context.Background()
	v := newVerifier(t, time.Now())

	past, err := v.Status(ctx, "2020-01-01")
	if err != nil {
		t.Fatalf("past status: %v", err)
	}
	if len(past.Pins) != 0 {
		t.Fatalf("past date must not mint, got %d pins", len(past.Pins))
	}

	today, err := v.Status(ctx, "")
	if err != nil {
		t.Fatalf("today status: %v", err)
	}
	if len(today.Pins) != len(catalog.Default().Clinics()) {
		t.Fatalf("expected a pin per clinic, got %d", len(today.Pins))
	}

	if _, err := v.Status(ctx, "yesterday"); err == nil {
		t.Fatalf("expected error for malformed date")
	}
}
