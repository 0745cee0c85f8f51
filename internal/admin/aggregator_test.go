package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/pin"
	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/internal/store/memory"

	"github.com/rs/zerolog"
)

func TestStatusAggregatesClinics(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	c := catalog.Default()
	pins := pin.New(st, c, time.UTC, 0, zerolog.Nop(), nil, pin.WithGenerator(func() (string, error) { return "07", nil }))

	for _, id := range []string{"11", "12", "13"} {
		if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: id}); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}
	if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "eyes", PatientID: "21"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{Clinic: "lab"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{Clinic: "lab"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := pins.GetOrCreate(ctx, "lab", ""); err != nil {
		t.Fatalf("pin: %v", err)
	}

	status, err := NewAggregator(c, st, pins, 2).Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Queues) != len(c.Clinics()) || status.Order[0] != "lab" {
		t.Fatalf("expected every clinic in catalog order, got %v", status.Order)
	}
	lab := status.Queues["lab"]
	if lab.Waiting != 1 || lab.Served != 1 || lab.Current == nil || *lab.Current != 2 || len(lab.List) != 3 {
		t.Fatalf("unexpected lab status %+v", lab)
	}
	if lab.Pin == nil || *lab.Pin != "07" {
		t.Fatalf("expected issued pin, got %v", lab.Pin)
	}
	if status.Queues["eyes"].Pin != nil {
		t.Fatalf("admin view must not mint pins")
	}
	if status.Stats.TotalWaiting != 2 || status.Stats.TotalServed != 1 || status.Stats.ActiveClinics != 2 {
		t.Fatalf("unexpected totals %+v", status)
	}
	if _, found, _ := pins.Current(ctx, "eyes", ""); found {
		t.Fatalf("pin for eyes was minted")
	}
}

func TestStatusCountsOnlyToday(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	c := catalog.Default()
	now := time.Now().UTC()
	pins := pin.New(st, c, time.UTC, 0, zerolog.Nop(), nil, pin.WithClock(func() time.Time { return now }))
	yesterday := now.AddDate(0, 0, -1)

	for _, id := range []string{"11", "12"} {
		if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: id, EnteredAt: yesterday}); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}
	// 11 finished yesterday, 12 is still being seen.
	if _, err := st.CallNext(ctx, store.CallNextInput{Clinic: "lab", CalledAt: yesterday}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{Clinic: "lab", CalledAt: yesterday}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: "13", EnteredAt: now}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	status, err := NewAggregator(c, st, pins, 0).Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	lab := status.Queues["lab"]
	if lab.Served != 0 || lab.Waiting != 1 || len(lab.List) != 2 {
		t.Fatalf("expected only today's tickets and the carried-over patient, got %+v", lab)
	}
	if lab.Current == nil || *lab.Current != 2 {
		t.Fatalf("expected 12 still in service, got %v", lab.Current)
	}
}

type failingReader struct {
	listFn func(ctx context.Context, clinic string) ([]models.Ticket, error)
}

func (f failingReader) ListTickets(ctx context.Context, clinic string, since time.Time) ([]models.Ticket, error) {
	return f.listFn(ctx, clinic)
}

func TestStatusPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	reader := failingReader{listFn: func(ctx context.Context, clinic string) ([]models.Ticket, error) {
		if clinic == "ent" {
			return nil, boom
		}
		return nil, nil
	}}
	c := catalog.Default()
	pins := pin.New(memory.NewStore(), c, time.UTC, 0, zerolog.Nop(), nil)
	if _, err := NewAggregator(c, reader, pins, 0).Status(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
