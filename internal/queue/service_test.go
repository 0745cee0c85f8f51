package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/internal/store/memory"
	"github.com/Bomussa/Eme/internal/validation"

	"github.com/rs/zerolog"
)

func newTestService() *Service {
	return NewService(memory.NewStore(), catalog.Default(), zerolog.Nop(), nil)
}

func mustEnter(t *testing.T, svc *Service, clinic, patientID string) EnterResult {
	t.Helper()
	res, err := svc.Enter(context.Background(), clinic, patientID)
	if err != nil {
		t.Fatalf("enter %s/%s: %v", clinic, patientID, err)
	}
	return res
}

func TestEnterAssignsIncreasingNumbersAndPositions(t *testing.T) {
	svc := newTestService()
	first := mustEnter(t, svc, "lab", "1001")
	second := mustEnter(t, svc, "lab", "1002")

	if first.Ticket.Number != 1 || second.Ticket.Number != 2 {
		t.Fatalf("unexpected numbers %d, %d", first.Ticket.Number, second.Ticket.Number)
	}
	if first.Position != 1 || first.Ahead != 0 {
		t.Fatalf("first position %+v", first)
	}
	if second.Position != 2 || second.Ahead != 1 || second.TotalWaiting != 2 {
		t.Fatalf("second position %+v", second)
	}
}

func TestEnterTwiceReturnsSameTicket(t *testing.T) {
	svc := newTestService()
	first := mustEnter(t, svc, "eyes", "2001")
	again := mustEnter(t, svc, "eyes", "2001")
	if again.Created || again.Ticket.TicketID != first.Ticket.TicketID {
		t.Fatalf("expected existing ticket, got %+v", again)
	}
}

func TestEnterValidation(t *testing.T) {
	svc := newTestService()
	cases := []struct {
		clinic  string
		patient string
	}{
		{"cardio", "123456"},
		{"", "123456"},
		{"lab", "x1"},
		{"lab", "1"},
	}
	for _, tc := range cases {
		_, err := svc.Enter(context.Background(), tc.clinic, tc.patient)
		if _, ok := validation.As(err); !ok {
			t.Fatalf("Enter(%q, %q) expected validation error, got %v", tc.clinic, tc.patient, err)
		}
	}
}

func TestCallNextFIFOWithSingleInService(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	for _, id := range []string{"11", "22", "33"} {
		mustEnter(t, svc, "ent", id)
	}

	var calledOrder []string
	for i := 0; i < 3; i++ {
		res, err := svc.CallNext(ctx, "ent")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		calledOrder = append(calledOrder, res.Called.PatientID)

		snap, err := svc.Status(ctx, "ent")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if snap.InService != 1 {
			t.Fatalf("expected one IN_SERVICE ticket, got %d", snap.InService)
		}
		if snap.Current == nil || *snap.Current != res.Called.Number {
			t.Fatalf("current must be the called number")
		}
	}
	if calledOrder[0] != "11" || calledOrder[1] != "22" || calledOrder[2] != "33" {
		t.Fatalf("unexpected order %v", calledOrder)
	}

	res, err := svc.CallNext(ctx, "ent")
	if !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
	if res.Completed == nil || res.Completed.PatientID != "33" {
		t.Fatalf("last in-service ticket must be completed, got %+v", res)
	}
	snap, _ := svc.Status(ctx, "ent")
	if snap.Completed != 3 || snap.Current != nil || snap.Waiting != 0 {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
}

func TestCallNextOnEmptyClinicDoesNothing(t *testing.T) {
	svc := newTestService()
	res, err := svc.CallNext(context.Background(), "dental")
	if !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
	if res.Called != nil || res.Completed != nil {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestMarkDone(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	mustEnter(t, svc, "bones", "44")

	ticket, changed, err := svc.MarkDone(ctx, "bones", "44")
	if err != nil || !changed || ticket.Status != models.StatusDone {
		t.Fatalf("mark done: %+v changed=%v err=%v", ticket, changed, err)
	}
	ticket, changed, err = svc.MarkDone(ctx, "bones", "44")
	if err != nil || changed || ticket.Status != models.StatusDone {
		t.Fatalf("second mark done must acknowledge unchanged: %+v changed=%v err=%v", ticket, changed, err)
	}
	if _, _, err := svc.MarkDone(ctx, "bones", "55"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestMarkDoneInServiceLeavesClinicIdle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	mustEnter(t, svc, "derma", "61")
	mustEnter(t, svc, "derma", "62")
	if _, err := svc.CallNext(ctx, "derma"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, _, err := svc.MarkDone(ctx, "derma", "61"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	snap, _ := svc.Status(ctx, "derma")
	if snap.Current != nil || snap.Waiting != 1 || snap.Completed != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPosition(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	mustEnter(t, svc, "xray", "71")
	mustEnter(t, svc, "xray", "72")
	mustEnter(t, svc, "xray", "73")

	pos, err := svc.Position(ctx, "xray", "73")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Ahead != 2 || pos.Position != 3 || pos.TotalWaiting != 3 {
		t.Fatalf("unexpected position %+v", pos)
	}

	if _, err := svc.CallNext(ctx, "xray"); err != nil {
		t.Fatalf("call: %v", err)
	}
	pos, _ = svc.Position(ctx, "xray", "73")
	if pos.Ahead != 1 || pos.TotalWaiting != 2 {
		t.Fatalf("position after call %+v", pos)
	}

	if _, err := svc.Position(ctx, "xray", "99"); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

type fakeCalendar struct {
	from time.Time
}

func (f fakeCalendar) Today() string { return f.from.Format("2006-01-02") }

func (f fakeCalendar) Window(date string) (time.Time, time.Time, error) {
	return f.from, f.from.AddDate(0, 0, 1), nil
}

func TestStatusLimitedToCurrentDay(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	today := time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)
	yesterday := today.Add(-3 * time.Hour)

	for _, id := range []string{"51", "52"} {
		if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "ent", PatientID: id, EnteredAt: yesterday}); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}
	if _, _, err := st.CompleteTicket(ctx, store.CompleteInput{Clinic: "ent", PatientID: "51", CompletedAt: yesterday}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "ent", PatientID: "53", EnteredAt: today.Add(time.Hour)}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	scoped := NewService(st, catalog.Default(), zerolog.Nop(), nil, WithCalendar(fakeCalendar{from: today}))
	snap, err := scoped.Status(ctx, "ent")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Total != 2 || snap.Completed != 0 || snap.Waiting != 2 {
		t.Fatalf("expected yesterday's finished ticket dropped, got %+v", snap)
	}

	unscoped := NewService(st, catalog.Default(), zerolog.Nop(), nil)
	snap, err = unscoped.Status(ctx, "ent")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Total != 3 || snap.Completed != 1 {
		t.Fatalf("expected full history without a calendar, got %+v", snap)
	}
}

func TestSummarize(t *testing.T) {
	snap := Summarize("lab", nil)
	if snap.List == nil || snap.Total != 0 || snap.Current != nil {
		t.Fatalf("unexpected empty snapshot %+v", snap)
	}
	snap = Summarize("lab", []models.Ticket{
		{Number: 1, Status: models.StatusDone},
		{Number: 2, Status: models.StatusInService},
		{Number: 3, Status: models.StatusWaiting},
		{Number: 4, Status: models.StatusWaiting},
	})
	if snap.Total != 4 || snap.Completed != 1 || snap.InService != 1 || snap.Waiting != 2 || *snap.Current != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
