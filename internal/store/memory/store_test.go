package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/store"
)

func TestEnterQueueIsIdempotentPerActiveTicket(t *testing.T) {
	ctx := context.Background()
	st := NewStore()

	first, created, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: "123"})
	if err != nil || !created {
		t.Fatalf("first enter: created=%v err=%v", created, err)
	}
	again, created, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: "123"})
	if err != nil || created {
		t.Fatalf("second enter: created=%v err=%v", created, err)
	}
	if again.TicketID != first.TicketID || again.Number != 1 {
		t.Fatalf("expected same ticket, got %+v", again)
	}

	if _, _, err := st.CompleteTicket(ctx, store.CompleteInput{Clinic: "lab", PatientID: "123"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	fresh, created, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: "123"})
	if err != nil || !created {
		t.Fatalf("re-enter: created=%v err=%v", created, err)
	}
	if fresh.Number != 2 {
		t.Fatalf("numbers must never be reused, got %d", fresh.Number)
	}
}

func TestCallNextCompletesAndPromotes(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	for _, id := range []string{"11", "22"} {
		if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "eyes", PatientID: id}); err != nil {
			t.Fatalf("enter %s: %v", id, err)
		}
	}

	res, err := st.CallNext(ctx, store.CallNextInput{Clinic: "eyes"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Completed != nil || res.Called == nil || res.Called.PatientID != "11" {
		t.Fatalf("unexpected first call %+v", res)
	}

	res, err = st.CallNext(ctx, store.CallNextInput{Clinic: "eyes"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Completed == nil || res.Completed.PatientID != "11" || res.Called.PatientID != "22" {
		t.Fatalf("unexpected second call %+v", res)
	}

	res, err = st.CallNext(ctx, store.CallNextInput{Clinic: "eyes"})
	if !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
	if res.Completed == nil || res.Completed.PatientID != "22" {
		t.Fatalf("in-service ticket must still be completed, got %+v", res)
	}
}

func TestAdvancePatientWalksRoute(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	reg, err := st.RegisterPatient(ctx, store.RegisterInput{PatientID: "555", Gender: "male", ExamType: "x", Route: []string{"lab", "eyes"}})
	if err != nil || !reg.Created {
		t.Fatalf("register: %+v %v", reg, err)
	}
	if reg.Ticket.Clinic != "lab" || reg.Ticket.Status != models.StatusWaiting {
		t.Fatalf("expected waiting ticket at lab, got %+v", reg.Ticket)
	}

	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "555", Clinic: "eyes"}); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}

	res, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "555", Clinic: "lab"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Finished || res.Next == nil || res.Next.Clinic != "eyes" || res.Patient.CurrentIndex != 1 {
		t.Fatalf("unexpected advance %+v", res)
	}

	res, err = st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "555", Clinic: "eyes"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !res.Finished || res.Patient.Status != models.PatientCompleted || res.Patient.CompletedAt == nil {
		t.Fatalf("expected completion, got %+v", res)
	}
	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "555", Clinic: "eyes"}); !errors.Is(err, store.ErrPatientCompleted) {
		t.Fatalf("expected ErrPatientCompleted, got %v", err)
	}
}

func TestAdvanceRejectsOutOfRouteClinic(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	if _, err := st.RegisterPatient(ctx, store.RegisterInput{PatientID: "77", Route: []string{"lab", "eyes"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "eyes", PatientID: "77"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "77", Clinic: "eyes"}); !errors.Is(err, store.ErrRouteMismatch) {
		t.Fatalf("expected ErrRouteMismatch, got %v", err)
	}
	patient, _ := st.GetPatient(ctx, "77")
	if patient.CurrentIndex != 0 {
		t.Fatalf("patient must not advance, index=%d", patient.CurrentIndex)
	}
}

func TestAdvanceAfterTicketClosedByStaff(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	if _, err := st.RegisterPatient(ctx, store.RegisterInput{PatientID: "88", Route: []string{"lab", "eyes", "ent"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	st.CallNext(ctx, store.CallNextInput{Clinic: "lab"})
	st.CallNext(ctx, store.CallNextInput{Clinic: "lab"})

	res, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "88", Clinic: "lab"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Completed.Status != models.StatusDone || res.Next == nil || res.Next.Clinic != "eyes" {
		t.Fatalf("unexpected advance %+v", res)
	}
	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "88", Clinic: "lab"}); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound on retry, got %v", err)
	}
	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "88", Clinic: "xray"}); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound without a ticket, got %v", err)
	}
}

func TestGetOrCreatePinIsStable(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	calls := 0
	gen := func() (string, error) {
		calls++
		return "42", nil
	}
	first, created, err := st.GetOrCreatePin(ctx, "lab", "2026-01-01", gen, time.Now())
	if err != nil || !created || first.Pin != "42" {
		t.Fatalf("first: %+v created=%v err=%v", first, created, err)
	}
	second, created, err := st.GetOrCreatePin(ctx, "lab", "2026-01-01", gen, time.Now())
	if err != nil || created || second.Pin != "42" {
		t.Fatalf("second: %+v created=%v err=%v", second, created, err)
	}
	if calls != 1 {
		t.Fatalf("generator must run once, ran %d", calls)
	}
	if _, err := st.GetPin(ctx, "lab", "2026-01-02"); !errors.Is(err, store.ErrPinNotFound) {
		t.Fatalf("expected ErrPinNotFound, got %v", err)
	}
}

func TestOutboxOffsets(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: "10"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := st.CallNext(ctx, store.CallNextInput{Clinic: "lab"}); err != nil {
		t.Fatalf("call: %v", err)
	}
	events, err := st.ListOutboxEvents(ctx, store.OutboxOffset{}, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].Type != store.EventTicketCreated || events[1].Type != store.EventTicketCalled {
		t.Fatalf("unexpected events %+v", events)
	}
	if err := st.UpdateOffset(ctx, "test", store.OutboxOffset{LastSeq: events[0].Seq}); err != nil {
		t.Fatalf("update offset: %v", err)
	}
	offset, _ := st.GetOffset(ctx, "test")
	rest, _ := st.ListOutboxEvents(ctx, offset, 10)
	if len(rest) != 1 || rest[0].Seq != events[1].Seq {
		t.Fatalf("unexpected remainder %+v", rest)
	}
}
