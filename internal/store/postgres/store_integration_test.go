package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bomussa/Eme/internal/store"
	"github.com/Bomussa/Eme/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestEnterConcurrentSamePatientGetsOneTicket(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "lab", PatientID: "123456"})
			if err != nil {
				t.Errorf("enter: %v", err)
				return
			}
			ids <- ticket.TicketID
		}()
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("expected a single active ticket, got %s and %s", first, id)
		}
	}
}

func TestConcurrentEntersGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	const n = 10
	var wg sync.WaitGroup
	numbers := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ticket, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "eyes", PatientID: fmt.Sprintf("10%d", i)})
			if err != nil {
				t.Errorf("enter: %v", err)
				return
			}
			numbers <- ticket.Number
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := map[int64]bool{}
	for number := range numbers {
		if seen[number] {
			t.Fatalf("duplicate ticket number %d", number)
		}
		seen[number] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d numbers, got %d", n, len(seen))
	}
}

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	for _, id := range []string{"11", "22", "33"} {
		if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "ent", PatientID: id}); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.CallNext(ctx, store.CallNextInput{Clinic: "ent"}); err != nil {
				t.Errorf("call next: %v", err)
			}
		}()
	}
	wg.Wait()

	tickets, err := st.ListTickets(ctx, "ent", time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	inService := 0
	for _, ticket := range tickets {
		if ticket.Status == "IN_SERVICE" {
			inService++
			if ticket.PatientID != "22" {
				t.Fatalf("expected patient 22 in service, got %s", ticket.PatientID)
			}
		}
	}
	if inService != 1 {
		t.Fatalf("expected exactly one IN_SERVICE ticket, got %d", inService)
	}
}

func TestListTicketsSinceKeepsActive(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	dayStart := time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)
	before := dayStart.Add(-time.Hour)
	for _, id := range []string{"61", "62"} {
		if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "eyes", PatientID: id, EnteredAt: before}); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}
	if _, _, err := st.CompleteTicket(ctx, store.CompleteInput{Clinic: "eyes", PatientID: "61", CompletedAt: before}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, _, err := st.EnterQueue(ctx, store.EnterInput{Clinic: "eyes", PatientID: "63", EnteredAt: dayStart.Add(time.Minute)}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	tickets, err := st.ListTickets(ctx, "eyes", dayStart)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 2 || tickets[0].PatientID != "62" || tickets[1].PatientID != "63" {
		t.Fatalf("expected carried-over 62 and today's 63, got %+v", tickets)
	}
	all, err := st.ListTickets(ctx, "eyes", time.Time{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected full history, got %d", len(all))
	}
}

func TestRegisterAndAdvance(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	reg, err := st.RegisterPatient(ctx, store.RegisterInput{PatientID: "987654", Gender: "female", ExamType: "recruitment", Route: []string{"lab", "eyes"}})
	if err != nil || !reg.Created {
		t.Fatalf("register: %+v %v", reg, err)
	}
	again, err := st.RegisterPatient(ctx, store.RegisterInput{PatientID: "987654", Gender: "female", ExamType: "recruitment", Route: []string{"eyes", "lab"}})
	if err != nil || again.Created || again.Patient.Route[0] != "lab" {
		t.Fatalf("re-register must return stored route: %+v %v", again, err)
	}

	res, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "987654", Clinic: "lab"})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if res.Next == nil || res.Next.Clinic != "eyes" {
		t.Fatalf("expected next ticket at eyes, got %+v", res)
	}
	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "987654", Clinic: "lab"}); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("retry must not double advance, got %v", err)
	}
	res, err = st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "987654", Clinic: "eyes"})
	if err != nil || !res.Finished {
		t.Fatalf("expected completion, got %+v %v", res, err)
	}
}

func TestAdvanceAfterStaffClosedTicket(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if _, err := st.RegisterPatient(ctx, store.RegisterInput{PatientID: "4411", Gender: "male", ExamType: "recruitment", Route: []string{"lab", "eyes", "ent"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := st.CallNext(ctx, store.CallNextInput{Clinic: "lab"}); err != nil && !errors.Is(err, store.ErrNoTicket) {
			t.Fatalf("call next: %v", err)
		}
	}
	res, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "4411", Clinic: "lab"})
	if err != nil {
		t.Fatalf("advance after callNext: %v", err)
	}
	if res.Completed.Status != "DONE" || res.Next == nil || res.Next.Clinic != "eyes" {
		t.Fatalf("unexpected advance %+v", res)
	}

	if _, _, err := st.CompleteTicket(ctx, store.CompleteInput{Clinic: "eyes", PatientID: "4411"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	res, err = st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "4411", Clinic: "eyes"})
	if err != nil || res.Next == nil || res.Next.Clinic != "ent" {
		t.Fatalf("advance after markDone: %+v %v", res, err)
	}
	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "4411", Clinic: "eyes"}); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("a closed earlier step must not advance again, got %v", err)
	}
	if _, err := st.AdvancePatient(ctx, store.AdvanceInput{PatientID: "4411", Clinic: "xray"}); !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound without any ticket, got %v", err)
	}
}

func TestGetOrCreatePinConcurrentReadersAgree(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	var wg sync.WaitGroup
	pins := make(chan string, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := fmt.Sprintf("%02d", i+10)
			pin, _, err := st.GetOrCreatePin(ctx, "lab", "2026-03-01", func() (string, error) { return value, nil }, nowUTC())
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			pins <- pin.Pin
		}(i)
	}
	wg.Wait()
	close(pins)
	var first string
	for pin := range pins {
		if first == "" {
			first = pin
		}
		if pin != first {
			t.Fatalf("readers disagree: %s vs %s", first, pin)
		}
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if _, err := NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}
