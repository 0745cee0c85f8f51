// Package admin builds the read-only dashboard view across all clinics.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/models"
	"github.com/Bomussa/Eme/internal/queue"

	"golang.org/x/sync/errgroup"
)

const defaultFanOut = 4

type Reader interface {
	ListTickets(ctx context.Context, clinic string, since time.Time) ([]models.Ticket, error)
}

// PinReader returns a clinic's pin without minting one.
type PinReader interface {
	Current(ctx context.Context, clinic, date string) (models.DailyPin, bool, error)
	Today() string
	Window(date string) (time.Time, time.Time, error)
}

type ClinicStatus struct {
	Clinic  string          `json:"clinic"`
	List    []models.Ticket `json:"list"`
	Current *int64          `json:"current"`
	Served  int             `json:"served"`
	Waiting int             `json:"waiting"`
	Pin     *string         `json:"pin"`
}

type Stats struct {
	TotalWaiting  int `json:"total_waiting"`
	TotalServed   int `json:"total_served"`
	ActiveClinics int `json:"active_clinics"`
}

type Status struct {
	Date        string                  `json:"date"`
	Stats       Stats                   `json:"stats"`
	Queues      map[string]ClinicStatus `json:"queues"`
	Order       []string                `json:"order"`
	GeneratedAt time.Time               `json:"generated_at"`
}

type Aggregator struct {
	catalog *catalog.Catalog
	tickets Reader
	pins    PinReader
	limit   int
}

func NewAggregator(c *catalog.Catalog, tickets Reader, pins PinReader, limit int) *Aggregator {
	if limit <= 0 {
		limit = defaultFanOut
	}
	return &Aggregator{catalog: c, tickets: tickets, pins: pins, limit: limit}
}

// Status reads every clinic concurrently. Served counts cover today only. A
// clinic counts as active when it has someone waiting or in service.
func (a *Aggregator) Status(ctx context.Context) (Status, error) {
	clinics := a.catalog.Clinics()
	date := a.pins.Today()
	since, _, err := a.pins.Window(date)
	if err != nil {
		return Status{}, fmt.Errorf("day window: %w", err)
	}
	results := make([]ClinicStatus, len(clinics))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.limit)
	for i, clinic := range clinics {
		i, clinic := i, clinic
		g.Go(func() error {
			status, err := a.clinic(gctx, clinic, date, since)
			if err != nil {
				return fmt.Errorf("clinic %s: %w", clinic, err)
			}
			results[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Status{}, err
	}

	out := Status{
		Date:        date,
		Queues:      make(map[string]ClinicStatus, len(clinics)),
		Order:       clinics,
		GeneratedAt: time.Now().UTC(),
	}
	for _, status := range results {
		out.Queues[status.Clinic] = status
		out.Stats.TotalWaiting += status.Waiting
		out.Stats.TotalServed += status.Served
		if status.Waiting > 0 || status.Current != nil {
			out.Stats.ActiveClinics++
		}
	}
	return out, nil
}

func (a *Aggregator) clinic(ctx context.Context, clinic, date string, since time.Time) (ClinicStatus, error) {
	tickets, err := a.tickets.ListTickets(ctx, clinic, since)
	if err != nil {
		return ClinicStatus{}, err
	}
	snap := queue.Summarize(clinic, tickets)
	status := ClinicStatus{
		Clinic:  clinic,
		List:    snap.List,
		Current: snap.Current,
		Served:  snap.Completed,
		Waiting: snap.Waiting,
	}
	pin, found, err := a.pins.Current(ctx, clinic, date)
	if err != nil {
		return ClinicStatus{}, err
	}
	if found {
		value := pin.Pin
		status.Pin = &value
	}
	return status, nil
}
