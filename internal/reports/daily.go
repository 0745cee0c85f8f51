// Package reports derives per-clinic throughput and timing figures from the
// tickets entered during one PIN day.
package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Bomussa/Eme/internal/catalog"
	"github.com/Bomussa/Eme/internal/models"
)

type TicketLister interface {
	ListTicketsEntered(ctx context.Context, from, to time.Time) ([]models.Ticket, error)
}

// Calendar maps a PIN date to its UTC window.
type Calendar interface {
	Window(date string) (time.Time, time.Time, error)
	Today() string
}

type ClinicKPI struct {
	Clinic            string  `json:"clinic"`
	Entered           int     `json:"entered"`
	Served            int     `json:"served"`
	Waiting           int     `json:"waiting"`
	AvgWaitSeconds    float64 `json:"avg_wait_seconds"`
	AvgServiceSeconds float64 `json:"avg_service_seconds"`
}

type Daily struct {
	Date    string      `json:"date"`
	From    time.Time   `json:"from"`
	To      time.Time   `json:"to"`
	Clinics []ClinicKPI `json:"clinics"`
	Entered int         `json:"entered"`
	Served  int         `json:"served"`
}

type Builder struct {
	catalog  *catalog.Catalog
	tickets  TicketLister
	calendar Calendar
}

func NewBuilder(c *catalog.Catalog, tickets TicketLister, calendar Calendar) *Builder {
	return &Builder{catalog: c, tickets: tickets, calendar: calendar}
}

// Daily reports every catalog clinic, including idle ones. Wait is measured
// from entry to call and service from call to completion; tickets completed
// without being called only count as served.
func (b *Builder) Daily(ctx context.Context, date string) (Daily, error) {
	if date == "" {
		date = b.calendar.Today()
	}
	from, to, err := b.calendar.Window(date)
	if err != nil {
		return Daily{}, err
	}
	tickets, err := b.tickets.ListTicketsEntered(ctx, from, to)
	if err != nil {
		return Daily{}, fmt.Errorf("list tickets: %w", err)
	}

	type acc struct {
		kpi          ClinicKPI
		waitSum      float64
		waitCount    int
		serviceSum   float64
		serviceCount int
	}
	byClinic := make(map[string]*acc)
	for _, clinic := range b.catalog.Clinics() {
		byClinic[clinic] = &acc{kpi: ClinicKPI{Clinic: clinic}}
	}
	for _, ticket := range tickets {
		a, ok := byClinic[ticket.Clinic]
		if !ok {
			continue
		}
		a.kpi.Entered++
		switch ticket.Status {
		case models.StatusDone:
			a.kpi.Served++
		case models.StatusWaiting:
			a.kpi.Waiting++
		}
		if ticket.CalledAt != nil {
			a.waitSum += ticket.CalledAt.Sub(ticket.EnteredAt).Seconds()
			a.waitCount++
			if ticket.CompletedAt != nil {
				a.serviceSum += ticket.CompletedAt.Sub(*ticket.CalledAt).Seconds()
				a.serviceCount++
			}
		}
	}

	report := Daily{Date: date, From: from, To: to}
	for _, clinic := range b.catalog.Clinics() {
		a := byClinic[clinic]
		if a.waitCount > 0 {
			a.kpi.AvgWaitSeconds = a.waitSum / float64(a.waitCount)
		}
		if a.serviceCount > 0 {
			a.kpi.AvgServiceSeconds = a.serviceSum / float64(a.serviceCount)
		}
		report.Entered += a.kpi.Entered
		report.Served += a.kpi.Served
		report.Clinics = append(report.Clinics, a.kpi)
	}
	return report, nil
}

// WriteCSV renders one row per clinic.
func WriteCSV(w io.Writer, report Daily) error {
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"date", "clinic", "entered", "served", "waiting", "avg_wait_seconds", "avg_service_seconds"})
	for _, kpi := range report.Clinics {
		_ = writer.Write([]string{
			report.Date,
			kpi.Clinic,
			strconv.Itoa(kpi.Entered),
			strconv.Itoa(kpi.Served),
			strconv.Itoa(kpi.Waiting),
			strconv.FormatFloat(kpi.AvgWaitSeconds, 'f', 1, 64),
			strconv.FormatFloat(kpi.AvgServiceSeconds, 'f', 1, 64),
		})
	}
	writer.Flush()
	return writer.Error()
}
