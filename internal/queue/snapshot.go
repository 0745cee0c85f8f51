package queue

import "github.com/Bomussa/Eme/internal/models"

type Snapshot struct {
	Clinic    string          `json:"clinic"`
	Current   *int64          `json:"current"`
	Total     int             `json:"total"`
	Waiting   int             `json:"waiting"`
	InService int             `json:"in_service"`
	Completed int             `json:"completed"`
	List      []models.Ticket `json:"list"`
}

// Summarize counts tickets by status. Current is the IN_SERVICE number, or nil
// when the clinic is idle. The list keeps ascending number order.
func Summarize(clinic string, tickets []models.Ticket) Snapshot {
	snap := Snapshot{Clinic: clinic, Total: len(tickets), List: tickets}
	if snap.List == nil {
		snap.List = []models.Ticket{}
	}
	for _, ticket := range tickets {
		switch ticket.Status {
		case models.StatusWaiting:
			snap.Waiting++
		case models.StatusInService:
			snap.InService++
			number := ticket.Number
			snap.Current = &number
		case models.StatusDone:
			snap.Completed++
		}
	}
	return snap
}
