package models

import "time"

type Patient struct {
	PatientID    string     `json:"patient_id"`
	Gender       string     `json:"gender"`
	ExamType     string     `json:"exam_type"`
	Route        []string   `json:"route"`
	CurrentIndex int        `json:"current_index"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

const (
	PatientInProgress = "IN_PROGRESS"
	PatientCompleted  = "COMPLETED"
)

// CurrentClinic returns the clinic the patient is expected at, or "" once the
// route is finished.
func (p Patient) CurrentClinic() string {
	if p.Status == PatientCompleted || p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Route) {
		return ""
	}
	return p.Route[p.CurrentIndex]
}

// Remaining counts the clinics still to visit, including the current one.
func (p Patient) Remaining() int {
	if p.Status == PatientCompleted {
		return 0
	}
	return len(p.Route) - p.CurrentIndex
}
