package models

import "time"

type DailyPin struct {
	Clinic      string    `json:"clinic"`
	Date        string    `json:"date"`
	Pin         string    `json:"pin"`
	Active      bool      `json:"active"`
	GeneratedAt time.Time `json:"generated_at"`
}
