package store

import "errors"

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrNoTicket         = errors.New("no patients waiting")
	ErrPinNotFound      = errors.New("pin not issued")
	ErrPatientCompleted = errors.New("patient already completed route")
	ErrRouteMismatch    = errors.New("clinic is not the current route step")
	ErrInvalidState     = errors.New("invalid ticket state")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrUnavailable      = errors.New("store unavailable")
)

// IsDomainError reports whether err is an expected business outcome rather
// than an infrastructure failure.
func IsDomainError(err error) bool {
	switch {
	case errors.Is(err, ErrPatientNotFound),
		errors.Is(err, ErrTicketNotFound),
		errors.Is(err, ErrNoTicket),
		errors.Is(err, ErrPinNotFound),
		errors.Is(err, ErrPatientCompleted),
		errors.Is(err, ErrRouteMismatch),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConflict):
		return true
	default:
		return false
	}
}
