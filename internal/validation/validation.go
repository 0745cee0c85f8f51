// Package validation checks request fields before they reach the store.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var patientIDPattern = regexp.MustCompile(`^\d{2,12}$`)

// Error lists the offending fields with a human readable message.
type Error struct {
	Fields  []string
	Message string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", strings.Join(e.Fields, ", "), e.Message)
}

func New(message string, fields ...string) *Error {
	return &Error{Fields: fields, Message: message}
}

// As extracts a validation error from a wrapped chain.
func As(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

func PatientID(id string) error {
	if !patientIDPattern.MatchString(id) {
		return New("must be 2 to 12 digits", "patientId")
	}
	return nil
}
