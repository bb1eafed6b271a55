package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Operation errors surfaced to the API layer. Anything else coming out of
// Create/Confirm/Cancel is an internal storage failure.
var (
	ErrSlotTaken        = errors.New("this timeslot is already booked with the selected doctor")
	ErrNotFound         = errors.New("appointment not found")
	ErrAlreadyCancelled = errors.New("appointment is already cancelled")
)

// ValidationError reports every malformed field at once, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid booking request"
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid booking request: " + strings.Join(parts, "; ")
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
