package scheduling

import (
	"errors"
	"fmt"
)

// Error kinds. Callers branch on these with errors.Is; every error this package returns wraps one.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrInternal   = errors.New("internal failure")
)

var (
	ErrPatientNotFound     = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound      = fmt.Errorf("doctor %w", ErrNotFound)
	ErrSpecialtyNotFound   = fmt.Errorf("specialty %w", ErrNotFound)
	ErrSlotNotFound        = fmt.Errorf("slot %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrNoAppointments      = fmt.Errorf("appointments %w", ErrNotFound)
)

var (
	ErrSlotUnavailable            = fmt.Errorf("%w: slot is not available", ErrConflict)
	ErrDuplicateActiveAppointment = fmt.Errorf("%w: patient already has an active appointment with this doctor on this date", ErrConflict)
	ErrDuplicateSpecialty         = fmt.Errorf("%w: specialty name already exists", ErrConflict)
	ErrSpecialtyInUse             = fmt.Errorf("%w: specialty still has doctors", ErrConflict)
	ErrSlotBeingBooked            = fmt.Errorf("%w: slot is currently being booked", ErrConflict)
	ErrAppointmentCancelled       = fmt.Errorf("%w: appointment is cancelled", ErrConflict)
	ErrRescheduleLeftOldCancelled = fmt.Errorf("%w: reschedule failed after the original appointment was cancelled", ErrConflict)
	ErrConcurrentUpdate           = fmt.Errorf("%w: aborted by a concurrent update, retry", ErrConflict)
	ErrDuplicatePatientIdentity   = fmt.Errorf("%w: identity id is already registered", ErrConflict)
)

var (
	ErrInvalidAvailability = fmt.Errorf("%w: invalid availability", ErrValidation)
	ErrInvalidVisitType    = fmt.Errorf("%w: invalid visit type", ErrValidation)
	ErrInvalidInput        = fmt.Errorf("%w: invalid input", ErrValidation)
)

// internal wraps a store failure so callers see ErrInternal while logs keep the cause.
func internal(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

// passOr returns err untouched when it already carries one of the kinds, otherwise it wraps it as internal.
func passOr(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrInternal) {
		return err
	}
	return internal(op, err)
}
