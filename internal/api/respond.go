package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// errorCodes is checked in order; the first match names the error in the response.
var errorCodes = []struct {
	err  error
	code string
}{
	{scheduling.ErrRescheduleLeftOldCancelled, "reschedule_left_original_cancelled"},
	{scheduling.ErrPatientNotFound, "patient_not_found"},
	{scheduling.ErrDoctorNotFound, "doctor_not_found"},
	{scheduling.ErrSpecialtyNotFound, "specialty_not_found"},
	{scheduling.ErrSlotNotFound, "slot_not_found"},
	{scheduling.ErrAppointmentNotFound, "appointment_not_found"},
	{scheduling.ErrNoAppointments, "no_appointments"},
	{scheduling.ErrSlotUnavailable, "slot_unavailable"},
	{scheduling.ErrDuplicateActiveAppointment, "duplicate_active_appointment"},
	{scheduling.ErrDuplicateSpecialty, "duplicate_specialty"},
	{scheduling.ErrSpecialtyInUse, "specialty_in_use"},
	{scheduling.ErrSlotBeingBooked, "slot_being_booked"},
	{scheduling.ErrAppointmentCancelled, "appointment_cancelled"},
	{scheduling.ErrConcurrentUpdate, "concurrent_update"},
	{scheduling.ErrDuplicatePatientIdentity, "duplicate_patient_identity"},
	{scheduling.ErrInvalidAvailability, "invalid_availability"},
	{scheduling.ErrInvalidVisitType, "invalid_visit_type"},
	{scheduling.ErrInvalidInput, "invalid_input"},
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scheduling.ErrRescheduleLeftOldCancelled):
		return http.StatusConflict
	case errors.Is(err, scheduling.ErrInternal):
		return http.StatusInternalServerError
	case errors.Is(err, scheduling.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, scheduling.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error to its status code. Internal failures
// are logged and answered without the store's error text.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	status := statusFor(err)
	internal := errors.Is(err, scheduling.ErrInternal)
	if internal {
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal_error", "internal server error")
		return
	}

	code := "error"
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			code = c.code
			break
		}
	}
	details := err.Error()
	if internal {
		details = scheduling.ErrRescheduleLeftOldCancelled.Error()
	}
	writeError(w, status, code, details)
}
