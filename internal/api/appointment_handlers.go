package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

func createAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slotID, ok := parseID(w, req.SlotID, "slot_id")
		if !ok {
			return
		}
		patientID, ok := parseID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		doctorID, ok := parseOptionalID(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), scheduling.CreateRequest{
			PatientID: patientID,
			SlotID:    slotID,
			DoctorID:  doctorID,
			VisitType: scheduling.VisitType(req.VisitType),
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func rescheduleAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		newSlotID, ok := parseID(w, req.NewSlotID, "new_slot_id")
		if !ok {
			return
		}
		patientID, ok := parseOptionalID(w, req.PatientID, "patient_id")
		if !ok {
			return
		}

		appt, err := svc.UpdateAppointment(r.Context(), id, scheduling.RescheduleRequest{
			PatientID: patientID,
			NewSlotID: newSlotID,
			VisitType: scheduling.VisitType(req.VisitType),
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelAppointmentHandler(svc BookingService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc QueryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(*detail))
	}
}

// availableSlotsHandler serves GET /doctors/{id}/slots?date=YYYY-MM-DD. Dates
// before today are rejected.
func availableSlotsHandler(svc QueryService, today func() time.Time, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		date, err := time.Parse(time.DateOnly, r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as YYYY-MM-DD")
			return
		}
		if date.Before(today()) {
			writeError(w, http.StatusBadRequest, "date_in_past", "date must be today or later")
			return
		}

		slots, err := svc.FindAvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func patientAppointmentsHandler(svc QueryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		details, err := svc.AppointmentsForPatient(r.Context(), patientID)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func identityAppointmentsHandler(svc QueryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		details, err := svc.AppointmentsForIdentity(r.Context(), identityParam(r))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}
