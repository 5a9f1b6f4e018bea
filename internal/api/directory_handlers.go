package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

// Specialties

func createSpecialtyHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SpecialtyRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		s, err := svc.CreateSpecialty(r.Context(), req.Name)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSpecialtyResponse(*s))
	}
}

func listSpecialtiesHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ListSpecialties(r.Context())
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		resp := make([]SpecialtyResponse, 0, len(list))
		for _, s := range list {
			resp = append(resp, toSpecialtyResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getSpecialtyHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		s, err := svc.GetSpecialty(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toSpecialtyResponse(*s))
	}
}

func updateSpecialtyHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req SpecialtyRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		s, err := svc.UpdateSpecialty(r.Context(), id, req.Name)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toSpecialtyResponse(*s))
	}
}

func deleteSpecialtyHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		if err := svc.DeleteSpecialty(r.Context(), id); err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// Doctors

func createDoctorHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		specialtyID, ok := parseID(w, req.SpecialtyID, "specialty_id")
		if !ok {
			return
		}
		templates, err := parseAvailability(req.Availability)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
			return
		}

		doc, err := svc.CreateDoctor(r.Context(), scheduling.DoctorInput{
			FirstName:        req.FirstName,
			LastName:         req.LastName,
			SpecialtyID:      specialtyID,
			EmploymentStatus: scheduling.EmploymentStatus(req.EmploymentStatus),
			Availability:     templates,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toDoctorResponse(*doc))
	}
}

func updateDoctorHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		var req UpdateDoctorRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		upd := scheduling.DoctorUpdate{
			FirstName: req.FirstName,
			LastName:  req.LastName,
		}
		if req.SpecialtyID != nil {
			specialtyID, ok := parseID(w, *req.SpecialtyID, "specialty_id")
			if !ok {
				return
			}
			upd.SpecialtyID = &specialtyID
		}
		if req.EmploymentStatus != nil {
			status := scheduling.EmploymentStatus(*req.EmploymentStatus)
			upd.EmploymentStatus = &status
		}
		if req.Availability != nil {
			templates, err := parseAvailability(*req.Availability)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
				return
			}
			upd.Availability = templates
		}

		doc, err := svc.UpdateDoctor(r.Context(), id, upd)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(*doc))
	}
}

func deactivateDoctorHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		doc, err := svc.DeactivateDoctor(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(*doc))
	}
}

func getDoctorHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		doc, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(*doc))
	}
}

func listDoctorsHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := svc.ListDoctors(r.Context())
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponses(docs))
	}
}

func listDoctorsBySpecialtyHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		docs, err := svc.ListDoctorsBySpecialty(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toDoctorResponses(docs))
	}
}

func toDoctorResponses(docs []scheduling.Doctor) []DoctorResponse {
	resp := make([]DoctorResponse, 0, len(docs))
	for _, d := range docs {
		resp = append(resp, toDoctorResponse(d))
	}
	return resp
}

// Patients

func createPatientHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatientRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		dob, err := time.Parse(time.DateOnly, req.DOB)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_dob", "dob must be formatted as YYYY-MM-DD")
			return
		}

		p, err := svc.CreatePatient(r.Context(), scheduling.PatientInput{
			IdentityID: req.IdentityID,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			DOB:        dob,
		})
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPatientResponse(*p))
	}
}

func getPatientHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}
		writePatient(w, r, log, func() (*scheduling.Patient, error) { return svc.GetPatient(r.Context(), id) })
	}
}

func getPatientByIdentityHandler(svc DirectoryService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityParam(r)
		writePatient(w, r, log, func() (*scheduling.Patient, error) { return svc.GetPatientByIdentity(r.Context(), identity) })
	}
}

func writePatient(w http.ResponseWriter, r *http.Request, log zerolog.Logger, load func() (*scheduling.Patient, error)) {
	p, err := load()
	if err != nil {
		writeServiceError(w, r, log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPatientResponse(*p))
}

// identityParam returns the unescaped identity id; provider ids such as
// "auth0|abc" arrive percent-encoded.
func identityParam(r *http.Request) string {
	raw := chi.URLParam(r, "identityID")
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
