package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

type stubBooking struct {
	create     func(scheduling.CreateRequest) (*scheduling.Appointment, error)
	reschedule func(uuid.UUID, scheduling.RescheduleRequest) (*scheduling.Appointment, error)
	cancel     func(uuid.UUID) (*scheduling.Appointment, error)
}

func (s stubBooking) CreateAppointment(_ context.Context, req scheduling.CreateRequest) (*scheduling.Appointment, error) {
	return s.create(req)
}

func (s stubBooking) UpdateAppointment(_ context.Context, id uuid.UUID, req scheduling.RescheduleRequest) (*scheduling.Appointment, error) {
	return s.reschedule(id, req)
}

func (s stubBooking) CancelAppointment(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	return s.cancel(id)
}

type stubQueries struct {
	slots func(uuid.UUID, time.Time) ([]scheduling.Slot, error)
	byID  func(uuid.UUID) ([]scheduling.AppointmentDetail, error)
	get   func(uuid.UUID) (*scheduling.AppointmentDetail, error)
}

func (s stubQueries) FindAvailableSlots(_ context.Context, doctorID uuid.UUID, date time.Time) ([]scheduling.Slot, error) {
	return s.slots(doctorID, date)
}

func (s stubQueries) AppointmentsForPatient(_ context.Context, id uuid.UUID) ([]scheduling.AppointmentDetail, error) {
	return s.byID(id)
}

func (s stubQueries) AppointmentsForIdentity(context.Context, string) ([]scheduling.AppointmentDetail, error) {
	return []scheduling.AppointmentDetail{}, nil
}

func (s stubQueries) GetAppointment(_ context.Context, id uuid.UUID) (*scheduling.AppointmentDetail, error) {
	return s.get(id)
}

// stubDirectory embeds the interface so tests only implement what they call.
type stubDirectory struct {
	DirectoryService
	createDoctor func(scheduling.DoctorInput) (*scheduling.Doctor, error)
	identity     func(string) (*scheduling.Patient, error)
}

func (s stubDirectory) CreateDoctor(_ context.Context, in scheduling.DoctorInput) (*scheduling.Doctor, error) {
	return s.createDoctor(in)
}

func (s stubDirectory) GetPatientByIdentity(_ context.Context, identity string) (*scheduling.Patient, error) {
	return s.identity(identity)
}

var testNow = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

func newTestRouter(b BookingService, q QueryService, d DirectoryService) http.Handler {
	return NewRouter(RouterConfig{
		Booking:   b,
		Queries:   q,
		Directory: d,
		Health:    NewHealthHandler(PingFunc(func(context.Context) error { return nil }), nil, "test", "v0"),
		Logger:    zerolog.New(io.Discard),
		Now:       func() time.Time { return testNow },
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e
}

func TestCreateAppointmentHandler(t *testing.T) {
	slotID, patientID, doctorID := uuid.New(), uuid.New(), uuid.New()
	var got scheduling.CreateRequest
	b := stubBooking{create: func(req scheduling.CreateRequest) (*scheduling.Appointment, error) {
		got = req
		return &scheduling.Appointment{
			ID:        uuid.New(),
			PatientID: req.PatientID,
			DoctorID:  doctorID,
			SlotID:    &req.SlotID,
			Date:      time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC),
			VisitType: req.VisitType,
			Status:    scheduling.StatusConfirmed,
		}, nil
	}}
	h := newTestRouter(b, nil, nil)

	body := fmt.Sprintf(`{"slot_id":%q,"patient_id":%q,"visit_type":"TELEHEALTH"}`, slotID, patientID)
	rec := do(t, h, http.MethodPost, "/appointments", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got.SlotID != slotID || got.PatientID != patientID || got.DoctorID != uuid.Nil || got.VisitType != scheduling.VisitTelehealth {
		t.Errorf("request = %+v", got)
	}

	var resp AppointmentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Date != "2026-03-09" || resp.Status != "CONFIRMED" || resp.SlotID == nil || *resp.SlotID != slotID {
		t.Errorf("response = %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestCreateAppointmentHandlerBadInput(t *testing.T) {
	h := newTestRouter(stubBooking{}, nil, nil)

	if rec := do(t, h, http.MethodPost, "/appointments", `{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/appointments", `{"slot_id":"nope","patient_id":"x"}`)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error != "invalid_slot_id" {
		t.Errorf("bad slot id: status = %d", rec.Code)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", scheduling.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
		{"unavailable", scheduling.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
		{"duplicate", scheduling.ErrDuplicateActiveAppointment, http.StatusConflict, "duplicate_active_appointment"},
		{"lock busy", fmt.Errorf("slot lock not acquired: %w", scheduling.ErrSlotBeingBooked), http.StatusConflict, "slot_being_booked"},
		{"visit type", fmt.Errorf("%w: %q", scheduling.ErrInvalidVisitType, "X"), http.StatusBadRequest, "invalid_visit_type"},
		{"deadlock aborted", fmt.Errorf("%w: sqlstate 40P01", scheduling.ErrConcurrentUpdate), http.StatusConflict, "concurrent_update"},
		{"internal", fmt.Errorf("insert: %w: %w", scheduling.ErrInternal, errors.New("pq: secret detail")), http.StatusInternalServerError, "internal_error"},
		{"partial reschedule", fmt.Errorf("%w: %w", scheduling.ErrRescheduleLeftOldCancelled, scheduling.ErrSlotUnavailable), http.StatusConflict, "reschedule_left_original_cancelled"},
		{"partial reschedule after store failure", fmt.Errorf("%w: %w", scheduling.ErrRescheduleLeftOldCancelled, fmt.Errorf("x: %w: %w", scheduling.ErrInternal, errors.New("pq: secret detail"))), http.StatusConflict, "reschedule_left_original_cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := stubBooking{cancel: func(uuid.UUID) (*scheduling.Appointment, error) { return nil, tt.err }}
			h := newTestRouter(b, nil, nil)

			rec := do(t, h, http.MethodPost, "/appointments/"+uuid.NewString()+"/cancel", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			e := decodeError(t, rec)
			if e.Error != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Error, tt.wantCode)
			}
			if strings.Contains(e.Details, "secret") {
				t.Errorf("details leak the store error: %q", e.Details)
			}
		})
	}
}

func TestRescheduleHandler(t *testing.T) {
	apptID, newSlot := uuid.New(), uuid.New()
	var gotID uuid.UUID
	var gotReq scheduling.RescheduleRequest
	b := stubBooking{reschedule: func(id uuid.UUID, req scheduling.RescheduleRequest) (*scheduling.Appointment, error) {
		gotID, gotReq = id, req
		return &scheduling.Appointment{ID: uuid.New(), SlotID: &req.NewSlotID, Status: scheduling.StatusConfirmed}, nil
	}}
	h := newTestRouter(b, nil, nil)

	rec := do(t, h, http.MethodPut, "/appointments/"+apptID.String(), fmt.Sprintf(`{"new_slot_id":%q}`, newSlot))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if gotID != apptID || gotReq.NewSlotID != newSlot || gotReq.PatientID != uuid.Nil || gotReq.VisitType != "" {
		t.Errorf("got %s %+v", gotID, gotReq)
	}
}

func TestAvailableSlotsHandler(t *testing.T) {
	doctorID := uuid.New()
	var gotDate time.Time
	q := stubQueries{slots: func(id uuid.UUID, date time.Time) ([]scheduling.Slot, error) {
		gotDate = date
		return []scheduling.Slot{{
			ID:        uuid.New(),
			DoctorID:  id,
			Date:      date,
			StartTime: scheduling.NewTimeOfDay(9, 0),
			EndTime:   scheduling.NewTimeOfDay(9, 30),
			Status:    scheduling.SlotAvailable,
		}}, nil
	}}
	h := newTestRouter(nil, q, nil)

	rec := do(t, h, http.MethodGet, "/doctors/"+doctorID.String()+"/slots?date=2026-03-04", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("today: status = %d, body %s", rec.Code, rec.Body)
	}
	if gotDate.Format(time.DateOnly) != "2026-03-04" {
		t.Errorf("date passed = %v", gotDate)
	}
	var slots []SlotResponse
	if err := json.NewDecoder(rec.Body).Decode(&slots); err != nil {
		t.Fatal(err)
	}
	if len(slots) != 1 || slots[0].StartTime != "09:00" || slots[0].EndTime != "09:30" {
		t.Errorf("slots = %+v", slots)
	}

	rec = do(t, h, http.MethodGet, "/doctors/"+doctorID.String()+"/slots?date=2026-03-03", "")
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error != "date_in_past" {
		t.Errorf("past date: status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/doctors/"+doctorID.String()+"/slots?date=03/09/2026", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed date: status = %d", rec.Code)
	}
}

func TestPatientAppointmentsHandler(t *testing.T) {
	q := stubQueries{byID: func(uuid.UUID) ([]scheduling.AppointmentDetail, error) {
		return nil, scheduling.ErrNoAppointments
	}}
	h := newTestRouter(nil, q, nil)

	rec := do(t, h, http.MethodGet, "/patients/"+uuid.NewString()+"/appointments", "")
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Error != "no_appointments" {
		t.Errorf("status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/patients/identity/okta%7C00u1/appointments", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("identity appointments = %d %s, want an empty list", rec.Code, rec.Body)
	}
}

func TestGetAppointmentHandlerCancelledHasNullSlot(t *testing.T) {
	doc := &scheduling.Doctor{ID: uuid.New(), FirstName: "Ada", LastName: "Okafor", SpecialtyID: uuid.New()}
	q := stubQueries{get: func(id uuid.UUID) (*scheduling.AppointmentDetail, error) {
		return &scheduling.AppointmentDetail{
			Appointment: scheduling.Appointment{ID: id, DoctorID: doc.ID, Status: scheduling.StatusCancelled, VisitType: scheduling.VisitInPerson},
			Patient:     &scheduling.Patient{FirstName: "Lin", LastName: "Park"},
			Doctor:      doc,
		}, nil
	}}
	h := newTestRouter(nil, q, nil)

	rec := do(t, h, http.MethodGet, "/appointments/"+uuid.NewString(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var raw map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if raw["slot_id"] != nil || raw["start_time"] != nil {
		t.Errorf("cancelled appointment shows slot fields: %v", raw)
	}
	if raw["doctor_name"] != "Ada Okafor" || raw["patient_first_name"] != "Lin" {
		t.Errorf("enriched fields = %v", raw)
	}
}

func TestCreateDoctorHandler(t *testing.T) {
	specialtyID := uuid.New()
	var got scheduling.DoctorInput
	d := stubDirectory{createDoctor: func(in scheduling.DoctorInput) (*scheduling.Doctor, error) {
		got = in
		return &scheduling.Doctor{ID: uuid.New(), SpecialtyID: in.SpecialtyID, EmploymentStatus: scheduling.EmploymentActive, Availability: in.Availability}, nil
	}}
	h := newTestRouter(nil, nil, d)

	body := fmt.Sprintf(`{"first_name":"Ines","last_name":"Moreau","specialty_id":%q,
		"availability":[{"day_of_week":"monday","start_time":"09:00","end_time":"17:00:00"}]}`, specialtyID)
	rec := do(t, h, http.MethodPost, "/doctors", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(got.Availability) != 1 {
		t.Fatalf("availability = %+v", got.Availability)
	}
	a := got.Availability[0]
	if a.DayOfWeek != scheduling.Monday || a.StartTime != scheduling.NewTimeOfDay(9, 0) || a.EndTime != scheduling.NewTimeOfDay(17, 0) {
		t.Errorf("template = %+v", a)
	}

	rec = do(t, h, http.MethodPost, "/doctors", fmt.Sprintf(`{"specialty_id":%q,"availability":[{"day_of_week":"MONDAY","start_time":"9am","end_time":"10:00"}]}`, specialtyID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad time status = %d", rec.Code)
	}
}

func TestPatientByIdentityHandlerUnescapes(t *testing.T) {
	var got string
	d := stubDirectory{identity: func(identity string) (*scheduling.Patient, error) {
		got = identity
		return &scheduling.Patient{ID: uuid.New(), FirstName: "Ravi", LastName: "Shah", DOB: time.Date(1992, 2, 29, 0, 0, 0, 0, time.UTC)}, nil
	}}
	h := newTestRouter(nil, nil, d)

	rec := do(t, h, http.MethodGet, "/patients/identity/okta%7C00u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got != "okta|00u1" {
		t.Errorf("identity = %q", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestRouter(nil, nil, nil)
	if rec := do(t, h, http.MethodGet, "/health/live", ""); rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/health/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}

	down := NewHealthHandler(PingFunc(func(context.Context) error { return errors.New("down") }), nil, "test", "v0")
	rec := httptest.NewRecorder()
	down.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with postgres down = %d", rec.Code)
	}

	degraded := NewHealthHandler(
		PingFunc(func(context.Context) error { return nil }),
		PingFunc(func(context.Context) error { return errors.New("down") }),
		"test", "v0")
	rec = httptest.NewRecorder()
	degraded.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var resp ReadinessResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if rec.Code != http.StatusOK || resp.Status != "degraded" {
		t.Errorf("ready with redis down = %d %q", rec.Code, resp.Status)
	}
}
