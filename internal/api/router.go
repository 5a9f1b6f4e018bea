package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

type BookingService interface {
	CreateAppointment(ctx context.Context, req scheduling.CreateRequest) (*scheduling.Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, req scheduling.RescheduleRequest) (*scheduling.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type QueryService interface {
	FindAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]scheduling.Slot, error)
	AppointmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]scheduling.AppointmentDetail, error)
	AppointmentsForIdentity(ctx context.Context, identityID string) ([]scheduling.AppointmentDetail, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.AppointmentDetail, error)
}

type DirectoryService interface {
	CreateSpecialty(ctx context.Context, name string) (*scheduling.Specialty, error)
	GetSpecialty(ctx context.Context, id uuid.UUID) (*scheduling.Specialty, error)
	ListSpecialties(ctx context.Context) ([]scheduling.Specialty, error)
	UpdateSpecialty(ctx context.Context, id uuid.UUID, name string) (*scheduling.Specialty, error)
	DeleteSpecialty(ctx context.Context, id uuid.UUID) error

	CreateDoctor(ctx context.Context, in scheduling.DoctorInput) (*scheduling.Doctor, error)
	UpdateDoctor(ctx context.Context, id uuid.UUID, upd scheduling.DoctorUpdate) (*scheduling.Doctor, error)
	DeactivateDoctor(ctx context.Context, id uuid.UUID) (*scheduling.Doctor, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*scheduling.Doctor, error)
	ListDoctors(ctx context.Context) ([]scheduling.Doctor, error)
	ListDoctorsBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]scheduling.Doctor, error)

	CreatePatient(ctx context.Context, in scheduling.PatientInput) (*scheduling.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*scheduling.Patient, error)
	GetPatientByIdentity(ctx context.Context, identityID string) (*scheduling.Patient, error)
}

type RouterConfig struct {
	Booking   BookingService
	Queries   QueryService
	Directory DirectoryService
	Health    *HealthHandler
	Logger    zerolog.Logger
	// Location decides what "today" is when validating query dates.
	Location *time.Location
	Now      func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	today := func() time.Time { return scheduling.DateOf(cfg.Now().In(cfg.Location)) }

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	log := cfg.Logger

	r.Route("/specialties", func(r chi.Router) {
		r.Post("/", createSpecialtyHandler(cfg.Directory, log))
		r.Get("/", listSpecialtiesHandler(cfg.Directory, log))
		r.Get("/{id}", getSpecialtyHandler(cfg.Directory, log))
		r.Put("/{id}", updateSpecialtyHandler(cfg.Directory, log))
		r.Delete("/{id}", deleteSpecialtyHandler(cfg.Directory, log))
		r.Get("/{id}/doctors", listDoctorsBySpecialtyHandler(cfg.Directory, log))
	})

	r.Route("/doctors", func(r chi.Router) {
		r.Post("/", createDoctorHandler(cfg.Directory, log))
		r.Get("/", listDoctorsHandler(cfg.Directory, log))
		r.Get("/{id}", getDoctorHandler(cfg.Directory, log))
		r.Put("/{id}", updateDoctorHandler(cfg.Directory, log))
		r.Delete("/{id}", deactivateDoctorHandler(cfg.Directory, log))
		r.Get("/{id}/slots", availableSlotsHandler(cfg.Queries, today, log))
	})

	r.Route("/patients", func(r chi.Router) {
		r.Post("/", createPatientHandler(cfg.Directory, log))
		r.Get("/{id}", getPatientHandler(cfg.Directory, log))
		r.Get("/{id}/appointments", patientAppointmentsHandler(cfg.Queries, log))
		r.Get("/identity/{identityID}", getPatientByIdentityHandler(cfg.Directory, log))
		r.Get("/identity/{identityID}/appointments", identityAppointmentsHandler(cfg.Queries, log))
	})

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Booking, log))
		r.Get("/{id}", getAppointmentHandler(cfg.Queries, log))
		r.Put("/{id}", rescheduleAppointmentHandler(cfg.Booking, log))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Booking, log))
	})

	return r
}
