package scheduling

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// QueryService serves the read side of the ledger.
type QueryService struct {
	repos  Repositories
	cache  SlotCache
	logger zerolog.Logger
}

func NewQueryService(repos Repositories, cache SlotCache, logger zerolog.Logger) *QueryService {
	if cache == nil {
		cache = NoopCache
	}
	return &QueryService{
		repos:  repos,
		cache:  cache,
		logger: logger.With().Str("component", "query").Logger(),
	}
}

// FindAvailableSlots returns the doctor's AVAILABLE slots on date ordered by start time.
// Callers are expected to reject dates in the past.
func (q *QueryService) FindAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	date = DateOf(date)

	cached, ok, err := q.cache.GetAvailable(ctx, doctorID, date)
	if err != nil {
		q.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("read slot cache")
	}
	if ok {
		return cached, nil
	}

	if _, err := q.repos.Doctors.GetByID(ctx, doctorID); err != nil {
		return nil, passOr("load doctor", err)
	}

	// The version is read before the rows so an invalidation that lands while
	// they are loaded makes the write below a no-op.
	version, verErr := q.cache.Version(ctx, doctorID, date)
	if verErr != nil {
		q.logger.Warn().Err(verErr).Str("doctor_id", doctorID.String()).Msg("read slot cache version")
	}

	slots, err := q.repos.Slots.ListAvailable(ctx, doctorID, date)
	if err != nil {
		return nil, internal("list available slots", err)
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })

	if verErr == nil {
		if _, err := q.cache.SetAvailable(ctx, doctorID, date, version, slots); err != nil {
			q.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("write slot cache")
		}
	}
	return slots, nil
}

// AppointmentsForPatient lists every appointment of the patient, cancelled ones
// included. A patient with no appointments yields ErrNoAppointments.
func (q *QueryService) AppointmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	patient, err := q.repos.Patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, passOr("load patient", err)
	}

	details, err := q.listForPatient(ctx, patient)
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, ErrNoAppointments
	}
	return details, nil
}

// AppointmentsForIdentity is AppointmentsForPatient keyed by the login identity.
// No appointments is an empty list here, not an error.
func (q *QueryService) AppointmentsForIdentity(ctx context.Context, identityID string) ([]AppointmentDetail, error) {
	patient, err := q.repos.Patients.GetByIdentityID(ctx, identityID)
	if err != nil {
		return nil, passOr("load patient", err)
	}

	details, err := q.listForPatient(ctx, patient)
	if err != nil {
		return nil, err
	}
	if details == nil {
		details = []AppointmentDetail{}
	}
	return details, nil
}

func (q *QueryService) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := q.repos.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, passOr("load appointment", err)
	}

	patient, err := q.repos.Patients.GetByID(ctx, appt.PatientID)
	if err != nil {
		return nil, passOr("load patient", err)
	}

	e := newEnricher(q.repos)
	detail, err := e.enrich(ctx, *appt)
	if err != nil {
		return nil, err
	}
	detail.Patient = patient
	return &detail, nil
}

func (q *QueryService) listForPatient(ctx context.Context, patient *Patient) ([]AppointmentDetail, error) {
	appts, err := q.repos.Appointments.ListByPatient(ctx, patient.ID)
	if err != nil {
		return nil, internal("list appointments", err)
	}

	e := newEnricher(q.repos)
	var details []AppointmentDetail
	for _, a := range appts {
		d, err := e.enrich(ctx, a)
		if err != nil {
			return nil, err
		}
		d.Patient = patient
		details = append(details, d)
	}
	return details, nil
}

// enricher joins appointments with their doctor and slot, loading each doctor once.
type enricher struct {
	repos   Repositories
	doctors map[uuid.UUID]*Doctor
}

func newEnricher(repos Repositories) *enricher {
	return &enricher{repos: repos, doctors: make(map[uuid.UUID]*Doctor)}
}

func (e *enricher) enrich(ctx context.Context, a Appointment) (AppointmentDetail, error) {
	detail := AppointmentDetail{Appointment: a}

	doc, ok := e.doctors[a.DoctorID]
	if !ok {
		d, err := e.repos.Doctors.GetByID(ctx, a.DoctorID)
		if err != nil && !errors.Is(err, ErrDoctorNotFound) {
			return detail, internal("load doctor", err)
		}
		doc = d
		e.doctors[a.DoctorID] = d
	}
	detail.Doctor = doc

	if a.SlotID != nil {
		slot, err := e.repos.Slots.GetByID(ctx, *a.SlotID)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return detail, internal("load slot", err)
		}
		detail.Slot = slot
	}
	return detail, nil
}
