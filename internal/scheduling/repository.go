package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Transactor runs fn inside one store transaction. Repositories called with the ctx passed to fn
// take part in that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type SpecialtyRepository interface {
	Insert(ctx context.Context, s *Specialty) error
	GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error)
	GetByName(ctx context.Context, name string) (*Specialty, error)
	List(ctx context.Context) ([]Specialty, error)
	Rename(ctx context.Context, id uuid.UUID, name string) (*Specialty, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type DoctorRepository interface {
	Insert(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context) ([]Doctor, error)
	ListActive(ctx context.Context) ([]Doctor, error)
	ListActiveBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]Doctor, error)
}

type PatientRepository interface {
	Insert(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByIdentityID(ctx context.Context, identityID string) (*Patient, error)
}

type AvailabilityRepository interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityTemplate, error)
	// ReplaceForDoctor deletes every template of the doctor and writes templates in their place.
	ReplaceForDoctor(ctx context.Context, doctorID uuid.UUID, templates []AvailabilityTemplate) error
}

type SlotRepository interface {
	// InsertIfAbsent writes s unless a slot with the same natural key exists.
	InsertIfAbsent(ctx context.Context, s *Slot) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetByIDForUpdate locks the slot row until the enclosing transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error
	ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error)
	ListAvailableFrom(ctx context.Context, doctorID uuid.UUID, from time.Time) ([]Slot, error)
	// DeleteAvailable removes the listed slots that are still AVAILABLE.
	DeleteAvailable(ctx context.Context, ids []uuid.UUID) (int64, error)
}

type AppointmentRepository interface {
	// Insert returns ErrDuplicateActiveAppointment when the store rejects a second active booking.
	Insert(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindActive(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time) (*Appointment, error)
	// Cancel marks the appointment CANCELLED and clears its slot reference.
	Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
}

type EventRepository interface {
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repositories bundles the store handles the services are built from.
type Repositories struct {
	Tx           Transactor
	Specialties  SpecialtyRepository
	Doctors      DoctorRepository
	Patients     PatientRepository
	Availability AvailabilityRepository
	Slots        SlotRepository
	Appointments AppointmentRepository
	Events       EventRepository
}

// SlotLocker guards the booking critical section per slot across processes.
type SlotLocker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

// SlotCache caches AvailableSlots results per doctor and date.
//
// Every Invalidate bumps the version of the dates it names. SetAvailable only
// stores slots when the version still equals the one read by Version before the
// slots were loaded, so a listing read before a booking committed is never
// written back after that booking invalidated it.
type SlotCache interface {
	GetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, bool, error)
	Version(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error)
	SetAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time, version int64, slots []Slot) (bool, error)
	Invalidate(ctx context.Context, doctorID uuid.UUID, dates ...time.Time) error
}

type noopLocker struct{}

func (noopLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// NoopLocker relies on the store's row locks alone.
var NoopLocker SlotLocker = noopLocker{}

type noopCache struct{}

func (noopCache) GetAvailable(context.Context, uuid.UUID, time.Time) ([]Slot, bool, error) {
	return nil, false, nil
}
func (noopCache) Version(context.Context, uuid.UUID, time.Time) (int64, error) { return 0, nil }
func (noopCache) SetAvailable(context.Context, uuid.UUID, time.Time, int64, []Slot) (bool, error) {
	return false, nil
}
func (noopCache) Invalidate(context.Context, uuid.UUID, ...time.Time) error { return nil }

var NoopCache SlotCache = noopCache{}
