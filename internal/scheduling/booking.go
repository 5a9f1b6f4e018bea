package scheduling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type CreateRequest struct {
	PatientID uuid.UUID
	SlotID    uuid.UUID
	// DoctorID is optional. When set it must match the slot's doctor.
	DoctorID  uuid.UUID
	VisitType VisitType
}

type RescheduleRequest struct {
	// PatientID and VisitType fall back to the original appointment's values when zero.
	PatientID uuid.UUID
	NewSlotID uuid.UUID
	VisitType VisitType
}

// BookingService owns the appointment lifecycle. Every transition runs in one
// store transaction with the target slot row locked.
type BookingService struct {
	repos  Repositories
	locker SlotLocker
	cache  SlotCache
	atomic bool
	logger zerolog.Logger
}

type BookingOption func(*BookingService)

// WithAtomicReschedule selects whether a reschedule rolls back the cancellation of
// the original appointment when booking the new slot fails. It defaults to true.
func WithAtomicReschedule(atomic bool) BookingOption {
	return func(s *BookingService) { s.atomic = atomic }
}

func NewBookingService(repos Repositories, locker SlotLocker, cache SlotCache, logger zerolog.Logger, opts ...BookingOption) *BookingService {
	if locker == nil {
		locker = NoopLocker
	}
	if cache == nil {
		cache = NoopCache
	}
	s := &BookingService{
		repos:  repos,
		locker: locker,
		cache:  cache,
		atomic: true,
		logger: logger.With().Str("component", "booking").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAppointment books req.SlotID for the patient.
func (s *BookingService) CreateAppointment(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if !req.VisitType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVisitType, req.VisitType)
	}

	if _, err := s.repos.Patients.GetByID(ctx, req.PatientID); err != nil {
		return nil, passOr("load patient", err)
	}

	slot, err := s.repos.Slots.GetByID(ctx, req.SlotID)
	if err != nil {
		return nil, passOr("load slot", err)
	}
	if req.DoctorID != uuid.Nil && slot.DoctorID != req.DoctorID {
		return nil, ErrSlotNotFound
	}
	if slot.Status != SlotAvailable {
		return nil, ErrSlotUnavailable
	}

	var created *Appointment
	err = s.locker.WithSlotLock(ctx, req.SlotID, func(ctx context.Context) error {
		return s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
			appt, err := s.book(ctx, req.PatientID, req.SlotID, req.DoctorID, req.VisitType)
			if err != nil {
				return err
			}
			created = appt
			return nil
		})
	})
	if err != nil {
		return nil, passOr("create appointment", err)
	}

	s.invalidate(ctx, created.DoctorID, created.Date)
	s.logger.Debug().
		Str("appointment_id", created.ID.String()).
		Str("slot_id", req.SlotID.String()).
		Msg("appointment created")
	return created, nil
}

// UpdateAppointment moves an appointment to another slot by cancelling it and
// booking a new one. The returned appointment is the new booking.
func (s *BookingService) UpdateAppointment(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if req.VisitType != "" && !req.VisitType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVisitType, req.VisitType)
	}

	existing, err := s.repos.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, passOr("load appointment", err)
	}
	if !existing.Active() {
		return nil, ErrAppointmentCancelled
	}

	patientID := req.PatientID
	if patientID == uuid.Nil {
		patientID = existing.PatientID
	}
	visitType := req.VisitType
	if visitType == "" {
		visitType = existing.VisitType
	}

	if s.atomic {
		return s.rescheduleAtomic(ctx, existing, patientID, req.NewSlotID, visitType)
	}
	return s.rescheduleTwoStep(ctx, existing, patientID, req.NewSlotID, visitType)
}

func (s *BookingService) rescheduleAtomic(ctx context.Context, existing *Appointment, patientID, newSlotID uuid.UUID, visitType VisitType) (*Appointment, error) {
	if _, err := s.repos.Patients.GetByID(ctx, patientID); err != nil {
		return nil, passOr("load patient", err)
	}
	if _, err := s.repos.Slots.GetByID(ctx, newSlotID); err != nil {
		return nil, passOr("load slot", err)
	}

	var (
		created   *Appointment
		cancelled *Appointment
	)
	err := s.locker.WithSlotLock(ctx, newSlotID, func(ctx context.Context) error {
		return s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
			current, err := s.repos.Appointments.GetByIDForUpdate(ctx, existing.ID)
			if err != nil {
				return err
			}
			if !current.Active() {
				return ErrAppointmentCancelled
			}
			if err := s.lockSlots(ctx, current.SlotID, &newSlotID); err != nil {
				return err
			}

			old, changed, err := s.cancel(ctx, existing.ID)
			if err != nil {
				return err
			}
			if !changed {
				return ErrAppointmentCancelled
			}
			cancelled = old

			appt, err := s.book(ctx, patientID, newSlotID, uuid.Nil, visitType)
			if err != nil {
				return err
			}
			created = appt
			return s.recordReschedule(ctx, existing, created)
		})
	})
	if err != nil {
		return nil, passOr("reschedule appointment", err)
	}

	s.invalidate(ctx, cancelled.DoctorID, cancelled.Date)
	s.invalidate(ctx, created.DoctorID, created.Date)
	s.logger.Debug().
		Str("from", existing.ID.String()).
		Str("to", created.ID.String()).
		Msg("appointment rescheduled")
	return created, nil
}

// rescheduleTwoStep commits the cancellation before the new booking is attempted.
// A failed booking leaves the original cancelled and is reported as
// ErrRescheduleLeftOldCancelled wrapping the cause.
func (s *BookingService) rescheduleTwoStep(ctx context.Context, existing *Appointment, patientID, newSlotID uuid.UUID, visitType VisitType) (*Appointment, error) {
	var cancelled *Appointment
	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		old, changed, err := s.cancel(ctx, existing.ID)
		if err != nil {
			return err
		}
		if !changed {
			return ErrAppointmentCancelled
		}
		cancelled = old
		return nil
	})
	if err != nil {
		return nil, passOr("cancel for reschedule", err)
	}
	s.invalidate(ctx, cancelled.DoctorID, cancelled.Date)

	created, err := s.bookLocked(ctx, patientID, newSlotID, visitType, existing)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", existing.ID.String()).
			Msg("reschedule failed after cancelling original appointment")
		return nil, fmt.Errorf("%w: %w", ErrRescheduleLeftOldCancelled, passOr("reschedule appointment", err))
	}

	s.invalidate(ctx, created.DoctorID, created.Date)
	return created, nil
}

func (s *BookingService) bookLocked(ctx context.Context, patientID, slotID uuid.UUID, visitType VisitType, from *Appointment) (*Appointment, error) {
	if _, err := s.repos.Patients.GetByID(ctx, patientID); err != nil {
		return nil, err
	}
	if _, err := s.repos.Slots.GetByID(ctx, slotID); err != nil {
		return nil, err
	}

	var created *Appointment
	err := s.locker.WithSlotLock(ctx, slotID, func(ctx context.Context) error {
		return s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
			appt, err := s.book(ctx, patientID, slotID, uuid.Nil, visitType)
			if err != nil {
				return err
			}
			created = appt
			return s.recordReschedule(ctx, from, created)
		})
	})
	return created, err
}

// CancelAppointment releases the appointment's slot and marks it CANCELLED.
// Cancelling an already cancelled appointment returns it unchanged.
func (s *BookingService) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var (
		result  *Appointment
		changed bool
	)
	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		result, changed, err = s.cancel(ctx, id)
		return err
	})
	if err != nil {
		return nil, passOr("cancel appointment", err)
	}

	if changed {
		s.invalidate(ctx, result.DoctorID, result.Date)
		s.logger.Debug().Str("appointment_id", id.String()).Msg("appointment cancelled")
	}
	return result, nil
}

// lockSlots takes the row locks of the given slots in ascending id order. Any
// transaction holding more than one slot lock must take them this way.
// Missing slots are skipped and reported by whoever uses them next.
func (s *BookingService) lockSlots(ctx context.Context, ids ...*uuid.UUID) error {
	seen := make(map[uuid.UUID]bool, len(ids))
	ordered := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == nil || *id == uuid.Nil || seen[*id] {
			continue
		}
		seen[*id] = true
		ordered = append(ordered, *id)
	}
	sort.Slice(ordered, func(i, j int) bool { return bytes.Compare(ordered[i][:], ordered[j][:]) < 0 })

	for _, id := range ordered {
		if _, err := s.repos.Slots.GetByIDForUpdate(ctx, id); err != nil && !errors.Is(err, ErrSlotNotFound) {
			return passOr("lock slot", err)
		}
	}
	return nil
}

// book runs the critical section. It must be called inside a transaction.
func (s *BookingService) book(ctx context.Context, patientID, slotID, doctorID uuid.UUID, visitType VisitType) (*Appointment, error) {
	slot, err := s.repos.Slots.GetByIDForUpdate(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if doctorID != uuid.Nil && slot.DoctorID != doctorID {
		return nil, ErrSlotNotFound
	}
	if slot.Status != SlotAvailable {
		return nil, ErrSlotUnavailable
	}

	_, err = s.repos.Appointments.FindActive(ctx, patientID, slot.DoctorID, slot.Date)
	switch {
	case err == nil:
		return nil, ErrDuplicateActiveAppointment
	case !errors.Is(err, ErrAppointmentNotFound):
		return nil, internal("check active appointment", err)
	}

	appt := &Appointment{
		PatientID: patientID,
		DoctorID:  slot.DoctorID,
		SlotID:    ptr(slot.ID),
		Date:      slot.Date,
		VisitType: visitType,
		Status:    StatusConfirmed,
	}
	if err := s.repos.Appointments.Insert(ctx, appt); err != nil {
		return nil, passOr("insert appointment", err)
	}
	if err := s.repos.Slots.UpdateStatus(ctx, slot.ID, SlotReserved); err != nil {
		return nil, passOr("reserve slot", err)
	}

	err = recordEvent(ctx, s.repos.Events, EventAppointmentCreated, &appt.ID, &appt.DoctorID, map[string]any{
		"slot_id":    slot.ID.String(),
		"patient_id": patientID.String(),
		"date":       slot.Date.Format(time.DateOnly),
		"start_time": slot.StartTime.String(),
		"visit_type": visitType,
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// cancel must be called inside a transaction. changed is false when the
// appointment was already cancelled.
func (s *BookingService) cancel(ctx context.Context, id uuid.UUID) (*Appointment, bool, error) {
	appt, err := s.repos.Appointments.GetByIDForUpdate(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !appt.Active() {
		return appt, false, nil
	}

	releasedSlot := ""
	if appt.SlotID != nil {
		if err := s.repos.Slots.UpdateStatus(ctx, *appt.SlotID, SlotAvailable); err != nil && !errors.Is(err, ErrSlotNotFound) {
			return nil, false, passOr("release slot", err)
		}
		releasedSlot = appt.SlotID.String()
	}

	cancelled, err := s.repos.Appointments.Cancel(ctx, id)
	if err != nil {
		return nil, false, passOr("mark cancelled", err)
	}

	err = recordEvent(ctx, s.repos.Events, EventAppointmentCancelled, &cancelled.ID, &cancelled.DoctorID, map[string]any{
		"released_slot_id": releasedSlot,
	})
	if err != nil {
		return nil, false, err
	}
	return cancelled, true, nil
}

func (s *BookingService) recordReschedule(ctx context.Context, from, to *Appointment) error {
	return recordEvent(ctx, s.repos.Events, EventAppointmentRescheduled, &to.ID, &to.DoctorID, map[string]any{
		"from_appointment_id": from.ID.String(),
		"to_slot_id":          to.SlotID.String(),
	})
}

func (s *BookingService) invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if err := s.cache.Invalidate(ctx, doctorID, date); err != nil {
		s.logger.Warn().Err(err).
			Str("doctor_id", doctorID.String()).
			Str("date", date.Format(time.DateOnly)).
			Msg("invalidate slot cache")
	}
}
