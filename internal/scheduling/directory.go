package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Directory manages specialties, doctors and patients. Doctor writes keep the
// slot ledger in step with the doctor's availability.
type Directory struct {
	repos  Repositories
	gen    *Generator
	cache  SlotCache
	logger zerolog.Logger
}

func NewDirectory(repos Repositories, gen *Generator, cache SlotCache, logger zerolog.Logger) *Directory {
	if cache == nil {
		cache = NoopCache
	}
	return &Directory{
		repos:  repos,
		gen:    gen,
		cache:  cache,
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// Specialties

func (d *Directory) CreateSpecialty(ctx context.Context, name string) (*Specialty, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: specialty name is required", ErrInvalidInput)
	}
	s := &Specialty{Name: name}
	if err := d.repos.Specialties.Insert(ctx, s); err != nil {
		return nil, passOr("create specialty", err)
	}
	return s, nil
}

func (d *Directory) GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	s, err := d.repos.Specialties.GetByID(ctx, id)
	if err != nil {
		return nil, passOr("get specialty", err)
	}
	return s, nil
}

func (d *Directory) ListSpecialties(ctx context.Context) ([]Specialty, error) {
	list, err := d.repos.Specialties.List(ctx)
	if err != nil {
		return nil, internal("list specialties", err)
	}
	return list, nil
}

func (d *Directory) UpdateSpecialty(ctx context.Context, id uuid.UUID, name string) (*Specialty, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: specialty name is required", ErrInvalidInput)
	}
	s, err := d.repos.Specialties.Rename(ctx, id, name)
	if err != nil {
		return nil, passOr("update specialty", err)
	}
	return s, nil
}

func (d *Directory) DeleteSpecialty(ctx context.Context, id uuid.UUID) error {
	if err := d.repos.Specialties.Delete(ctx, id); err != nil {
		return passOr("delete specialty", err)
	}
	return nil
}

// Doctors

type DoctorInput struct {
	FirstName        string
	LastName         string
	SpecialtyID      uuid.UUID
	EmploymentStatus EmploymentStatus
	Availability     []AvailabilityTemplate
}

// DoctorUpdate carries the fields to change. Nil fields are left as they are. A
// non-nil Availability, even an empty one, replaces every template.
type DoctorUpdate struct {
	FirstName        *string
	LastName         *string
	SpecialtyID      *uuid.UUID
	EmploymentStatus *EmploymentStatus
	Availability     []AvailabilityTemplate
}

func validateTemplates(templates []AvailabilityTemplate) error {
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validEmployment(s EmploymentStatus) bool {
	return s == EmploymentActive || s == EmploymentInactive
}

// CreateDoctor stores the doctor with its availability and generates its slots.
func (d *Directory) CreateDoctor(ctx context.Context, in DoctorInput) (*Doctor, error) {
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return nil, fmt.Errorf("%w: doctor name is required", ErrInvalidInput)
	}
	if in.EmploymentStatus == "" {
		in.EmploymentStatus = EmploymentActive
	}
	if !validEmployment(in.EmploymentStatus) {
		return nil, fmt.Errorf("%w: employment status %q", ErrInvalidInput, in.EmploymentStatus)
	}
	if err := validateTemplates(in.Availability); err != nil {
		return nil, err
	}

	doc := &Doctor{
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		SpecialtyID:      in.SpecialtyID,
		EmploymentStatus: in.EmploymentStatus,
	}
	templates := append([]AvailabilityTemplate(nil), in.Availability...)

	err := d.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := d.repos.Specialties.GetByID(ctx, in.SpecialtyID); err != nil {
			return err
		}
		if err := d.repos.Doctors.Insert(ctx, doc); err != nil {
			return err
		}
		return d.repos.Availability.ReplaceForDoctor(ctx, doc.ID, templates)
	})
	if err != nil {
		return nil, passOr("create doctor", err)
	}
	doc.Availability = templates

	if doc.EmploymentStatus == EmploymentActive {
		if _, err := d.generate(ctx, doc.ID, templates); err != nil {
			return nil, err
		}
	}

	d.logger.Info().
		Str("doctor_id", doc.ID.String()).
		Int("templates", len(templates)).
		Msg("doctor created")
	return doc, nil
}

// UpdateDoctor applies upd. When availability is replaced, future AVAILABLE slots
// that no new template produces are retracted in the same transaction and the
// new templates are generated afterwards.
func (d *Directory) UpdateDoctor(ctx context.Context, id uuid.UUID, upd DoctorUpdate) (*Doctor, error) {
	if upd.Availability != nil {
		if err := validateTemplates(upd.Availability); err != nil {
			return nil, err
		}
	}
	if upd.EmploymentStatus != nil && !validEmployment(*upd.EmploymentStatus) {
		return nil, fmt.Errorf("%w: employment status %q", ErrInvalidInput, *upd.EmploymentStatus)
	}

	var (
		doc       *Doctor
		templates []AvailabilityTemplate
		retracted []Slot
	)
	err := d.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = d.repos.Doctors.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if upd.FirstName != nil {
			doc.FirstName = *upd.FirstName
		}
		if upd.LastName != nil {
			doc.LastName = *upd.LastName
		}
		if upd.SpecialtyID != nil {
			if _, err := d.repos.Specialties.GetByID(ctx, *upd.SpecialtyID); err != nil {
				return err
			}
			doc.SpecialtyID = *upd.SpecialtyID
		}
		if upd.EmploymentStatus != nil {
			doc.EmploymentStatus = *upd.EmploymentStatus
		}
		if err := d.repos.Doctors.Update(ctx, doc); err != nil {
			return err
		}

		if upd.Availability == nil {
			templates, err = d.repos.Availability.ListByDoctor(ctx, id)
			return err
		}

		templates = append([]AvailabilityTemplate(nil), upd.Availability...)
		if err := d.repos.Availability.ReplaceForDoctor(ctx, id, templates); err != nil {
			return err
		}
		retracted, err = d.retractUncovered(ctx, id, templates)
		return err
	})
	if err != nil {
		return nil, passOr("update doctor", err)
	}
	doc.Availability = templates

	if len(retracted) > 0 {
		d.invalidateSlots(ctx, id, retracted)
	}

	if upd.Availability != nil && doc.EmploymentStatus == EmploymentActive {
		if _, err := d.generate(ctx, id, templates); err != nil {
			return nil, err
		}
	}

	d.logger.Info().
		Str("doctor_id", id.String()).
		Int("retracted", len(retracted)).
		Msg("doctor updated")
	return doc, nil
}

// retractUncovered deletes the doctor's AVAILABLE slots from today on that none
// of templates would generate. Reserved slots are never touched.
func (d *Directory) retractUncovered(ctx context.Context, doctorID uuid.UUID, templates []AvailabilityTemplate) ([]Slot, error) {
	slots, err := d.repos.Slots.ListAvailableFrom(ctx, doctorID, d.gen.Today())
	if err != nil {
		return nil, err
	}

	var (
		orphaned []Slot
		ids      []uuid.UUID
	)
	for _, s := range slots {
		covered := false
		for _, t := range templates {
			if t.Covers(s, SlotDuration) {
				covered = true
				break
			}
		}
		if !covered {
			orphaned = append(orphaned, s)
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	n, err := d.repos.Slots.DeleteAvailable(ctx, ids)
	if err != nil {
		return nil, err
	}
	err = recordEvent(ctx, d.repos.Events, EventSlotsRetracted, nil, &doctorID, map[string]any{
		"count": n,
	})
	if err != nil {
		return nil, err
	}
	return orphaned, nil
}

// generate materializes templates for the doctor and drops cached listings for
// every date that gained slots.
func (d *Directory) generate(ctx context.Context, doctorID uuid.UUID, templates []AvailabilityTemplate) (int, error) {
	created, err := d.gen.GenerateForDoctor(ctx, doctorID, templates)
	if len(created) > 0 {
		d.invalidateSlots(ctx, doctorID, created)
	}
	return len(created), err
}

func (d *Directory) invalidateSlots(ctx context.Context, doctorID uuid.UUID, slots []Slot) {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, s := range slots {
		if !seen[s.Date] {
			seen[s.Date] = true
			dates = append(dates, s.Date)
		}
	}
	if err := d.cache.Invalidate(ctx, doctorID, dates...); err != nil {
		d.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("invalidate slot cache")
	}
}

// DeactivateDoctor marks the doctor INACTIVE. Slots and appointments stay.
func (d *Directory) DeactivateDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	inactive := EmploymentInactive
	return d.UpdateDoctor(ctx, id, DoctorUpdate{EmploymentStatus: &inactive})
}

func (d *Directory) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	doc, err := d.repos.Doctors.GetByID(ctx, id)
	if err != nil {
		return nil, passOr("get doctor", err)
	}
	doc.Availability, err = d.repos.Availability.ListByDoctor(ctx, id)
	if err != nil {
		return nil, internal("list availability", err)
	}
	return doc, nil
}

func (d *Directory) ListDoctors(ctx context.Context) ([]Doctor, error) {
	docs, err := d.repos.Doctors.List(ctx)
	if err != nil {
		return nil, internal("list doctors", err)
	}
	return docs, nil
}

// ListDoctorsBySpecialty returns the specialty's ACTIVE doctors.
func (d *Directory) ListDoctorsBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]Doctor, error) {
	if _, err := d.repos.Specialties.GetByID(ctx, specialtyID); err != nil {
		return nil, passOr("get specialty", err)
	}
	docs, err := d.repos.Doctors.ListActiveBySpecialty(ctx, specialtyID)
	if err != nil {
		return nil, internal("list doctors by specialty", err)
	}
	return docs, nil
}

// RegenerateActive re-runs generation for every ACTIVE doctor so the horizon
// keeps moving forward. A failing doctor does not stop the others.
func (d *Directory) RegenerateActive(ctx context.Context) (int, error) {
	docs, err := d.repos.Doctors.ListActive(ctx)
	if err != nil {
		return 0, internal("list active doctors", err)
	}

	var (
		total int
		errs  []error
	)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		templates, err := d.repos.Availability.ListByDoctor(ctx, doc.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("doctor %s: %w", doc.ID, internal("list availability", err)))
			continue
		}
		n, err := d.generate(ctx, doc.ID, templates)
		total += n
		if err != nil {
			d.logger.Error().Err(err).Str("doctor_id", doc.ID.String()).Msg("regenerate slots")
			errs = append(errs, fmt.Errorf("doctor %s: %w", doc.ID, err))
		}
	}
	return total, errors.Join(errs...)
}

// Patients

type PatientInput struct {
	IdentityID *string
	FirstName  string
	LastName   string
	DOB        time.Time
}

// CreatePatient registers a patient profile. When the identity id is already
// registered the existing profile is returned.
func (d *Directory) CreatePatient(ctx context.Context, in PatientInput) (*Patient, error) {
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return nil, fmt.Errorf("%w: patient name is required", ErrInvalidInput)
	}
	if in.DOB.IsZero() {
		return nil, fmt.Errorf("%w: date of birth is required", ErrInvalidInput)
	}

	if in.IdentityID != nil {
		existing, err := d.repos.Patients.GetByIdentityID(ctx, *in.IdentityID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrPatientNotFound) {
			return nil, internal("load patient", err)
		}
	}

	p := &Patient{
		IdentityID: in.IdentityID,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		DOB:        DateOf(in.DOB),
	}
	err := d.repos.Patients.Insert(ctx, p)
	if errors.Is(err, ErrDuplicatePatientIdentity) && in.IdentityID != nil {
		// Registered concurrently since the lookup above.
		existing, err := d.repos.Patients.GetByIdentityID(ctx, *in.IdentityID)
		if err != nil {
			return nil, passOr("load patient", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, internal("create patient", err)
	}
	return p, nil
}

func (d *Directory) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := d.repos.Patients.GetByID(ctx, id)
	if err != nil {
		return nil, passOr("get patient", err)
	}
	return p, nil
}

func (d *Directory) GetPatientByIdentity(ctx context.Context, identityID string) (*Patient, error) {
	p, err := d.repos.Patients.GetByIdentityID(ctx, identityID)
	if err != nil {
		return nil, passOr("get patient", err)
	}
	return p, nil
}
