package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/doctor-slot-scheduling/internal/db"
)

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	activePerDayIndex      = "appointments_active_per_day_uniq"
	slotConfirmedIndex     = "appointments_slot_confirmed_uniq"
	specialtyNameKey       = "specialties_name_key"
	patientIdentityKey     = "patients_identity_id_key"
)

// NewPgRepositories wires every repository to pool. Calls made with a ctx from
// the returned Transactor run inside that transaction.
func NewPgRepositories(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Tx:           pgTransactor{db.NewTransactor(pool)},
		Specialties:  &pgSpecialtyRepo{pool: pool},
		Doctors:      &pgDoctorRepo{pool: pool},
		Patients:     &pgPatientRepo{pool: pool},
		Availability: &pgAvailabilityRepo{pool: pool},
		Slots:        &pgSlotRepo{pool: pool},
		Appointments: &pgAppointmentRepo{pool: pool},
		Events:       &pgEventRepo{pool: pool},
	}
}

// pgTransactor reports transactions Postgres aborted to break a deadlock or a
// serialization conflict as ErrConcurrentUpdate.
type pgTransactor struct{ tx *db.Transactor }

func (t pgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return concurrentUpdate(t.tx.WithinTx(ctx, fn))
}

// Helpers

func concurrentUpdate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgDeadlockDetected || pgErr.Code == pgSerializationFailure) {
		return fmt.Errorf("%w: sqlstate %s", ErrConcurrentUpdate, pgErr.Code)
	}
	return err
}

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

// constraintError maps a unique violation on one of the schema's business
// constraints to its domain error. Other errors are returned unchanged.
func constraintError(err error) error {
	switch {
	case uniqueViolation(err, activePerDayIndex):
		return ErrDuplicateActiveAppointment
	case uniqueViolation(err, slotConfirmedIndex):
		return ErrSlotUnavailable
	case uniqueViolation(err, specialtyNameKey):
		return ErrDuplicateSpecialty
	case uniqueViolation(err, patientIdentityKey):
		return ErrDuplicatePatientIdentity
	}
	return err
}

func foreignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func notFound(err error, kind error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return kind
	}
	return err
}

// Specialties

type pgSpecialtyRepo struct{ pool *pgxpool.Pool }

const specialtyCols = `id, name, created_at, updated_at`

func scanSpecialty(row pgx.Row) (*Specialty, error) {
	var s Specialty
	if err := row.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, notFound(err, ErrSpecialtyNotFound)
	}
	return &s, nil
}

func (r *pgSpecialtyRepo) Insert(ctx context.Context, s *Specialty) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO specialties (id, name, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		RETURNING created_at, updated_at
	`, s.ID, s.Name).Scan(&s.CreatedAt, &s.UpdatedAt)
	return constraintError(err)
}

func (r *pgSpecialtyRepo) GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	return scanSpecialty(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+specialtyCols+` FROM specialties WHERE id = $1`, id))
}

func (r *pgSpecialtyRepo) GetByName(ctx context.Context, name string) (*Specialty, error) {
	return scanSpecialty(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+specialtyCols+` FROM specialties WHERE name = $1`, name))
}

func (r *pgSpecialtyRepo) List(ctx context.Context) ([]Specialty, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+specialtyCols+` FROM specialties ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Specialty
	for rows.Next() {
		s, err := scanSpecialty(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *pgSpecialtyRepo) Rename(ctx context.Context, id uuid.UUID, name string) (*Specialty, error) {
	s, err := scanSpecialty(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE specialties SET name = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+specialtyCols, id, name))
	if err != nil {
		return nil, constraintError(err)
	}
	return s, nil
}

func (r *pgSpecialtyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM specialties WHERE id = $1`, id)
	if foreignKeyViolation(err) {
		return ErrSpecialtyInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSpecialtyNotFound
	}
	return nil
}

// Doctors

type pgDoctorRepo struct{ pool *pgxpool.Pool }

const doctorCols = `id, first_name, last_name, specialty_id, employment_status, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.SpecialtyID, &d.EmploymentStatus, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrDoctorNotFound)
	}
	return &d, nil
}

func (r *pgDoctorRepo) collect(ctx context.Context, sql string, args ...any) ([]Doctor, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *pgDoctorRepo) Insert(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, first_name, last_name, specialty_id, employment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at
	`, d.ID, d.FirstName, d.LastName, d.SpecialtyID, d.EmploymentStatus).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *pgDoctorRepo) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
}

func (r *pgDoctorRepo) Update(ctx context.Context, d *Doctor) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE doctors
		SET first_name = $2, last_name = $3, specialty_id = $4, employment_status = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, d.ID, d.FirstName, d.LastName, d.SpecialtyID, d.EmploymentStatus).Scan(&d.UpdatedAt)
	return notFound(err, ErrDoctorNotFound)
}

func (r *pgDoctorRepo) List(ctx context.Context) ([]Doctor, error) {
	return r.collect(ctx, `SELECT `+doctorCols+` FROM doctors ORDER BY last_name, first_name`)
}

func (r *pgDoctorRepo) ListActive(ctx context.Context) ([]Doctor, error) {
	return r.collect(ctx, `SELECT `+doctorCols+` FROM doctors WHERE employment_status = 'ACTIVE' ORDER BY last_name, first_name`)
}

func (r *pgDoctorRepo) ListActiveBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]Doctor, error) {
	return r.collect(ctx, `
		SELECT `+doctorCols+` FROM doctors
		WHERE specialty_id = $1 AND employment_status = 'ACTIVE'
		ORDER BY last_name, first_name`, specialtyID)
}

// Patients

type pgPatientRepo struct{ pool *pgxpool.Pool }

const patientCols = `id, identity_id, first_name, last_name, dob, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.IdentityID, &p.FirstName, &p.LastName, &p.DOB, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrPatientNotFound)
	}
	return &p, nil
}

func (r *pgPatientRepo) Insert(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, identity_id, first_name, last_name, dob, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.IdentityID, p.FirstName, p.LastName, p.DOB).Scan(&p.CreatedAt, &p.UpdatedAt)
	return constraintError(err)
}

func (r *pgPatientRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *pgPatientRepo) GetByIdentityID(ctx context.Context, identityID string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE identity_id = $1`, identityID))
}

// Availability templates

type pgAvailabilityRepo struct{ pool *pgxpool.Pool }

func (r *pgAvailabilityRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityTemplate, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, created_at
		FROM availability_templates
		WHERE doctor_id = $1
		ORDER BY created_at, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityTemplate
	for rows.Next() {
		var a AvailabilityTemplate
		var start, end pgtype.Time
		if err := rows.Scan(&a.ID, &a.DoctorID, &a.DayOfWeek, &start, &end, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.StartTime = fromPgTime(start)
		a.EndTime = fromPgTime(end)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *pgAvailabilityRepo) ReplaceForDoctor(ctx context.Context, doctorID uuid.UUID, templates []AvailabilityTemplate) error {
	conn := db.Conn(ctx, r.pool)

	if _, err := conn.Exec(ctx, `DELETE FROM availability_templates WHERE doctor_id = $1`, doctorID); err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}

	for i := range templates {
		t := &templates[i]
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.DoctorID = doctorID
		err := conn.QueryRow(ctx, `
			INSERT INTO availability_templates (id, doctor_id, day_of_week, start_time, end_time, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING created_at
		`, t.ID, doctorID, t.DayOfWeek, toPgTime(t.StartTime), toPgTime(t.EndTime)).Scan(&t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}
	}
	return nil
}

// Slots

type pgSlotRepo struct{ pool *pgxpool.Pool }

const slotCols = `id, doctor_id, date, start_time, end_time, status, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var start, end pgtype.Time
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &start, &end, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrSlotNotFound)
	}
	s.StartTime = fromPgTime(start)
	s.EndTime = fromPgTime(end)
	return &s, nil
}

func (r *pgSlotRepo) collect(ctx context.Context, sql string, args ...any) ([]Slot, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *pgSlotRepo) InsertIfAbsent(ctx context.Context, s *Slot) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, date, start_time, end_time) DO NOTHING
		RETURNING created_at, updated_at
	`, s.ID, s.DoctorID, s.Date, toPgTime(s.StartTime), toPgTime(s.EndTime), s.Status).Scan(&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *pgSlotRepo) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1`, id))
}

func (r *pgSlotRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgSlotRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE slots SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *pgSlotRepo) ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	return r.collect(ctx, `
		SELECT `+slotCols+` FROM slots
		WHERE doctor_id = $1 AND date = $2 AND status = 'AVAILABLE'
		ORDER BY start_time`, doctorID, date)
}

func (r *pgSlotRepo) ListAvailableFrom(ctx context.Context, doctorID uuid.UUID, from time.Time) ([]Slot, error) {
	return r.collect(ctx, `
		SELECT `+slotCols+` FROM slots
		WHERE doctor_id = $1 AND date >= $2 AND status = 'AVAILABLE'
		ORDER BY date, start_time`, doctorID, from)
}

func (r *pgSlotRepo) DeleteAvailable(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM slots WHERE id = ANY($1) AND status = 'AVAILABLE'
	`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Appointments

type pgAppointmentRepo struct{ pool *pgxpool.Pool }

const appointmentCols = `id, patient_id, doctor_id, slot_id, date, visit_type, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotID, &a.Date, &a.VisitType, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrAppointmentNotFound)
	}
	return &a, nil
}

func (r *pgAppointmentRepo) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, date, visit_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Date, a.VisitType, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
	return constraintError(err)
}

func (r *pgAppointmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id))
}

func (r *pgAppointmentRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgAppointmentRepo) FindActive(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE patient_id = $1 AND doctor_id = $2 AND date = $3 AND status <> 'CANCELLED'
		LIMIT 1`, patientID, doctorID, date))
}

func (r *pgAppointmentRepo) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = 'CANCELLED', slot_id = NULL, updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentCols, id))
}

func (r *pgAppointmentRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+appointmentCols+` FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// Events

type pgEventRepo struct{ pool *pgxpool.Pool }

func (r *pgEventRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, doctor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.DoctorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
