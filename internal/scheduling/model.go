package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotReserved  SlotStatus = "RESERVED"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type VisitType string

const (
	VisitInPerson   VisitType = "IN_PERSON"
	VisitTelehealth VisitType = "TELEHEALTH"
)

func (v VisitType) Valid() bool {
	return v == VisitInPerson || v == VisitTelehealth
}

type EmploymentStatus string

const (
	EmploymentActive   EmploymentStatus = "ACTIVE"
	EmploymentInactive EmploymentStatus = "INACTIVE"
)

type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var weekdays = map[DayOfWeek]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

// Weekday reports the time.Weekday for d and whether d is a known day name.
func (d DayOfWeek) Weekday() (time.Weekday, bool) {
	wd, ok := weekdays[DayOfWeek(strings.ToUpper(string(d)))]
	return wd, ok
}

func DayOfWeekOf(date time.Time) DayOfWeek {
	return DayOfWeek(strings.ToUpper(date.Weekday().String()))
}

// TimeOfDay is a wall clock time in minutes after midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts "15:04" and "15:04:05"; seconds must be zero.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	if t.Second() != 0 {
		return 0, fmt.Errorf("parse time of day %q: seconds are not supported", s)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DateOf strips the clock from t, keeping its calendar date as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type Specialty struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID               uuid.UUID
	FirstName        string
	LastName         string
	SpecialtyID      uuid.UUID
	EmploymentStatus EmploymentStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Availability []AvailabilityTemplate
}

func (d Doctor) FullName() string {
	return d.FirstName + " " + d.LastName
}

type Patient struct {
	ID         uuid.UUID
	IdentityID *string
	FirstName  string
	LastName   string
	DOB        time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (p Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

type AvailabilityTemplate struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	DayOfWeek DayOfWeek
	StartTime TimeOfDay
	EndTime   TimeOfDay
	CreatedAt time.Time
}

func (a AvailabilityTemplate) Validate() error {
	if _, ok := a.DayOfWeek.Weekday(); !ok {
		return fmt.Errorf("%w: unknown day of week %q", ErrInvalidAvailability, a.DayOfWeek)
	}
	if a.StartTime < 0 || a.EndTime > NewTimeOfDay(24, 0) {
		return fmt.Errorf("%w: time out of range", ErrInvalidAvailability)
	}
	if a.StartTime >= a.EndTime {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidAvailability, a.StartTime, a.EndTime)
	}
	return nil
}

// Covers reports whether s is one of the slots a would tile on s's date.
func (a AvailabilityTemplate) Covers(s Slot, duration time.Duration) bool {
	wd, ok := a.DayOfWeek.Weekday()
	if !ok || s.Date.Weekday() != wd {
		return false
	}
	if s.StartTime < a.StartTime || s.EndTime > a.EndTime {
		return false
	}
	step := TimeOfDay(duration / time.Minute)
	return s.EndTime-s.StartTime == step && (s.StartTime-a.StartTime)%step == 0
}

type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime TimeOfDay
	EndTime   TimeOfDay
	Status    SlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotKey is the natural key generation deduplicates on.
type SlotKey struct {
	DoctorID  uuid.UUID
	Date      string
	StartTime TimeOfDay
	EndTime   TimeOfDay
}

func (s Slot) Key() SlotKey {
	return SlotKey{
		DoctorID:  s.DoctorID,
		Date:      s.Date.Format(time.DateOnly),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
}

type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	SlotID    *uuid.UUID
	Date      time.Time
	VisitType VisitType
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	DoctorID      *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment joined with the records callers display.
type AppointmentDetail struct {
	Appointment
	Patient *Patient
	Doctor  *Doctor
	Slot    *Slot
}
