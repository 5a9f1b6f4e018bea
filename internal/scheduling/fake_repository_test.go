package scheduling

import (
	"context"
	"io"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(io.Discard)

type memTxKey struct{}

// memStore is an in-memory store with the constraints of the SQL schema. A
// transaction holds the store mutex until it ends and restores a snapshot when
// fn fails.
type memStore struct {
	mu sync.Mutex

	specialties  map[uuid.UUID]Specialty
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	templates    map[uuid.UUID][]AvailabilityTemplate
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	events       []EventLog

	// slotOps records "lock <id>" and "write <id>" in call order.
	slotOps []string

	failSlotInsert func(Slot) error
	failEvent      func(EventLog) error
}

func newMemStore() *memStore {
	return &memStore{
		specialties:  make(map[uuid.UUID]Specialty),
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		templates:    make(map[uuid.UUID][]AvailabilityTemplate),
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *memStore) repos() Repositories {
	return Repositories{
		Tx:           m,
		Specialties:  memSpecialties{m},
		Doctors:      memDoctors{m},
		Patients:     memPatients{m},
		Availability: memAvailability{m},
		Slots:        memSlots{m},
		Appointments: memAppointments{m},
		Events:       memEvents{m},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// lock takes the mutex for a call made outside a transaction.
func (m *memStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

type memSnapshot struct {
	specialties  map[uuid.UUID]Specialty
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	templates    map[uuid.UUID][]AvailabilityTemplate
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func (m *memStore) snapshot() memSnapshot {
	return memSnapshot{
		specialties:  maps.Clone(m.specialties),
		doctors:      maps.Clone(m.doctors),
		patients:     maps.Clone(m.patients),
		templates:    maps.Clone(m.templates),
		slots:        maps.Clone(m.slots),
		appointments: maps.Clone(m.appointments),
		events:       append([]EventLog(nil), m.events...),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.specialties = s.specialties
	m.doctors = s.doctors
	m.patients = s.patients
	m.templates = s.templates
	m.slots = s.slots
	m.appointments = s.appointments
	m.events = s.events
}

// Test helpers. They bypass the services.

func (m *memStore) slot(id uuid.UUID) Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[id]
}

func (m *memStore) appointment(id uuid.UUID) Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appointments[id]
}

func (m *memStore) confirmedFor(patientID, doctorID uuid.UUID, date time.Time) []Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID && a.DoctorID == doctorID && a.Date.Equal(date) && a.Status == StatusConfirmed {
			out = append(out, a)
		}
	}
	return out
}

func (m *memStore) confirmedOnSlot(slotID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appointments {
		if a.Status == StatusConfirmed && a.SlotID != nil && *a.SlotID == slotID {
			n++
		}
	}
	return n
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

func (m *memStore) takeSlotOps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.slotOps
	m.slotOps = nil
	return ops
}

func (m *memStore) slotCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

type memSpecialties struct{ m *memStore }

func (r memSpecialties) Insert(ctx context.Context, s *Specialty) error {
	defer r.m.lock(ctx)()
	for _, existing := range r.m.specialties {
		if existing.Name == s.Name {
			return ErrDuplicateSpecialty
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt, s.UpdatedAt = time.Now(), time.Now()
	r.m.specialties[s.ID] = *s
	return nil
}

func (r memSpecialties) GetByID(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	defer r.m.lock(ctx)()
	s, ok := r.m.specialties[id]
	if !ok {
		return nil, ErrSpecialtyNotFound
	}
	return &s, nil
}

func (r memSpecialties) GetByName(ctx context.Context, name string) (*Specialty, error) {
	defer r.m.lock(ctx)()
	for _, s := range r.m.specialties {
		if s.Name == name {
			return &s, nil
		}
	}
	return nil, ErrSpecialtyNotFound
}

func (r memSpecialties) List(ctx context.Context) ([]Specialty, error) {
	defer r.m.lock(ctx)()
	out := make([]Specialty, 0, len(r.m.specialties))
	for _, s := range r.m.specialties {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memSpecialties) Rename(ctx context.Context, id uuid.UUID, name string) (*Specialty, error) {
	defer r.m.lock(ctx)()
	s, ok := r.m.specialties[id]
	if !ok {
		return nil, ErrSpecialtyNotFound
	}
	for otherID, other := range r.m.specialties {
		if otherID != id && other.Name == name {
			return nil, ErrDuplicateSpecialty
		}
	}
	s.Name = name
	r.m.specialties[id] = s
	return &s, nil
}

func (r memSpecialties) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.m.lock(ctx)()
	if _, ok := r.m.specialties[id]; !ok {
		return ErrSpecialtyNotFound
	}
	for _, d := range r.m.doctors {
		if d.SpecialtyID == id {
			return ErrSpecialtyInUse
		}
	}
	delete(r.m.specialties, id)
	return nil
}

type memDoctors struct{ m *memStore }

func (r memDoctors) Insert(ctx context.Context, d *Doctor) error {
	defer r.m.lock(ctx)()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	stored := *d
	stored.Availability = nil
	r.m.doctors[d.ID] = stored
	return nil
}

func (r memDoctors) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	defer r.m.lock(ctx)()
	d, ok := r.m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r memDoctors) Update(ctx context.Context, d *Doctor) error {
	defer r.m.lock(ctx)()
	if _, ok := r.m.doctors[d.ID]; !ok {
		return ErrDoctorNotFound
	}
	stored := *d
	stored.Availability = nil
	r.m.doctors[d.ID] = stored
	return nil
}

func (r memDoctors) filter(ctx context.Context, keep func(Doctor) bool) []Doctor {
	defer r.m.lock(ctx)()
	var out []Doctor
	for _, d := range r.m.doctors {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	return out
}

func (r memDoctors) List(ctx context.Context) ([]Doctor, error) {
	return r.filter(ctx, func(Doctor) bool { return true }), nil
}

func (r memDoctors) ListActive(ctx context.Context) ([]Doctor, error) {
	return r.filter(ctx, func(d Doctor) bool { return d.EmploymentStatus == EmploymentActive }), nil
}

func (r memDoctors) ListActiveBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]Doctor, error) {
	return r.filter(ctx, func(d Doctor) bool {
		return d.EmploymentStatus == EmploymentActive && d.SpecialtyID == specialtyID
	}), nil
}

type memPatients struct{ m *memStore }

func (r memPatients) Insert(ctx context.Context, p *Patient) error {
	defer r.m.lock(ctx)()
	if p.IdentityID != nil {
		for _, existing := range r.m.patients {
			if existing.IdentityID != nil && *existing.IdentityID == *p.IdentityID {
				return ErrDuplicatePatientIdentity
			}
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.m.patients[p.ID] = *p
	return nil
}

func (r memPatients) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	defer r.m.lock(ctx)()
	p, ok := r.m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r memPatients) GetByIdentityID(ctx context.Context, identityID string) (*Patient, error) {
	defer r.m.lock(ctx)()
	for _, p := range r.m.patients {
		if p.IdentityID != nil && *p.IdentityID == identityID {
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

type memAvailability struct{ m *memStore }

func (r memAvailability) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityTemplate, error) {
	defer r.m.lock(ctx)()
	return append([]AvailabilityTemplate(nil), r.m.templates[doctorID]...), nil
}

func (r memAvailability) ReplaceForDoctor(ctx context.Context, doctorID uuid.UUID, templates []AvailabilityTemplate) error {
	defer r.m.lock(ctx)()
	for i := range templates {
		if templates[i].ID == uuid.Nil {
			templates[i].ID = uuid.New()
		}
		templates[i].DoctorID = doctorID
	}
	r.m.templates[doctorID] = append([]AvailabilityTemplate(nil), templates...)
	return nil
}

type memSlots struct{ m *memStore }

func (r memSlots) InsertIfAbsent(ctx context.Context, s *Slot) (bool, error) {
	defer r.m.lock(ctx)()
	if r.m.failSlotInsert != nil {
		if err := r.m.failSlotInsert(*s); err != nil {
			return false, err
		}
	}
	key := s.Key()
	for _, existing := range r.m.slots {
		if existing.Key() == key {
			return false, nil
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.m.slots[s.ID] = *s
	return true, nil
}

func (r memSlots) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	defer r.m.lock(ctx)()
	s, ok := r.m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r memSlots) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := r.GetByID(ctx, id)
	defer r.m.lock(ctx)()
	r.m.slotOps = append(r.m.slotOps, "lock "+id.String())
	return s, err
}

func (r memSlots) UpdateStatus(ctx context.Context, id uuid.UUID, status SlotStatus) error {
	defer r.m.lock(ctx)()
	r.m.slotOps = append(r.m.slotOps, "write "+id.String())
	s, ok := r.m.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.Status = status
	r.m.slots[id] = s
	return nil
}

func (r memSlots) list(ctx context.Context, keep func(Slot) bool) []Slot {
	defer r.m.lock(ctx)()
	var out []Slot
	for _, s := range r.m.slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (r memSlots) ListAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	return r.list(ctx, func(s Slot) bool {
		return s.DoctorID == doctorID && s.Date.Equal(date) && s.Status == SlotAvailable
	}), nil
}

func (r memSlots) ListAvailableFrom(ctx context.Context, doctorID uuid.UUID, from time.Time) ([]Slot, error) {
	return r.list(ctx, func(s Slot) bool {
		return s.DoctorID == doctorID && !s.Date.Before(from) && s.Status == SlotAvailable
	}), nil
}

func (r memSlots) DeleteAvailable(ctx context.Context, ids []uuid.UUID) (int64, error) {
	defer r.m.lock(ctx)()
	var n int64
	for _, id := range ids {
		if s, ok := r.m.slots[id]; ok && s.Status == SlotAvailable {
			delete(r.m.slots, id)
			n++
		}
	}
	return n, nil
}

type memAppointments struct{ m *memStore }

func (r memAppointments) Insert(ctx context.Context, a *Appointment) error {
	defer r.m.lock(ctx)()
	for _, existing := range r.m.appointments {
		if existing.Active() && existing.PatientID == a.PatientID && existing.DoctorID == a.DoctorID && existing.Date.Equal(a.Date) {
			return ErrDuplicateActiveAppointment
		}
		if existing.Status == StatusConfirmed && a.SlotID != nil && existing.SlotID != nil && *existing.SlotID == *a.SlotID {
			return ErrSlotUnavailable
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.m.appointments[a.ID] = *a
	return nil
}

func (r memAppointments) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.m.lock(ctx)()
	a, ok := r.m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r memAppointments) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r memAppointments) FindActive(ctx context.Context, patientID, doctorID uuid.UUID, date time.Time) (*Appointment, error) {
	defer r.m.lock(ctx)()
	for _, a := range r.m.appointments {
		if a.Active() && a.PatientID == patientID && a.DoctorID == doctorID && a.Date.Equal(date) {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r memAppointments) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.m.lock(ctx)()
	a, ok := r.m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	a.SlotID = nil
	r.m.appointments[id] = a
	return &a, nil
}

func (r memAppointments) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	defer r.m.lock(ctx)()
	var out []Appointment
	for _, a := range r.m.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

type memEvents struct{ m *memStore }

func (r memEvents) InsertEvent(ctx context.Context, ev EventLog) error {
	defer r.m.lock(ctx)()
	if r.m.failEvent != nil {
		if err := r.m.failEvent(ev); err != nil {
			return err
		}
	}
	ev.ID = int64(len(r.m.events) + 1)
	r.m.events = append(r.m.events, ev)
	return nil
}

// recordingCache is a SlotCache that remembers invalidations. It keeps the
// version rule of the Redis cache.
type recordingCache struct {
	mu          sync.Mutex
	entries     map[string][]Slot
	versions    map[string]int64
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string][]Slot), versions: make(map[string]int64)}
}

func cacheTestKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + "/" + date.Format(time.DateOnly)
}

func (c *recordingCache) GetAvailable(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[cacheTestKey(doctorID, date)]
	return s, ok, nil
}

func (c *recordingCache) Version(_ context.Context, doctorID uuid.UUID, date time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[cacheTestKey(doctorID, date)], nil
}

func (c *recordingCache) SetAvailable(_ context.Context, doctorID uuid.UUID, date time.Time, version int64, slots []Slot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheTestKey(doctorID, date)
	if c.versions[k] != version {
		return false, nil
	}
	c.entries[k] = slots
	return true, nil
}

func (c *recordingCache) Invalidate(_ context.Context, doctorID uuid.UUID, dates ...time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range dates {
		k := cacheTestKey(doctorID, d)
		c.versions[k]++
		delete(c.entries, k)
		c.invalidated = append(c.invalidated, k)
	}
	return nil
}

// busyLocker refuses every lock.
type busyLocker struct{}

func (busyLocker) WithSlotLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return ErrSlotBeingBooked
}

// fixture seeds one specialty, doctor and patient and one date of slots.
type fixture struct {
	store   *memStore
	repos   Repositories
	doctor  Doctor
	patient Patient
	date    time.Time
	slots   map[TimeOfDay]uuid.UUID
}

// fixtureNow is a Wednesday.
var fixtureNow = time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	store := newMemStore()
	f := &fixture{
		store: store,
		repos: store.repos(),
		date:  time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC),
		slots: make(map[TimeOfDay]uuid.UUID),
	}

	spec := Specialty{ID: uuid.New(), Name: "Cardiology"}
	store.specialties[spec.ID] = spec

	f.doctor = Doctor{ID: uuid.New(), FirstName: "Ada", LastName: "Okafor", SpecialtyID: spec.ID, EmploymentStatus: EmploymentActive}
	store.doctors[f.doctor.ID] = f.doctor

	f.patient = Patient{ID: uuid.New(), FirstName: "Lin", LastName: "Park", DOB: time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)}
	store.patients[f.patient.ID] = f.patient

	for _, w := range TileSlots(NewTimeOfDay(9, 0), NewTimeOfDay(12, 0), SlotDuration) {
		s := Slot{ID: uuid.New(), DoctorID: f.doctor.ID, Date: f.date, StartTime: w.Start, EndTime: w.End, Status: SlotAvailable}
		store.slots[s.ID] = s
		f.slots[w.Start] = s.ID
	}
	return f
}

func (f *fixture) slotAt(hour, minute int) uuid.UUID {
	return f.slots[NewTimeOfDay(hour, minute)]
}

func (f *fixture) addPatient() Patient {
	p := Patient{ID: uuid.New(), FirstName: "Sam", LastName: "Reyes", DOB: time.Date(1985, 6, 1, 0, 0, 0, 0, time.UTC)}
	f.store.mu.Lock()
	f.store.patients[p.ID] = p
	f.store.mu.Unlock()
	return p
}
