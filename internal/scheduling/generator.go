package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SlotDuration is the fixed length of every generated slot.
const SlotDuration = 30 * time.Minute

type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// TileSlots cuts [start, end) into consecutive windows of length d. A trailing
// window that would run past end is dropped.
func TileSlots(start, end TimeOfDay, d time.Duration) []Window {
	step := TimeOfDay(d / time.Minute)
	if step <= 0 {
		return nil
	}

	var windows []Window
	for t := start; t+step <= end; t += step {
		windows = append(windows, Window{Start: t, End: t + step})
	}
	return windows
}

// HorizonDates lists every date in [from, from+months] that falls on day.
// from is reduced to its calendar date first. When the target month is shorter
// than from's day of month the window ends on that month's last day.
func HorizonDates(from time.Time, months int, day time.Weekday) []time.Time {
	first := DateOf(from)
	last := first.AddDate(0, months, 0)
	if last.Day() != first.Day() {
		last = last.AddDate(0, 0, -last.Day())
	}

	offset := (int(day) - int(first.Weekday()) + 7) % 7
	var dates []time.Time
	for d := first.AddDate(0, 0, offset); !d.After(last); d = d.AddDate(0, 0, 7) {
		dates = append(dates, d)
	}
	return dates
}

type Generator struct {
	slots  SlotRepository
	events EventRepository
	tx     Transactor
	months int
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

type GeneratorOption func(*Generator)

// WithClock replaces time.Now as the source of "today".
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(repos Repositories, horizonMonths int, loc *time.Location, logger zerolog.Logger, opts ...GeneratorOption) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	if horizonMonths <= 0 {
		horizonMonths = 1
	}
	g := &Generator{
		slots:  repos.Slots,
		events: repos.Events,
		tx:     repos.Tx,
		months: horizonMonths,
		loc:    loc,
		now:    time.Now,
		logger: logger.With().Str("component", "generator").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Today is the current calendar date in the schedule's location.
func (g *Generator) Today() time.Time {
	return DateOf(g.now().In(g.loc))
}

// GenerateSlots materializes tmpl over the rolling horizon and returns the slots it
// created. Slots that already exist are left alone, so re-running is safe. The
// whole entry is one transaction: a store error writes nothing for tmpl.
func (g *Generator) GenerateSlots(ctx context.Context, doctorID uuid.UUID, tmpl AvailabilityTemplate) ([]Slot, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	day, _ := tmpl.DayOfWeek.Weekday()

	today := g.Today()
	dates := HorizonDates(today, g.months, day)
	windows := TileSlots(tmpl.StartTime, tmpl.EndTime, SlotDuration)

	var created []Slot
	err := g.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, date := range dates {
			for _, w := range windows {
				s := Slot{
					DoctorID:  doctorID,
					Date:      date,
					StartTime: w.Start,
					EndTime:   w.End,
					Status:    SlotAvailable,
				}
				inserted, err := g.slots.InsertIfAbsent(ctx, &s)
				if err != nil {
					return internal("insert slot", err)
				}
				if inserted {
					created = append(created, s)
				}
			}
		}

		if len(created) == 0 {
			return nil
		}
		return recordEvent(ctx, g.events, EventSlotsGenerated, nil, &doctorID, map[string]any{
			"day_of_week": tmpl.DayOfWeek,
			"start_time":  tmpl.StartTime.String(),
			"end_time":    tmpl.EndTime.String(),
			"from":        today.Format(time.DateOnly),
			"count":       len(created),
		})
	})
	if err != nil {
		return nil, passOr("generate slots", err)
	}

	g.logger.Debug().
		Str("doctor_id", doctorID.String()).
		Str("day_of_week", string(tmpl.DayOfWeek)).
		Int("created", len(created)).
		Msg("slots generated")
	return created, nil
}

// GenerateForDoctor runs GenerateSlots for each template in order and returns
// every slot it created. An error stops the run; slots written for earlier
// templates stay and are still returned.
func (g *Generator) GenerateForDoctor(ctx context.Context, doctorID uuid.UUID, templates []AvailabilityTemplate) ([]Slot, error) {
	var all []Slot
	for _, tmpl := range templates {
		created, err := g.GenerateSlots(ctx, doctorID, tmpl)
		all = append(all, created...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}
