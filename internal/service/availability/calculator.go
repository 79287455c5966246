// Package availability computes the bookable slots of a barber on a day.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/timezone"
)

const (
	DefaultLeadMinutes = 120
	DefaultHorizonDays = 30
	maxHorizonDays     = 366
	maxServiceMinutes  = 24 * 60
	maxBufferMinutes   = 240
)

type appointmentSource interface {
	ActiveBetween(ctx context.Context, barberID string, from, to time.Time) ([]domain.Appointment, error)
}

type blackoutSource interface {
	WindowsFor(ctx context.Context, barber domain.Barber, from, to time.Time) ([]domain.BlockedWindow, error)
}

type Options struct {
	DefaultLeadMinutes int
	DefaultTimezone    string
	HorizonDays        int
}

type Calculator struct {
	schedules store.ScheduleRepository
	appts     appointmentSource
	blackouts blackoutSource
	clock     timezone.Clock
	opts      Options
	log       *slog.Logger
}

func NewCalculator(schedules store.ScheduleRepository, appts appointmentSource, blackouts blackoutSource, clock timezone.Clock, opts Options, log *slog.Logger) *Calculator {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = timezone.SystemClock{}
	}
	if opts.DefaultLeadMinutes < 0 {
		opts.DefaultLeadMinutes = DefaultLeadMinutes
	}
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = timezone.DefaultTimezone
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}
	return &Calculator{
		schedules: schedules,
		appts:     appts,
		blackouts: blackouts,
		clock:     clock,
		opts:      opts,
		log:       log.With(slog.String("component", "availability.calculator")),
	}
}

// Query selects one civil Date (its year, month and day are read as-is and
// interpreted in the barber's zone). Nil buffers fall back to the barber's.
type Query struct {
	BarberID               string
	Date                   time.Time
	ServiceDurationMinutes int
	BufferBeforeMinutes    *int
	BufferAfterMinutes     *int
}

type Slot struct {
	Start time.Time
	End   time.Time
}

func (c *Calculator) GetAvailableSlots(ctx context.Context, q Query) ([]Slot, error) {
	if q.BarberID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "barber_id is required")
	}
	if q.Date.IsZero() {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "date is required")
	}
	if q.ServiceDurationMinutes <= 0 || q.ServiceDurationMinutes > maxServiceMinutes {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "service duration must be between 1 and 1440 minutes")
	}

	barber, err := c.barber(ctx, q.BarberID)
	if err != nil {
		return nil, err
	}
	return c.slotsFor(ctx, barber, q)
}

func (c *Calculator) slotsFor(ctx context.Context, barber domain.Barber, q Query) ([]Slot, error) {
	before, err := bufferOr(q.BufferBeforeMinutes, barber.BufferBeforeMinutes)
	if err != nil {
		return nil, err
	}
	after, err := bufferOr(q.BufferAfterMinutes, barber.BufferAfterMinutes)
	if err != nil {
		return nil, err
	}

	hours, err := c.schedules.ListWorkingHours(ctx, barber.ID)
	if err != nil {
		return nil, apperr.Transient("list working hours", err)
	}
	loc := timezone.LocationOr(barber.Timezone, c.opts.DefaultTimezone)
	windows, err := domain.WorkingWindows(hours, q.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("working hours of barber %s: %w", barber.ID, err)
	}
	if len(windows) == 0 {
		return []Slot{}, nil
	}

	// Windows are ordered by start; an earlier shift may still end last.
	dayStart := windows[0].Start
	dayEnd := windows[0].End
	for _, w := range windows[1:] {
		if w.End.After(dayEnd) {
			dayEnd = w.End
		}
	}
	beforeDur := time.Duration(before) * time.Minute
	afterDur := time.Duration(after) * time.Minute

	appts, err := c.appts.ActiveBetween(ctx, barber.ID, dayStart.Add(-beforeDur), dayEnd.Add(afterDur))
	if err != nil {
		return nil, err
	}
	blocked, err := c.blackouts.WindowsFor(ctx, barber, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	earliest := c.clock.Now().Add(time.Duration(barber.LeadMinutes(c.opts.DefaultLeadMinutes)) * time.Minute)
	dur := time.Duration(q.ServiceDurationMinutes) * time.Minute

	slots := []Slot{}
	seen := make(map[time.Time]struct{})
	for _, w := range windows {
		for start := w.Start; !start.Add(dur).After(w.End); start = start.Add(dur) {
			end := start.Add(dur)
			if _, dup := seen[start]; dup {
				continue
			}
			if start.Before(earliest) {
				continue
			}
			if overlapsAny(appts, start.Add(-beforeDur), end.Add(afterDur)) {
				continue
			}
			if blockedAny(blocked, start, end) {
				continue
			}
			seen[start] = struct{}{}
			slots = append(slots, Slot{Start: start, End: end})
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })

	c.log.Debug(
		"slots computed",
		slog.String("barber_id", barber.ID),
		slog.Time("date", q.Date),
		slog.Int("count", len(slots)),
	)
	return slots, nil
}

// GetNextAvailable scans day by day from the barber's local today and
// returns the first slot, or nil when the horizon holds none.
func (c *Calculator) GetNextAvailable(ctx context.Context, barberID string, serviceDurationMinutes, searchHorizonDays int) (*Slot, error) {
	if barberID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "barber_id is required")
	}
	if serviceDurationMinutes <= 0 || serviceDurationMinutes > maxServiceMinutes {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "service duration must be between 1 and 1440 minutes")
	}
	if searchHorizonDays <= 0 {
		searchHorizonDays = c.opts.HorizonDays
	}
	if searchHorizonDays > maxHorizonDays {
		return nil, apperr.Validationf(apperr.CodeInvalidInput, "search horizon must be at most %d days", maxHorizonDays)
	}

	barber, err := c.barber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	today := domain.CivilDate(c.clock.Now().In(timezone.LocationOr(barber.Timezone, c.opts.DefaultTimezone)))

	for i := 0; i < searchHorizonDays; i++ {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Transient("next available", err)
		}
		slots, err := c.slotsFor(ctx, barber, Query{
			BarberID:               barberID,
			Date:                   today.AddDate(0, 0, i),
			ServiceDurationMinutes: serviceDurationMinutes,
		})
		if err != nil {
			return nil, err
		}
		if len(slots) > 0 {
			return &slots[0], nil
		}
	}
	return nil, nil
}

func (c *Calculator) barber(ctx context.Context, barberID string) (domain.Barber, error) {
	b, err := c.schedules.GetBarber(ctx, barberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Barber{}, apperr.NotFound("barber", barberID)
		}
		return domain.Barber{}, apperr.Transient("get barber", err)
	}
	return b, nil
}

func bufferOr(v *int, fallback int) (int, error) {
	if v == nil {
		return fallback, nil
	}
	if *v < 0 || *v > maxBufferMinutes {
		return 0, apperr.Validationf(apperr.CodeInvalidInput, "buffer must be between 0 and %d minutes", maxBufferMinutes)
	}
	return *v, nil
}

func overlapsAny(appts []domain.Appointment, start, end time.Time) bool {
	for _, a := range appts {
		if a.Status.Active() && a.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func blockedAny(windows []domain.BlockedWindow, start, end time.Time) bool {
	for _, w := range windows {
		if w.Overlaps(start, end) {
			return true
		}
	}
	return false
}
