// Package blackouts resolves blackout rows into blocked windows for a
// barber and flags existing appointments that a blackout displaces.
package blackouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/timezone"
)

type barberSource interface {
	GetBarber(ctx context.Context, barberID string) (domain.Barber, error)
}

type appointmentLister interface {
	ListActive(ctx context.Context, filter store.AppointmentFilter) ([]domain.Appointment, error)
}

// RescheduleFlagger marks one appointment as needing a manual reschedule.
type RescheduleFlagger interface {
	FlagForReschedule(ctx context.Context, appt domain.Appointment) error
}

type Registry struct {
	repo      store.BlackoutRepository
	barbers   barberSource
	appts     appointmentLister
	clock     timezone.Clock
	defaultTZ string
	log       *slog.Logger
}

func NewRegistry(repo store.BlackoutRepository, barbers barberSource, appts appointmentLister, clock timezone.Clock, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = timezone.SystemClock{}
	}
	return &Registry{
		repo:      repo,
		barbers:   barbers,
		appts:     appts,
		clock:     clock,
		defaultTZ: timezone.DefaultTimezone,
		log:       log.With(slog.String("component", "blackouts.registry")),
	}
}

// WithDefaultTimezone sets the zone used for barbers without a valid timezone.
func (r *Registry) WithDefaultTimezone(tz string) *Registry {
	if timezone.IsValid(tz) {
		r.defaultTZ = tz
	}
	return r
}

// Query asks whether [Instant, Instant+DurationMinutes) is blocked. A zero
// duration checks the instant alone.
type Query struct {
	BarberID        string
	LocationID      string
	Instant         time.Time
	DurationMinutes int
}

type BlockResult struct {
	Blocked        bool
	Reason         string
	BlackoutID     uuid.UUID
	AllowEmergency bool
	AutoReschedule bool
	// Unavailable is set when the answer could not be computed.
	Unavailable bool
}

func (r *Registry) IsBlocked(ctx context.Context, q Query) (BlockResult, error) {
	if q.BarberID == "" {
		return BlockResult{}, apperr.Validation(apperr.CodeInvalidInput, "barber_id is required")
	}
	if q.Instant.IsZero() {
		return BlockResult{}, apperr.Validation(apperr.CodeInvalidInput, "instant is required")
	}
	if q.DurationMinutes < 0 {
		return BlockResult{}, apperr.Validation(apperr.CodeInvalidInput, "duration must not be negative")
	}

	barber, err := r.barber(ctx, q.BarberID)
	if err != nil {
		if apperr.IsTransient(err) {
			return BlockResult{Unavailable: true}, err
		}
		return BlockResult{}, err
	}
	if q.LocationID != "" {
		barber.LocationID = q.LocationID
	}

	start := q.Instant
	end := start.Add(time.Duration(q.DurationMinutes) * time.Minute)
	if q.DurationMinutes == 0 {
		end = start.Add(time.Nanosecond)
	}

	windows, err := r.WindowsFor(ctx, barber, start, end)
	if err != nil {
		return BlockResult{Unavailable: true}, err
	}
	for _, w := range windows {
		if w.Overlaps(start, end) {
			return BlockResult{
				Blocked:        true,
				Reason:         w.Reason,
				BlackoutID:     w.BlackoutID,
				AllowEmergency: w.AllowEmergency,
				AutoReschedule: w.AutoReschedule,
			}, nil
		}
	}
	return BlockResult{}, nil
}

// Windows resolves the blocked windows for barberID intersecting [from, to).
// An empty locationID falls back to the barber's own location.
func (r *Registry) Windows(ctx context.Context, barberID, locationID string, from, to time.Time) ([]domain.BlockedWindow, error) {
	barber, err := r.barber(ctx, barberID)
	if err != nil {
		return nil, err
	}
	if locationID != "" {
		barber.LocationID = locationID
	}
	return r.WindowsFor(ctx, barber, from, to)
}

// WindowsFor is Windows for an already loaded barber. Candidate order is
// preserved so the first blocking match is stable.
func (r *Registry) WindowsFor(ctx context.Context, barber domain.Barber, from, to time.Time) ([]domain.BlockedWindow, error) {
	if !to.After(from) {
		return nil, nil
	}
	loc := timezone.LocationOr(barber.Timezone, r.defaultTZ)

	// Civil dates in the barber's zone can sit a day either side of UTC.
	candidates, err := r.repo.ListCandidates(ctx, barber.ID, barber.LocationID, from.AddDate(0, 0, -1), to.AddDate(0, 0, 1))
	if err != nil {
		return nil, unavailable("list blackouts", err)
	}

	var out []domain.BlockedWindow
	for _, b := range candidates {
		if !b.AppliesTo(barber.ID, barber.LocationID) {
			continue
		}
		ws, err := b.WindowsBetween(loc, from, to)
		if err != nil {
			r.log.Warn("skipping malformed blackout", slog.String("blackout_id", b.ID.String()), slog.Any("err", err))
			continue
		}
		out = append(out, ws...)
	}
	return out, nil
}

// FlagAffected flags every active appointment displaced by a blackout with
// AffectsExistingAppointments for manual reschedule, then marks the
// blackout resolved. Resolving twice is a no-op.
func (r *Registry) FlagAffected(ctx context.Context, blackoutID uuid.UUID, flagger RescheduleFlagger) (int, error) {
	log := r.log.With(slog.String("blackout_id", blackoutID.String()))

	b, err := r.repo.GetBlackout(ctx, blackoutID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, apperr.NotFound("blackout", blackoutID.String())
		}
		return 0, unavailable("get blackout", err)
	}
	if !b.AffectsExistingAppointments || !b.IsActive {
		return 0, apperr.Validation(apperr.CodeNotApplicable, "blackout does not affect existing appointments")
	}
	if b.AffectedResolvedAt != nil {
		log.Debug("blackout already resolved")
		return 0, nil
	}

	now := r.clock.Now().UTC()
	from, to := scanRange(b, now)
	flagged := 0
	if to.After(from) {
		filter := store.AppointmentFilter{WindowStart: from, WindowEnd: to}
		if b.BarberID != "" {
			filter.BarberID = b.BarberID
		} else {
			filter.LocationID = b.LocationID
		}
		appts, err := r.appts.ListActive(ctx, filter)
		if err != nil {
			return 0, unavailable("list affected appointments", err)
		}

		for _, a := range appts {
			if a.NeedsReschedule || !b.AppliesTo(a.BarberID, a.LocationID) {
				continue
			}
			loc := timezone.LocationOr(a.Timezone, r.defaultTZ)
			ws, err := b.WindowsBetween(loc, a.StartTime, a.EndTime)
			if err != nil {
				return flagged, apperr.Validationf(apperr.CodeInvalidInput, "blackout %s: %v", b.ID, err)
			}
			if len(ws) == 0 {
				continue
			}
			if err := flagger.FlagForReschedule(ctx, a); err != nil {
				log.Warn("flag for reschedule failed", slog.String("appointment_id", a.ID.String()), slog.Any("err", err))
				return flagged, err
			}
			flagged++
		}
	}

	if err := r.repo.MarkAffectedResolved(ctx, b.ID, now); err != nil {
		return flagged, unavailable("mark blackout resolved", err)
	}
	log.Info("blackout resolved", slog.Int("flagged", flagged))
	return flagged, nil
}

// scanRange bounds the appointment scan for b: from now (or the first
// covered day) to the last covered day, at most AffectedLookahead ahead.
func scanRange(b domain.BlackoutDate, now time.Time) (time.Time, time.Time) {
	from := domain.CivilDate(b.Date).AddDate(0, 0, -1)
	if now.After(from) {
		from = now
	}
	to := now.Add(store.AffectedLookahead)

	var last *time.Time
	switch {
	case !b.IsRecurring && b.EndDate != nil:
		last = b.EndDate
	case !b.IsRecurring:
		last = &b.Date
	case b.RecurrenceEndDate != nil:
		end := *b.RecurrenceEndDate
		if b.EndDate != nil {
			end = end.Add(domain.CivilDate(*b.EndDate).Sub(domain.CivilDate(b.Date)))
		}
		last = &end
	}
	if last != nil {
		if bound := domain.CivilDate(*last).AddDate(0, 0, 2); bound.Before(to) {
			to = bound
		}
	}
	return from, to
}

func unavailable(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return apperr.Transient(op, err)
	}
	return apperr.Transient(op, fmt.Errorf("%w: %w", store.ErrUnavailable, err))
}

func (r *Registry) barber(ctx context.Context, barberID string) (domain.Barber, error) {
	b, err := r.barbers.GetBarber(ctx, barberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Barber{}, apperr.NotFound("barber", barberID)
		}
		return domain.Barber{}, unavailable("get barber", err)
	}
	return b, nil
}
