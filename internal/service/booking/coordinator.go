// Package booking is the only writer of appointment rows. Every write runs
// inside a per-barber transaction that re-checks conflicts before commit;
// observers see a change only after it committed.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/blackouts"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/timezone"
)

const (
	KindTransactional = "transactional"

	DefaultOperationTimeout = 5 * time.Second
	maxAttempts             = 2
	maxKeyLength            = 256
	maxDurationMinutes      = 24 * 60
	maxBufferMinutes        = 240
)

type BookingCoordinator interface {
	CreateBooking(ctx context.Context, in CreateInput) (domain.Appointment, error)
	UpdateBooking(ctx context.Context, in UpdateInput) (domain.Appointment, error)
	Subscribe(o Observer)
}

// Caller is what the transport resolved about who is asking.
type Caller struct {
	AllowEmergency bool
	// ManageBookings callers may move an appointment to any status; others
	// may only cancel.
	ManageBookings bool
}

type CreateInput struct {
	Caller              Caller
	BarberID            string
	ClientID            string
	ServiceID           string
	LocationID          string
	StartTime           time.Time
	DurationMinutes     int
	BufferBeforeMinutes *int
	BufferAfterMinutes  *int
	IdempotencyKey      string
	Notes               string
	RecurringSeriesID   *uuid.UUID
	RecurrenceSequence  *int
}

// Patch lists the fields an update may change; nil leaves a field as is.
type Patch struct {
	Status          *domain.AppointmentStatus
	StartTime       *time.Time
	DurationMinutes *int
	ServiceID       *string
	Notes           *string
	NeedsReschedule *bool
}

func (p Patch) empty() bool {
	return p.Status == nil && p.StartTime == nil && p.DurationMinutes == nil &&
		p.ServiceID == nil && p.Notes == nil && p.NeedsReschedule == nil
}

type UpdateInput struct {
	Caller          Caller
	AppointmentID   uuid.UUID
	ExpectedVersion int
	Patch           Patch
}

// Authorize rejects status changes the caller's role does not allow.
func (in UpdateInput) Authorize() error {
	if in.Caller.ManageBookings || in.Patch.Status == nil || *in.Patch.Status == domain.StatusCancelled {
		return nil
	}
	return apperr.Forbidden("caller may only cancel, not set status " + string(*in.Patch.Status))
}

type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// Event describes one committed change. Before is nil for creations.
type Event struct {
	Kind   EventKind
	Before *domain.Appointment
	After  domain.Appointment
}

type Observer interface {
	Observe(ctx context.Context, ev Event) error
}

type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) Observe(ctx context.Context, ev Event) error { return f(ctx, ev) }

// ReplayCache short-circuits idempotent replays before the store lookup.
type ReplayCache interface {
	Lookup(ctx context.Context, key string) (uuid.UUID, bool, error)
	Remember(ctx context.Context, key string, id uuid.UUID) error
}

type conflictFinder interface {
	FindConflictsTx(ctx context.Context, tx store.BookingTx, barberID string, start, end time.Time, excludeID uuid.UUID) ([]uuid.UUID, error)
}

type blockChecker interface {
	IsBlocked(ctx context.Context, q blackouts.Query) (blackouts.BlockResult, error)
}

type Deps struct {
	Appointments store.AppointmentRepository
	Schedules    store.ScheduleRepository
	Conflicts    conflictFinder
	Blackouts    blockChecker
	// Cache is optional.
	Cache ReplayCache
	Clock timezone.Clock
	Log   *slog.Logger
}

type Options struct {
	OperationTimeout   time.Duration
	DefaultLeadMinutes int
	DefaultTimezone    string
}

// NewCoordinator builds the coordinator named by kind. The choice is made
// once at startup.
func NewCoordinator(kind string, deps Deps, opts Options) (BookingCoordinator, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindTransactional:
		return NewTransactional(deps, opts)
	default:
		return nil, fmt.Errorf("unknown booking coordinator %q", kind)
	}
}

type Transactional struct {
	appts     store.AppointmentRepository
	schedules store.ScheduleRepository
	conflicts conflictFinder
	blackouts blockChecker
	cache     ReplayCache
	clock     timezone.Clock
	opts      Options
	log       *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

var _ BookingCoordinator = (*Transactional)(nil)

func NewTransactional(deps Deps, opts Options) (*Transactional, error) {
	if deps.Appointments == nil || deps.Schedules == nil || deps.Conflicts == nil || deps.Blackouts == nil {
		return nil, errors.New("booking: appointments, schedules, conflicts and blackouts are required")
	}
	if deps.Clock == nil {
		deps.Clock = timezone.SystemClock{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.DefaultLeadMinutes < 0 {
		opts.DefaultLeadMinutes = 0
	}
	if !timezone.IsValid(opts.DefaultTimezone) {
		opts.DefaultTimezone = timezone.DefaultTimezone
	}
	return &Transactional{
		appts:     deps.Appointments,
		schedules: deps.Schedules,
		conflicts: deps.Conflicts,
		blackouts: deps.Blackouts,
		cache:     deps.Cache,
		clock:     deps.Clock,
		opts:      opts,
		log:       deps.Log.With(slog.String("component", "booking.coordinator")),
	}, nil
}

func (c *Transactional) Subscribe(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// publish runs after commit. Observer failures are logged only.
func (c *Transactional) publish(ctx context.Context, ev Event) {
	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, o := range observers {
		if err := o.Observe(ctx, ev); err != nil {
			c.log.Warn(
				"observer failed",
				slog.String("event", string(ev.Kind)),
				slog.String("appointment_id", ev.After.ID.String()),
				slog.Any("err", err),
			)
		}
	}
}

func (c *Transactional) loadBarber(ctx context.Context, barberID string) (domain.Barber, error) {
	b, err := c.schedules.GetBarber(ctx, barberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Barber{}, &apperr.ValidationError{Code: apperr.CodeUnknownBarber, Msg: "unknown barber " + barberID}
		}
		return domain.Barber{}, c.translate("get barber", err)
	}
	return b, nil
}

// checkSlot applies the rules every new time range must satisfy: not in
// the past, outside the lead time, inside working hours, not blacked out.
func (c *Transactional) checkSlot(ctx context.Context, caller Caller, barber domain.Barber, locationID string, start time.Time, durationMinutes int) error {
	now := c.clock.Now()
	if start.Before(now) {
		return apperr.Validation(apperr.CodeInPast, "start time is in the past")
	}
	lead := barber.LeadMinutes(c.opts.DefaultLeadMinutes)
	if start.Before(now.Add(time.Duration(lead) * time.Minute)) {
		return apperr.Validationf(apperr.CodeLeadTime, "bookings need at least %d minutes notice", lead)
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	hours, err := c.schedules.ListWorkingHours(ctx, barber.ID)
	if err != nil {
		return c.translate("list working hours", err)
	}
	loc := timezone.LocationOr(barber.Timezone, c.opts.DefaultTimezone)
	windows, err := domain.WorkingWindows(hours, domain.CivilDate(start.In(loc)), loc)
	if err != nil {
		return fmt.Errorf("working hours of barber %s: %w", barber.ID, err)
	}
	inside := false
	for _, w := range windows {
		if w.Contains(start, end) {
			inside = true
			break
		}
	}
	if !inside {
		return apperr.Validation(apperr.CodeOutsideWorkingHours, "requested time is outside the barber's working hours")
	}

	if locationID == "" {
		locationID = barber.LocationID
	}
	res, err := c.blackouts.IsBlocked(ctx, blackouts.Query{
		BarberID:        barber.ID,
		LocationID:      locationID,
		Instant:         start,
		DurationMinutes: durationMinutes,
	})
	if err != nil {
		return c.translate("check blackouts", err)
	}
	if res.Blocked && !(caller.AllowEmergency && res.AllowEmergency) {
		msg := "requested time falls in a blackout"
		if res.Reason != "" {
			msg += ": " + res.Reason
		}
		return &apperr.ValidationError{
			Code: apperr.CodeBlackout,
			Msg:  msg,
			Blackout: &apperr.BlackoutInfo{
				ID:             res.BlackoutID,
				Reason:         res.Reason,
				AutoReschedule: res.AutoReschedule,
			},
		}
	}
	return nil
}

// translate keeps typed errors and turns everything else into a transient
// store failure.
func (c *Transactional) translate(op string, err error) error {
	if err == nil || apperr.Typed(err) {
		return err
	}
	return apperr.Transient(op, err)
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

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperr.IsConflict(err):
		return "conflict"
	case apperr.IsConcurrency(err):
		return "stale_version"
	case apperr.IsValidation(err):
		return "invalid"
	case apperr.IsNotFound(err):
		return "not_found"
	default:
		return "unavailable"
	}
}
