package wire

import (
	"context"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/auth"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/availability"
	"barbercal/backend/internal/service/blackouts"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/service/calendarsync"
	"barbercal/backend/internal/service/series"
)

type SlotFinder interface {
	GetAvailableSlots(ctx context.Context, q availability.Query) ([]availability.Slot, error)
	GetNextAvailable(ctx context.Context, barberID string, serviceDurationMinutes, searchHorizonDays int) (*availability.Slot, error)
}

type BlackoutRegistry interface {
	IsBlocked(ctx context.Context, q blackouts.Query) (blackouts.BlockResult, error)
	FlagAffected(ctx context.Context, blackoutID uuid.UUID, flagger blackouts.RescheduleFlagger) (int, error)
}

type Bookings interface {
	CreateBooking(ctx context.Context, in booking.CreateInput) (domain.Appointment, error)
	UpdateBooking(ctx context.Context, in booking.UpdateInput) (domain.Appointment, error)
}

type SeriesService interface {
	GenerateSeries(ctx context.Context, in series.GenerateInput) (domain.RecurringSeries, error)
	GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurringSeries, error)
	ListOccurrences(ctx context.Context, id uuid.UUID) ([]domain.SeriesOccurrence, error)
}

type CalendarReconciler interface {
	Reconcile(ctx context.Context, ch calendarsync.Change) (domain.Appointment, error)
}

// Backend is everything a transport serves.
type Backend struct {
	Slots     SlotFinder
	Blackouts BlackoutRegistry
	Flagger   blackouts.RescheduleFlagger
	Bookings  Bookings
	Series    SeriesService
	Calendar  CalendarReconciler
	// NextAvailableHorizonDays applies when a request leaves the horizon unset.
	NextAvailableHorizonDays int
	// RetryAfter is advertised on transient failures.
	RetryAfter time.Duration
}

// CallerFrom narrows a principal to what the services need.
func CallerFrom(p auth.Principal) booking.Caller {
	return booking.Caller{
		AllowEmergency: p.Can(auth.CapEmergencyOverride),
		ManageBookings: p.Can(auth.CapManageBookings),
	}
}
