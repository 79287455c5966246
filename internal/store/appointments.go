package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/domain"
)

// AffectedLookahead bounds how far ahead blackout resolution scans for
// appointments to flag.
const AffectedLookahead = 180 * 24 * time.Hour

// BookingTx is the view of the appointment store inside a per-barber
// transaction. Writes become visible to other callers only on commit.
type BookingTx interface {
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	// FindOverlapping lists pending/confirmed rows of the barber intersecting
	// [start, end), skipping excludeID.
	FindOverlapping(ctx context.Context, barberID string, start, end time.Time, excludeID uuid.UUID) ([]domain.Appointment, error)
	// InsertAppointment returns ErrConflict when the overlap constraint fires
	// and ErrConcurrentWrite on a unique-key race.
	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	// UpdateAppointment writes appt only if the stored version still equals
	// expectedVersion, otherwise ErrVersionMismatch.
	UpdateAppointment(ctx context.Context, appt domain.Appointment, expectedVersion int) (domain.Appointment, error)
}

type AppointmentFilter struct {
	BarberID    string
	LocationID  string
	SeriesID    *uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
}

type AppointmentRepository interface {
	// InBarberTransaction runs fn with writes for barberID serialized.
	InBarberTransaction(ctx context.Context, barberID string, fn func(ctx context.Context, tx BookingTx) error) error

	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Appointment, error)
	// ListActive returns pending/confirmed appointments matching the filter.
	// Empty BarberID or LocationID match any; a zero window matches all times.
	ListActive(ctx context.Context, filter AppointmentFilter) ([]domain.Appointment, error)
}

type ScheduleRepository interface {
	GetBarber(ctx context.Context, barberID string) (domain.Barber, error)
	ListWorkingHours(ctx context.Context, barberID string) ([]domain.WorkingHours, error)
}

type BlackoutRepository interface {
	// ListCandidates returns active blackouts scoped to the barber or its
	// location that may cover some day in [from, to].
	ListCandidates(ctx context.Context, barberID, locationID string, from, to time.Time) ([]domain.BlackoutDate, error)
	GetBlackout(ctx context.Context, id uuid.UUID) (domain.BlackoutDate, error)
	MarkAffectedResolved(ctx context.Context, id uuid.UUID, at time.Time) error
}

type SeriesRepository interface {
	CreateSeries(ctx context.Context, pattern domain.RecurrencePattern, series domain.RecurringSeries) (domain.RecurrencePattern, domain.RecurringSeries, error)
	SaveSeries(ctx context.Context, series domain.RecurringSeries) (domain.RecurringSeries, error)
	AdjustCounters(ctx context.Context, seriesID uuid.UUID, delta domain.SeriesDelta) (domain.RecurringSeries, error)
	GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurringSeries, error)
	RecordOccurrence(ctx context.Context, occ domain.SeriesOccurrence) error
	ListOccurrences(ctx context.Context, seriesID uuid.UUID) ([]domain.SeriesOccurrence, error)
}
