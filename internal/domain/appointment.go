package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Active statuses hold the barber's time.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveStatuses is the set the conflict invariant is defined over.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                    uuid.UUID         `bun:"id,pk,type:uuid"`
	BarberID              string            `bun:"barber_id,notnull"`
	LocationID            string            `bun:"location_id,notnull"`
	ClientID              string            `bun:"client_id,notnull"`
	ServiceID             string            `bun:"service_id,notnull"`
	StartTime             time.Time         `bun:"start_time,notnull"`
	EndTime               time.Time         `bun:"end_time,notnull"`
	DurationMinutes       int               `bun:"duration_minutes,notnull"`
	Timezone              string            `bun:"timezone,notnull"`
	Status                AppointmentStatus `bun:"status,notnull"`
	Version               int               `bun:"version,notnull"`
	IdempotencyKey        string            `bun:"idempotency_key,notnull,unique"`
	RecurringSeriesID     *uuid.UUID        `bun:"recurring_series_id,type:uuid"`
	IsRecurringInstance   bool              `bun:"is_recurring_instance,notnull"`
	OriginalScheduledDate *time.Time        `bun:"original_scheduled_date"`
	RecurrenceSequence    *int              `bun:"recurrence_sequence"`
	NeedsReschedule       bool              `bun:"needs_reschedule,notnull"`
	Notes                 string            `bun:"notes"`
	CreatedAt             time.Time         `bun:"created_at,notnull"`
	UpdatedAt             time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// Overlaps reports whether the appointment intersects [start, end).
func (a Appointment) Overlaps(start, end time.Time) bool {
	return Overlaps(a.StartTime, a.EndTime, start, end)
}

// Overlaps is the half-open interval test: touching ranges do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// IdempotentID maps an idempotency key to a stable appointment id so replays
// land on the same row.
func IdempotentID(key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("barbercal:create_booking:"+key))
}
