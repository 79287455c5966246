package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SeriesStatus string

const (
	SeriesStatusActive    SeriesStatus = "active"
	SeriesStatusCompleted SeriesStatus = "completed"
	SeriesStatusCancelled SeriesStatus = "cancelled"
)

type RecurringSeries struct {
	bun.BaseModel `bun:"table:recurring_series"`

	ID                   uuid.UUID    `bun:"id,pk,type:uuid"`
	PatternID            uuid.UUID    `bun:"pattern_id,notnull,type:uuid"`
	UserID               string       `bun:"user_id,notnull"`
	BarberID             string       `bun:"barber_id,notnull"`
	TotalPlanned         int          `bun:"total_planned,notnull"`
	TotalCompleted       int          `bun:"total_completed,notnull"`
	TotalCancelled       int          `bun:"total_cancelled,notnull"`
	TotalRescheduled     int          `bun:"total_rescheduled,notnull"`
	Status               SeriesStatus `bun:"status,notnull"`
	CompletionPercentage float64      `bun:"completion_percentage,notnull"`
	CreatedAt            time.Time    `bun:"created_at,notnull"`
	UpdatedAt            time.Time    `bun:"updated_at,notnull"`
}

func (s *RecurringSeries) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

// Recompute refreshes CompletionPercentage from the counters.
func (s *RecurringSeries) Recompute() {
	if s.TotalPlanned <= 0 {
		s.CompletionPercentage = 0
		return
	}
	s.CompletionPercentage = float64(s.TotalCompleted) / float64(s.TotalPlanned)
}

// SeriesDelta is an atomic counter adjustment applied after generation.
type SeriesDelta struct {
	Completed   int
	Cancelled   int
	Rescheduled int
	Status      *SeriesStatus
}

func (s *RecurringSeries) Apply(d SeriesDelta) {
	s.TotalCompleted += d.Completed
	s.TotalCancelled += d.Cancelled
	s.TotalRescheduled += d.Rescheduled
	if s.TotalCompleted < 0 {
		s.TotalCompleted = 0
	}
	if d.Status != nil {
		s.Status = *d.Status
	}
	s.Recompute()
}

type OccurrenceOutcome string

const (
	OutcomeBooked          OccurrenceOutcome = "booked"
	OutcomeSkippedConflict OccurrenceOutcome = "skipped_conflict"
	OutcomeSkippedBlackout OccurrenceOutcome = "skipped_blackout"
	OutcomeNeedsReschedule OccurrenceOutcome = "needs_reschedule"
	OutcomeFailed          OccurrenceOutcome = "failed"
)

type SeriesOccurrence struct {
	bun.BaseModel `bun:"table:series_occurrences"`

	ID             uuid.UUID         `bun:"id,pk,type:uuid"`
	SeriesID       uuid.UUID         `bun:"series_id,notnull,type:uuid"`
	Sequence       int               `bun:"sequence,notnull"`
	ScheduledStart time.Time         `bun:"scheduled_start,notnull"`
	Outcome        OccurrenceOutcome `bun:"outcome,notnull"`
	AppointmentID  *uuid.UUID        `bun:"appointment_id,type:uuid"`
	Reason         string            `bun:"reason"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
}

func (o *SeriesOccurrence) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if o.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			o.ID = id
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}
