// Package series expands a recurrence pattern into bookings, one occurrence
// at a time through the booking coordinator, and keeps the series
// aggregate current afterwards.
package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/metrics"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/timezone"
)

type bookingCreator interface {
	CreateBooking(ctx context.Context, in booking.CreateInput) (domain.Appointment, error)
}

type barberSource interface {
	GetBarber(ctx context.Context, barberID string) (domain.Barber, error)
}

type Expander struct {
	repo      store.SeriesRepository
	barbers   barberSource
	coord     bookingCreator
	defaultTZ string
	log       *slog.Logger
}

func NewExpander(repo store.SeriesRepository, barbers barberSource, coord bookingCreator, log *slog.Logger) *Expander {
	if log == nil {
		log = slog.Default()
	}
	return &Expander{
		repo:      repo,
		barbers:   barbers,
		coord:     coord,
		defaultTZ: timezone.DefaultTimezone,
		log:       log.With(slog.String("component", "series.expander")),
	}
}

// WithDefaultTimezone sets the zone used when neither the pattern nor the
// barber names a valid one.
func (e *Expander) WithDefaultTimezone(tz string) *Expander {
	if timezone.IsValid(tz) {
		e.defaultTZ = tz
	}
	return e
}

// GenerateInput describes a new series. Template carries everything but the
// start time, key and series linkage of each occurrence.
type GenerateInput struct {
	Pattern         domain.RecurrencePattern
	UserID          string
	FirstOccurrence time.Time
	Template        booking.CreateInput
}

// GenerateSeries persists the series header and books each occurrence.
// Only a failure to persist the header fails the call; per-occurrence
// failures are recorded on the series.
func (e *Expander) GenerateSeries(ctx context.Context, in GenerateInput) (domain.RecurringSeries, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = strings.TrimSpace(in.Template.ClientID)
	}
	if userID == "" {
		return domain.RecurringSeries{}, apperr.Validation(apperr.CodeInvalidInput, "user_id is required")
	}
	if strings.TrimSpace(in.Template.BarberID) == "" {
		return domain.RecurringSeries{}, apperr.Validation(apperr.CodeInvalidInput, "barber_id is required")
	}
	if in.Template.DurationMinutes <= 0 {
		return domain.RecurringSeries{}, apperr.Validation(apperr.CodeInvalidInput, "duration must be positive")
	}
	if in.Template.ClientID == "" {
		in.Template.ClientID = userID
	}
	if in.Pattern.Interval == 0 {
		in.Pattern.Interval = 1
	}
	if strings.TrimSpace(in.Pattern.Timezone) == "" {
		tz, err := e.barberTimezone(ctx, in.Template.BarberID)
		if err != nil {
			return domain.RecurringSeries{}, err
		}
		in.Pattern.Timezone = tz
	}

	occs, err := domain.GenerateOccurrences(in.Pattern, in.FirstOccurrence, domain.SeriesHorizon)
	if err != nil {
		return domain.RecurringSeries{}, apperr.Validation(apperr.CodeInvalidInput, err.Error())
	}
	if len(occs) == 0 {
		return domain.RecurringSeries{}, apperr.Validation(apperr.CodeInvalidInput, "recurrence pattern produces no occurrences")
	}

	_, series, err := e.repo.CreateSeries(ctx, in.Pattern, domain.RecurringSeries{
		UserID:   userID,
		BarberID: in.Template.BarberID,
		Status:   domain.SeriesStatusActive,
	})
	if err != nil {
		e.log.Error("series create failed", slog.Any("err", err), slog.String("user_id", userID))
		return domain.RecurringSeries{}, apperr.Transient("create series", err)
	}

	log := e.log.With(slog.String("series_id", series.ID.String()))
	for _, occ := range occs {
		rec := e.bookOccurrence(ctx, series.ID, occ, in.Template)
		series.TotalPlanned++
		switch rec.Outcome {
		case domain.OutcomeBooked:
			series.TotalCompleted++
		case domain.OutcomeNeedsReschedule:
			series.TotalRescheduled++
		default:
			series.TotalCancelled++
		}
		series.Recompute()
		metrics.IncSeriesOccurrence(string(rec.Outcome))

		if err := e.repo.RecordOccurrence(ctx, rec); err != nil {
			log.Warn("occurrence record failed", slog.Int("sequence", occ.Sequence), slog.Any("err", err))
		}
		if saved, err := e.repo.SaveSeries(ctx, series); err != nil {
			log.Warn("series save failed", slog.Int("sequence", occ.Sequence), slog.Any("err", err))
		} else {
			series = saved
		}
	}

	if series.TotalCompleted == 0 {
		series.Status = domain.SeriesStatusCancelled
	}
	if saved, err := e.repo.SaveSeries(ctx, series); err != nil {
		log.Warn("series save failed", slog.Any("err", err))
	} else {
		series = saved
	}

	log.Info(
		"series generated",
		slog.Int("planned", series.TotalPlanned),
		slog.Int("completed", series.TotalCompleted),
		slog.Int("cancelled", series.TotalCancelled),
		slog.Int("rescheduled", series.TotalRescheduled),
		slog.String("status", string(series.Status)),
	)
	return series, nil
}

// barberTimezone is the zone occurrences are generated in when the pattern
// leaves it out, so wall-clock times hold across DST changes.
func (e *Expander) barberTimezone(ctx context.Context, barberID string) (string, error) {
	barber, err := e.barbers.GetBarber(ctx, barberID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &apperr.ValidationError{Code: apperr.CodeUnknownBarber, Msg: "unknown barber " + barberID}
		}
		return "", apperr.Transient("load barber", err)
	}
	if timezone.IsValid(barber.Timezone) {
		return barber.Timezone, nil
	}
	return e.defaultTZ, nil
}

func (e *Expander) bookOccurrence(ctx context.Context, seriesID uuid.UUID, occ domain.Occurrence, template booking.CreateInput) domain.SeriesOccurrence {
	seq := occ.Sequence
	in := template
	in.StartTime = occ.Start
	in.IdempotencyKey = fmt.Sprintf("series:%s:%d", seriesID, seq)
	in.RecurringSeriesID = &seriesID
	in.RecurrenceSequence = &seq

	rec := domain.SeriesOccurrence{
		SeriesID:       seriesID,
		Sequence:       seq,
		ScheduledStart: occ.Start.UTC(),
	}

	appt, err := e.coord.CreateBooking(ctx, in)
	if err == nil {
		id := appt.ID
		rec.Outcome = domain.OutcomeBooked
		rec.AppointmentID = &id
		return rec
	}

	rec.Reason = err.Error()
	var vErr *apperr.ValidationError
	switch {
	case apperr.IsConflict(err):
		rec.Outcome = domain.OutcomeSkippedConflict
	case errors.As(err, &vErr) && vErr.Code == apperr.CodeBlackout:
		rec.Outcome = domain.OutcomeSkippedBlackout
		if vErr.Blackout != nil && vErr.Blackout.AutoReschedule {
			rec.Outcome = domain.OutcomeNeedsReschedule
		}
	default:
		rec.Outcome = domain.OutcomeFailed
		e.log.Warn(
			"occurrence failed",
			slog.String("series_id", seriesID.String()),
			slog.Int("sequence", seq),
			slog.Any("err", err),
		)
	}
	return rec
}

func (e *Expander) GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurringSeries, error) {
	s, err := e.repo.GetSeries(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.RecurringSeries{}, apperr.NotFound("series", id.String())
		}
		return domain.RecurringSeries{}, apperr.Transient("get series", err)
	}
	return s, nil
}

func (e *Expander) ListOccurrences(ctx context.Context, id uuid.UUID) ([]domain.SeriesOccurrence, error) {
	if _, err := e.GetSeries(ctx, id); err != nil {
		return nil, err
	}
	occs, err := e.repo.ListOccurrences(ctx, id)
	if err != nil {
		return nil, apperr.Transient("list occurrences", err)
	}
	return occs, nil
}
