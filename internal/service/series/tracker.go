package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/store"
)

type activeLister interface {
	ListActive(ctx context.Context, filter store.AppointmentFilter) ([]domain.Appointment, error)
}

// Tracker keeps series counters current as instances change after
// generation. It is registered as a booking observer.
type Tracker struct {
	repo  store.SeriesRepository
	appts activeLister
	log   *slog.Logger
}

var _ booking.Observer = (*Tracker)(nil)

func NewTracker(repo store.SeriesRepository, appts activeLister, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		repo:  repo,
		appts: appts,
		log:   log.With(slog.String("component", "series.tracker")),
	}
}

func (t *Tracker) Observe(ctx context.Context, ev booking.Event) error {
	if ev.Kind != booking.EventUpdated || ev.Before == nil || ev.After.RecurringSeriesID == nil {
		return nil
	}
	before, after := *ev.Before, ev.After
	seriesID := *after.RecurringSeriesID

	var delta domain.SeriesDelta
	switch {
	case before.Status.Active() && after.Status == domain.StatusCancelled:
		delta.Completed, delta.Cancelled = -1, 1
	case after.Status.Active() && (!before.StartTime.Equal(after.StartTime) || before.DurationMinutes != after.DurationMinutes):
		delta.Rescheduled = 1
	}

	if before.Status.Active() && after.Status.Terminal() {
		remaining, err := t.appts.ListActive(ctx, store.AppointmentFilter{SeriesID: &seriesID})
		if err != nil {
			return fmt.Errorf("list series instances: %w", err)
		}
		if len(remaining) == 0 {
			done := domain.SeriesStatusCompleted
			delta.Status = &done
		}
	}
	if delta == (domain.SeriesDelta{}) {
		return nil
	}

	s, err := t.repo.AdjustCounters(ctx, seriesID, delta)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			t.log.Warn("instance points at a missing series", slog.String("series_id", seriesID.String()))
			return nil
		}
		return fmt.Errorf("adjust series counters: %w", err)
	}
	t.log.Info(
		"series counters adjusted",
		slog.String("series_id", seriesID.String()),
		slog.String("appointment_id", after.ID.String()),
		slog.Int("completed", s.TotalCompleted),
		slog.Int("cancelled", s.TotalCancelled),
		slog.Int("rescheduled", s.TotalRescheduled),
		slog.String("status", string(s.Status)),
	)
	return nil
}
