// Package calendarsync applies changes signalled by an external calendar
// through the regular booking update path.
package calendarsync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/store"
)

const maxAttempts = 2

// Change is a reconciliation signal for one appointment.
type Change struct {
	AppointmentID   uuid.UUID
	NewStart        *time.Time
	DurationMinutes *int
	Cancelled       bool
}

type appointmentGetter interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
}

type updater interface {
	UpdateBooking(ctx context.Context, in booking.UpdateInput) (domain.Appointment, error)
}

type Reconciler struct {
	appts appointmentGetter
	coord updater
	log   *slog.Logger
}

func NewReconciler(appts appointmentGetter, coord updater, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		appts: appts,
		coord: coord,
		log:   log.With(slog.String("component", "calendarsync")),
	}
}

// Reconcile loads the current row and updates it at its current version.
// A stale version is reloaded and retried once. A change that is already
// reflected returns the row unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, ch Change) (domain.Appointment, error) {
	if ch.AppointmentID == uuid.Nil {
		return domain.Appointment{}, apperr.Validation(apperr.CodeInvalidInput, "appointment_id is required")
	}
	if !ch.Cancelled && ch.NewStart == nil && ch.DurationMinutes == nil {
		return domain.Appointment{}, apperr.Validation(apperr.CodeInvalidInput, "nothing to reconcile")
	}
	log := r.log.With(slog.String("appointment_id", ch.AppointmentID.String()))

	for attempt := 1; ; attempt++ {
		current, err := r.appts.GetAppointment(ctx, ch.AppointmentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Appointment{}, apperr.NotFound("appointment", ch.AppointmentID.String())
			}
			return domain.Appointment{}, apperr.Transient("get appointment", err)
		}

		patch, changed := patchFor(current, ch)
		if !changed {
			log.Info("calendar change already applied")
			return current, nil
		}

		updated, err := r.coord.UpdateBooking(ctx, booking.UpdateInput{
			Caller:          booking.SystemCaller,
			AppointmentID:   current.ID,
			ExpectedVersion: current.Version,
			Patch:           patch,
		})
		if err == nil {
			log.Info("calendar change applied", slog.Int("version", updated.Version))
			return updated, nil
		}
		if !apperr.IsConcurrency(err) || attempt >= maxAttempts {
			log.Warn("calendar change rejected", slog.Any("err", err))
			return domain.Appointment{}, err
		}
		log.Info("calendar change raced, reloading", slog.Any("err", err))
	}
}

func patchFor(current domain.Appointment, ch Change) (booking.Patch, bool) {
	var p booking.Patch
	if ch.Cancelled {
		if current.Status == domain.StatusCancelled {
			return p, false
		}
		cancelled := domain.StatusCancelled
		p.Status = &cancelled
		return p, true
	}

	changed := false
	if ch.NewStart != nil && !ch.NewStart.Equal(current.StartTime) {
		start := *ch.NewStart
		p.StartTime = &start
		changed = true
	}
	if ch.DurationMinutes != nil && *ch.DurationMinutes != current.DurationMinutes {
		d := *ch.DurationMinutes
		p.DurationMinutes = &d
		changed = true
	}
	return p, changed
}
