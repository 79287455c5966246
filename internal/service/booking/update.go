package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/metrics"
	"barbercal/backend/internal/store"
)

func (c *Transactional) UpdateBooking(ctx context.Context, in UpdateInput) (appt domain.Appointment, err error) {
	began := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()

	log := c.log.With(slog.String("op", "update"), slog.String("appointment_id", in.AppointmentID.String()))
	defer func() {
		metrics.ObserveBookingDuration("update", time.Since(began).Seconds())
		metrics.IncBookingOutcome("update", outcomeOf(err))
	}()

	if err := validateUpdate(in); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		return domain.Appointment{}, err
	}

	current, err := c.appts.GetAppointment(ctx, in.AppointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, apperr.NotFound("appointment", in.AppointmentID.String())
		}
		err = c.translate("get appointment", err)
		log.Error("update failed", slog.Any("err", err))
		return domain.Appointment{}, err
	}
	if current.Version != in.ExpectedVersion {
		log.Info("stale version", slog.Int("expected", in.ExpectedVersion), slog.Int("current", current.Version))
		return domain.Appointment{}, &apperr.ConcurrencyError{
			AppointmentID:   current.ID,
			ExpectedVersion: in.ExpectedVersion,
			CurrentVersion:  current.Version,
		}
	}

	barber, err := c.loadBarber(ctx, current.BarberID)
	if err != nil {
		c.logFailure(log, "update rejected", err)
		return domain.Appointment{}, err
	}

	// Validate the target range outside the transaction; the patch is
	// re-applied to the locked row below.
	preview, err := applyPatch(current, in.Patch)
	if err != nil {
		log.Warn("update rejected", slog.Any("err", err))
		return domain.Appointment{}, err
	}
	if retimed(current, preview) {
		if err := c.checkSlot(ctx, in.Caller, barber, current.LocationID, preview.StartTime, preview.DurationMinutes); err != nil {
			c.logFailure(log, "update rejected", err)
			return domain.Appointment{}, err
		}
	}

	var before domain.Appointment
	for attempt := 1; ; attempt++ {
		before, appt, err = c.updateOnce(ctx, in, barber)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrConcurrentWrite) || errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrVersionMismatch) {
			retry, cErr := c.canRetryUpdate(ctx, in, attempt)
			if retry {
				metrics.IncBookingRetry("update")
				log.Info("update raced, retrying", slog.Int("attempt", attempt), slog.Any("err", err))
				continue
			}
			err = cErr
		}
		err = c.translate("update booking", err)
		c.logFailure(log, "update failed", err)
		return domain.Appointment{}, err
	}

	log.Info(
		"booking updated",
		slog.String("status", string(appt.Status)),
		slog.Int("version", appt.Version),
		slog.Time("start_time", appt.StartTime),
	)
	c.publish(ctx, Event{Kind: EventUpdated, Before: &before, After: appt})
	return appt, nil
}

// canRetryUpdate reloads the row after a commit-time race. The update is
// retried only if nobody else advanced the version.
func (c *Transactional) canRetryUpdate(ctx context.Context, in UpdateInput, attempt int) (bool, error) {
	stale := &apperr.ConcurrencyError{AppointmentID: in.AppointmentID, ExpectedVersion: in.ExpectedVersion}
	reloaded, err := c.appts.GetAppointment(ctx, in.AppointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, apperr.NotFound("appointment", in.AppointmentID.String())
		}
		return false, c.translate("reload appointment", err)
	}
	stale.CurrentVersion = reloaded.Version
	if reloaded.Version != in.ExpectedVersion || attempt >= maxAttempts {
		return false, stale
	}
	return true, nil
}

func (c *Transactional) updateOnce(ctx context.Context, in UpdateInput, barber domain.Barber) (domain.Appointment, domain.Appointment, error) {
	var before, after domain.Appointment
	err := c.appts.InBarberTransaction(ctx, barber.ID, func(ctx context.Context, tx store.BookingTx) error {
		row, err := tx.GetAppointment(ctx, in.AppointmentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("appointment", in.AppointmentID.String())
			}
			return err
		}
		if row.Version != in.ExpectedVersion {
			return &apperr.ConcurrencyError{AppointmentID: row.ID, ExpectedVersion: in.ExpectedVersion, CurrentVersion: row.Version}
		}

		next, err := applyPatch(row, in.Patch)
		if err != nil {
			return err
		}
		if next.Status.Active() && (retimed(row, next) || !row.Status.Active()) {
			from := next.StartTime.Add(-time.Duration(barber.BufferBeforeMinutes) * time.Minute)
			to := next.EndTime.Add(time.Duration(barber.BufferAfterMinutes) * time.Minute)
			ids, err := c.conflicts.FindConflictsTx(ctx, tx, row.BarberID, from, to, row.ID)
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				return &apperr.ConflictError{ConflictingIDs: ids}
			}
		}

		next.Version = row.Version + 1
		saved, err := tx.UpdateAppointment(ctx, next, in.ExpectedVersion)
		if err != nil {
			if errors.Is(err, store.ErrVersionMismatch) {
				return &apperr.ConcurrencyError{AppointmentID: row.ID, ExpectedVersion: in.ExpectedVersion}
			}
			return err
		}
		before, after = row, saved
		return nil
	})
	return before, after, err
}

// applyPatch returns row with p applied, enforcing the status machine.
func applyPatch(row domain.Appointment, p Patch) (domain.Appointment, error) {
	next := row

	if p.Status != nil && *p.Status != row.Status {
		if !domain.CanTransition(row.Status, *p.Status) {
			return domain.Appointment{}, apperr.Validationf(apperr.CodeInvalidTransition, "cannot move appointment from %s to %s", row.Status, *p.Status)
		}
		next.Status = *p.Status
	}

	if p.StartTime != nil || p.DurationMinutes != nil {
		if row.Status.Terminal() {
			return domain.Appointment{}, apperr.Validationf(apperr.CodeInvalidTransition, "appointment is %s and cannot be rescheduled", row.Status)
		}
		if p.StartTime != nil {
			next.StartTime = p.StartTime.UTC()
		}
		if p.DurationMinutes != nil {
			next.DurationMinutes = *p.DurationMinutes
		}
		next.EndTime = next.StartTime.Add(next.Duration())
		if retimed(row, next) {
			if row.IsRecurringInstance && row.OriginalScheduledDate == nil {
				original := row.StartTime
				next.OriginalScheduledDate = &original
			}
			next.NeedsReschedule = false
		}
	}

	if p.ServiceID != nil {
		id := strings.TrimSpace(*p.ServiceID)
		if id == "" {
			return domain.Appointment{}, apperr.Validation(apperr.CodeInvalidInput, "service_id must not be empty")
		}
		next.ServiceID = id
	}
	if p.Notes != nil {
		next.Notes = strings.TrimSpace(*p.Notes)
	}
	if p.NeedsReschedule != nil {
		next.NeedsReschedule = *p.NeedsReschedule
	}
	return next, nil
}

func retimed(a, b domain.Appointment) bool {
	return !a.StartTime.Equal(b.StartTime) || a.DurationMinutes != b.DurationMinutes
}

func validateUpdate(in UpdateInput) error {
	switch {
	case in.AppointmentID == uuid.Nil:
		return apperr.Validation(apperr.CodeInvalidInput, "appointment_id is required")
	case in.ExpectedVersion < 1:
		return apperr.Validation(apperr.CodeInvalidInput, "expected_version must be at least 1")
	case in.Patch.empty():
		return apperr.Validation(apperr.CodeInvalidInput, "nothing to update")
	case in.Patch.Status != nil && !in.Patch.Status.Valid():
		return apperr.Validationf(apperr.CodeInvalidInput, "unknown status %q", *in.Patch.Status)
	case in.Patch.DurationMinutes != nil && (*in.Patch.DurationMinutes <= 0 || *in.Patch.DurationMinutes > maxDurationMinutes):
		return apperr.Validation(apperr.CodeInvalidInput, "duration must be between 1 and 1440 minutes")
	case in.Patch.StartTime != nil && in.Patch.StartTime.IsZero():
		return apperr.Validation(apperr.CodeInvalidInput, "start_time must not be empty")
	}
	return nil
}
