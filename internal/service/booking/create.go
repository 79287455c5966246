package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/metrics"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/timezone"
)

func (c *Transactional) CreateBooking(ctx context.Context, in CreateInput) (appt domain.Appointment, err error) {
	began := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.opts.OperationTimeout)
	defer cancel()

	log := c.log.With(slog.String("op", "create"), slog.String("barber_id", in.BarberID))
	defer func() {
		metrics.ObserveBookingDuration("create", time.Since(began).Seconds())
		metrics.IncBookingOutcome("create", outcomeOf(err))
	}()

	if err := validateCreate(in); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		return domain.Appointment{}, err
	}
	key, existing, ok, err := c.resolveKey(ctx, in)
	log = log.With(slog.String("idempotency_key", key))
	if err != nil {
		log.Error("idempotency lookup failed", slog.Any("err", err))
		return domain.Appointment{}, err
	} else if ok {
		c.warnOnMismatch(log, existing, in)
		log.Info("booking replayed", slog.String("appointment_id", existing.ID.String()))
		return existing, nil
	}

	barber, err := c.loadBarber(ctx, in.BarberID)
	if err != nil {
		c.logFailure(log, "booking rejected", err)
		return domain.Appointment{}, err
	}
	start := in.StartTime.UTC()
	if err := c.checkSlot(ctx, in.Caller, barber, in.LocationID, start, in.DurationMinutes); err != nil {
		c.logFailure(log, "booking rejected", err)
		return domain.Appointment{}, err
	}

	before, err := bufferOr(in.BufferBeforeMinutes, barber.BufferBeforeMinutes)
	if err != nil {
		return domain.Appointment{}, err
	}
	after, err := bufferOr(in.BufferAfterMinutes, barber.BufferAfterMinutes)
	if err != nil {
		return domain.Appointment{}, err
	}

	candidate := c.newAppointment(in, barber, key, start)
	checkFrom := candidate.StartTime.Add(-time.Duration(before) * time.Minute)
	checkTo := candidate.EndTime.Add(time.Duration(after) * time.Minute)

	var replayed bool
	for attempt := 1; ; attempt++ {
		appt, replayed, err = c.insertOnce(ctx, candidate, checkFrom, checkTo)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrConcurrentWrite) || errors.Is(err, store.ErrConflict) {
			if attempt < maxAttempts {
				metrics.IncBookingRetry("create")
				log.Info("booking raced, retrying", slog.Int("attempt", attempt), slog.Any("err", err))
				continue
			}
			err = &apperr.ConflictError{Msg: "time range was taken by a concurrent booking", Err: err}
		}
		err = c.translate("create booking", err)
		c.logFailure(log, "booking failed", err)
		return domain.Appointment{}, err
	}

	if replayed {
		c.warnOnMismatch(log, appt, in)
		log.Info("booking replayed", slog.String("appointment_id", appt.ID.String()))
		return appt, nil
	}

	if c.cache != nil {
		if err := c.cache.Remember(context.WithoutCancel(ctx), key, appt.ID); err != nil {
			log.Warn("idempotency cache write failed", slog.Any("err", err))
		}
	}
	log.Info(
		"booking created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("client_id", appt.ClientID),
		slog.Time("start_time", appt.StartTime),
		slog.Time("end_time", appt.EndTime),
	)
	c.publish(ctx, Event{Kind: EventCreated, After: appt})
	return appt, nil
}

// insertOnce is one check-then-insert inside the barber's transaction.
func (c *Transactional) insertOnce(ctx context.Context, candidate domain.Appointment, checkFrom, checkTo time.Time) (domain.Appointment, bool, error) {
	var (
		out      domain.Appointment
		replayed bool
	)
	err := c.appts.InBarberTransaction(ctx, candidate.BarberID, func(ctx context.Context, tx store.BookingTx) error {
		existing, err := tx.FindByIdempotencyKey(ctx, candidate.IdempotencyKey)
		if err == nil {
			out, replayed = existing, true
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ids, err := c.conflicts.FindConflictsTx(ctx, tx, candidate.BarberID, checkFrom, checkTo, candidate.ID)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return &apperr.ConflictError{ConflictingIDs: ids}
		}

		out, err = tx.InsertAppointment(ctx, candidate)
		return err
	})
	return out, replayed, err
}

// resolveKey picks the stored idempotency key for in and returns any booking
// already made under it. Caller keys are scoped to the client. Without a
// caller key the key is derived from the request; a derived key whose booking
// has reached a terminal status moves on to the next generation so the slot
// can be booked again.
func (c *Transactional) resolveKey(ctx context.Context, in CreateInput) (string, domain.Appointment, bool, error) {
	if key := strings.TrimSpace(in.IdempotencyKey); key != "" {
		key = ScopedKey(in.ClientID, key)
		existing, ok, err := c.replay(ctx, key)
		return key, existing, ok, err
	}

	base := derivedKey(in)
	key := base
	for gen := 2; ; gen++ {
		existing, ok, err := c.replay(ctx, key)
		if err != nil || !ok || !existing.Status.Terminal() {
			return key, existing, ok, err
		}
		key = fmt.Sprintf("%s#%d", base, gen)
	}
}

// ScopedKey is the stored form of a caller-supplied idempotency key.
func ScopedKey(clientID, key string) string {
	return "client:" + clientID + ":" + key
}

// replay finds a booking already made under key, through the cache first.
func (c *Transactional) replay(ctx context.Context, key string) (domain.Appointment, bool, error) {
	if c.cache != nil {
		id, ok, err := c.cache.Lookup(ctx, key)
		if err != nil {
			c.log.Warn("idempotency cache lookup failed", slog.Any("err", err))
		} else if ok {
			appt, err := c.appts.GetAppointment(ctx, id)
			if err == nil {
				return appt, true, nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return domain.Appointment{}, false, c.translate("get appointment", err)
			}
		}
	}

	appt, err := c.appts.FindByIdempotencyKey(ctx, key)
	if err == nil {
		return appt, true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return domain.Appointment{}, false, nil
	}
	return domain.Appointment{}, false, c.translate("find by idempotency key", err)
}

func (c *Transactional) newAppointment(in CreateInput, barber domain.Barber, key string, start time.Time) domain.Appointment {
	locationID := in.LocationID
	if locationID == "" {
		locationID = barber.LocationID
	}
	tz := barber.Timezone
	if !timezone.IsValid(tz) {
		tz = c.opts.DefaultTimezone
	}
	return domain.Appointment{
		ID:                  domain.IdempotentID(key),
		BarberID:            in.BarberID,
		LocationID:          locationID,
		ClientID:            in.ClientID,
		ServiceID:           in.ServiceID,
		StartTime:           start,
		EndTime:             start.Add(time.Duration(in.DurationMinutes) * time.Minute),
		DurationMinutes:     in.DurationMinutes,
		Timezone:            tz,
		Status:              domain.StatusPending,
		Version:             1,
		IdempotencyKey:      key,
		RecurringSeriesID:   in.RecurringSeriesID,
		IsRecurringInstance: in.RecurringSeriesID != nil,
		RecurrenceSequence:  in.RecurrenceSequence,
		Notes:               strings.TrimSpace(in.Notes),
	}
}

func (c *Transactional) warnOnMismatch(log *slog.Logger, existing domain.Appointment, in CreateInput) {
	if existing.BarberID == in.BarberID &&
		existing.ClientID == in.ClientID &&
		existing.StartTime.Equal(in.StartTime) &&
		existing.DurationMinutes == in.DurationMinutes {
		return
	}
	log.Warn(
		"idempotent replay with a different payload",
		slog.String("appointment_id", existing.ID.String()),
		slog.Time("stored_start", existing.StartTime),
		slog.Time("requested_start", in.StartTime),
	)
}

func (c *Transactional) logFailure(log *slog.Logger, msg string, err error) {
	switch {
	case apperr.IsTransient(err):
		log.Error(msg, slog.Any("err", err))
	case apperr.IsValidation(err):
		log.Warn(msg, slog.Any("err", err))
	default:
		log.Info(msg, slog.Any("err", err))
	}
}

func validateCreate(in CreateInput) error {
	switch {
	case strings.TrimSpace(in.BarberID) == "":
		return apperr.Validation(apperr.CodeInvalidInput, "barber_id is required")
	case strings.TrimSpace(in.ClientID) == "":
		return apperr.Validation(apperr.CodeInvalidInput, "client_id is required")
	case strings.TrimSpace(in.ServiceID) == "":
		return apperr.Validation(apperr.CodeInvalidInput, "service_id is required")
	case in.StartTime.IsZero():
		return apperr.Validation(apperr.CodeInvalidInput, "start_time is required")
	case in.DurationMinutes <= 0 || in.DurationMinutes > maxDurationMinutes:
		return apperr.Validation(apperr.CodeInvalidInput, "duration must be between 1 and 1440 minutes")
	case len(in.IdempotencyKey) > maxKeyLength:
		return apperr.Validation(apperr.CodeInvalidInput, "idempotency_key too long")
	}
	return nil
}

// derivedKey stands in for a missing idempotency key so an identical retry
// still lands on the same row.
func derivedKey(in CreateInput) string {
	return fmt.Sprintf("auto:%s|%s|%s|%s|%d",
		in.BarberID, in.ClientID, in.ServiceID, in.StartTime.UTC().Format(time.RFC3339), in.DurationMinutes)
}
