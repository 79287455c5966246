// Package deposits confirms pending bookings once the payment collaborator
// reports the deposit settled.
package deposits

import (
	"context"
	"fmt"
	"log/slog"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/notify"
	"barbercal/backend/internal/service/booking"
)

// Collector asks the payment side whether the deposit for appt is settled.
// A false result leaves the booking pending.
type Collector interface {
	Collect(ctx context.Context, appt domain.Appointment) (bool, error)
}

// Waived is the collector for shops that take no deposit.
type Waived struct{}

func (Waived) Collect(ctx context.Context, appt domain.Appointment) (bool, error) {
	return true, nil
}

type updater interface {
	UpdateBooking(ctx context.Context, in booking.UpdateInput) (domain.Appointment, error)
}

type submitter interface {
	Submit(name string, task notify.Task) bool
}

type Follower struct {
	collector Collector
	coord     updater
	queue     submitter
	log       *slog.Logger
}

var _ booking.Observer = (*Follower)(nil)

func NewFollower(collector Collector, coord updater, queue submitter, log *slog.Logger) *Follower {
	if log == nil {
		log = slog.Default()
	}
	return &Follower{
		collector: collector,
		coord:     coord,
		queue:     queue,
		log:       log.With(slog.String("component", "deposits.follower")),
	}
}

func (f *Follower) Observe(ctx context.Context, ev booking.Event) error {
	if ev.Kind != booking.EventCreated || ev.After.Status != domain.StatusPending {
		return nil
	}
	appt := ev.After
	name := "deposit:" + appt.ID.String()
	if !f.queue.Submit(name, func(ctx context.Context) error { return f.Follow(ctx, appt) }) {
		return fmt.Errorf("deposit follow-up %s dropped", name)
	}
	return nil
}

// Follow runs the collector for appt and confirms it on success. A booking
// changed in the meantime is left alone.
func (f *Follower) Follow(ctx context.Context, appt domain.Appointment) error {
	log := f.log.With(slog.String("appointment_id", appt.ID.String()))

	paid, err := f.collector.Collect(ctx, appt)
	if err != nil {
		log.Warn("deposit collection failed", slog.Any("err", err))
		return fmt.Errorf("collect deposit: %w", err)
	}
	if !paid {
		log.Info("deposit outstanding, booking stays pending")
		return nil
	}

	confirmed := domain.StatusConfirmed
	_, err = f.coord.UpdateBooking(ctx, booking.UpdateInput{
		Caller:          booking.SystemCaller,
		AppointmentID:   appt.ID,
		ExpectedVersion: appt.Version,
		Patch:           booking.Patch{Status: &confirmed},
	})
	switch {
	case err == nil:
		log.Info("booking confirmed after deposit")
		return nil
	case apperr.IsConcurrency(err), apperr.IsNotFound(err):
		log.Info("booking changed before confirmation, skipping", slog.Any("err", err))
		return nil
	default:
		return fmt.Errorf("confirm booking: %w", err)
	}
}
