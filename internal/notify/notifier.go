package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/booking"
)

type Kind string

const (
	KindBooked      Kind = "booked"
	KindConfirmed   Kind = "confirmed"
	KindRescheduled Kind = "rescheduled"
	KindCancelled   Kind = "cancelled"
	KindNeedsAction Kind = "needs_reschedule"
)

// Notification is what a client is told about one committed change.
type Notification struct {
	Kind          Kind
	AppointmentID uuid.UUID
	ClientID      string
	BarberID      string
	StartTime     time.Time
	Timezone      string
}

// Sender delivers a notification. Delivery channels live outside the
// engine; the server ships LogSender.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, n Notification) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(
		ctx,
		"client notification",
		slog.String("kind", string(n.Kind)),
		slog.String("appointment_id", n.AppointmentID.String()),
		slog.String("client_id", n.ClientID),
		slog.String("barber_id", n.BarberID),
		slog.Time("start_time", n.StartTime),
	)
	return nil
}

type submitter interface {
	Submit(name string, task Task) bool
}

// Observer turns booking events into notifications and hands them to the
// dispatcher.
type Observer struct {
	sender Sender
	queue  submitter
}

var _ booking.Observer = (*Observer)(nil)

func NewObserver(sender Sender, queue submitter) *Observer {
	return &Observer{sender: sender, queue: queue}
}

func (o *Observer) Observe(ctx context.Context, ev booking.Event) error {
	kind, ok := classify(ev)
	if !ok {
		return nil
	}
	n := Notification{
		Kind:          kind,
		AppointmentID: ev.After.ID,
		ClientID:      ev.After.ClientID,
		BarberID:      ev.After.BarberID,
		StartTime:     ev.After.StartTime,
		Timezone:      ev.After.Timezone,
	}
	name := fmt.Sprintf("notify:%s:%s", kind, n.AppointmentID)
	if !o.queue.Submit(name, func(ctx context.Context) error { return o.sender.Send(ctx, n) }) {
		return fmt.Errorf("notification %s dropped", name)
	}
	return nil
}

func classify(ev booking.Event) (Kind, bool) {
	after := ev.After
	if ev.Kind == booking.EventCreated || ev.Before == nil {
		return KindBooked, true
	}
	before := *ev.Before
	switch {
	case before.Status != after.Status && after.Status == domain.StatusCancelled:
		return KindCancelled, true
	case before.Status != after.Status && after.Status == domain.StatusConfirmed:
		return KindConfirmed, true
	case !before.StartTime.Equal(after.StartTime) || before.DurationMinutes != after.DurationMinutes:
		return KindRescheduled, true
	case !before.NeedsReschedule && after.NeedsReschedule:
		return KindNeedsAction, true
	}
	return "", false
}
