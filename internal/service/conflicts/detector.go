// Package conflicts answers whether a barber's time range intersects an
// active appointment. Reads never degrade to "no conflicts": a store failure
// is returned as a transient error.
package conflicts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

type appointmentLister interface {
	ListActive(ctx context.Context, filter store.AppointmentFilter) ([]domain.Appointment, error)
}

type Detector struct {
	appts appointmentLister
}

func NewDetector(appts appointmentLister) *Detector {
	return &Detector{appts: appts}
}

// FindConflicts lists ids of pending/confirmed appointments of barberID
// intersecting [start, end).
func (d *Detector) FindConflicts(ctx context.Context, barberID string, start, end time.Time) ([]uuid.UUID, error) {
	appts, err := d.ActiveBetween(ctx, barberID, start, end)
	if err != nil {
		return nil, err
	}
	return overlappingIDs(appts, start, end, uuid.Nil), nil
}

// FindConflictsTx runs the same check through an open booking transaction
// so it observes the caller's own staged writes.
func (d *Detector) FindConflictsTx(ctx context.Context, tx store.BookingTx, barberID string, start, end time.Time, excludeID uuid.UUID) ([]uuid.UUID, error) {
	appts, err := tx.FindOverlapping(ctx, barberID, start.UTC(), end.UTC(), excludeID)
	if err != nil {
		return nil, apperr.Transient("find conflicts", err)
	}
	return overlappingIDs(appts, start, end, excludeID), nil
}

// ActiveBetween returns the active appointments touching [from, to), ordered by start.
func (d *Detector) ActiveBetween(ctx context.Context, barberID string, from, to time.Time) ([]domain.Appointment, error) {
	if !to.After(from) {
		return nil, nil
	}
	appts, err := d.appts.ListActive(ctx, store.AppointmentFilter{
		BarberID:    barberID,
		WindowStart: from.UTC(),
		WindowEnd:   to.UTC(),
	})
	if err != nil {
		return nil, apperr.Transient("list active appointments", err)
	}
	return appts, nil
}

func overlappingIDs(appts []domain.Appointment, start, end time.Time, excludeID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, a := range appts {
		if a.ID == excludeID || !a.Status.Active() {
			continue
		}
		if a.Overlaps(start, end) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}
