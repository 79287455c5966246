package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

type appointmentGetter interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
}

// SystemCaller identifies writes the engine makes on its own behalf.
var SystemCaller = Caller{ManageBookings: true}

// Flagger marks appointments displaced by a blackout for manual reschedule
// through the regular update path.
type Flagger struct {
	coord BookingCoordinator
	appts appointmentGetter
}

func NewFlagger(coord BookingCoordinator, appts appointmentGetter) *Flagger {
	return &Flagger{coord: coord, appts: appts}
}

// FlagForReschedule sets NeedsReschedule on appt. A stale version is
// reloaded and retried once.
func (f *Flagger) FlagForReschedule(ctx context.Context, appt domain.Appointment) error {
	flag := true
	version := appt.Version
	for attempt := 1; ; attempt++ {
		_, err := f.coord.UpdateBooking(ctx, UpdateInput{
			Caller:          SystemCaller,
			AppointmentID:   appt.ID,
			ExpectedVersion: version,
			Patch:           Patch{NeedsReschedule: &flag},
		})
		if err == nil || !apperr.IsConcurrency(err) || attempt >= maxAttempts {
			return err
		}

		current, gErr := f.appts.GetAppointment(ctx, appt.ID)
		if gErr != nil {
			if errors.Is(gErr, store.ErrNotFound) {
				return apperr.NotFound("appointment", appt.ID.String())
			}
			return apperr.Transient("reload appointment", gErr)
		}
		if !current.Status.Active() || current.NeedsReschedule {
			return nil
		}
		version = current.Version
	}
}
