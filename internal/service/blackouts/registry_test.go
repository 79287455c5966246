package blackouts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/store/memory"
	"barbercal/backend/internal/timezone"
)

var saoPaulo = timezone.Location("America/Sao_Paulo")

type fakeFlagger struct {
	flagFn func(ctx context.Context, appt domain.Appointment) error
}

func (f *fakeFlagger) FlagForReschedule(ctx context.Context, appt domain.Appointment) error {
	if f.flagFn == nil {
		panic("FlagForReschedule not configured")
	}
	return f.flagFn(ctx, appt)
}

type fakeBlackoutRepo struct {
	store.BlackoutRepository
	listCandidatesFn func(ctx context.Context, barberID, locationID string, from, to time.Time) ([]domain.BlackoutDate, error)
}

func (f *fakeBlackoutRepo) ListCandidates(ctx context.Context, barberID, locationID string, from, to time.Time) ([]domain.BlackoutDate, error) {
	return f.listCandidatesFn(ctx, barberID, locationID, from, to)
}

func newStore() *memory.Store {
	s := memory.New()
	s.PutBarber(domain.Barber{ID: "b1", LocationID: "loc1", Timezone: "America/Sao_Paulo", Active: true})
	s.PutBarber(domain.Barber{ID: "b2", LocationID: "loc2", Timezone: "America/Sao_Paulo", Active: true})
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsBlocked_FullAndPartialDay(t *testing.T) {
	s := newStore()
	full := s.PutBlackout(domain.BlackoutDate{BarberID: "b1", Date: day(2026, 3, 10), Reason: "holiday", IsActive: true})
	s.PutBlackout(domain.BlackoutDate{BarberID: "b1", Date: day(2026, 3, 11), StartTime: "12:00", EndTime: "14:00", Reason: "training", IsActive: true})

	reg := NewRegistry(s, s, s, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		instant  time.Time
		duration int
		blocked  bool
		reason   string
	}{
		{"full day morning", time.Date(2026, 3, 10, 9, 0, 0, 0, saoPaulo), 30, true, "holiday"},
		{"full day late evening", time.Date(2026, 3, 10, 23, 30, 0, 0, saoPaulo), 0, true, "holiday"},
		{"next day before partial", time.Date(2026, 3, 11, 11, 30, 0, 0, saoPaulo), 30, false, ""},
		{"partial overlaps", time.Date(2026, 3, 11, 11, 45, 0, 0, saoPaulo), 30, true, "training"},
		{"partial inside", time.Date(2026, 3, 11, 13, 0, 0, 0, saoPaulo), 0, true, "training"},
		{"after partial", time.Date(2026, 3, 11, 14, 0, 0, 0, saoPaulo), 30, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := reg.IsBlocked(ctx, Query{BarberID: "b1", Instant: tt.instant, DurationMinutes: tt.duration})
			if err != nil {
				t.Fatalf("IsBlocked error: %v", err)
			}
			if res.Blocked != tt.blocked {
				t.Fatalf("blocked = %v, want %v", res.Blocked, tt.blocked)
			}
			if res.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}

	res, err := reg.IsBlocked(ctx, Query{BarberID: "b1", Instant: time.Date(2026, 3, 10, 9, 0, 0, 0, saoPaulo)})
	if err != nil {
		t.Fatalf("IsBlocked error: %v", err)
	}
	if res.BlackoutID != full.ID {
		t.Fatalf("blackout_id = %s, want %s", res.BlackoutID, full.ID)
	}
}

func TestIsBlocked_LocationScope(t *testing.T) {
	s := newStore()
	s.PutBlackout(domain.BlackoutDate{LocationID: "loc1", Date: day(2026, 3, 10), Reason: "renovation", IsActive: true})

	reg := NewRegistry(s, s, s, nil, nil)
	at := time.Date(2026, 3, 10, 10, 0, 0, 0, saoPaulo)

	res, err := reg.IsBlocked(context.Background(), Query{BarberID: "b1", Instant: at, DurationMinutes: 30})
	if err != nil || !res.Blocked {
		t.Fatalf("b1 at loc1: blocked=%v err=%v, want blocked", res.Blocked, err)
	}
	res, err = reg.IsBlocked(context.Background(), Query{BarberID: "b2", Instant: at, DurationMinutes: 30})
	if err != nil || res.Blocked {
		t.Fatalf("b2 at loc2: blocked=%v err=%v, want free", res.Blocked, err)
	}
}

func TestIsBlocked_WeeklyRecurringExpandsLazily(t *testing.T) {
	s := newStore()
	// 2026-03-02 is a Monday.
	s.PutBlackout(domain.BlackoutDate{
		BarberID:          "b1",
		Date:              day(2026, 3, 2),
		IsRecurring:       true,
		RecurrencePattern: domain.BlackoutRecurrenceWeekly,
		Reason:            "day off",
		IsActive:          true,
	})
	reg := NewRegistry(s, s, s, nil, nil)

	monday := time.Date(2026, 6, 15, 10, 0, 0, 0, saoPaulo)
	res, err := reg.IsBlocked(context.Background(), Query{BarberID: "b1", Instant: monday, DurationMinutes: 30})
	if err != nil || !res.Blocked {
		t.Fatalf("monday: blocked=%v err=%v, want blocked", res.Blocked, err)
	}
	res, err = reg.IsBlocked(context.Background(), Query{BarberID: "b1", Instant: monday.AddDate(0, 0, 1), DurationMinutes: 30})
	if err != nil || res.Blocked {
		t.Fatalf("tuesday: blocked=%v err=%v, want free", res.Blocked, err)
	}
}

func TestIsBlocked_StoreFailureIsUnavailable(t *testing.T) {
	s := newStore()
	repo := &fakeBlackoutRepo{
		listCandidatesFn: func(ctx context.Context, barberID, locationID string, from, to time.Time) ([]domain.BlackoutDate, error) {
			return nil, errors.New("connection refused")
		},
	}
	reg := NewRegistry(repo, s, s, nil, nil)

	res, err := reg.IsBlocked(context.Background(), Query{BarberID: "b1", Instant: time.Now(), DurationMinutes: 30})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !res.Unavailable {
		t.Fatalf("Unavailable = false, want true")
	}
	if !apperr.IsTransient(err) || !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("error = %v, want transient wrapping ErrUnavailable", err)
	}
}

func TestIsBlocked_UnknownBarber(t *testing.T) {
	s := newStore()
	reg := NewRegistry(s, s, s, nil, nil)

	_, err := reg.IsBlocked(context.Background(), Query{BarberID: "nobody", Instant: time.Now()})
	if !apperr.IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func insertAppointment(t *testing.T, s *memory.Store, barberID string, start time.Time) domain.Appointment {
	t.Helper()
	key := barberID + start.String()
	var out domain.Appointment
	err := s.InBarberTransaction(context.Background(), barberID, func(ctx context.Context, tx store.BookingTx) error {
		var err error
		out, err = tx.InsertAppointment(ctx, domain.Appointment{
			ID:              domain.IdempotentID(key),
			BarberID:        barberID,
			LocationID:      "loc1",
			StartTime:       start.UTC(),
			EndTime:         start.Add(30 * time.Minute).UTC(),
			DurationMinutes: 30,
			Timezone:        "America/Sao_Paulo",
			Status:          domain.StatusConfirmed,
			Version:         1,
			IdempotencyKey:  key,
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert appointment: %v", err)
	}
	return out
}

func TestFlagAffected_FlagsOnlyCoveredAppointmentsOnce(t *testing.T) {
	s := newStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := s.PutBlackout(domain.BlackoutDate{
		BarberID:                    "b1",
		Date:                        day(2026, 3, 10),
		StartTime:                   "09:00",
		EndTime:                     "12:00",
		AffectsExistingAppointments: true,
		Reason:                      "plumbing",
		IsActive:                    true,
	})
	hit := insertAppointment(t, s, "b1", time.Date(2026, 3, 10, 10, 0, 0, 0, saoPaulo))
	insertAppointment(t, s, "b1", time.Date(2026, 3, 10, 12, 0, 0, 0, saoPaulo))
	insertAppointment(t, s, "b1", time.Date(2026, 3, 11, 10, 0, 0, 0, saoPaulo))

	reg := NewRegistry(s, s, s, timezone.FixedClock{At: now}, nil)

	var flagged []uuid.UUID
	flagger := &fakeFlagger{
		flagFn: func(ctx context.Context, appt domain.Appointment) error {
			flagged = append(flagged, appt.ID)
			return nil
		},
	}

	n, err := reg.FlagAffected(context.Background(), b.ID, flagger)
	if err != nil {
		t.Fatalf("FlagAffected error: %v", err)
	}
	if n != 1 || len(flagged) != 1 || flagged[0] != hit.ID {
		t.Fatalf("flagged = %v (n=%d), want only %s", flagged, n, hit.ID)
	}

	n, err = reg.FlagAffected(context.Background(), b.ID, flagger)
	if err != nil {
		t.Fatalf("second FlagAffected error: %v", err)
	}
	if n != 0 || len(flagged) != 1 {
		t.Fatalf("second run flagged %d more, want none", n)
	}
}

func TestFlagAffected_NotApplicable(t *testing.T) {
	s := newStore()
	b := s.PutBlackout(domain.BlackoutDate{BarberID: "b1", Date: day(2026, 3, 10), IsActive: true})
	reg := NewRegistry(s, s, s, nil, nil)

	_, err := reg.FlagAffected(context.Background(), b.ID, &fakeFlagger{})
	var vErr *apperr.ValidationError
	if !errors.As(err, &vErr) || vErr.Code != apperr.CodeNotApplicable {
		t.Fatalf("error = %v, want not_applicable validation error", err)
	}

	_, err = reg.FlagAffected(context.Background(), uuid.New(), &fakeFlagger{})
	if !apperr.IsNotFound(err) {
		t.Fatalf("error = %v, want not found", err)
	}
}
