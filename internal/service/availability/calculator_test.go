package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/blackouts"
	"barbercal/backend/internal/service/conflicts"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/store/memory"
	"barbercal/backend/internal/timezone"
)

var saoPaulo = timezone.Location("America/Sao_Paulo")

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	registry *blackouts.Registry
	detector *conflicts.Detector
	calc     *Calculator
}

func newFixture(t *testing.T, now time.Time, lead *int, hours ...domain.WorkingHours) fixture {
	t.Helper()
	s := memory.New()
	s.PutBarber(domain.Barber{ID: "b1", LocationID: "loc1", Timezone: "America/Sao_Paulo", MinLeadMinutes: lead, Active: true})
	s.PutWorkingHours("b1", hours...)

	clock := timezone.FixedClock{At: now}
	reg := blackouts.NewRegistry(s, s, s, clock, nil)
	det := conflicts.NewDetector(s)
	calc := NewCalculator(s, det, reg, clock, Options{DefaultLeadMinutes: DefaultLeadMinutes}, nil)
	return fixture{store: s, registry: reg, detector: det, calc: calc}
}

func mondayShift(lunchStart, lunchEnd string) domain.WorkingHours {
	return domain.WorkingHours{Weekday: int(time.Monday), StartTime: "09:00", EndTime: "17:00", LunchStart: lunchStart, LunchEnd: lunchEnd, Active: true}
}

func intPtr(v int) *int { return &v }

func book(t *testing.T, s *memory.Store, start time.Time, minutes int) {
	t.Helper()
	key := "k-" + start.String()
	err := s.InBarberTransaction(context.Background(), "b1", func(ctx context.Context, tx store.BookingTx) error {
		_, err := tx.InsertAppointment(ctx, domain.Appointment{
			ID:              domain.IdempotentID(key),
			BarberID:        "b1",
			LocationID:      "loc1",
			StartTime:       start.UTC(),
			EndTime:         start.Add(time.Duration(minutes) * time.Minute).UTC(),
			DurationMinutes: minutes,
			Timezone:        "America/Sao_Paulo",
			Status:          domain.StatusConfirmed,
			Version:         1,
			IdempotencyKey:  key,
		})
		return err
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
}

func local(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, saoPaulo)
}

func TestGetAvailableSlots_FullFreeDay(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), intPtr(0), mondayShift("", ""))

	slots, err := f.calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	if len(slots) != 16 {
		t.Fatalf("slots = %d, want 16", len(slots))
	}
	if !slots[0].Start.Equal(local(9, 0)) {
		t.Fatalf("first slot = %v, want 09:00 local", slots[0].Start)
	}
	if !slots[15].Start.Equal(local(16, 30)) || !slots[15].End.Equal(local(17, 0)) {
		t.Fatalf("last slot = %v-%v, want 16:30-17:00 local", slots[15].Start, slots[15].End)
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].Start.After(slots[i-1].Start) {
			t.Fatalf("slots not chronological at %d", i)
		}
	}
}

func TestGetAvailableSlots_OverlappingShifts(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), intPtr(0),
		mondayShift("", ""),
		domain.WorkingHours{Weekday: int(time.Monday), StartTime: "10:00", EndTime: "12:00", Active: true},
	)
	book(t, f.store, local(16, 0), 30)

	slots, err := f.calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	// The short shift adds nothing; the booking late in the long one still counts.
	if len(slots) != 15 {
		t.Fatalf("slots = %d, want 15", len(slots))
	}
	for i, s := range slots {
		if s.Start.Equal(local(16, 0)) {
			t.Fatalf("slot %v overlaps the 16:00 booking", s.Start)
		}
		if i > 0 && !s.Start.After(slots[i-1].Start) {
			t.Fatalf("slots not strictly chronological at %d: %v after %v", i, s.Start, slots[i-1].Start)
		}
	}
}

func TestGetAvailableSlots_ExcludesBookedLunchAndBlackout(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), intPtr(0), mondayShift("12:00", "13:00"))
	book(t, f.store, local(10, 0), 30)
	f.store.PutBlackout(domain.BlackoutDate{BarberID: "b1", Date: monday, StartTime: "14:00", EndTime: "15:00", Reason: "meeting", IsActive: true})

	slots, err := f.calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	// 16 minus lunch (2), the booking (1) and the blackout (2).
	if len(slots) != 11 {
		t.Fatalf("slots = %d, want 11", len(slots))
	}
	excluded := []time.Time{local(10, 0), local(12, 0), local(12, 30), local(14, 0), local(14, 30)}
	for _, s := range slots {
		for _, ex := range excluded {
			if s.Start.Equal(ex) {
				t.Fatalf("slot %v should be excluded", s.Start)
			}
		}
	}
}

func TestGetAvailableSlots_BuffersWidenConflicts(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), intPtr(0), mondayShift("", ""))
	book(t, f.store, local(10, 0), 30)

	slots, err := f.calc.GetAvailableSlots(context.Background(), Query{
		BarberID:               "b1",
		Date:                   monday,
		ServiceDurationMinutes: 30,
		BufferBeforeMinutes:    intPtr(15),
		BufferAfterMinutes:     intPtr(15),
	})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	if len(slots) != 13 {
		t.Fatalf("slots = %d, want 13", len(slots))
	}

	_, err = f.calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30, BufferAfterMinutes: intPtr(-5)})
	if !apperr.IsValidation(err) {
		t.Fatalf("negative buffer error = %v, want validation", err)
	}
}

func TestGetAvailableSlots_LeadTime(t *testing.T) {
	now := local(10, 10)
	f := newFixture(t, now, nil, mondayShift("", ""))

	slots, err := f.calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	if len(slots) == 0 || !slots[0].Start.Equal(local(12, 30)) {
		t.Fatalf("first slot = %v, want 12:30 local with the default lead time", slots)
	}

	f = newFixture(t, now, intPtr(30), mondayShift("", ""))
	slots, err = f.calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	if len(slots) == 0 || !slots[0].Start.Equal(local(11, 0)) {
		t.Fatalf("first slot = %v, want 11:00 local with the barber lead time", slots)
	}
}

func TestGetAvailableSlots_NoWorkingHoursIsEmpty(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), intPtr(0), mondayShift("", ""))

	slots, err := f.calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday.AddDate(0, 0, 1), ServiceDurationMinutes: 30})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Fatalf("slots = %v, want empty non-nil list", slots)
	}
}

func TestGetAvailableSlots_ConsistentWithBlackoutsAndConflicts(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), intPtr(0), mondayShift("12:00", "13:00"))
	book(t, f.store, local(9, 30), 45)
	book(t, f.store, local(15, 0), 30)
	f.store.PutBlackout(domain.BlackoutDate{LocationID: "loc1", Date: monday, StartTime: "16:00", EndTime: "16:45", IsActive: true})

	ctx := context.Background()
	slots, err := f.calc.GetAvailableSlots(ctx, Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30})
	if err != nil {
		t.Fatalf("GetAvailableSlots error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatalf("expected some slots")
	}
	for _, s := range slots {
		res, err := f.registry.IsBlocked(ctx, blackouts.Query{BarberID: "b1", Instant: s.Start, DurationMinutes: 30})
		if err != nil || res.Blocked {
			t.Fatalf("slot %v: blocked=%v err=%v", s.Start, res.Blocked, err)
		}
		ids, err := f.detector.FindConflicts(ctx, "b1", s.Start, s.End)
		if err != nil || len(ids) != 0 {
			t.Fatalf("slot %v: conflicts=%v err=%v", s.Start, ids, err)
		}
	}
}

func TestGetNextAvailable(t *testing.T) {
	saturdayEvening := time.Date(2026, 2, 28, 20, 0, 0, 0, saoPaulo)
	f := newFixture(t, saturdayEvening, intPtr(0), mondayShift("", ""))

	slot, err := f.calc.GetNextAvailable(context.Background(), "b1", 30, 7)
	if err != nil {
		t.Fatalf("GetNextAvailable error: %v", err)
	}
	if slot == nil || !slot.Start.Equal(local(9, 0)) {
		t.Fatalf("next slot = %v, want Monday 09:00 local", slot)
	}

	slot, err = f.calc.GetNextAvailable(context.Background(), "b1", 30, 1)
	if err != nil {
		t.Fatalf("GetNextAvailable error: %v", err)
	}
	if slot != nil {
		t.Fatalf("next slot = %v, want nil within one day", slot)
	}
}

type failingSchedules struct {
	store.ScheduleRepository
	getBarberFn func(ctx context.Context, barberID string) (domain.Barber, error)
}

func (f *failingSchedules) GetBarber(ctx context.Context, barberID string) (domain.Barber, error) {
	return f.getBarberFn(ctx, barberID)
}

func (f *failingSchedules) ListWorkingHours(ctx context.Context, barberID string) ([]domain.WorkingHours, error) {
	return nil, store.ErrUnavailable
}

func TestGetAvailableSlots_StoreFailureIsTransient(t *testing.T) {
	s := memory.New()
	schedules := &failingSchedules{
		getBarberFn: func(ctx context.Context, barberID string) (domain.Barber, error) {
			return domain.Barber{ID: barberID, Timezone: "UTC"}, nil
		},
	}
	calc := NewCalculator(schedules, conflicts.NewDetector(s), blackouts.NewRegistry(s, s, s, nil, nil), nil, Options{}, nil)

	slots, err := calc.GetAvailableSlots(context.Background(), Query{BarberID: "b1", Date: monday, ServiceDurationMinutes: 30})
	if err == nil {
		t.Fatalf("expected error, got %d slots", len(slots))
	}
	if !apperr.IsTransient(err) || !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("error = %v, want transient wrapping ErrUnavailable", err)
	}
}
