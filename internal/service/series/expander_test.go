package series

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/apperr"
	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/service/blackouts"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/service/conflicts"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/store/memory"
	"barbercal/backend/internal/timezone"
)

var saoPaulo = timezone.Location("America/Sao_Paulo")

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCreator struct {
	createFn func(ctx context.Context, in booking.CreateInput) (domain.Appointment, error)
	calls    int
}

func (f *fakeCreator) CreateBooking(ctx context.Context, in booking.CreateInput) (domain.Appointment, error) {
	f.calls++
	if f.createFn == nil {
		panic("CreateBooking not configured")
	}
	return f.createFn(ctx, in)
}

type fakeSeriesRepo struct {
	store.SeriesRepository
	createSeriesFn func(ctx context.Context, pattern domain.RecurrencePattern, series domain.RecurringSeries) (domain.RecurrencePattern, domain.RecurringSeries, error)
}

func (f *fakeSeriesRepo) CreateSeries(ctx context.Context, pattern domain.RecurrencePattern, series domain.RecurringSeries) (domain.RecurrencePattern, domain.RecurringSeries, error) {
	return f.createSeriesFn(ctx, pattern, series)
}

type fixture struct {
	store *memory.Store
	coord *booking.Transactional
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	lead := 0
	s.PutBarber(domain.Barber{ID: "b1", LocationID: "loc1", Timezone: "America/Sao_Paulo", MinLeadMinutes: &lead, Active: true})
	for wd := 1; wd <= 6; wd++ {
		s.PutWorkingHours("b1", domain.WorkingHours{Weekday: wd, StartTime: "09:00", EndTime: "17:00", Active: true})
	}
	clock := timezone.FixedClock{At: now}
	coord, err := booking.NewTransactional(booking.Deps{
		Appointments: s,
		Schedules:    s,
		Conflicts:    conflicts.NewDetector(s),
		Blackouts:    blackouts.NewRegistry(s, s, s, clock, nil),
		Clock:        clock,
	}, booking.Options{})
	if err != nil {
		t.Fatalf("NewTransactional error: %v", err)
	}
	return fixture{store: s, coord: coord}
}

func weeklyTuesdays(count int) GenerateInput {
	return GenerateInput{
		Pattern: domain.RecurrencePattern{
			Frequency:       domain.RecurrenceFrequencyWeekly,
			Interval:        1,
			Weekdays:        []int16{2},
			OccurrenceCount: &count,
			Timezone:        "America/Sao_Paulo",
		},
		UserID:          "c1",
		FirstOccurrence: time.Date(2026, 3, 3, 10, 0, 0, 0, saoPaulo),
		Template: booking.CreateInput{
			BarberID:        "b1",
			ClientID:        "c1",
			ServiceID:       "haircut",
			DurationMinutes: 30,
		},
	}
}

func outcomes(t *testing.T, e *Expander, id uuid.UUID) []domain.OccurrenceOutcome {
	t.Helper()
	occs, err := e.ListOccurrences(context.Background(), id)
	if err != nil {
		t.Fatalf("ListOccurrences error: %v", err)
	}
	out := make([]domain.OccurrenceOutcome, len(occs))
	for i, o := range occs {
		out[i] = o.Outcome
	}
	return out
}

func TestGenerateSeries_WeeklyWithBlackout(t *testing.T) {
	f := newFixture(t)
	f.store.PutBlackout(domain.BlackoutDate{
		BarberID: "b1",
		Date:     time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC),
		Reason:   "holiday",
		IsActive: true,
	})
	e := NewExpander(f.store, f.store, f.coord, nil)

	s, err := e.GenerateSeries(context.Background(), weeklyTuesdays(8))
	if err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	if s.TotalPlanned != 8 || s.TotalCompleted != 7 || s.TotalCancelled != 1 || s.TotalRescheduled != 0 {
		t.Fatalf("counters = %d/%d/%d/%d, want 8/7/1/0", s.TotalPlanned, s.TotalCompleted, s.TotalCancelled, s.TotalRescheduled)
	}
	if s.CompletionPercentage != 0.875 {
		t.Fatalf("completion = %v, want 0.875", s.CompletionPercentage)
	}
	if s.Status != domain.SeriesStatusActive {
		t.Fatalf("status = %s, want active", s.Status)
	}

	got := outcomes(t, e, s.ID)
	if len(got) != 8 || got[2] != domain.OutcomeSkippedBlackout {
		t.Fatalf("outcomes = %v, want the third skipped by the blackout", got)
	}

	instances, err := f.store.ListActive(context.Background(), store.AppointmentFilter{SeriesID: &s.ID})
	if err != nil {
		t.Fatalf("ListActive error: %v", err)
	}
	if len(instances) != 7 {
		t.Fatalf("instances = %d, want 7", len(instances))
	}
	for _, a := range instances {
		if !a.IsRecurringInstance || a.RecurringSeriesID == nil || a.RecurrenceSequence == nil {
			t.Fatalf("instance %s is not linked to its series", a.ID)
		}
		if a.StartTime.In(saoPaulo).Hour() != 10 {
			t.Fatalf("instance starts at %v, want 10:00 local", a.StartTime.In(saoPaulo))
		}
	}
}

func TestGenerateSeries_AutoRescheduleBlackout(t *testing.T) {
	f := newFixture(t)
	f.store.PutBlackout(domain.BlackoutDate{
		BarberID:       "b1",
		Date:           time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC),
		Reason:         "holiday",
		AutoReschedule: true,
		IsActive:       true,
	})
	e := NewExpander(f.store, f.store, f.coord, nil)

	s, err := e.GenerateSeries(context.Background(), weeklyTuesdays(8))
	if err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	if s.TotalCompleted != 7 || s.TotalCancelled != 0 || s.TotalRescheduled != 1 {
		t.Fatalf("counters = %d/%d/%d, want 7/0/1", s.TotalCompleted, s.TotalCancelled, s.TotalRescheduled)
	}
	if got := outcomes(t, e, s.ID); got[2] != domain.OutcomeNeedsReschedule {
		t.Fatalf("third outcome = %s, want needs_reschedule", got[2])
	}
}

func TestGenerateSeries_ConflictSkipsOccurrence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.coord.CreateBooking(ctx, booking.CreateInput{
		BarberID:        "b1",
		ClientID:        "other",
		ServiceID:       "beard",
		StartTime:       time.Date(2026, 3, 10, 10, 15, 0, 0, saoPaulo),
		DurationMinutes: 30,
		IdempotencyKey:  "existing",
	}); err != nil {
		t.Fatalf("CreateBooking error: %v", err)
	}
	e := NewExpander(f.store, f.store, f.coord, nil)

	s, err := e.GenerateSeries(ctx, weeklyTuesdays(4))
	if err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	if s.TotalCompleted != 3 || s.TotalCancelled != 1 {
		t.Fatalf("completed=%d cancelled=%d, want 3/1", s.TotalCompleted, s.TotalCancelled)
	}
	if got := outcomes(t, e, s.ID); got[1] != domain.OutcomeSkippedConflict {
		t.Fatalf("second outcome = %s, want skipped_conflict", got[1])
	}
}

func TestGenerateSeries_LinksInstancesByDerivedKey(t *testing.T) {
	f := newFixture(t)
	e := NewExpander(f.store, f.store, f.coord, nil)
	ctx := context.Background()

	s, err := e.GenerateSeries(ctx, weeklyTuesdays(2))
	if err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	key := booking.ScopedKey("c1", "series:"+s.ID.String()+":1")
	appt, err := f.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		t.Fatalf("FindByIdempotencyKey(%q) error: %v", key, err)
	}
	if appt.RecurringSeriesID == nil || *appt.RecurringSeriesID != s.ID || *appt.RecurrenceSequence != 1 {
		t.Fatalf("first instance not linked: %+v", appt)
	}
}

func TestGenerateSeries_AllBlockedCancelsSeries(t *testing.T) {
	s := memory.New()
	creator := &fakeCreator{createFn: func(ctx context.Context, in booking.CreateInput) (domain.Appointment, error) {
		return domain.Appointment{}, &apperr.ValidationError{Code: apperr.CodeBlackout, Msg: "closed"}
	}}
	e := NewExpander(s, s, creator, nil)

	got, err := e.GenerateSeries(context.Background(), weeklyTuesdays(3))
	if err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	if got.Status != domain.SeriesStatusCancelled || got.TotalCancelled != 3 || got.CompletionPercentage != 0 {
		t.Fatalf("series = %+v, want cancelled with 3 cancelled", got)
	}
	if creator.calls != 3 {
		t.Fatalf("calls = %d, want 3", creator.calls)
	}
}

func TestGenerateSeries_UnexpectedErrorRecordedAsFailed(t *testing.T) {
	s := memory.New()
	creator := &fakeCreator{createFn: func(ctx context.Context, in booking.CreateInput) (domain.Appointment, error) {
		if *in.RecurrenceSequence == 2 {
			return domain.Appointment{}, apperr.Transient("create booking", errors.New("boom"))
		}
		return domain.Appointment{ID: uuid.New()}, nil
	}}
	e := NewExpander(s, s, creator, nil)

	got, err := e.GenerateSeries(context.Background(), weeklyTuesdays(3))
	if err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	if got.TotalCompleted != 2 || got.TotalCancelled != 1 {
		t.Fatalf("completed=%d cancelled=%d, want 2/1", got.TotalCompleted, got.TotalCancelled)
	}
	if o := outcomes(t, e, got.ID); o[1] != domain.OutcomeFailed {
		t.Fatalf("second outcome = %s, want failed", o[1])
	}
}

func TestGenerateSeries_HeaderFailureIsFatal(t *testing.T) {
	repo := &fakeSeriesRepo{createSeriesFn: func(ctx context.Context, pattern domain.RecurrencePattern, series domain.RecurringSeries) (domain.RecurrencePattern, domain.RecurringSeries, error) {
		return domain.RecurrencePattern{}, domain.RecurringSeries{}, store.ErrUnavailable
	}}
	creator := &fakeCreator{}
	e := NewExpander(repo, memory.New(), creator, nil)

	_, err := e.GenerateSeries(context.Background(), weeklyTuesdays(3))
	if !apperr.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if creator.calls != 0 {
		t.Fatalf("calls = %d, want no bookings", creator.calls)
	}
}

func TestGenerateSeries_InvalidInput(t *testing.T) {
	e := NewExpander(memory.New(), memory.New(), &fakeCreator{}, nil)

	noEnd := weeklyTuesdays(1)
	noEnd.Pattern.OccurrenceCount = nil

	noBarber := weeklyTuesdays(1)
	noBarber.Template.BarberID = ""

	noUser := weeklyTuesdays(1)
	noUser.UserID, noUser.Template.ClientID = "", ""

	badFreq := weeklyTuesdays(1)
	badFreq.Pattern.Frequency = "hourly"

	for name, in := range map[string]GenerateInput{
		"no termination": noEnd,
		"no barber":      noBarber,
		"no user":        noUser,
		"bad frequency":  badFreq,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.GenerateSeries(context.Background(), in)
			if !apperr.IsValidation(err) {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}

func TestGetSeries_NotFound(t *testing.T) {
	e := NewExpander(memory.New(), memory.New(), &fakeCreator{}, nil)
	if _, err := e.GetSeries(context.Background(), uuid.New()); !apperr.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := e.ListOccurrences(context.Background(), uuid.New()); !apperr.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func weeklyFridaysWithoutZone(barberID string) GenerateInput {
	count := 4
	return GenerateInput{
		Pattern: domain.RecurrencePattern{
			Frequency:       domain.RecurrenceFrequencyWeekly,
			Interval:        1,
			Weekdays:        []int16{5},
			OccurrenceCount: &count,
		},
		UserID:          "c1",
		FirstOccurrence: time.Date(2026, 2, 27, 10, 0, 0, 0, timezone.Location("America/New_York")),
		Template: booking.CreateInput{
			BarberID:        barberID,
			ClientID:        "c1",
			ServiceID:       "haircut",
			DurationMinutes: 30,
		},
	}
}

func TestGenerateSeries_ZonelessPatternKeepsBarberWallClockAcrossDST(t *testing.T) {
	ny := timezone.Location("America/New_York")
	s := memory.New()
	s.PutBarber(domain.Barber{ID: "ny", Timezone: "America/New_York", Active: true})

	var starts []time.Time
	creator := &fakeCreator{createFn: func(ctx context.Context, in booking.CreateInput) (domain.Appointment, error) {
		starts = append(starts, in.StartTime)
		return domain.Appointment{ID: uuid.New()}, nil
	}}
	e := NewExpander(s, s, creator, nil)

	if _, err := e.GenerateSeries(context.Background(), weeklyFridaysWithoutZone("ny")); err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	if len(starts) != 4 {
		t.Fatalf("bookings = %d, want 4", len(starts))
	}
	for i, start := range starts {
		local := start.In(ny)
		if local.Hour() != 10 || local.Minute() != 0 || local.Weekday() != time.Friday {
			t.Fatalf("occurrence %d = %s local, want Friday 10:00", i+1, local)
		}
	}
	// 2026-03-08 moves New York from UTC-5 to UTC-4.
	if got := starts[0].UTC().Hour(); got != 15 {
		t.Fatalf("first UTC hour = %d, want 15", got)
	}
	if got := starts[3].UTC().Hour(); got != 14 {
		t.Fatalf("last UTC hour = %d, want 14", got)
	}
}

func TestGenerateSeries_ZonelessPatternFallsBackToDefaultZone(t *testing.T) {
	s := memory.New()
	s.PutBarber(domain.Barber{ID: "nozone", Active: true})

	var starts []time.Time
	creator := &fakeCreator{createFn: func(ctx context.Context, in booking.CreateInput) (domain.Appointment, error) {
		starts = append(starts, in.StartTime)
		return domain.Appointment{ID: uuid.New()}, nil
	}}
	e := NewExpander(s, s, creator, nil).WithDefaultTimezone("America/New_York")

	if _, err := e.GenerateSeries(context.Background(), weeklyFridaysWithoutZone("nozone")); err != nil {
		t.Fatalf("GenerateSeries error: %v", err)
	}
	ny := timezone.Location("America/New_York")
	for i, start := range starts {
		if h := start.In(ny).Hour(); h != 10 {
			t.Fatalf("occurrence %d local hour = %d, want 10", i+1, h)
		}
	}
}

func TestGenerateSeries_ZonelessPatternUnknownBarber(t *testing.T) {
	creator := &fakeCreator{}
	e := NewExpander(memory.New(), memory.New(), creator, nil)

	_, err := e.GenerateSeries(context.Background(), weeklyFridaysWithoutZone("ghost"))
	var vErr *apperr.ValidationError
	if !errors.As(err, &vErr) || vErr.Code != apperr.CodeUnknownBarber {
		t.Fatalf("err = %v, want unknown barber", err)
	}
	if creator.calls != 0 {
		t.Fatalf("calls = %d, want no bookings", creator.calls)
	}
}
