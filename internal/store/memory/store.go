// Package memory is an in-process store used by the dev driver and tests.
// Writes for one barber are serialized by a per-barber mutex and staged
// until the transaction function returns nil.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	appointments map[uuid.UUID]domain.Appointment
	byKey        map[string]uuid.UUID
	barbers      map[string]domain.Barber
	hours        map[string][]domain.WorkingHours
	blackouts    []domain.BlackoutDate
	patterns     map[uuid.UUID]domain.RecurrencePattern
	series       map[uuid.UUID]domain.RecurringSeries
	occurrences  map[uuid.UUID][]domain.SeriesOccurrence

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

var (
	_ store.AppointmentRepository = (*Store)(nil)
	_ store.ScheduleRepository    = (*Store)(nil)
	_ store.BlackoutRepository    = (*Store)(nil)
	_ store.SeriesRepository      = (*Store)(nil)
)

func New() *Store {
	return &Store{
		appointments: make(map[uuid.UUID]domain.Appointment),
		byKey:        make(map[string]uuid.UUID),
		barbers:      make(map[string]domain.Barber),
		hours:        make(map[string][]domain.WorkingHours),
		patterns:     make(map[uuid.UUID]domain.RecurrencePattern),
		series:       make(map[uuid.UUID]domain.RecurringSeries),
		occurrences:  make(map[uuid.UUID][]domain.SeriesOccurrence),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *Store) PutBarber(b domain.Barber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barbers[b.ID] = b
}

func (s *Store) PutWorkingHours(barberID string, hours ...domain.WorkingHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hours {
		h.BarberID = barberID
		s.hours[barberID] = append(s.hours[barberID], h)
	}
}

func (s *Store) PutBlackout(b domain.BlackoutDate) domain.BlackoutDate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	for i := range s.blackouts {
		if s.blackouts[i].ID == b.ID {
			s.blackouts[i] = b
			return b
		}
	}
	s.blackouts = append(s.blackouts, b)
	return b
}

func (s *Store) barberLock(barberID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[barberID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[barberID] = l
	}
	return l
}

func (s *Store) InBarberTransaction(ctx context.Context, barberID string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.barberLock(barberID)
	l.Lock()
	defer l.Unlock()

	tx := &bookingTx{s: s, staged: make(map[uuid.UUID]stagedWrite)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return s.appointments[id], nil
}

func (s *Store) ListActive(ctx context.Context, filter store.AppointmentFilter) ([]domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Appointment
	for _, a := range s.appointments {
		if !a.Status.Active() {
			continue
		}
		if filter.BarberID != "" && a.BarberID != filter.BarberID {
			continue
		}
		if filter.LocationID != "" && a.LocationID != filter.LocationID {
			continue
		}
		if filter.SeriesID != nil && (a.RecurringSeriesID == nil || *a.RecurringSeriesID != *filter.SeriesID) {
			continue
		}
		if !filter.WindowStart.IsZero() && !filter.WindowEnd.IsZero() && !a.Overlaps(filter.WindowStart, filter.WindowEnd) {
			continue
		}
		out = append(out, a)
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) GetBarber(ctx context.Context, barberID string) (domain.Barber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.barbers[barberID]
	if !ok {
		return domain.Barber{}, store.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListWorkingHours(ctx context.Context, barberID string) ([]domain.WorkingHours, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.WorkingHours(nil), s.hours[barberID]...), nil
}

func (s *Store) ListCandidates(ctx context.Context, barberID, locationID string, from, to time.Time) ([]domain.BlackoutDate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	fromDate := domain.CivilDate(from)
	toDate := domain.CivilDate(to)
	var out []domain.BlackoutDate
	for _, b := range s.blackouts {
		if !b.AppliesTo(barberID, locationID) {
			continue
		}
		if domain.CivilDate(b.Date).After(toDate) {
			continue
		}
		if !b.IsRecurring {
			last := b.Date
			if b.EndDate != nil {
				last = *b.EndDate
			}
			if domain.CivilDate(last).Before(fromDate) {
				continue
			}
		} else if b.RecurrenceEndDate != nil && domain.CivilDate(*b.RecurrenceEndDate).AddDate(0, 0, spanOf(b)).Before(fromDate) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func spanOf(b domain.BlackoutDate) int {
	if b.EndDate == nil {
		return 0
	}
	return int(domain.CivilDate(*b.EndDate).Sub(domain.CivilDate(b.Date)).Hours() / 24)
}

func (s *Store) GetBlackout(ctx context.Context, id uuid.UUID) (domain.BlackoutDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.blackouts {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.BlackoutDate{}, store.ErrNotFound
}

func (s *Store) MarkAffectedResolved(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blackouts {
		if s.blackouts[i].ID == id {
			at := at.UTC()
			s.blackouts[i].AffectedResolvedAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func sortByStart(appts []domain.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].ID.String() < appts[j].ID.String()
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}
