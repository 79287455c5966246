package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

type stagedWrite struct {
	appt            domain.Appointment
	insert          bool
	expectedVersion int
}

type bookingTx struct {
	s      *Store
	staged map[uuid.UUID]stagedWrite
	order  []uuid.UUID
}

func (t *bookingTx) view(id uuid.UUID) (domain.Appointment, bool) {
	if w, ok := t.staged[id]; ok {
		return w.appt, true
	}
	a, ok := t.s.appointments[id]
	return a, ok
}

func (t *bookingTx) FindByIdempotencyKey(ctx context.Context, key string) (domain.Appointment, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, w := range t.staged {
		if w.appt.IdempotencyKey == key {
			return w.appt, nil
		}
	}
	id, ok := t.s.byKey[key]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	a, _ := t.view(id)
	return a, nil
}

func (t *bookingTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.view(id)
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (t *bookingTx) FindOverlapping(ctx context.Context, barberID string, start, end time.Time, excludeID uuid.UUID) ([]domain.Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	var out []domain.Appointment
	consider := func(a domain.Appointment) {
		if a.ID == excludeID || a.BarberID != barberID || !a.Status.Active() {
			return
		}
		if a.Overlaps(start, end) {
			out = append(out, a)
		}
	}
	for id, w := range t.staged {
		seen[id] = struct{}{}
		consider(w.appt)
	}
	for id, a := range t.s.appointments {
		if _, ok := seen[id]; ok {
			continue
		}
		consider(a)
	}
	sortByStart(out)
	return out, nil
}

func (t *bookingTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now

	t.s.mu.RLock()
	_, exists := t.view(appt.ID)
	t.s.mu.RUnlock()
	if exists {
		return domain.Appointment{}, store.ErrConcurrentWrite
	}

	t.staged[appt.ID] = stagedWrite{appt: appt, insert: true}
	t.order = append(t.order, appt.ID)
	return appt, nil
}

func (t *bookingTx) UpdateAppointment(ctx context.Context, appt domain.Appointment, expectedVersion int) (domain.Appointment, error) {
	t.s.mu.RLock()
	current, ok := t.view(appt.ID)
	t.s.mu.RUnlock()
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return domain.Appointment{}, store.ErrVersionMismatch
	}
	appt.UpdatedAt = time.Now().UTC()

	prev, staged := t.staged[appt.ID]
	w := stagedWrite{appt: appt, expectedVersion: expectedVersion}
	if staged {
		w.insert = prev.insert
		w.expectedVersion = prev.expectedVersion
	} else {
		t.order = append(t.order, appt.ID)
	}
	t.staged[appt.ID] = w
	return appt, nil
}

// commit re-checks the store invariants against committed state, the way
// unique and exclusion constraints would, then applies all staged writes.
func (t *bookingTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for _, id := range t.order {
		w := t.staged[id]
		if w.insert {
			if _, ok := t.s.appointments[id]; ok {
				return store.ErrConcurrentWrite
			}
			if _, ok := t.s.byKey[w.appt.IdempotencyKey]; ok {
				return store.ErrConcurrentWrite
			}
		} else {
			current, ok := t.s.appointments[id]
			if !ok {
				return store.ErrNotFound
			}
			if current.Version != w.expectedVersion {
				return store.ErrVersionMismatch
			}
		}
		if w.appt.Status.Active() {
			for otherID, other := range t.s.appointments {
				if otherID == id || other.BarberID != w.appt.BarberID || !other.Status.Active() {
					continue
				}
				if _, restaged := t.staged[otherID]; restaged {
					continue
				}
				if other.Overlaps(w.appt.StartTime, w.appt.EndTime) {
					return store.ErrConflict
				}
			}
		}
	}

	for _, id := range t.order {
		w := t.staged[id]
		if prev, ok := t.s.appointments[id]; ok && prev.IdempotencyKey != w.appt.IdempotencyKey {
			delete(t.s.byKey, prev.IdempotencyKey)
		}
		t.s.appointments[id] = w.appt
		t.s.byKey[w.appt.IdempotencyKey] = id
	}
	return nil
}
