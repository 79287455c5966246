package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

func (s *Store) CreateSeries(ctx context.Context, pattern domain.RecurrencePattern, series domain.RecurringSeries) (domain.RecurrencePattern, domain.RecurringSeries, error) {
	if err := ctx.Err(); err != nil {
		return domain.RecurrencePattern{}, domain.RecurringSeries{}, err
	}
	now := time.Now().UTC()
	if pattern.ID == uuid.Nil {
		pattern.ID = uuid.New()
	}
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = now
	}
	if series.ID == uuid.Nil {
		series.ID = uuid.New()
	}
	series.PatternID = pattern.ID
	series.CreatedAt = now
	series.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[pattern.ID] = pattern
	s.series[series.ID] = series
	return pattern, series, nil
}

func (s *Store) SaveSeries(ctx context.Context, series domain.RecurringSeries) (domain.RecurringSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[series.ID]; !ok {
		return domain.RecurringSeries{}, store.ErrNotFound
	}
	series.UpdatedAt = time.Now().UTC()
	s.series[series.ID] = series
	return series, nil
}

func (s *Store) AdjustCounters(ctx context.Context, seriesID uuid.UUID, delta domain.SeriesDelta) (domain.RecurringSeries, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	series, ok := s.series[seriesID]
	if !ok {
		return domain.RecurringSeries{}, store.ErrNotFound
	}
	series.Apply(delta)
	series.UpdatedAt = time.Now().UTC()
	s.series[seriesID] = series
	return series, nil
}

func (s *Store) GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurringSeries, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[id]
	if !ok {
		return domain.RecurringSeries{}, store.ErrNotFound
	}
	return series, nil
}

func (s *Store) RecordOccurrence(ctx context.Context, occ domain.SeriesOccurrence) error {
	if occ.ID == uuid.Nil {
		occ.ID = uuid.New()
	}
	if occ.CreatedAt.IsZero() {
		occ.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.series[occ.SeriesID]; !ok {
		return store.ErrNotFound
	}
	s.occurrences[occ.SeriesID] = append(s.occurrences[occ.SeriesID], occ)
	return nil
}

func (s *Store) ListOccurrences(ctx context.Context, seriesID uuid.UUID) ([]domain.SeriesOccurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]domain.SeriesOccurrence(nil), s.occurrences[seriesID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
