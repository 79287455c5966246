package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

type SeriesRepo struct {
	db *bun.DB
}

var _ store.SeriesRepository = (*SeriesRepo)(nil)

func NewSeriesRepo(db *bun.DB) *SeriesRepo {
	return &SeriesRepo{db: db}
}

func (r *SeriesRepo) CreateSeries(ctx context.Context, pattern domain.RecurrencePattern, series domain.RecurringSeries) (domain.RecurrencePattern, domain.RecurringSeries, error) {
	p := pattern
	s := series
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&p).Exec(ctx); err != nil {
			return err
		}
		s.PatternID = p.ID
		_, err := tx.NewInsert().Model(&s).Exec(ctx)
		return err
	})
	if err != nil {
		return domain.RecurrencePattern{}, domain.RecurringSeries{}, classify(err)
	}
	return p, s, nil
}

func (r *SeriesRepo) SaveSeries(ctx context.Context, series domain.RecurringSeries) (domain.RecurringSeries, error) {
	s := series
	res, err := r.db.NewUpdate().
		Model(&s).
		Column("total_planned", "total_completed", "total_cancelled", "total_rescheduled", "status", "completion_percentage", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.RecurringSeries{}, classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.RecurringSeries{}, store.ErrNotFound
	}
	return s, nil
}

// AdjustCounters applies delta under a row lock so concurrent observers
// cannot lose updates.
func (r *SeriesRepo) AdjustCounters(ctx context.Context, seriesID uuid.UUID, delta domain.SeriesDelta) (domain.RecurringSeries, error) {
	var out domain.RecurringSeries
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var s domain.RecurringSeries
		if err := tx.NewSelect().Model(&s).Where("id = ?", seriesID).For("UPDATE").Scan(ctx); err != nil {
			return err
		}
		s.Apply(delta)
		_, err := tx.NewUpdate().
			Model(&s).
			Column("total_completed", "total_cancelled", "total_rescheduled", "status", "completion_percentage", "updated_at").
			WherePK().
			Exec(ctx)
		out = s
		return err
	})
	if err != nil {
		return domain.RecurringSeries{}, classify(err)
	}
	return out, nil
}

func (r *SeriesRepo) GetSeries(ctx context.Context, id uuid.UUID) (domain.RecurringSeries, error) {
	var s domain.RecurringSeries
	if err := r.db.NewSelect().Model(&s).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return domain.RecurringSeries{}, classify(err)
	}
	return s, nil
}

func (r *SeriesRepo) RecordOccurrence(ctx context.Context, occ domain.SeriesOccurrence) error {
	o := occ
	_, err := r.db.NewInsert().
		Model(&o).
		On("CONFLICT (series_id, sequence) DO UPDATE").
		Set("outcome = EXCLUDED.outcome").
		Set("appointment_id = EXCLUDED.appointment_id").
		Set("reason = EXCLUDED.reason").
		Exec(ctx)
	return classify(err)
}

func (r *SeriesRepo) ListOccurrences(ctx context.Context, seriesID uuid.UUID) ([]domain.SeriesOccurrence, error) {
	var rows []domain.SeriesOccurrence
	err := r.db.NewSelect().
		Model(&rows).
		Where("series_id = ?", seriesID).
		OrderExpr("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}
