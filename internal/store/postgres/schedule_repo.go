package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

type ScheduleRepo struct {
	db *bun.DB
}

var _ store.ScheduleRepository = (*ScheduleRepo)(nil)

func NewScheduleRepo(db *bun.DB) *ScheduleRepo {
	return &ScheduleRepo{db: db}
}

func (r *ScheduleRepo) GetBarber(ctx context.Context, barberID string) (domain.Barber, error) {
	var b domain.Barber
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", barberID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Barber{}, classify(err)
	}
	return b, nil
}

func (r *ScheduleRepo) ListWorkingHours(ctx context.Context, barberID string) ([]domain.WorkingHours, error) {
	var rows []domain.WorkingHours
	err := r.db.NewSelect().
		Model(&rows).
		Where("barber_id = ?", barberID).
		OrderExpr("weekday ASC, start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

type BlackoutRepo struct {
	db *bun.DB
}

var _ store.BlackoutRepository = (*BlackoutRepo)(nil)

func NewBlackoutRepo(db *bun.DB) *BlackoutRepo {
	return &BlackoutRepo{db: db}
}

func (r *BlackoutRepo) ListCandidates(ctx context.Context, barberID, locationID string, from, to time.Time) ([]domain.BlackoutDate, error) {
	fromDate := domain.CivilDate(from)
	toDate := domain.CivilDate(to)

	var rows []domain.BlackoutDate
	err := r.db.NewSelect().
		Model(&rows).
		Where("is_active").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("barber_id = ?", barberID).
				WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.Where("barber_id = ''").
						WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
							return q.Where("location_id = ''").WhereOr("location_id = ?", locationID)
						})
				})
		}).
		Where("date <= ?", toDate).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("NOT is_recurring AND COALESCE(end_date, date) >= ?", fromDate).
				WhereOr("is_recurring AND (recurrence_end_date IS NULL OR recurrence_end_date + (COALESCE(end_date, date) - date) >= ?)", fromDate)
		}).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (r *BlackoutRepo) GetBlackout(ctx context.Context, id uuid.UUID) (domain.BlackoutDate, error) {
	var b domain.BlackoutDate
	err := r.db.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.BlackoutDate{}, classify(err)
	}
	return b, nil
}

func (r *BlackoutRepo) MarkAffectedResolved(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.NewUpdate().
		Table("blackout_dates").
		Set("affected_resolved_at = ?", at.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
