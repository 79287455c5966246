package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
)

var activeStatuses = bun.In(domain.ActiveStatuses)

type AppointmentRepo struct {
	db *bun.DB
}

var _ store.AppointmentRepository = (*AppointmentRepo)(nil)

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *AppointmentRepo) InBarberTransaction(ctx context.Context, barberID string, fn func(ctx context.Context, tx store.BookingTx) error) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockBarberCalendar(ctx, tx, barberID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
	return classify(err)
}

func lockBarberCalendar(ctx context.Context, tx bun.Tx, barberID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", barberID).Exec(ctx)
	return err
}

func (r *AppointmentRepo) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return getAppointment(ctx, r.db, id)
}

func (r *AppointmentRepo) FindByIdempotencyKey(ctx context.Context, key string) (domain.Appointment, error) {
	return findByIdempotencyKey(ctx, r.db, key)
}

func (r *AppointmentRepo) ListActive(ctx context.Context, filter store.AppointmentFilter) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := r.db.NewSelect().
		Model(&rows).
		Where("status IN (?)", activeStatuses)
	if filter.BarberID != "" {
		q = q.Where("barber_id = ?", filter.BarberID)
	}
	if filter.LocationID != "" {
		q = q.Where("location_id = ?", filter.LocationID)
	}
	if filter.SeriesID != nil {
		q = q.Where("recurring_series_id = ?", *filter.SeriesID)
	}
	if !filter.WindowStart.IsZero() && !filter.WindowEnd.IsZero() {
		q = q.Where("start_time < ?", filter.WindowEnd).
			Where("end_time > ?", filter.WindowStart)
	}
	if err := q.OrderExpr("start_time ASC").Scan(ctx); err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func getAppointment(ctx context.Context, db bun.IDB, id uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := db.NewSelect().
		Model(&a).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, classify(err)
	}
	return a, nil
}

func findByIdempotencyKey(ctx context.Context, db bun.IDB, key string) (domain.Appointment, error) {
	var a domain.Appointment
	err := db.NewSelect().
		Model(&a).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, classify(err)
	}
	return a, nil
}

func (t bookingTx) FindByIdempotencyKey(ctx context.Context, key string) (domain.Appointment, error) {
	return findByIdempotencyKey(ctx, t.tx, key)
}

func (t bookingTx) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return getAppointment(ctx, t.tx, id)
}

func (t bookingTx) FindOverlapping(ctx context.Context, barberID string, start, end time.Time, excludeID uuid.UUID) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := t.tx.NewSelect().
		Model(&rows).
		Where("barber_id = ?", barberID).
		Where("status IN (?)", activeStatuses).
		Where("start_time < ?", end).
		Where("end_time > ?", start)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.OrderExpr("start_time ASC").Scan(ctx); err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (t bookingTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Appointment{}, classify(err)
	}
	return m, nil
}

func (t bookingTx) UpdateAppointment(ctx context.Context, appt domain.Appointment, expectedVersion int) (domain.Appointment, error) {
	m := appt
	res, err := t.tx.NewUpdate().
		Model(&m).
		Column(
			"start_time", "end_time", "duration_minutes", "service_id", "status", "version",
			"original_scheduled_date", "needs_reschedule", "notes", "updated_at",
		).
		WherePK().
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, classify(err)
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrVersionMismatch
	}
	return m, nil
}
