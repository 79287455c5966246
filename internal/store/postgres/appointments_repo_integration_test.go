package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/uptrace/bun"

	"barbercal/backend/internal/domain"
	"barbercal/backend/internal/store"
	"barbercal/backend/migrations"
)

func TestPostgresIntegration_BookingTxOverlapVersionAndIdempotency(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("BARBERCAL_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("BARBERCAL_TEST_DATABASE_URL not set")
	}

	db, err := Open(databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "barbercal_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema + ", public").Exec(ctx); err != nil {
			return err
		}
		if err := applyMigrations(ctx, tx); err != nil {
			return err
		}

		b := bookingTx{tx: tx}
		start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
		appt := func(key string, start time.Time) domain.Appointment {
			return domain.Appointment{
				ID:              domain.IdempotentID(key),
				BarberID:        "b1",
				ClientID:        "c1",
				ServiceID:       "cut",
				StartTime:       start,
				EndTime:         start.Add(30 * time.Minute),
				DurationMinutes: 30,
				Timezone:        "UTC",
				Status:          domain.StatusPending,
				Version:         1,
				IdempotencyKey:  key,
			}
		}

		a1, err := b.InsertAppointment(ctx, appt("k1", start))
		if err != nil {
			return err
		}

		rows, err := b.FindOverlapping(ctx, "b1", start.Add(-time.Minute), start.Add(time.Minute), a1.ID)
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			return fmt.Errorf("excluded row returned: %d rows", len(rows))
		}

		if _, err := tx.NewRaw("SAVEPOINT overlap").Exec(ctx); err != nil {
			return err
		}
		_, err = b.InsertAppointment(ctx, appt("k2", start.Add(15*time.Minute)))
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}
		if _, err := tx.NewRaw("ROLLBACK TO SAVEPOINT overlap").Exec(ctx); err != nil {
			return err
		}

		if _, err := b.InsertAppointment(ctx, appt("k3", start.Add(30*time.Minute))); err != nil {
			return fmt.Errorf("back-to-back insert: %w", err)
		}

		found, err := b.FindByIdempotencyKey(ctx, "k1")
		if err != nil {
			return err
		}
		if found.ID != a1.ID {
			return fmt.Errorf("idempotent lookup id = %s, want %s", found.ID, a1.ID)
		}

		next := a1
		next.Status = domain.StatusConfirmed
		next.Version = 2
		if _, err := b.UpdateAppointment(ctx, next, 1); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		if _, err := b.UpdateAppointment(ctx, next, 1); !errors.Is(err, store.ErrVersionMismatch) {
			return fmt.Errorf("stale update err = %v, want %v", err, store.ErrVersionMismatch)
		}

		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, stmt := range splitSQLStatements(upSQL) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" || strings.HasPrefix(s, "--") && !strings.Contains(s, "\n") {
			continue
		}
		out = append(out, s)
	}
	return out
}
