package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"barbercal/backend/internal/config"
	"barbercal/backend/internal/notify"
	"barbercal/backend/internal/service/availability"
	"barbercal/backend/internal/service/blackouts"
	"barbercal/backend/internal/service/booking"
	"barbercal/backend/internal/service/calendarsync"
	"barbercal/backend/internal/service/conflicts"
	"barbercal/backend/internal/service/deposits"
	"barbercal/backend/internal/service/series"
	"barbercal/backend/internal/store"
	"barbercal/backend/internal/store/memory"
	"barbercal/backend/internal/store/postgres"
	"barbercal/backend/internal/store/rediscache"
	"barbercal/backend/internal/timezone"
	"barbercal/backend/internal/transport/httpapi"
	"barbercal/backend/internal/transport/wire"
)

type repositories struct {
	appointments store.AppointmentRepository
	schedules    store.ScheduleRepository
	blackouts    store.BlackoutRepository
	series       store.SeriesRepository
}

type application struct {
	backend    wire.Backend
	dispatcher *notify.Dispatcher
	health     map[string]httpapi.HealthCheck

	closers   []func() error
	closeOnce sync.Once
	log       *slog.Logger
}

func (a *application) close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				a.log.Warn("close failed", slog.Any("err", err))
			}
		}
	})
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*application, error) {
	app := &application{health: map[string]httpapi.HealthCheck{}, log: log}

	repos, err := openStore(ctx, cfg, app, log)
	if err != nil {
		app.close()
		return nil, err
	}

	var cache booking.ReplayCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		app.closers = append(app.closers, rdb.Close)
		idem := rediscache.NewIdempotencyCache(rdb, cfg.IdempotencyTTL)
		if err := idem.Ping(ctx); err != nil {
			log.Warn("redis unreachable; replays fall back to the store", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
		}
		app.health["redis"] = idem.Ping
		cache = idem
	}

	clock := timezone.SystemClock{}
	detector := conflicts.NewDetector(repos.appointments)
	registry := blackouts.NewRegistry(repos.blackouts, repos.schedules, repos.appointments, clock, log).
		WithDefaultTimezone(cfg.DefaultTimezone)

	coord, err := booking.NewCoordinator(cfg.BookingCoordinator, booking.Deps{
		Appointments: repos.appointments,
		Schedules:    repos.schedules,
		Conflicts:    detector,
		Blackouts:    registry,
		Cache:        cache,
		Clock:        clock,
		Log:          log,
	}, booking.Options{
		OperationTimeout:   cfg.OperationTimeout,
		DefaultLeadMinutes: cfg.MinLeadTimeMinutes,
		DefaultTimezone:    cfg.DefaultTimezone,
	})
	if err != nil {
		app.close()
		return nil, err
	}

	app.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		QueueSize:  cfg.NotifyQueueSize,
		RatePerSec: cfg.NotifyRate,
		Burst:      cfg.NotifyBurst,
	}, log)

	coord.Subscribe(notify.NewObserver(notify.LogSender{Log: log.With(slog.String("component", "notify.sender"))}, app.dispatcher))
	coord.Subscribe(series.NewTracker(repos.series, repos.appointments, log))
	if cfg.AutoConfirm {
		coord.Subscribe(deposits.NewFollower(deposits.Waived{}, coord, app.dispatcher, log))
	}

	calc := availability.NewCalculator(repos.schedules, detector, registry, clock, availability.Options{
		DefaultLeadMinutes: cfg.MinLeadTimeMinutes,
		DefaultTimezone:    cfg.DefaultTimezone,
	}, log)

	app.backend = wire.Backend{
		Slots:                    calc,
		Blackouts:                registry,
		Flagger:                  booking.NewFlagger(coord, repos.appointments),
		Bookings:                 coord,
		Series:                   series.NewExpander(repos.series, repos.schedules, coord, log).WithDefaultTimezone(cfg.DefaultTimezone),
		Calendar:                 calendarsync.NewReconciler(repos.appointments, coord, log),
		NextAvailableHorizonDays: cfg.NextAvailableHorizonDays,
	}
	return app, nil
}

func openStore(ctx context.Context, cfg config.Config, app *application, log *slog.Logger) (repositories, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		m := memory.New()
		return repositories{appointments: m, schedules: m, blackouts: m, series: m}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return repositories{}, fmt.Errorf("open database: %w", err)
	}
	app.closers = append(app.closers, func() error { return postgres.Close(db) })
	app.health["database"] = func(ctx context.Context) error { return db.PingContext(ctx) }

	if cfg.MigrateOnStart {
		version, err := postgres.Migrate(ctx, db)
		if err != nil {
			return repositories{}, err
		}
		log.Info("migrations applied", slog.Int64("version", version))
	}
	return postgresRepositories(db), nil
}

func postgresRepositories(db *bun.DB) repositories {
	return repositories{
		appointments: postgres.NewAppointmentRepo(db),
		schedules:    postgres.NewScheduleRepo(db),
		blackouts:    postgres.NewBlackoutRepo(db),
		series:       postgres.NewSeriesRepo(db),
	}
}
