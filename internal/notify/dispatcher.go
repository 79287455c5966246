// Package notify runs post-commit side effects (client notifications,
// deposit follow-ups) off the booking path. A full queue drops work rather
// than blocking a booking.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"barbercal/backend/internal/metrics"
)

type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

type Dispatcher struct {
	queue   chan job
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

type DispatcherConfig struct {
	QueueSize   int
	RatePerSec  float64
	Burst       int
	TaskTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:   make(chan job, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.TaskTimeout,
		log:     log.With(slog.String("component", "notify.dispatcher")),
		done:    make(chan struct{}),
	}
}

// Submit enqueues task and reports whether it was accepted.
func (d *Dispatcher) Submit(name string, task Task) bool {
	select {
	case d.queue <- job{name: name, task: task}:
		return true
	default:
		metrics.IncDispatchDropped()
		d.log.Warn("dispatch queue full, dropping task", slog.String("task", name))
		return false
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.done:
			return nil
		case j := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return nil
			}
			d.execute(ctx, j)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("task panicked", slog.String("task", j.name), slog.Any("panic", r))
		}
	}()
	if err := j.task(ctx); err != nil {
		d.log.Warn("task failed", slog.String("task", j.name), slog.Any("err", err))
		return
	}
	d.log.Debug("task done", slog.String("task", j.name))
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}
