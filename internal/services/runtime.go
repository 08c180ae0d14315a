// Package services assembles the workflow runtime from configuration: the
// store, the durable step queue, notification delivery, the engine and its
// background workers.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"riskflow/backend/internal/config"
	"riskflow/backend/internal/engine"
	"riskflow/backend/internal/handlers"
	"riskflow/backend/internal/logging"
	"riskflow/backend/internal/notify"
	"riskflow/backend/internal/plan"
	"riskflow/backend/internal/repository"
	"riskflow/backend/internal/scheduler"
	"riskflow/backend/internal/sla"
)

// Runtime holds the wired components of a running service.
type Runtime struct {
	Store     repository.Repository
	Pool      *pgxpool.Pool
	Queue     scheduler.Queue
	Plans     *plan.Registry
	Directory notify.Directory
	Engine    *engine.Engine
	Worker    *scheduler.Worker
	Tracker   *sla.Tracker

	cfg     *config.Config
	logger  *logging.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	closers []func() error
}

// New builds a Runtime. Nothing runs in the background until Start.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, tp trace.TracerProvider) (*Runtime, error) {
	rt := &Runtime{cfg: cfg, logger: logger}
	if err := rt.build(ctx, tp); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, tp trace.TracerProvider) error {
	cfg := rt.cfg

	switch strings.ToLower(cfg.DB.Driver) {
	case "memory":
		rt.Store = repository.NewMemoryStore()
		rt.logger.Warn("using in-memory store; executions are lost on restart")
	case "postgres", "":
		pool, err := Connect(ctx, cfg.DSN(), rt.logger)
		if err != nil {
			return err
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })

		if cfg.DB.Migrate {
			if err := repository.Migrate(cfg.DSN()); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
			rt.logger.Info("database schema up to date")
		}
		rt.Store = repository.NewPostgresStore(pool)
	default:
		return fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}

	queue, err := rt.newQueue()
	if err != nil {
		return err
	}
	rt.Queue = queue
	rt.closers = append(rt.closers, queue.Close)

	rt.Plans = plan.NewBuiltinRegistry()
	if cfg.Plans.File != "" {
		if err := rt.Plans.LoadFile(cfg.Plans.File); err != nil {
			return fmt.Errorf("loading plans: %w", err)
		}
	}

	base := notify.Contacts{Default: cfg.Notify.DefaultContacts}
	if cfg.Notify.ContactsFile != "" {
		dir, err := notify.NewFileDirectory(cfg.Notify.ContactsFile, base, rt.logger)
		if err != nil {
			return fmt.Errorf("loading contacts: %w", err)
		}
		rt.Directory = dir
	} else {
		rt.Directory = notify.NewStaticDirectory(base)
	}

	var notifier notify.Notifier
	if cfg.Notify.URL != "" {
		notifier = notify.NewHTTPNotifier(cfg.Notify.URL, &http.Client{Timeout: cfg.Notify.Timeout})
	} else {
		rt.logger.Warn("no notification service configured; notifications are only logged")
		notifier = notify.NewLogNotifier(rt.logger)
	}

	builtin := handlers.NewBuiltin(rt.Store, rt.Directory, notifier, cfg.Notify.Timeout, rt.logger)

	rt.Engine, err = engine.New(rt.Store, rt.Plans, builtin.Registry(), rt.Queue, engine.Options{
		Logger:         rt.logger,
		TracerProvider: tp,
		MeterProvider:  otel.GetMeterProvider(),
	})
	if err != nil {
		return err
	}

	rt.Worker = scheduler.NewWorker(rt.Queue, rt.Engine, scheduler.WorkerOptions{
		PollInterval: cfg.Scheduler.PollInterval,
		BatchSize:    cfg.Scheduler.BatchSize,
		MaxParallel:  cfg.Scheduler.MaxParallel,
		Logger:       rt.logger,
	})

	rt.Tracker = sla.NewTracker(rt.Store, builtin.Escalation, sla.Options{
		TickInterval:   cfg.SLA.TickInterval,
		RuleCacheTTL:   cfg.SLA.RuleCacheTTL,
		Logger:         rt.logger,
		TracerProvider: tp,
	})
	return nil
}

func (rt *Runtime) newQueue() (scheduler.Queue, error) {
	sc := rt.cfg.Scheduler
	switch strings.ToLower(sc.Driver) {
	case "postgres", "":
		if rt.Pool == nil {
			return nil, errors.New("postgres scheduler needs the postgres db driver")
		}
		return scheduler.NewPostgresQueue(rt.Pool, sc.Lease), nil
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{sc.Redis.Addr},
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		rt.closers = append(rt.closers, rdb.Close)
		return scheduler.NewRedisQueue(rdb, sc.Redis.Prefix, sc.Lease), nil
	case "sqlite":
		return scheduler.NewSQLiteQueue(sc.SQLitePath, sc.Lease)
	case "memory":
		rt.logger.Warn("using in-memory step queue; scheduled steps are lost on restart")
		return scheduler.NewMemoryQueue(sc.Lease), nil
	}
	return nil, fmt.Errorf("unknown scheduler driver %q", sc.Driver)
}

// Start runs the step worker, the SLA tracker and the contacts watcher until
// Close.
func (rt *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel

	if dir, ok := rt.Directory.(*notify.FileDirectory); ok {
		if err := dir.Watch(ctx); err != nil {
			cancel()
			return err
		}
	}

	rt.Worker.Start(ctx)

	rt.done = make(chan struct{})
	go func() {
		defer close(rt.done)
		rt.Tracker.Run(ctx)
	}()

	rt.logger.Info("runtime started",
		"db", rt.cfg.DB.Driver,
		"scheduler", rt.cfg.Scheduler.Driver,
		"plans", len(rt.Plans.Categories()),
	)
	return nil
}

// Close stops background work, waits for in-flight steps and releases
// connections.
func (rt *Runtime) Close() error {
	if rt.cancel != nil {
		rt.cancel()
		rt.Worker.WaitForCompletion()
		<-rt.done
		if dir, ok := rt.Directory.(*notify.FileDirectory); ok {
			dir.Wait()
		}
	}

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Connect opens a pool and retries the first ping with exponential backoff,
// so the service can start before the database is ready.
func Connect(ctx context.Context, dsn string, logger *logging.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	err = backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn("database not ready", "error", err, "retry_in", next)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
