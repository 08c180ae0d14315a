package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"riskflow/backend/internal/apperr"
	"riskflow/backend/internal/logging"
)

// Runner executes a due step. Errors recorded in the execution log are not
// returned; a returned error leaves the item queued for redelivery once its
// lease runs out.
type Runner interface {
	RunScheduled(ctx context.Context, item Item) error
}

type WorkerOptions struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxParallel bounds concurrently running steps. Zero means unbounded.
	MaxParallel int
	Clock       clock.Clock
	Logger      *logging.Logger
}

// Worker polls a Queue and hands due items to a Runner.
type Worker struct {
	queue   Queue
	runner  Runner
	options WorkerOptions

	clock  clock.Clock
	logger *logging.Logger

	items          chan Item
	pollerDone     chan struct{}
	dispatcherDone chan struct{}
}

func NewWorker(q Queue, r Runner, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	return &Worker{
		queue:          q,
		runner:         r,
		options:        opts,
		clock:          opts.Clock,
		logger:         opts.Logger,
		items:          make(chan Item),
		pollerDone:     make(chan struct{}),
		dispatcherDone: make(chan struct{}),
	}
}

// Start launches the poller and dispatcher. They stop when ctx is done;
// use WaitForCompletion to wait for in-flight steps.
func (w *Worker) Start(ctx context.Context) {
	go w.poller(ctx)
	go w.dispatcher()
}

// WaitForCompletion blocks until the poller stopped and every dispatched
// step has finished.
func (w *Worker) WaitForCompletion() {
	<-w.pollerDone
	<-w.dispatcherDone
}

func (w *Worker) poller(ctx context.Context) {
	defer close(w.pollerDone)
	defer close(w.items)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.options.PollInterval
	b.MaxElapsedTime = 0

	for {
		wait := w.options.PollInterval

		items, err := w.queue.Claim(ctx, w.clock.Now(), w.options.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait = b.NextBackOff()
			w.logger.ErrorContext(ctx, "error polling scheduled steps", "error", err, "retry_in", wait)
		} else {
			b.Reset()
			for _, item := range items {
				select {
				case w.items <- item:
				case <-ctx.Done():
					return
				}
			}
			if len(items) == w.options.BatchSize {
				// there may be more due right away
				continue
			}
		}

		timer := w.clock.Timer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (w *Worker) dispatcher() {
	defer close(w.dispatcherDone)

	var sem chan struct{}
	if w.options.MaxParallel > 0 {
		sem = make(chan struct{}, w.options.MaxParallel)
	}

	var wg sync.WaitGroup
	for item := range w.items {
		if sem != nil {
			sem <- struct{}{}
		}

		wg.Add(1)
		go func(item Item) {
			defer wg.Done()

			// Steps finish even when the worker is shutting down.
			w.handle(context.Background(), item)

			if sem != nil {
				<-sem
			}
		}(item)
	}

	wg.Wait()
}

// RunDue claims every due item and runs them inline, returning how many
// were run.
func (w *Worker) RunDue(ctx context.Context) (int, error) {
	total := 0
	for {
		items, err := w.queue.Claim(ctx, w.clock.Now(), w.options.BatchSize)
		if err != nil {
			return total, err
		}
		if len(items) == 0 {
			return total, nil
		}
		for _, item := range items {
			w.handle(ctx, item)
			total++
		}
	}
}

func (w *Worker) handle(ctx context.Context, item Item) {
	logger := w.logger.With(
		logging.ExecutionIDKey, item.ExecutionID,
		logging.StepIDKey, item.StepID,
	)

	start := w.clock.Now()
	err := w.runner.RunScheduled(ctx, item)
	switch {
	case err == nil:
		logger.DebugContext(ctx, "scheduled step ran", logging.DurationKey, w.clock.Since(start).Milliseconds())
	case apperr.IsInvalidState(err) || errors.Is(err, apperr.ErrNotFound):
		logger.InfoContext(ctx, "dropping scheduled step", "reason", err)
	default:
		logger.ErrorContext(ctx, "scheduled step failed, leaving it for redelivery", "error", err)
		return
	}

	if err := w.queue.Complete(ctx, item); err != nil {
		logger.ErrorContext(ctx, "could not complete scheduled step", "error", err)
	}
}
