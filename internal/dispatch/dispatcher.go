package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/privatehub/corebus/internal/bus"
)

// DefaultMaxRetryAttempts is the hard cap on per-event retries (§6.4
// max_retry_attempts). An event that fails on its third attempt ends
// in bus.StatusFailed.
const DefaultMaxRetryAttempts = 3

// DefaultRetryDelay is the base for the linear backoff multiplier
// (§6.4 retry_delay_seconds): delay = DefaultRetryDelay * retryCount.
const DefaultRetryDelay = 60 * time.Second

// Config holds dispatcher tuning parameters.
type Config struct {
	// Workers is the number of goroutines cooperating on the shared
	// queue. At least 1 is enforced.
	Workers int
	// MaxRetryAttempts caps total attempts per event (>=1).
	MaxRetryAttempts int
	// RetryDelay is the base backoff unit; attempt N is delayed by
	// RetryDelay * N.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Dispatcher drains a bus.Queue with a pool of workers, looks up
// handlers in a Registry, and retries failed events with linear
// backoff up to MaxRetryAttempts.
type Dispatcher struct {
	logger   *slog.Logger
	queue    *bus.Queue
	registry *Registry
	cfg      Config

	onTerminal func(e bus.Event) // called once an event reaches completed or failed
	onRetry    func(e bus.Event) // called each time an event is scheduled for retry

	mu      sync.Mutex
	timers  map[string]*time.Timer // retry timers, keyed by event ID
	wg      sync.WaitGroup
	retryWG sync.WaitGroup
	cancel  context.CancelFunc
}

// New creates a Dispatcher over queue using registry for handler
// lookup. onTerminal, if non-nil, is invoked exactly once per event
// when it reaches a terminal status (completed or failed) — the
// metrics and archive-sink components hook in here.
func New(logger *slog.Logger, queue *bus.Queue, registry *Registry, cfg Config, onTerminal func(bus.Event)) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:     logger,
		queue:      queue,
		registry:   registry,
		cfg:        cfg.withDefaults(),
		onTerminal: onTerminal,
		timers:     make(map[string]*time.Timer),
	}
}

// OnRetry sets a callback invoked each time an event is scheduled for
// retry, after its RetryCount has been incremented. It is distinct
// from onTerminal because a retrying event is, by definition, not yet
// terminal.
func (d *Dispatcher) OnRetry(fn func(bus.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRetry = fn
}

// Run starts the worker pool. It blocks until ctx is cancelled, then
// waits for in-flight handler calls to return before returning itself.
// Events cancelled mid-dispatch are marked failed and are not
// re-enqueued.
func (d *Dispatcher) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.wg.Wait()
}

// Shutdown cancels the worker pool and waits for in-flight handler
// calls and pending retry timers to settle, honoring deadline.
func (d *Dispatcher) Shutdown(deadline time.Duration) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	for id, timer := range d.timers {
		if timer.Stop() {
			// The callback will never run, so release its retryWG slot here.
			d.retryWG.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		d.retryWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		d.logger.Warn("dispatcher shutdown deadline exceeded, in-flight work abandoned")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		e, ok := d.queue.Dequeue(ctx)
		if !ok {
			return
		}
		d.process(ctx, e)
	}
}

// process runs every handler for e, isolating handler failures from
// each other, then transitions e to its next status.
func (d *Dispatcher) process(ctx context.Context, e bus.Event) {
	e.ProcessingStatus = bus.StatusProcessing

	handlers := d.registry.Handlers(e)

	var failed bool
	for _, h := range handlers {
		if ctx.Err() != nil {
			e.ProcessingStatus = bus.StatusFailed
			d.terminal(e)
			return
		}
		if err := h(ctx, e); err != nil {
			failed = true
			d.logger.Error("handler failed",
				"event_id", e.ID,
				"category", e.Category,
				"error", err,
			)
			// Isolation: a failing handler does not stop its siblings.
		}
	}

	if !failed {
		e.ProcessingStatus = bus.StatusCompleted
		d.terminal(e)
		return
	}

	e.RetryCount++
	if e.RetryCount >= d.cfg.MaxRetryAttempts {
		e.ProcessingStatus = bus.StatusFailed
		d.terminal(e)
		return
	}

	e.ProcessingStatus = bus.StatusRetrying
	d.scheduleRetry(ctx, e)
}

// scheduleRetry re-enqueues e after delay = RetryDelay * RetryCount via
// Queue.Requeue. Requeue applies the same capacity check as Enqueue: a
// retry that finds its level full is dropped by the queue and does not
// reach onTerminal.
func (d *Dispatcher) scheduleRetry(ctx context.Context, e bus.Event) {
	delay := d.cfg.RetryDelay * time.Duration(e.RetryCount)

	d.mu.Lock()
	onRetry := d.onRetry
	d.mu.Unlock()
	if onRetry != nil {
		onRetry(e)
	}

	d.retryWG.Add(1)
	d.mu.Lock()
	d.timers[e.ID] = time.AfterFunc(delay, func() {
		defer d.retryWG.Done()
		d.mu.Lock()
		delete(d.timers, e.ID)
		d.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		d.queue.Requeue(e)
	})
	d.mu.Unlock()

	d.logger.Info("event scheduled for retry",
		"event_id", e.ID,
		"retry_count", e.RetryCount,
		"delay", delay,
	)
}

func (d *Dispatcher) terminal(e bus.Event) {
	if d.onTerminal != nil {
		d.onTerminal(e)
	}
}
