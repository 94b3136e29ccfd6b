// Package corebus wires the priority queue, dispatcher, transports,
// template engine, delivery pipeline, inbound webhook processor,
// personal-log router, metrics, and realtime hub into a single
// facade — the one contract an HTTP surface or an in-process caller
// needs to use the event bus.
package corebus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/privatehub/corebus/internal/archive"
	"github.com/privatehub/corebus/internal/bus"
	"github.com/privatehub/corebus/internal/delivery"
	"github.com/privatehub/corebus/internal/dispatch"
	"github.com/privatehub/corebus/internal/metrics"
	"github.com/privatehub/corebus/internal/personallog"
	"github.com/privatehub/corebus/internal/realtime"
	"github.com/privatehub/corebus/internal/template"
	"github.com/privatehub/corebus/internal/transport"
	"github.com/privatehub/corebus/internal/webhookin"
)

// PublishResult reports what happened to a single published event.
type PublishResult struct {
	ID       string
	QueuedAt time.Time
	Outcome  bus.EnqueueOutcome
}

// Bus is the assembled event fabric: the queue, its dispatcher, and
// every component wired to it. Construct one with New, call Run to
// start the worker pool, and Shutdown to drain it.
type Bus struct {
	logger *slog.Logger

	queue      *bus.Queue
	registry   *dispatch.Registry
	dispatcher *dispatch.Dispatcher
	engine     *template.Engine
	pipeline   *delivery.Pipeline
	webhooks   *webhookin.Registry
	processor  *webhookin.Processor
	personal   *personallog.Router
	counters   *metrics.Counters
	deadLetter *metrics.DeadLetterRing
	hub        *realtime.Hub
	archive    *archive.Store // optional; nil disables durable event archival

	queueCapacity int
}

// Options configures a Bus at construction time.
type Options struct {
	MaxQueueSize       int
	Workers            int
	MaxRetryAttempts   int
	RetryDelay         time.Duration
	DeadLetterCapacity int

	Adapters map[transport.Kind]transport.Adapter
	Realtime realtime.Config

	// Archive, if non-nil, receives every event that reaches a
	// terminal status (completed or failed).
	Archive *archive.Store
}

// New assembles a Bus but does not start its dispatcher; call Run for
// that.
func New(logger *slog.Logger, opts Options) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	queue := bus.NewQueue(logger, opts.MaxQueueSize)
	registry := dispatch.NewRegistry()
	engine := template.New()
	webhooks := webhookin.NewRegistry()
	processor := webhookin.NewProcessor(logger, webhooks, queue)
	counters := &metrics.Counters{}
	deadLetter := metrics.NewDeadLetterRing(opts.DeadLetterCapacity)
	hub := realtime.NewHub(logger, opts.Realtime)

	pipeline := delivery.New(logger, engine, opts.Adapters, queue)

	var chatAdapter transport.Adapter
	if opts.Adapters != nil {
		chatAdapter = opts.Adapters[transport.KindChat]
	}
	personal := personallog.NewRouter(logger, chatAdapter)
	personal.OnWritten(func() { counters.PersonalLogsWritten.Add(1) })
	registry.SetPersonalLogHandler(personal.Handle)

	capacity := opts.MaxQueueSize
	if capacity <= 0 {
		capacity = 10000
	}

	b := &Bus{
		logger:        logger,
		queue:         queue,
		registry:      registry,
		engine:        engine,
		pipeline:      pipeline,
		webhooks:      webhooks,
		processor:     processor,
		personal:      personal,
		counters:      counters,
		deadLetter:    deadLetter,
		hub:           hub,
		archive:       opts.Archive,
		queueCapacity: capacity,
	}

	b.dispatcher = dispatch.New(logger, queue, registry, dispatch.Config{
		Workers:          opts.Workers,
		MaxRetryAttempts: opts.MaxRetryAttempts,
		RetryDelay:       opts.RetryDelay,
	}, b.onTerminal)
	b.dispatcher.OnRetry(func(bus.Event) {
		counters.EventsRetried.Add(1)
	})

	return b
}

// onTerminal is the dispatcher's terminal-event hook: it updates
// counters, feeds the dead-letter ring, mirrors to the realtime hub,
// and archives the event if a store is bound.
func (b *Bus) onTerminal(e bus.Event) {
	switch e.ProcessingStatus {
	case bus.StatusCompleted:
		b.counters.EventsCompleted.Add(1)
	case bus.StatusFailed:
		b.counters.EventsFailed.Add(1)
		b.deadLetter.Record(metrics.FailureRecord{
			EventID:  e.ID,
			Category: string(e.Category),
			Source:   e.Source,
			Reason:   "handler failed after max retry attempts",
			At:       time.Now().UTC(),
		})
	}

	b.hub.Mirror(e)

	if b.archive != nil {
		if err := b.archive.Record(e); err != nil {
			b.logger.Error("archive write failed", "event_id", e.ID, "error", err)
		}
	}
}

// Run starts the dispatcher's worker pool. It blocks until ctx is
// cancelled.
func (b *Bus) Run(ctx context.Context) {
	b.dispatcher.Run(ctx)
}

// Shutdown stops the dispatcher, waiting up to deadline for in-flight
// work and pending retries to settle.
func (b *Bus) Shutdown(deadline time.Duration) {
	b.dispatcher.Shutdown(deadline)
}

// RealtimeHub exposes the websocket broadcast hub so an HTTP surface
// can mount its ServeHTTP.
func (b *Bus) RealtimeHub() *realtime.Hub {
	return b.hub
}

// Publish enqueues e, assigning it an ID and timestamp if absent and
// defaulting its priority by category when the caller left it unset.
// An explicit PriorityLow (or any other explicit choice) is never
// overwritten.
func (b *Bus) Publish(e bus.Event) PublishResult {
	if e.Priority == bus.PriorityUnset {
		e.Priority = bus.DefaultPriority(e.Category)
	}
	e = bus.NewEvent(e)

	outcome := b.queue.Enqueue(e)
	if outcome == bus.EnqueueAccepted {
		b.counters.EventsEnqueued.Add(1)
	} else {
		b.counters.EventsDropped.Add(1)
	}

	return PublishResult{ID: e.ID, QueuedAt: e.Timestamp, Outcome: outcome}
}

// PublishBatch publishes each event independently and returns a
// per-event result in the same order.
func (b *Bus) PublishBatch(events []bus.Event) []PublishResult {
	out := make([]PublishResult, len(events))
	for i, e := range events {
		out[i] = b.Publish(e)
	}
	return out
}

// Send runs msg through the delivery pipeline, republishing a
// privacy-safe audit event onto the bus when msg requests it.
func (b *Bus) Send(ctx context.Context, msg delivery.Message) delivery.SendResult {
	result := b.pipeline.Send(ctx, msg)
	if result.Success {
		b.counters.MessagesSent.Add(1)
	} else {
		b.counters.MessagesFailed.Add(1)
	}
	return result
}

// RegisterWebhook adds an inbound webhook registration.
func (b *Bus) RegisterWebhook(reg webhookin.Registration) webhookin.RegisterResult {
	return b.webhooks.Register(reg)
}

// UnregisterWebhook removes a webhook registration by ID.
func (b *Bus) UnregisterWebhook(id string) {
	b.webhooks.Unregister(id)
}

// ListWebhooks returns a snapshot of every registered inbound webhook.
func (b *Bus) ListWebhooks() []webhookin.Registration {
	return b.webhooks.List()
}

// ProcessWebhook verifies and normalizes an inbound webhook delivery,
// enqueuing it onto the bus when accepted.
func (b *Bus) ProcessWebhook(webhookID string, payload []byte, headers map[string]string) webhookin.ProcessResult {
	result := b.processor.Process(webhookID, payload, headers)
	if result.Processed {
		b.counters.WebhooksReceived.Add(1)
		b.counters.EventsEnqueued.Add(1)
	} else if result.ProcessingError != "" {
		b.counters.WebhooksRejected.Add(1)
	}
	return result
}

// RegisterHandler adds a handler for category, keyed by identity.
// Registering the same (category, identity) pair again replaces the
// handler.
func (b *Bus) RegisterHandler(category bus.Category, identity string, h dispatch.Handler) {
	b.registry.Register(category, identity, h)
}

// RegisterTemplate adds or replaces a rendering template.
func (b *Bus) RegisterTemplate(t template.Template) {
	b.engine.Register(t)
}

// ConfigurePersonalChannel installs or replaces a user's personal-log
// channel and topic configuration.
func (b *Bus) ConfigurePersonalChannel(userID string, cfg personallog.UserConfig) {
	b.personal.Configure(userID, cfg)
}

// Health returns a point-in-time aggregate of component liveness, the
// current counters, queue depth, and recent dead-lettered failures.
func (b *Bus) Health() metrics.Health {
	depth, _ := metrics.QueueGauges(b.queue)

	components := map[string]metrics.ComponentStatus{
		"queue":      metrics.ComponentHealthy,
		"dispatcher": metrics.ComponentHealthy,
	}
	nearCapacity := (b.queueCapacity * 9) / 10
	for level, count := range depth {
		if count >= nearCapacity {
			components[fmt.Sprintf("queue:%s", bus.Priority(level).String())] = metrics.ComponentDegraded
		}
	}

	return metrics.Health{
		Components:         components,
		Counters:           b.counters.Snapshot(),
		QueueDepth:         depth,
		RegisteredWebhooks: len(b.webhooks.List()),
		ConfiguredUsers:    b.personal.ConfiguredUserCount(),
		RecentFailures:     b.deadLetter.Recent(),
		CheckedAt:          time.Now().UTC(),
	}
}

// Metrics returns a snapshot of the bus's counters. The window
// parameter is accepted for interface symmetry with a future windowed
// implementation; the current counters are cumulative since process
// start.
func (b *Bus) Metrics(_ time.Duration) metrics.Snapshot {
	return b.counters.Snapshot()
}
