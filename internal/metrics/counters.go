// Package metrics exposes atomic counters, priority-queue gauges, and
// an aggregated health snapshot for the bus.
package metrics

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/privatehub/corebus/internal/bus"
)

// Counters holds every monotonically increasing counter the bus
// tracks. All fields are updated with atomic operations and safe for
// concurrent use without external locking.
type Counters struct {
	EventsEnqueued      atomic.Uint64
	EventsDropped       atomic.Uint64
	EventsCompleted     atomic.Uint64
	EventsFailed        atomic.Uint64
	EventsRetried       atomic.Uint64
	MessagesSent        atomic.Uint64
	MessagesFailed      atomic.Uint64
	WebhooksReceived    atomic.Uint64
	WebhooksRejected    atomic.Uint64
	PersonalLogsWritten atomic.Uint64
}

// Snapshot is an immutable, human-readable rendering of Counters taken
// at one instant.
type Snapshot struct {
	EventsEnqueued      uint64
	EventsDropped       uint64
	EventsCompleted     uint64
	EventsFailed        uint64
	EventsRetried       uint64
	MessagesSent        uint64
	MessagesFailed      uint64
	WebhooksReceived    uint64
	WebhooksRejected    uint64
	PersonalLogsWritten uint64

	// Human is a log/operator-friendly rendering of the fields above,
	// keyed by the same names, formatted via go-humanize.
	Human map[string]string
}

func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		EventsEnqueued:      c.EventsEnqueued.Load(),
		EventsDropped:       c.EventsDropped.Load(),
		EventsCompleted:     c.EventsCompleted.Load(),
		EventsFailed:        c.EventsFailed.Load(),
		EventsRetried:       c.EventsRetried.Load(),
		MessagesSent:        c.MessagesSent.Load(),
		MessagesFailed:      c.MessagesFailed.Load(),
		WebhooksReceived:    c.WebhooksReceived.Load(),
		WebhooksRejected:    c.WebhooksRejected.Load(),
		PersonalLogsWritten: c.PersonalLogsWritten.Load(),
	}
	s.Human = map[string]string{
		"events_enqueued":       humanize.Comma(int64(s.EventsEnqueued)),
		"events_dropped":        humanize.Comma(int64(s.EventsDropped)),
		"events_completed":      humanize.Comma(int64(s.EventsCompleted)),
		"events_failed":         humanize.Comma(int64(s.EventsFailed)),
		"events_retried":        humanize.Comma(int64(s.EventsRetried)),
		"messages_sent":         humanize.Comma(int64(s.MessagesSent)),
		"messages_failed":       humanize.Comma(int64(s.MessagesFailed)),
		"webhooks_received":     humanize.Comma(int64(s.WebhooksReceived)),
		"webhooks_rejected":     humanize.Comma(int64(s.WebhooksRejected)),
		"personal_logs_written": humanize.Comma(int64(s.PersonalLogsWritten)),
	}
	return s
}

// QueueGauges renders a queue's current depth per priority level, with
// a human-readable rendering of the deepest level alongside the raw
// counts — useful in a health snapshot's log line.
func QueueGauges(q *bus.Queue) (depth [bus.NumPriorityLevels]int, humanSummary string) {
	depth = q.Depth()
	max := 0
	for _, d := range depth {
		if d > max {
			max = d
		}
	}
	humanSummary = humanize.Comma(int64(max)) + " deepest level"
	return depth, humanSummary
}
