// Package bus implements the priority queue at the center of the event
// fabric: five bounded FIFO sub-queues, one per priority level, drained
// in strict priority order by the dispatcher in internal/dispatch.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies an event for handler lookup and personal-log
// routing.
type Category string

const (
	CategorySystem        Category = "system"
	CategoryUser          Category = "user"
	CategoryPlugin        Category = "plugin"
	CategoryPayment       Category = "payment"
	CategorySecurity      Category = "security"
	CategoryCommunication Category = "communication"
	CategoryWebhook       Category = "webhook"
	CategoryError         Category = "error"
)

// Priority orders events within the queue. Higher values are served
// first; levels never starve each other except by strict precedence.
type Priority int

const (
	// PriorityUnset is Priority's zero value: a publisher that leaves
	// Priority unset in an Event literal gets this, not PriorityLow.
	// Publish treats it as "no explicit choice" and fills it in via
	// DefaultPriority; PriorityLow itself is a distinct, explicit
	// choice that Publish must leave alone.
	PriorityUnset Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityEmergency

	numPriorities = int(PriorityEmergency) + 1
)

// NumPriorityLevels is numPriorities exported for callers outside the
// package (metrics gauges, health snapshots) that need to size an
// array indexed by Priority without hardcoding the count.
const NumPriorityLevels = numPriorities

// String returns the lowercase name used in logs and the wire API.
func (p Priority) String() string {
	switch p {
	case PriorityUnset:
		return "unset"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ParsePriority converts a wire-level string back to a Priority. Unknown
// values fall back to PriorityNormal — callers that need to reject bad
// input should compare the returned ok value.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low":
		return PriorityLow, true
	case "normal":
		return PriorityNormal, true
	case "high":
		return PriorityHigh, true
	case "critical":
		return PriorityCritical, true
	case "emergency":
		return PriorityEmergency, true
	default:
		return PriorityNormal, false
	}
}

// Status tracks an event's position in the processing lifecycle. Valid
// transitions: queued -> processing -> (completed | failed | retrying);
// retrying -> processing. An event that exhausts its retry budget ends
// in failed and never transitions again.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// DefaultPriority returns the priority a publisher should use when it
// does not specify one explicitly. Security and payment events default
// high since they tend to gate user-visible consequences; system events
// default low since they are routine housekeeping. Every other category
// defaults to normal.
func DefaultPriority(cat Category) Priority {
	switch cat {
	case CategorySecurity, CategoryPayment:
		return PriorityHigh
	case CategorySystem:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Event is a structured notification accepted by the bus and delivered
// to subscribers.
type Event struct {
	ID          string
	Category    Category
	Source      string
	Priority    Priority
	Title       string
	Description string
	Data        map[string]any
	Hashtags    []string

	// UserID, when non-empty, scopes the event to a user and makes it
	// eligible for personal-log routing.
	UserID string
	// TopicHint overrides personal-log topic classification when set.
	TopicHint string
	// PersonalLogOnly restricts dispatch to the personal-log handler.
	PersonalLogOnly bool

	ProcessingStatus Status
	RetryCount       int
	Timestamp        time.Time
}

// NewEvent returns an Event with an assigned ID (if absent), a UTC
// timestamp (if zero), and processing status queued. It does not infer
// a priority: an Event left with the zero-value PriorityUnset is
// passed through unchanged, so callers that want category-based
// defaulting should call DefaultPriority explicitly before
// constructing the Event.
func NewEvent(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.ProcessingStatus = StatusQueued
	return e
}
