// Package delivery implements the outbound message pipeline: per-
// recipient template resolution, transport fan-out, success
// aggregation, and privacy-safe audit republishing onto the bus.
package delivery

import (
	"time"

	"github.com/privatehub/corebus/internal/transport"
)

// Status is the terminal state of a Message after Pipeline.Send.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is an outbound unit addressed to one or more recipients
// across one or more transports.
type Message struct {
	ID     string
	UserID string

	Subject string
	Content string

	TemplateID        string
	TemplateVariables map[string]string

	Recipients []transport.Recipient

	TopicHint           string
	Hashtags            []string
	LogToPersonalServer bool

	Status      Status
	DeliveredAt time.Time
}

// RecipientOutcome records one recipient's delivery result.
type RecipientOutcome struct {
	Recipient transport.Recipient
	Result    transport.DeliverResult
}

// SendResult is the aggregate outcome of a Pipeline.Send call.
type SendResult struct {
	MessageID    string
	Status       Status
	Success      bool
	PerRecipient []RecipientOutcome
	Error        string
}
