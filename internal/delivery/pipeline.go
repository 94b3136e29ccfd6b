package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/privatehub/corebus/internal/bus"
	"github.com/privatehub/corebus/internal/template"
	"github.com/privatehub/corebus/internal/transport"
)

// ErrNoRecipients names the empty-recipient-list condition. Send does
// not return it; it reports the condition as SendResult.Error
// "no-recipients".
var ErrNoRecipients = errors.New("delivery: no recipients")

// Pipeline fans a Message out to its recipients' transports, rendering
// per-recipient bodies via the template engine and aggregating the
// outcome. Pipeline is stateless across calls and does not retry — a
// caller that wants retry republishes the message itself.
type Pipeline struct {
	logger   *slog.Logger
	engine   *template.Engine
	adapters map[transport.Kind]transport.Adapter
	queue    *bus.Queue // for audit event republish; may be nil to disable
}

// New builds a Pipeline over the given template engine and adapter
// set. queue may be nil if audit republishing is not wanted.
func New(logger *slog.Logger, engine *template.Engine, adapters map[transport.Kind]transport.Adapter, queue *bus.Queue) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger, engine: engine, adapters: adapters, queue: queue}
}

// Send attempts delivery to every recipient in msg.Recipients, in
// order, and returns once all attempts have completed. The message
// succeeds if at least one recipient reaches sent or delivered.
func (p *Pipeline) Send(ctx context.Context, msg Message) SendResult {
	if len(msg.Recipients) == 0 {
		return SendResult{MessageID: msg.ID, Status: StatusFailed, Error: "no-recipients"}
	}

	outcomes := make([]RecipientOutcome, 0, len(msg.Recipients))
	success := false

	for _, recipient := range msg.Recipients {
		result := p.deliverOne(ctx, msg, recipient)
		outcomes = append(outcomes, RecipientOutcome{Recipient: recipient, Result: result})
		if result.Status == transport.StatusSent || result.Status == transport.StatusDelivered {
			success = true
		}
	}

	status := StatusFailed
	if success {
		status = StatusSent
	}

	if msg.LogToPersonalServer && msg.UserID != "" {
		p.publishAudit(msg, status, outcomes)
	}

	return SendResult{
		MessageID:    msg.ID,
		Status:       status,
		Success:      success,
		PerRecipient: outcomes,
	}
}

func (p *Pipeline) deliverOne(ctx context.Context, msg Message, recipient transport.Recipient) transport.DeliverResult {
	adapter, ok := p.adapters[recipient.Transport]
	if !ok {
		return transport.DeliverResult{Status: transport.StatusFailed, Meta: "no adapter for transport"}
	}

	env := transport.Envelope{
		MessageID:     msg.ID,
		Subject:       msg.Subject,
		UserID:        msg.UserID,
		ContextLabels: msg.Hashtags,
		Timestamp:     time.Now().UTC(),
	}

	transportName := string(recipient.Transport)
	if recipient.Transport == transport.KindWebhook && p.engine.HasVariant(msg.TemplateID, transportName) {
		env.RawJSON = true
	}
	env.Body = p.engine.Render(msg.TemplateID, transportName, msg.TemplateVariables, msg.Content)

	return adapter.Deliver(ctx, recipient, env)
}

// publishAudit re-publishes a communication event describing the send
// without the message's content or template variables, per the
// privacy invariant: audit events describe who/how/outcome, never what.
func (p *Pipeline) publishAudit(msg Message, status Status, outcomes []RecipientOutcome) {
	if p.queue == nil {
		return
	}

	recipients := make([]string, len(outcomes))
	transports := make([]string, len(outcomes))
	results := make([]string, len(outcomes))
	for i, o := range outcomes {
		recipients[i] = recipientAddress(o.Recipient)
		transports[i] = string(o.Recipient.Transport)
		results[i] = string(o.Result.Status)
	}

	audit := bus.NewEvent(bus.Event{
		Category: bus.CategoryCommunication,
		Source:   "delivery",
		Priority: bus.DefaultPriority(bus.CategoryCommunication),
		Title:    "message sent",
		UserID:   msg.UserID,
		Data: map[string]any{
			"message_id": msg.ID,
			"recipients": recipients,
			"transports": transports,
			"outcomes":   results,
			"status":     string(status),
		},
		Hashtags: []string{"#communication"},
	})

	if outcome := p.queue.Enqueue(audit); outcome != bus.EnqueueAccepted {
		p.logger.Warn("audit event dropped", "message_id", msg.ID)
	}
}

func recipientAddress(r transport.Recipient) string {
	switch r.Transport {
	case transport.KindChat:
		return strconv.FormatInt(r.ChatChannelID, 10)
	case transport.KindEmail:
		return r.Email
	case transport.KindWebhook:
		return r.WebhookURL
	case transport.KindSMS:
		return r.PhoneE164
	default:
		return ""
	}
}
