package transport

import "context"

// SMSAdapter is a stub: no SMS backend is wired in this repository, so
// every delivery fails explicitly rather than silently succeeding.
// Bind a real backend by replacing this adapter's registration in the
// facade.
type SMSAdapter struct{}

func NewSMSAdapter() *SMSAdapter { return &SMSAdapter{} }

func (a *SMSAdapter) Kind() Kind { return KindSMS }

func (a *SMSAdapter) Deliver(ctx context.Context, recipient Recipient, env Envelope) DeliverResult {
	return failed("no SMS backend configured")
}
