package transport

import (
	"context"
	"fmt"
)

// ChatSender abstracts the underlying chat backend (e.g. an MCP tool
// call, a bot API client) so ChatAdapter stays testable without a live
// connection.
type ChatSender interface {
	SendMessage(ctx context.Context, channelID int64, body, parseMode string) error
}

// ChatAdapter delivers a rendered body to an integer-addressed channel.
// The parseMode given to NewChatAdapter is forwarded to the sender
// as-is (e.g. "markdown", "html") with every message, whether or not
// the body came from a template; templates carry no parse mode, so it
// does not vary per message.
type ChatAdapter struct {
	sender    ChatSender
	parseMode string
}

func NewChatAdapter(sender ChatSender, parseMode string) *ChatAdapter {
	return &ChatAdapter{sender: sender, parseMode: parseMode}
}

func (a *ChatAdapter) Kind() Kind { return KindChat }

func (a *ChatAdapter) Deliver(ctx context.Context, recipient Recipient, env Envelope) DeliverResult {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := a.sender.SendMessage(ctx, recipient.ChatChannelID, env.Body, a.parseMode); err != nil {
		if ctx.Err() != nil {
			return failed("cancelled")
		}
		return failed(fmt.Sprintf("send: %v", err))
	}
	return sent("")
}
