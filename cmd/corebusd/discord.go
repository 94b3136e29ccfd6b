package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
)

// discordChatSender implements transport.ChatSender over a live Discord
// bot session. It is the concrete collaborator behind the chat
// transport's Adapter — the core never imports discordgo directly;
// only this lifecycle-layer wiring does.
type discordChatSender struct {
	session *discordgo.Session
}

// newDiscordChatSender opens a Discord session authenticated with
// botToken. The session's gateway connection is opened eagerly so a
// bad token fails at startup rather than on the first send.
func newDiscordChatSender(botToken string) (*discordChatSender, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("open discord gateway: %w", err)
	}
	return &discordChatSender{session: session}, nil
}

func (d *discordChatSender) Close() error {
	return d.session.Close()
}

// SendMessage posts body to channelID. parseMode is accepted for
// interface symmetry with other chat backends (e.g. Telegram's
// markdown/HTML modes); Discord has no equivalent concept and ignores
// it.
func (d *discordChatSender) SendMessage(ctx context.Context, channelID int64, body, parseMode string) error {
	_, err := d.session.ChannelMessageSendComplex(strconv.FormatInt(channelID, 10), &discordgo.MessageSend{
		Content: body,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send to channel %d: %w", channelID, err)
	}
	return nil
}
