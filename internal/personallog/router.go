package personallog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/privatehub/corebus/internal/bus"
	"github.com/privatehub/corebus/internal/transport"
)

// UserConfig is the per-user wiring consumed by the router: the
// opaque channel handle and the topic set classification runs against.
// Initial channel provisioning happens outside the core; the router
// only consumes the resulting config.
type UserConfig struct {
	ChannelID             int64
	Topics                []Topic
	RecipientKey          *RecipientKey // nil: entries for topics with EncryptionRequired are dropped, never sent in plaintext
	DefaultRetentionHours int
}

// Router resolves an event's owning user, classifies it to a topic,
// formats and optionally encrypts a log entry, and dispatches it to
// the user's chat channel.
type Router struct {
	logger *slog.Logger
	chat   transport.Adapter

	mu    sync.RWMutex
	users map[string]UserConfig

	notConfigured uint64 // counts events for users with no channel configured

	onWritten func() // optional; invoked once per entry Handle dispatches
}

func NewRouter(logger *slog.Logger, chat transport.Adapter) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger, chat: chat, users: make(map[string]UserConfig)}
}

// Configure installs or replaces a user's channel and topic
// configuration. Copy-on-write: existing readers of the previous
// configuration are unaffected.
func (r *Router) Configure(userID string, cfg UserConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = cloneUsers(r.users)
	r.users[userID] = cfg
}

func cloneUsers(in map[string]UserConfig) map[string]UserConfig {
	out := make(map[string]UserConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NotConfiguredCount returns how many events were skipped because
// their owning user has no channel configured.
func (r *Router) NotConfiguredCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notConfigured
}

// ConfiguredUserCount returns how many users currently have a
// personal-log channel configured — the gauge behind a Health
// snapshot's "configured users" figure.
func (r *Router) ConfiguredUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// OnWritten sets a callback invoked once per entry Handle formats and
// hands to the chat adapter, whether or not delivery itself ultimately
// succeeds. Mirrors dispatch.Dispatcher.OnRetry: a setter called once
// at wiring time, before Run, so it needs no locking of its own.
func (r *Router) OnWritten(fn func()) {
	r.onWritten = fn
}

// Handle is a dispatch.Handler suitable for registration against
// PersonalLogOnly events, or as the category-specific handler that
// mirrors user-owned events into their personal log.
func (r *Router) Handle(ctx context.Context, e bus.Event) error {
	if e.UserID == "" {
		return nil
	}

	r.mu.RLock()
	cfg, ok := r.users[e.UserID]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		r.notConfigured++
		r.mu.Unlock()
		return nil
	}

	topic := Classify(cfg.Topics, e.TopicHint, string(e.Category), e.Source, e.Title)

	entry := Entry{
		ID:            uuid.NewString(),
		UserID:        e.UserID,
		ChannelID:     cfg.ChannelID,
		TopicID:       topic.ID,
		SourceEventID: e.ID,
		Title:         e.Title,
		Content:       formatEntry(e),
		Hashtags:      topic.Hashtags,
		LoggedAt:      time.Now().UTC(),
	}
	retention := topic.RetentionHours
	if retention == 0 {
		retention = cfg.DefaultRetentionHours
	}
	entry.withRetention(retention)

	if topic.EncryptionRequired {
		if cfg.RecipientKey == nil {
			r.logger.Error("personal log encryption key missing", "user_id", e.UserID, "topic_id", topic.ID)
			return nil // the surrounding event is not failed; the entry is dropped
		}
		if err := entry.Encrypt(*cfg.RecipientKey); err != nil {
			r.logger.Error("personal log encryption failed", "user_id", e.UserID, "error", err)
			return nil // the surrounding event is not failed; the entry is dropped
		}
	}

	body := entry.Content
	if len(entry.Hashtags) > 0 {
		body += "\n" + strings.Join(entry.Hashtags, " ")
	}

	if r.chat == nil {
		r.logger.Warn("personal log dispatch failed", "user_id", e.UserID, "meta", "no adapter for transport")
		return nil
	}

	env := transport.Envelope{Body: body, UserID: e.UserID, ContextLabels: entry.Hashtags, Timestamp: entry.LoggedAt}
	result := r.chat.Deliver(ctx, transport.Recipient{Transport: transport.KindChat, ChatChannelID: entry.ChannelID}, env)
	if result.Status == transport.StatusFailed {
		r.logger.Warn("personal log dispatch failed", "user_id", e.UserID, "meta", result.Meta)
	}
	if r.onWritten != nil {
		r.onWritten()
	}
	return nil
}

// formatEntry renders a structured header plus description plus an
// optional JSON rendering of the event's data, all in plaintext. The
// encryption flag, not this function, decides whether that plaintext
// ever leaves the process.
func formatEntry(e bus.Event) string {
	header := fmt.Sprintf("[%s] %s/%s @ %s", e.Priority.String(), e.Category, e.Source, e.Timestamp.Format(time.RFC3339))
	lines := []string{header, e.Title}
	if e.Description != "" {
		lines = append(lines, e.Description)
	}
	if len(e.Data) > 0 {
		if raw, err := json.Marshal(e.Data); err == nil {
			lines = append(lines, string(raw))
		}
	}
	return strings.Join(lines, "\n")
}
