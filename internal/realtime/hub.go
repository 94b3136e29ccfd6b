// Package realtime mirrors completed bus events onto a websocket
// fan-out for operator dashboards. It is optional: a Hub with no
// connected clients costs a map lookup per broadcast.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/privatehub/corebus/internal/bus"
)

// BroadcastEvent is the JSON shape written to every connected client.
type BroadcastEvent struct {
	Timestamp time.Time      `json:"ts"`
	Category  bus.Category   `json:"category"`
	Source    string         `json:"source"`
	Title     string         `json:"title"`
	Priority  string         `json:"priority"`
	Status    bus.Status     `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub is a non-blocking broadcast bus for websocket subscribers. A nil
// *Hub is safe to call Mirror and SubscriberCount on — components that hold an optional
// hub reference do not need guard checks.
type Hub struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[chan BroadcastEvent]struct{}

	broadcastSystem bool
	broadcastUser   bool

	upgrader websocket.Upgrader
}

// Config toggles which event categories reach connected clients.
type Config struct {
	BroadcastSystemEvents bool
	BroadcastUserEvents   bool
}

func NewHub(logger *slog.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:          logger,
		subs:            make(map[chan BroadcastEvent]struct{}),
		broadcastSystem: cfg.BroadcastSystemEvents,
		broadcastUser:   cfg.BroadcastUserEvents,
		upgrader:        websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Mirror fans a completed or failed event out to connected websocket
// clients. It never affects the event's own processing outcome —
// dispatch wires it in as a terminal-event side effect, not a handler.
func (h *Hub) Mirror(e bus.Event) {
	if h == nil {
		return
	}
	if e.Category == bus.CategorySystem && !h.broadcastSystem {
		return
	}
	if e.UserID != "" && !h.broadcastUser {
		return
	}

	be := BroadcastEvent{
		Timestamp: e.Timestamp,
		Category:  e.Category,
		Source:    e.Source,
		Title:     e.Title,
		Priority:  e.Priority.String(),
		Status:    e.ProcessingStatus,
		Data:      e.Data,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- be:
		default:
			// Slow subscriber; drop rather than block the dispatcher.
		}
	}
}

// subscribe registers a new buffered channel and returns it alongside a
// matching unsubscribe function.
func (h *Hub) subscribe(bufSize int) (chan BroadcastEvent, func()) {
	ch := make(chan BroadcastEvent, bufSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// SubscriberCount reports the number of connected websocket clients.
func (h *Hub) SubscriberCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the connection and streams broadcast events as
// JSON text frames until a write to the client fails. A disconnected
// client is noticed on the next event written to it; the request
// context is not consulted.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.subscribe(64)
	defer unsubscribe()

	for be := range ch {
		raw, err := json.Marshal(be)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
}
