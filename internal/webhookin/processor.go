package webhookin

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/privatehub/corebus/internal/bus"
)

// ProcessResult is the outcome of processing one inbound webhook call.
type ProcessResult struct {
	Verified        bool
	Processed       bool
	ProcessingError string
	Event           bus.Event // zero value unless Processed
}

// Processor verifies and normalizes inbound webhook deliveries,
// enqueuing accepted ones onto the bus.
type Processor struct {
	logger   *slog.Logger
	registry *Registry
	queue    *bus.Queue
}

func NewProcessor(logger *slog.Logger, registry *Registry, queue *bus.Queue) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger, registry: registry, queue: queue}
}

// Process verifies the signature (if required), normalizes the payload
// to an Event, and enqueues it. headers is a case-sensitive map as
// received; Process itself does case-insensitive lookups for the two
// recognized signature headers.
func (p *Processor) Process(webhookID string, payload []byte, headers map[string]string) ProcessResult {
	reg, ok := p.registry.Lookup(webhookID)
	if !ok {
		return ProcessResult{Verified: false, Processed: false, ProcessingError: "unknown-webhook"}
	}

	if reg.VerifySignature {
		if !p.verify(reg, payload, headers) {
			return ProcessResult{Verified: false, Processed: false, ProcessingError: "signature"}
		}
	}

	eventType, _ := extractEventType(payload)
	if !reg.allowsEventType(eventType) {
		return ProcessResult{Verified: true, Processed: false, ProcessingError: "event-type-not-allowed"}
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return ProcessResult{Verified: true, Processed: false, ProcessingError: "invalid-json"}
	}

	event := bus.NewEvent(bus.Event{
		Category: bus.CategoryWebhook,
		Source:   reg.Source,
		Priority: bus.DefaultPriority(bus.CategoryWebhook),
		Title:    fmt.Sprintf("webhook:%s", eventType),
		Data:     data,
		Hashtags: []string{"#webhook", "#" + reg.Source},
	})

	if outcome := p.queue.Enqueue(event); outcome != bus.EnqueueAccepted {
		p.logger.Warn("inbound webhook event dropped", "webhook_id", webhookID)
		return ProcessResult{Verified: true, Processed: false, ProcessingError: "queue-full"}
	}

	return ProcessResult{Verified: true, Processed: true, Event: event}
}

// verify checks the request signature against the canonical JSON of
// payload signed with reg.SecretToken.
func (p *Processor) verify(reg Registration, payload []byte, headers map[string]string) bool {
	provided := headerValue(headers, "X-Signature")
	if provided == "" {
		provided = headerValue(headers, "X-Hub-Signature-256")
	}
	if provided == "" {
		return false
	}
	provided = strings.TrimPrefix(provided, "sha256=")

	canonical, err := canonicalJSON(payload)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, reg.SecretToken)
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(provided))
}

// headerValue does a case-insensitive lookup in a header map that may
// have arrived with arbitrary casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// canonicalJSON re-serializes an arbitrary JSON document with
// lexicographically sorted object keys and compact separators, HTML
// escaping disabled, so signers and verifiers agree on the exact bytes
// that were signed regardless of how the sender formatted its request.
func canonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sortedValue(v)); err != nil {
		return nil, err
	}
	// Encoder.Encode appends a trailing newline; the signature must be
	// computed over the tight serialization without it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// sortedValue recursively rebuilds maps as ordered key-value structures
// are not representable in Go's map type; json.Marshal already sorts
// map[string]any keys lexicographically, so this is primarily a
// documentation aid confirming that invariant for nested objects and
// arrays, which Marshal also handles recursively.
func sortedValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortedValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return t
	}
}

// extractEventType pulls payload.event_type out of the raw JSON body
// without requiring the full document to decode into data first.
func extractEventType(raw []byte) (string, bool) {
	var wrapper struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", false
	}
	return wrapper.EventType, wrapper.EventType != ""
}
