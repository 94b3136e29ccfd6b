package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/privatehub/corebus/internal/buildinfo"
)

// webhookPayload is the canonical outbound envelope used when the
// message carries no webhook-specific template variant.
type webhookPayload struct {
	MessageID     string   `json:"message_id"`
	Subject       string   `json:"subject"`
	Content       string   `json:"content"`
	Timestamp     string   `json:"timestamp"`
	UserID        string   `json:"user_id,omitempty"`
	ContextLabels []string `json:"context_labels,omitempty"`
}

// WebhookOutAdapter POSTs a JSON envelope to a recipient-supplied URL,
// signing the body with HMAC-SHA256 when a secret is configured.
type WebhookOutAdapter struct {
	client *http.Client
	secret string
}

// NewWebhookOutAdapter builds an adapter whose http.Client negotiates
// HTTP/2 when the target supports it. secret may be empty, in which
// case outgoing requests carry no X-Signature header.
func NewWebhookOutAdapter(secret string) *WebhookOutAdapter {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	// ConfigureTransport adds HTTP/2 via ALPN and keeps HTTP/1.1 as the
	// fallback; it only fails for a transport already set up for HTTP/2.
	_ = http2.ConfigureTransport(transport)
	return &WebhookOutAdapter{
		client: &http.Client{
			Transport: transport,
			Timeout:   DefaultTimeout,
		},
		secret: secret,
	}
}

func (a *WebhookOutAdapter) Kind() Kind { return KindWebhook }

func (a *WebhookOutAdapter) Deliver(ctx context.Context, recipient Recipient, env Envelope) DeliverResult {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var raw []byte
	if env.RawJSON {
		// Body is a webhook-variant template already rendered to JSON;
		// post it verbatim rather than re-wrapping.
		raw = []byte(env.Body)
	} else {
		ts := env.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		payload := webhookPayload{
			MessageID:     env.MessageID,
			Subject:       env.Subject,
			Content:       env.Body,
			Timestamp:     ts.Format(time.RFC3339),
			UserID:        env.UserID,
			ContextLabels: env.ContextLabels,
		}
		marshaled, err := json.Marshal(payload)
		if err != nil {
			return failed(fmt.Sprintf("marshal payload: %v", err))
		}
		raw = marshaled
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient.WebhookURL, bytes.NewReader(raw))
	if err != nil {
		return failed(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if a.secret != "" {
		req.Header.Set("X-Signature", "sha256="+signHex(a.secret, raw))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return failed("cancelled")
		}
		return DeliverResult{Status: StatusFailed, Meta: fmt.Sprintf("request: %v", err), RetryAfter: time.Minute}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DeliverResult{
			Status:     StatusFailed,
			Meta:       fmt.Sprintf("non-2xx status %d", resp.StatusCode),
			RetryAfter: retryAfterFromHeader(resp.Header.Get("Retry-After")),
		}
	}
	return sent(fmt.Sprintf("status %d", resp.StatusCode))
}

// signHex returns the lowercase hex HMAC-SHA256 of body under secret.
func signHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func retryAfterFromHeader(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return 0
}
