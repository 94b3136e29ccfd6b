package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeChatSender struct {
	err           error
	lastChannelID int64
	lastBody      string
	lastParseMode string
}

func (f *fakeChatSender) SendMessage(ctx context.Context, channelID int64, body, parseMode string) error {
	f.lastChannelID = channelID
	f.lastBody = body
	f.lastParseMode = parseMode
	return f.err
}

func TestChatAdapterDeliverSuccess(t *testing.T) {
	sender := &fakeChatSender{}
	a := NewChatAdapter(sender, "markdown")

	result := a.Deliver(context.Background(), Recipient{Transport: KindChat, ChatChannelID: 42}, Envelope{Body: "hello"})
	if result.Status != StatusSent {
		t.Fatalf("Status = %v, want sent", result.Status)
	}
	if sender.lastChannelID != 42 || sender.lastBody != "hello" || sender.lastParseMode != "markdown" {
		t.Fatalf("sender saw %+v", sender)
	}
}

func TestChatAdapterDeliverFailure(t *testing.T) {
	sender := &fakeChatSender{err: errors.New("boom")}
	a := NewChatAdapter(sender, "")

	result := a.Deliver(context.Background(), Recipient{Transport: KindChat, ChatChannelID: 1}, Envelope{Body: "x"})
	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
}

func TestChatAdapterDeliverCancelled(t *testing.T) {
	sender := &fakeChatSender{err: context.Canceled}
	a := NewChatAdapter(sender, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := a.Deliver(ctx, Recipient{Transport: KindChat}, Envelope{Body: "x"})
	if result.Status != StatusFailed || result.Meta != "cancelled" {
		t.Fatalf("result = %+v, want failed/cancelled", result)
	}
}

func TestSMSAdapterAlwaysFails(t *testing.T) {
	a := NewSMSAdapter()
	result := a.Deliver(context.Background(), Recipient{Transport: KindSMS, PhoneE164: "+15551234567"}, Envelope{Body: "x"})
	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
}

func TestWebhookOutAdapterSignsAndDeliversDefaultEnvelope(t *testing.T) {
	var gotBody string
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewWebhookOutAdapter("shared-secret")
	a.client = srv.Client() // force HTTP/1.1 client against the plain-HTTP test server

	result := a.Deliver(context.Background(), Recipient{Transport: KindWebhook, WebhookURL: srv.URL}, Envelope{
		MessageID: "m1",
		Subject:   "hi",
		Body:      "content body",
		UserID:    "u1",
	})
	if result.Status != StatusSent {
		t.Fatalf("Status = %v, want sent", result.Status)
	}
	if !strings.HasPrefix(gotSig, "sha256=") {
		t.Fatalf("X-Signature = %q, want sha256= prefix", gotSig)
	}
	if !strings.Contains(gotBody, `"message_id":"m1"`) {
		t.Fatalf("body = %q, missing message_id", gotBody)
	}
}

func TestWebhookOutAdapterRawJSONPassesThroughVerbatim(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewWebhookOutAdapter("")
	a.client = srv.Client()

	raw := `{"event_type":"push","ref":"main"}`
	result := a.Deliver(context.Background(), Recipient{Transport: KindWebhook, WebhookURL: srv.URL}, Envelope{
		Body:    raw,
		RawJSON: true,
	})
	if result.Status != StatusSent {
		t.Fatalf("Status = %v, want sent", result.Status)
	}
	if gotBody != raw {
		t.Fatalf("body = %q, want verbatim %q", gotBody, raw)
	}
}

func TestWebhookOutAdapterNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewWebhookOutAdapter("")
	a.client = srv.Client()

	result := a.Deliver(context.Background(), Recipient{Transport: KindWebhook, WebhookURL: srv.URL}, Envelope{Body: "x"})
	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
}

func TestComposeMessagePlainVsHTML(t *testing.T) {
	plain, err := composeMessage("Sender <sender@example.com>", "rcpt@example.com", "Subj", "just text")
	if err != nil {
		t.Fatalf("composeMessage() error = %v", err)
	}
	if strings.Contains(string(plain), "text/html") {
		t.Fatalf("expected text/plain for body without '<'")
	}

	html, err := composeMessage("Sender <sender@example.com>", "rcpt@example.com", "Subj", "<b>bold</b>")
	if err != nil {
		t.Fatalf("composeMessage() error = %v", err)
	}
	if !strings.Contains(string(html), "text/html") {
		t.Fatalf("expected text/html for body containing '<'")
	}
}
