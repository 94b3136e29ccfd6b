package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// SMTPConfig describes the upstream mail transfer agent the adapter
// authenticates against. One EmailAdapter serves one configured
// account.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool // false selects implicit TLS (port 465 convention)
}

// EmailAdapter composes an RFC 5322 envelope and delivers it over SMTP.
// Each call opens and closes its own connection; the adapter does not
// pool sessions.
type EmailAdapter struct {
	cfg  SMTPConfig
	from string
}

func NewEmailAdapter(cfg SMTPConfig, from string) *EmailAdapter {
	return &EmailAdapter{cfg: cfg, from: from}
}

func (a *EmailAdapter) Kind() Kind { return KindEmail }

func (a *EmailAdapter) Deliver(ctx context.Context, recipient Recipient, env Envelope) DeliverResult {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	msg, err := composeMessage(a.from, recipient.Email, env.Subject, env.Body)
	if err != nil {
		return failed(fmt.Sprintf("compose: %v", err))
	}

	if err := sendMail(ctx, a.cfg, a.from, []string{recipient.Email}, msg); err != nil {
		if ctx.Err() != nil {
			return failed("cancelled")
		}
		return DeliverResult{Status: StatusFailed, Meta: fmt.Sprintf("send: %v", err), RetryAfter: retryAfterForSMTPError(err)}
	}
	return sent("")
}

// retryAfterForSMTPError classifies an SMTP failure by its response
// code class. A 4xx reply (greylisting, a temporarily full mailbox) is
// transient and worth retrying soon; a 5xx reply (unknown recipient,
// policy rejection) is permanent, so the hint backs off much further
// since an immediate retry would just hit the same rejection. Errors
// that never reached an SMTP response — a dial or TLS failure — fall
// back to the adapter's default.
func retryAfterForSMTPError(err error) time.Duration {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return time.Minute
		case protoErr.Code >= 500:
			return 30 * time.Minute
		}
	}
	return 5 * time.Minute
}

// composeMessage builds an RFC 5322 message with a single body part,
// wrapped in the multipart containers mail.CreateWriter and
// CreateInline produce. Body renders as
// text/html when it contains '<', otherwise text/plain, per the
// outbound wire format's heuristic — no markdown conversion.
func composeMessage(from, to, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(subject)

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("parse to address %q: %w", to, err)
	}
	h.SetAddressList("To", []*mail.Address{toAddr})

	contentType := "text/plain; charset=utf-8"
	if strings.Contains(body, "<") {
		contentType = "text/html; charset=utf-8"
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	var ih mail.InlineHeader
	ih.Set("Content-Type", contentType)
	pw, err := tw.CreatePart(ih)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := pw.Write([]byte(body)); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close body part: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}

	return buf.Bytes(), nil
}

// sendMail connects to the SMTP server, authenticates, and delivers
// msg. dialTimeout is derived from ctx's deadline.
func sendMail(ctx context.Context, cfg SMTPConfig, from string, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	dialTimeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var client *smtp.Client
	var err error

	if !cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if dialErr != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	} else {
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	if cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}
