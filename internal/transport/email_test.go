package transport

import (
	"errors"
	"fmt"
	"net/textproto"
	"testing"
	"time"
)

func TestRetryAfterForSMTPErrorClassifiesByResponseCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"transient 4xx", fmt.Errorf("RCPT TO x: %w", &textproto.Error{Code: 450, Msg: "mailbox busy"}), time.Minute},
		{"permanent 5xx", fmt.Errorf("RCPT TO x: %w", &textproto.Error{Code: 550, Msg: "no such user"}), 30 * time.Minute},
		{"no SMTP response", errors.New("dial tcp: connection refused"), 5 * time.Minute},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := retryAfterForSMTPError(c.err); got != c.want {
				t.Errorf("retryAfterForSMTPError(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
