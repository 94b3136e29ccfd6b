package personallog

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/box"
)

// Entry is one line in a user's personal log. Content is plaintext
// until Encrypt replaces it with a ciphertext hex string and sets
// Encrypted — the two states are never mixed in the same field value
// by contract, only by timing.
type Entry struct {
	ID            string
	UserID        string
	ChannelID     int64
	TopicID       int
	SourceEventID string
	Title         string
	Content       string
	Hashtags      []string
	LoggedAt      time.Time
	ExpiresAt     time.Time
	Encrypted     bool
}

// RecipientKey is the user's NaCl box public key, used to seal entries
// for topics with EncryptionRequired set. The core never holds the
// matching private key — only the user's own client can open a sealed
// entry.
type RecipientKey = [32]byte

// Encrypt replaces e.Content with the hex-encoded NaCl sealed-box
// ciphertext of its current plaintext, addressed to recipientKey, and
// sets Encrypted. Encryption failures are returned to the caller rather
// than silently leaving the entry in plaintext.
func (e *Entry) Encrypt(recipientKey RecipientKey) error {
	sealed, err := box.SealAnonymous(nil, []byte(e.Content), &recipientKey, rand.Reader)
	if err != nil {
		return fmt.Errorf("personallog: seal entry: %w", err)
	}
	e.Content = hex.EncodeToString(sealed)
	e.Encrypted = true
	return nil
}

// withRetention sets ExpiresAt from LoggedAt and a retention window. A
// zero or negative retentionHours leaves ExpiresAt unset (no expiry).
func (e *Entry) withRetention(retentionHours int) {
	if retentionHours <= 0 {
		return
	}
	e.ExpiresAt = e.LoggedAt.Add(time.Duration(retentionHours) * time.Hour)
}
