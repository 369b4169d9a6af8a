package core

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultFingerprintBodyBytes is how much of the normalized body feeds
// the fingerprint. Enough to tell threads apart, short enough that
// mailing-list blasts with per-recipient footers still collapse.
const DefaultFingerprintBodyBytes = 256

// Fingerprint computes the stable cache key for an email: a SHA-256
// over the normalized sender domain, subject, and body prefix.
// Near-duplicate emails (list blasts, repeated notifications) collapse
// to the same key so only one model call is spent on them.
func Fingerprint(email *EmailRecord, bodyBytes int) string {
	if bodyBytes <= 0 {
		bodyBytes = DefaultFingerprintBodyBytes
	}

	domain := senderDomain(email.From)
	subject := normalize(email.Subject)
	body := normalize(email.Body)
	if len(body) > bodyBytes {
		body = body[:bodyBytes]
	}

	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize lowercases and collapses runs of whitespace to single
// spaces so formatting-only differences do not change the key.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// senderDomain extracts the lowercased domain part of an address.
// Falls back to the whole address when it is not user@domain shaped.
func senderDomain(addr string) string {
	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[1] == "" {
		return strings.ToLower(strings.TrimSpace(addr))
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}

// ValidateEmail fails fast on content the engine refuses to fingerprint:
// a missing id or sender, or an email with neither subject nor body.
func ValidateEmail(email *EmailRecord) error {
	if email == nil {
		return ErrInvalidEmail
	}
	if strings.TrimSpace(email.ID) == "" || strings.TrimSpace(email.From) == "" {
		return ErrInvalidEmail
	}
	if strings.TrimSpace(email.Subject) == "" && strings.TrimSpace(email.Body) == "" {
		return ErrInvalidEmail
	}
	return nil
}
