package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL is how long a client may retry a booking or payment request with the same key.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// Outcome is the result of claiming a key.
type Outcome int

const (
	// Acquired means the caller owns the key and must run the request.
	Acquired Outcome = iota
	// Replay means the request already completed and its stored response must be sent.
	Replay
	// InFlight means another request holding the key has not finished yet.
	InFlight
)

// Response is the stored answer replayed for a completed key.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// Entry is the state kept per key. Response stays nil until the request completes.
type Entry struct {
	Fingerprint string    `json:"fp"`
	Response    *Response `json:"response,omitempty"`
	ClaimedAt   time.Time `json:"claimedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store keeps idempotency entries. Keys arrive already scoped to the caller.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key, fingerprint string) error
}

// replayedHeaders are the only response headers stored with a completed entry.
var replayedHeaders = []string{"Content-Type", "Content-Language", "Location", "ETag", "Cache-Control", "Retry-After"}

func replayable(src http.Header) http.Header {
	var dst http.Header
	for _, name := range replayedHeaders {
		if values := src.Values(name); len(values) > 0 {
			if dst == nil {
				dst = make(http.Header, len(replayedHeaders))
			}
			dst[name] = append([]string(nil), values...)
		}
	}
	return dst
}

// resolve decides the outcome for a live entry found under the key.
func resolve(existing Entry, fingerprint string) (Outcome, error) {
	switch {
	case existing.Fingerprint != fingerprint:
		return InFlight, ErrFingerprintMismatch
	case existing.Response != nil:
		return Replay, nil
	default:
		return InFlight, nil
	}
}

func completed(resp Response, fingerprint string, claimedAt, now time.Time, ttl time.Duration) Entry {
	stored := Response{Status: resp.Status, Header: replayable(resp.Header)}
	if len(resp.Body) > 0 {
		stored.Body = append([]byte(nil), resp.Body...)
	}
	if claimedAt.IsZero() {
		claimedAt = now
	}
	return Entry{Fingerprint: fingerprint, Response: &stored, ClaimedAt: claimedAt, ExpiresAt: now.Add(ttl)}
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func digest(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
