package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/masar-academy/api/internal/platform/httpx"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute

	maxSignedBodyBytes = 1 << 20
)

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce for ttl after now if it has not been seen within scope. It reports
	// false for replays. now comes from the validator's clock.
	UseNonce(ctx context.Context, scope, nonce string, now time.Time, ttl time.Duration) (bool, error)
}

// HMACValidator verifies requests signed by trusted relays (payment capture callbacks). The
// signature covers METHOD\nPATH\nTIMESTAMP\nNONCE\nhex(sha256(body)).
type HMACValidator struct {
	secrets map[string][]byte
	nonces  NonceStore
	logger  *zap.Logger
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger *zap.Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACClock injects a custom clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders customises the header names used by the middleware.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACWindow sets the accepted timestamp skew and how long nonces are remembered.
func WithHMACWindow(skew, nonceTTL time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if skew > 0 {
			v.clockSkew = skew
		}
		if nonceTTL > 0 {
			v.nonceTTL = nonceTTL
		}
	}
}

// NewHMACValidator builds a validator over named shared secrets.
func NewHMACValidator(secrets map[string]string, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secrets:         make(map[string][]byte, len(secrets)),
		nonces:          nonces,
		logger:          zap.NewNop(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for name, secret := range secrets {
		if secret = strings.TrimSpace(secret); secret != "" {
			v.secrets[strings.TrimSpace(name)] = []byte(secret)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// HMACMetadata describes the verified signature for downstream handlers.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type hmacContextKey struct{}

// HMACMetadataFromContext retrieves metadata stored by RequireHMAC.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

// RequireHMAC enforces a valid signature made with the secret called secretName.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			meta, status, code, err := v.verify(r, secretName)
			if err != nil {
				v.logger.Warn("hmac verification failed", zap.String("secret", secretName), zap.String("reason", code), zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), status))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, hmacContextKey{}, meta)))
		})
	}
}

func (v *HMACValidator) verify(r *http.Request, secretName string) (*HMACMetadata, int, string, error) {
	secret, ok := v.secrets[secretName]
	if !ok || v.nonces == nil {
		return nil, http.StatusServiceUnavailable, "verification_unavailable", errors.New("hmac verification not configured")
	}

	signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if signatureValue == "" || timestampValue == "" || nonce == "" {
		return nil, http.StatusUnauthorized, "signature_missing", errors.New("signature headers missing")
	}

	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, http.StatusUnauthorized, "timestamp_invalid", err
	}
	now := v.now()
	if skew := now.Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, http.StatusUnauthorized, "timestamp_skew", errors.New("signature timestamp outside allowed window")
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, http.StatusBadRequest, httpx.CodeInvalidRequest, errors.New("unable to read body for signature verification")
	}
	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, http.StatusUnauthorized, "signature_invalid", err
	}
	if !hmac.Equal(signature, computeHMAC(secret, buildCanonicalString(r, body, timestampValue, nonce))) {
		return nil, http.StatusUnauthorized, "signature_mismatch", errors.New("signature verification failed")
	}

	stored, err := v.nonces.UseNonce(r.Context(), secretName, nonce, now, v.nonceTTL)
	if err != nil {
		return nil, http.StatusServiceUnavailable, "verification_unavailable", fmt.Errorf("nonce store: %w", err)
	}
	if !stored {
		return nil, http.StatusUnauthorized, "nonce_replay", errors.New("duplicate signature nonce")
	}
	return &HMACMetadata{SecretName: secretName, Timestamp: timestamp, Nonce: nonce}, 0, "", nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSignedBodyBytes {
		return nil, errors.New("auth: signed body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unable to parse signature timestamp %q", value)
}

func buildCanonicalString(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(r.Method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
