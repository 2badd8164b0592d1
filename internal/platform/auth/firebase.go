package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/masar-academy/api/internal/platform/config"
)

const authEmulatorEnv = "FIREBASE_AUTH_EMULATOR_HOST"

// ErrTokenRevoked is returned when revocation checks are enabled and the user's sessions were revoked.
var ErrTokenRevoked = errors.New("auth: firebase id token revoked")

// FirebaseVerifier checks ID tokens minted for the Masar web and mobile clients.
type FirebaseVerifier struct {
	client       *firebaseauth.Client
	checkRevoked bool
}

type FirebaseOption func(*FirebaseVerifier)

// WithRevocationCheck makes every verification consult the Auth backend for revoked sessions.
// Off by default because it costs a network round trip per request.
func WithRevocationCheck() FirebaseOption {
	return func(v *FirebaseVerifier) { v.checkRevoked = true }
}

// NewFirebaseVerifier builds a verifier on the Admin SDK. Credentials are ignored when the
// Auth emulator is configured.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" && os.Getenv(authEmulatorEnv) == "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("auth: read firebase credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsJSON(raw))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}

	v := &FirebaseVerifier{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyIDToken validates idToken. The caller bounds the call through ctx.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}
	if !v.checkRevoked {
		return v.client.VerifyIDToken(ctx, idToken)
	}
	token, err := v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	if firebaseauth.IsIDTokenRevoked(err) || firebaseauth.IsUserDisabled(err) {
		return nil, fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	}
	return token, err
}
