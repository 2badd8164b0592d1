package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	schedulerAudience = "https://api.masar.example/internal/bookings:sweep"
	googleIssuer      = "https://accounts.google.com"
)

type jwksFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	requests atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "k1",
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(f.key)
	require.NoError(t, err)
	return signed
}

func schedulerClaims(aud string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   googleIssuer,
		"aud":   aud,
		"sub":   "1234567890",
		"email": "scheduler@masar.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
}

func TestRequireOIDCAcceptsSchedulerToken(t *testing.T) {
	fixture := newJWKSFixture(t)
	validator := NewOIDCValidator(NewJWKSCache(fixture.server.URL), nil)

	var identity *ServiceIdentity
	handler := validator.RequireOIDC(schedulerAudience, []string{googleIssuer})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = ServiceIdentityFromContext(r.Context())
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/internal/bookings:sweep", nil)
		req.Header.Set("Authorization", "Bearer "+fixture.sign(t, schedulerClaims(schedulerAudience)))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.NotNil(t, identity)
	assert.Equal(t, "scheduler@masar.iam.gserviceaccount.com", identity.Email)
	assert.Equal(t, int32(1), fixture.requests.Load(), "keys are cached for max-age")
}

func TestRequireOIDCRejectsWrongAudienceAndIssuer(t *testing.T) {
	fixture := newJWKSFixture(t)
	validator := NewOIDCValidator(NewJWKSCache(fixture.server.URL), nil)
	handler := validator.RequireOIDC(schedulerAudience, []string{googleIssuer})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	wrongIssuer := schedulerClaims(schedulerAudience)
	wrongIssuer["iss"] = "https://evil.example"

	for name, token := range map[string]string{
		"audience": fixture.sign(t, schedulerClaims("https://other.example")),
		"issuer":   fixture.sign(t, wrongIssuer),
		"garbage":  "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/bookings:sweep", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireOIDCJWKSOutageIsUnavailable(t *testing.T) {
	fixture := newJWKSFixture(t)
	token := fixture.sign(t, schedulerClaims(schedulerAudience))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(down.Close)

	validator := NewOIDCValidator(NewJWKSCache(down.URL), nil)
	req := httptest.NewRequest(http.MethodPost, "/internal/bookings:sweep", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	validator.RequireOIDC(schedulerAudience, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestParseMaxAge(t *testing.T) {
	assert.Equal(t, 19*time.Minute, parseMaxAge("public, max-age=1140, must-revalidate"))
	assert.Zero(t, parseMaxAge("no-store"))
}
