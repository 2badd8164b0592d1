package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masar-academy/api/internal/services"
)

const testBucket = "masar-evidence"

type fakeBucket struct {
	objects map[string]*gcs.ObjectAttrs
	err     error
}

func (b *fakeBucket) Attrs(_ context.Context, object string) (*gcs.ObjectAttrs, error) {
	if b.err != nil {
		return nil, b.err
	}
	attrs, ok := b.objects[object]
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	return attrs, nil
}

func (b *fakeBucket) SignedURL(object string, opts *gcs.SignedURLOptions) (string, error) {
	return gcs.SignedURL(testBucket, object, opts)
}

func newTestSigningKey(t *testing.T) SigningKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	raw, err := json.Marshal(map[string]string{
		"client_email": "signer@masar-dev.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
	})
	require.NoError(t, err)
	signingKey, err := ParseSigningKey(raw)
	require.NoError(t, err)
	return signingKey
}

// The V4 signer measures expiry against the wall clock, so the pinned time must be current.
var testNow = time.Now().UTC()

func newTestStore(t *testing.T, bucket *fakeBucket) *EvidenceStore {
	t.Helper()
	store, err := newEvidenceStore(bucket, WithSigningKey(newTestSigningKey(t)), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return store
}

func TestEvidenceStoreStat(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]*gcs.ObjectAttrs{
		"bank-transfers/user-1/01HX/receipt.pdf": {ContentType: "application/pdf", Size: 2048},
	}}
	store := newTestStore(t, bucket)

	obj, err := store.Stat(context.Background(), "/bank-transfers/user-1/01HX/receipt.pdf")
	require.NoError(t, err)
	assert.Equal(t, services.EvidenceObject{Path: "bank-transfers/user-1/01HX/receipt.pdf", ContentType: "application/pdf", Size: 2048}, obj)

	_, err = store.Stat(context.Background(), "bank-transfers/user-1/missing.pdf")
	assert.ErrorIs(t, err, services.ErrEvidenceNotFound)
}

func TestEvidenceStoreStatWrapsBackendErrors(t *testing.T) {
	boom := errors.New("backend unavailable")
	store := newTestStore(t, &fakeBucket{err: boom})

	_, err := store.Stat(context.Background(), "bank-transfers/user-1/a.pdf")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, services.ErrEvidenceNotFound)
}

func TestEvidenceStoreSignedURL(t *testing.T) {
	object := "bank-transfers/user-1/01HX/receipt.pdf"
	store := newTestStore(t, &fakeBucket{objects: map[string]*gcs.ObjectAttrs{object: {ContentType: "application/pdf"}}})

	raw, err := store.SignedURL(context.Background(), object, 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Contains(t, u.Path, object)
	assert.Contains(t, []string{"599", "600"}, q.Get("X-Goog-Expires"))
	assert.NotEmpty(t, q.Get("X-Goog-Signature"))
	assert.Contains(t, q.Get("response-content-disposition"), "receipt.pdf")

	_, err = store.SignedURL(context.Background(), object, time.Hour)
	assert.ErrorIs(t, err, errExpiryTooLong)

	_, err = store.SignedURL(context.Background(), "bank-transfers/user-1/gone.pdf", time.Minute)
	assert.ErrorIs(t, err, services.ErrEvidenceNotFound)
}

func TestEvidenceStoreUploadURL(t *testing.T) {
	store := newTestStore(t, &fakeBucket{})

	ticket, err := store.UploadURL(context.Background(), UploadRequest{
		UserID:      "user-1",
		FileName:    "receipt.png",
		ContentType: "image/png",
		Size:        4096,
	})
	require.NoError(t, err)
	assert.Equal(t, "PUT", ticket.Method)
	assert.True(t, strings.HasPrefix(ticket.ObjectPath, services.EvidencePrefix("user-1")))
	assert.True(t, strings.HasSuffix(ticket.ObjectPath, "/receipt.png"))
	assert.Equal(t, "0,4096", ticket.Headers[uploadSizeHeader])
	assert.Equal(t, testNow.Add(15*time.Minute), ticket.ExpiresAt)

	u, err := url.Parse(ticket.URL)
	require.NoError(t, err)
	assert.Contains(t, u.Query().Get("X-Goog-SignedHeaders"), uploadSizeHeader)
}

func TestEvidenceStoreUploadURLRejects(t *testing.T) {
	store := newTestStore(t, &fakeBucket{})
	cases := map[string]UploadRequest{
		"content type": {UserID: "u", FileName: "a.exe", ContentType: "application/x-msdownload", Size: 10},
		"too large":    {UserID: "u", FileName: "a.pdf", ContentType: "application/pdf", Size: maxEvidenceSize + 1},
		"empty":        {UserID: "u", FileName: "a.pdf", ContentType: "application/pdf"},
		"traversal":    {UserID: "..", FileName: "a.pdf", ContentType: "application/pdf", Size: 10},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := store.UploadURL(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidUpload)
		})
	}
}

func TestNewEvidenceStoreRequiresSigningIdentity(t *testing.T) {
	_, err := newEvidenceStore(&fakeBucket{})
	assert.ErrorIs(t, err, errNoSigningIdentity)

	store, err := newEvidenceStore(&fakeBucket{}, WithSignerEmail("api@masar.iam.gserviceaccount.com"))
	require.NoError(t, err)
	assert.Equal(t, "api@masar.iam.gserviceaccount.com", store.signerEmail)
}

func TestParseSigningKeyRejectsIncompleteFile(t *testing.T) {
	_, err := ParseSigningKey([]byte(`{"client_email":"a@b.iam.gserviceaccount.com"}`))
	assert.Error(t, err)

	_, err = ParseSigningKey([]byte(`{"client_email":"a@b.iam.gserviceaccount.com","private_key":"not-pem"}`))
	assert.Error(t, err)
}
