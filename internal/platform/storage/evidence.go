package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	"github.com/masar-academy/api/internal/services"
)

const (
	defaultReadURLTTL  = 10 * time.Minute
	maxReadURLTTL      = 15 * time.Minute
	uploadURLTTL       = 15 * time.Minute
	maxEvidenceSize    = 10 << 20
	uploadSizeHeader   = "x-goog-content-length-range"
	readDispositionFmt = "inline; filename=%q"
)

var allowedEvidenceTypes = []string{"image/jpeg", "image/png", "image/webp", "application/pdf"}

var (
	errInvalidObject      = errors.New("storage: object name is required")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")
	errContentTypeDenied  = errors.New("storage: content type not allowed")
	errEvidenceTooLarge   = errors.New("storage: evidence exceeds maximum size")
	errNoSigningIdentity  = errors.New("storage: signing key or signer email is required")
	errEvidenceBucketNone = errors.New("storage: evidence bucket is required")
)

// ErrInvalidUpload reports an upload request the store refuses to sign.
var ErrInvalidUpload = errors.New("storage: invalid evidence upload")

type objectBucket interface {
	Attrs(ctx context.Context, object string) (*gcs.ObjectAttrs, error)
	SignedURL(object string, opts *gcs.SignedURLOptions) (string, error)
}

type gcsBucket struct {
	handle *gcs.BucketHandle
}

func (b gcsBucket) Attrs(ctx context.Context, object string) (*gcs.ObjectAttrs, error) {
	return b.handle.Object(object).Attrs(ctx)
}

func (b gcsBucket) SignedURL(object string, opts *gcs.SignedURLOptions) (string, error) {
	return b.handle.SignedURL(object, opts)
}

// EvidenceStore resolves bank-transfer receipts in Cloud Storage and signs read and upload URLs.
type EvidenceStore struct {
	bucket      objectBucket
	key         SigningKey
	signerEmail string
	now         func() time.Time
}

var _ services.EvidenceStore = (*EvidenceStore)(nil)

// EvidenceOption customises the evidence store.
type EvidenceOption func(*EvidenceStore)

// WithSigningKey signs URLs with a local key instead of the IAM credentials API.
func WithSigningKey(key SigningKey) EvidenceOption {
	return func(s *EvidenceStore) {
		if key.valid() {
			s.key = key
		}
	}
}

// WithSignerEmail sets the service account the IAM credentials API signs as.
func WithSignerEmail(email string) EvidenceOption {
	return func(s *EvidenceStore) {
		s.signerEmail = strings.TrimSpace(email)
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) EvidenceOption {
	return func(s *EvidenceStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewEvidenceStore binds the store to bucket.
func NewEvidenceStore(client *gcs.Client, bucket string, opts ...EvidenceOption) (*EvidenceStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errEvidenceBucketNone
	}
	return newEvidenceStore(gcsBucket{handle: client.Bucket(bucket)}, opts...)
}

func newEvidenceStore(bucket objectBucket, opts ...EvidenceOption) (*EvidenceStore, error) {
	store := &EvidenceStore{bucket: bucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if !store.key.valid() && store.signerEmail == "" {
		return nil, errNoSigningIdentity
	}
	return store, nil
}

// Stat returns the receipt's metadata or services.ErrEvidenceNotFound.
func (s *EvidenceStore) Stat(ctx context.Context, objectPath string) (services.EvidenceObject, error) {
	object := strings.TrimPrefix(strings.TrimSpace(objectPath), "/")
	if object == "" {
		return services.EvidenceObject{}, errInvalidObject
	}
	attrs, err := s.bucket.Attrs(ctx, object)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return services.EvidenceObject{}, services.ErrEvidenceNotFound
		}
		return services.EvidenceObject{}, fmt.Errorf("storage: stat %s: %w", object, err)
	}
	return services.EvidenceObject{Path: object, ContentType: attrs.ContentType, Size: attrs.Size}, nil
}

// SignedURL returns a GET URL valid for ttl, capped at fifteen minutes.
func (s *EvidenceStore) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	object := strings.TrimPrefix(strings.TrimSpace(objectPath), "/")
	if object == "" {
		return "", errInvalidObject
	}
	if ttl <= 0 {
		ttl = defaultReadURLTTL
	}
	if ttl > maxReadURLTTL {
		return "", errExpiryTooLong
	}
	if _, err := s.Stat(ctx, object); err != nil {
		return "", err
	}

	opts := s.signingOptions("GET", ttl)
	name := object[strings.LastIndex(object, "/")+1:]
	opts.QueryParameters = map[string][]string{
		"response-content-disposition": {fmt.Sprintf(readDispositionFmt, name)},
		"response-cache-control":       {"private, max-age=0"},
	}
	url, err := s.bucket.SignedURL(object, opts)
	if err != nil {
		return "", fmt.Errorf("storage: sign read url: %w", err)
	}
	return url, nil
}

// UploadRequest describes a receipt the user is about to upload.
type UploadRequest struct {
	UserID      string
	FileName    string
	ContentType string
	Size        int64
}

// UploadTicket is a signed PUT the client performs before submitting the transfer.
type UploadTicket struct {
	URL        string
	Method     string
	ObjectPath string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// UploadURL reserves a fresh object under the user's prefix and signs a PUT for it.
func (s *EvidenceStore) UploadURL(ctx context.Context, req UploadRequest) (UploadTicket, error) {
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if !slices.Contains(allowedEvidenceTypes, contentType) {
		return UploadTicket{}, fmt.Errorf("%w: %w", ErrInvalidUpload, errContentTypeDenied)
	}
	if req.Size <= 0 || req.Size > maxEvidenceSize {
		return UploadTicket{}, fmt.Errorf("%w: %w", ErrInvalidUpload, errEvidenceTooLarge)
	}
	object, err := EvidenceObjectPath(req.UserID, ulid.Make().String(), req.FileName)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}

	sizeRange := fmt.Sprintf("0,%d", req.Size)
	opts := s.signingOptions("PUT", uploadURLTTL)
	opts.ContentType = contentType
	opts.Headers = []string{uploadSizeHeader + ":" + sizeRange}

	url, err := s.bucket.SignedURL(object, opts)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return UploadTicket{
		URL:        url,
		Method:     "PUT",
		ObjectPath: object,
		Headers: map[string]string{
			"Content-Type":   contentType,
			uploadSizeHeader: sizeRange,
		},
		ExpiresAt: opts.Expires,
	}, nil
}

func (s *EvidenceStore) signingOptions(method string, ttl time.Duration) *gcs.SignedURLOptions {
	opts := &gcs.SignedURLOptions{
		Scheme:         gcs.SigningSchemeV4,
		Method:         method,
		Expires:        s.now().Add(ttl),
		GoogleAccessID: s.signerEmail,
	}
	if s.key.valid() {
		opts.GoogleAccessID = s.key.Email
		opts.PrivateKey = s.key.PrivateKey
	}
	return opts
}
