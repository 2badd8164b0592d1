package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultEnvFile           = ".env"
	envPrefix                = "API_"
	defaultOIDCJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer    = "https://accounts.google.com"
	defaultSecurityIAPIssuer = "https://cloud.google.com/iap"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Log         LogConfig         `envPrefix:"LOG_"`
	Firebase    FirebaseConfig    `envPrefix:"FIREBASE_"`
	Firestore   FirestoreConfig   `envPrefix:"FIRESTORE_"`
	Postgres    PostgresConfig    `envPrefix:"POSTGRES_"`
	Redis       RedisConfig       `envPrefix:"REDIS_"`
	Storage     StorageConfig     `envPrefix:"STORAGE_"`
	PSP         PSPConfig         `envPrefix:"PSP_"`
	Events      EventsConfig      `envPrefix:"EVENTS_"`
	Booking     BookingConfig     `envPrefix:"BOOKING_"`
	Audit       AuditConfig       `envPrefix:"AUDIT_"`
	Security    SecurityConfig    `envPrefix:"SECURITY_"`
	Idempotency IdempotencyConfig `envPrefix:"IDEMPOTENCY_"`
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
}

// LogConfig selects the logger level.
type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string `env:"PROJECT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	CheckRevoked    bool   `env:"CHECK_REVOKED"`
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string `env:"PROJECT_ID"`
	EmulatorHost string `env:"EMULATOR_HOST"`
}

// PostgresConfig points at the optional relational audit store.
type PostgresConfig struct {
	DSN string `env:"DSN"`
}

// RedisConfig configures the idempotency store.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// StorageConfig names the bucket holding bank-transfer receipts.
type StorageConfig struct {
	EvidenceBucket string        `env:"EVIDENCE_BUCKET"`
	SignedURLTTL   time.Duration `env:"SIGNED_URL_TTL" envDefault:"10m"`
	SignerEmail    string        `env:"SIGNER_EMAIL"`
}

// PSPConfig collects payment provider credentials and the outbound call budget.
type PSPConfig struct {
	StripeAPIKey        string        `env:"STRIPE_API_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	PayPalCheckoutURL   string        `env:"PAYPAL_CHECKOUT_URL"`
	Timeout             time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// EventsConfig selects the domain event transport.
type EventsConfig struct {
	Driver       string   `env:"DRIVER" envDefault:"pubsub"`
	Topic        string   `env:"TOPIC" envDefault:"masar-domain-events"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
}

// BookingConfig holds the booking policy knobs.
type BookingConfig struct {
	CancellationWindow time.Duration `env:"CANCELLATION_WINDOW" envDefault:"24h"`
	RescheduleCap      int           `env:"RESCHEDULE_CAP" envDefault:"2"`
	CompletionGrace    time.Duration `env:"COMPLETION_GRACE" envDefault:"2h"`
	SweepBatchSize     int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	DefaultCurrency    string        `env:"DEFAULT_CURRENCY" envDefault:"SAR"`
}

// AuditConfig selects the audit store and the salt used to hash client addresses.
type AuditConfig struct {
	Store  string `env:"STORE" envDefault:"firestore"`
	IPSalt string `env:"IP_SALT"`
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string     `env:"ENVIRONMENT" envDefault:"local"`
	OIDC        OIDCConfig `envPrefix:"OIDC_"`
	HMAC        HMACConfig `envPrefix:"HMAC_"`
}

// OIDCConfig controls Google-signed token verification for scheduler calls.
type OIDCConfig struct {
	JWKSURL   string            `env:"JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	Audience  string            `env:"AUDIENCE"`
	Audiences map[string]string `env:"AUDIENCES" envSeparator:"," envKeyValSeparator:"="`
	Issuers   []string          `env:"ISSUERS" envSeparator:","`
}

// HMACConfig captures capture-relay signing expectations.
type HMACConfig struct {
	Secrets         map[string]string `env:"SECRETS" envSeparator:"," envKeyValSeparator:"="`
	SignatureHeader string            `env:"HEADER_SIGNATURE" envDefault:"X-Signature"`
	TimestampHeader string            `env:"HEADER_TIMESTAMP" envDefault:"X-Signature-Timestamp"`
	NonceHeader     string            `env:"HEADER_NONCE" envDefault:"X-Signature-Nonce"`
	ClockSkew       time.Duration     `env:"CLOCK_SKEW" envDefault:"5m"`
	NonceTTL        time.Duration     `env:"NONCE_TTL" envDefault:"5m"`
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string        `env:"HEADER" envDefault:"Idempotency-Key"`
	TTL              time.Duration `env:"TTL" envDefault:"24h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupBatchSize int           `env:"CLEANUP_BATCH" envDefault:"200"`
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Snapshot captures the resolved environment values used during loading so callers can construct
// dependent components (e.g., secret fetcher) with the same inputs.
type Snapshot struct {
	EnvFile         string
	Values          map[string]string
	ResolvedSecrets map[string]string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return mergedValues(options)
}

func mergedValues(options loaderOptions) (map[string]string, error) {
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		for key, value := range source {
			values[key] = value
		}
	}
	merge(dotEnvValues)
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	merge(options.envMap)
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "PSP.StripeAPIKey" or "Security.HMAC.Secrets[capture]").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	values, err := mergedValues(options)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Environment: values,
		Prefix:      envPrefix,
	}); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	cfg.Security.Environment = strings.ToLower(strings.TrimSpace(cfg.Security.Environment))
	cfg.Security.OIDC.Audiences = lowerKeys(cfg.Security.OIDC.Audiences)
	cfg.Security.HMAC.Secrets = lowerKeys(cfg.Security.HMAC.Secrets)
	cfg.Events.Driver = strings.ToLower(strings.TrimSpace(cfg.Events.Driver))
	cfg.Audit.Store = strings.ToLower(strings.TrimSpace(cfg.Audit.Store))
	cfg.Booking.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.Booking.DefaultCurrency))

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolvedSecrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		resolved, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = resolved
		resolvedSecrets[fmt.Sprintf("Security.HMAC.Secrets[%s]", key)] = strings.TrimSpace(resolved)
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Postgres.DSN", &cfg.Postgres.DSN},
		{"Redis.Password", &cfg.Redis.Password},
		{"Audit.IPSalt", &cfg.Audit.IPSalt},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if cfg.Storage.EvidenceBucket == "" {
		missing = append(missing, "Storage.EvidenceBucket")
	}
	if cfg.Storage.SignedURLTTL <= 0 {
		missing = append(missing, "Storage.SignedURLTTL")
	}
	if cfg.PSP.Timeout <= 0 {
		missing = append(missing, "PSP.Timeout")
	}
	switch cfg.Events.Driver {
	case "pubsub", "none":
	case "kafka":
		if len(cfg.Events.KafkaBrokers) == 0 {
			missing = append(missing, "Events.KafkaBrokers")
		}
	default:
		missing = append(missing, "Events.Driver")
	}
	if strings.TrimSpace(cfg.Events.Topic) == "" && cfg.Events.Driver != "none" {
		missing = append(missing, "Events.Topic")
	}
	switch cfg.Audit.Store {
	case "firestore":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			missing = append(missing, "Postgres.DSN")
		}
	default:
		missing = append(missing, "Audit.Store")
	}
	if cfg.Booking.CancellationWindow <= 0 {
		missing = append(missing, "Booking.CancellationWindow")
	}
	if cfg.Booking.RescheduleCap <= 0 {
		missing = append(missing, "Booking.RescheduleCap")
	}
	if cfg.Booking.CompletionGrace < 0 {
		missing = append(missing, "Booking.CompletionGrace")
	}
	if len(cfg.Booking.DefaultCurrency) != 3 {
		missing = append(missing, "Booking.DefaultCurrency")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// loadDotEnv reads local overrides. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func lowerKeys(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		name := strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	return out
}
