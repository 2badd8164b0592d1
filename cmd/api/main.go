package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/masar-academy/api/internal/di"
	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/handlers"
	"github.com/masar-academy/api/internal/payments"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/platform/config"
	pfirestore "github.com/masar-academy/api/internal/platform/firestore"
	"github.com/masar-academy/api/internal/platform/idempotency"
	"github.com/masar-academy/api/internal/platform/jobs"
	"github.com/masar-academy/api/internal/platform/observability"
	"github.com/masar-academy/api/internal/platform/requestctx"
	"github.com/masar-academy/api/internal/platform/secrets"
	platformstorage "github.com/masar-academy/api/internal/platform/storage"
	"github.com/masar-academy/api/internal/repositories"
	firestoreRepo "github.com/masar-academy/api/internal/repositories/firestore"
	"github.com/masar-academy/api/internal/repositories/postgres"
	"github.com/masar-academy/api/internal/services"
)

const (
	captureSecretName      = "capture"
	couponAttemptLimit     = 10
	couponAttemptWindow    = 15 * time.Minute
	couponAttemptKeyPrefix = "masar:coupon-attempts:"
	idempotencyKeyPrefix   = "masar:idem:"
	hmacNonceKeyPrefix     = "masar:nonce:"
	closeTimeout           = 5 * time.Second
	secretHealthReference  = "secret://system-healthz"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	secretOpts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if path := strings.TrimSpace(envValues["API_SECRET_FALLBACK_FILE"]); path != "" {
		secretOpts = append(secretOpts, secrets.WithFallbackFile(path))
	}
	resolver, err := secrets.NewResolver(ctx, secretProjectID(envValues), secretOpts...)
	if err != nil {
		return fmt.Errorf("initialise secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var probes []repositories.DependencyProbe
	probes = append(probes, repositories.DependencyProbe{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Probe: func(ctx context.Context) error {
			_, err := resolver.ResolveSecret(ctx, secretHealthReference)
			if errors.Is(err, secrets.ErrNotFound) {
				return nil
			}
			return err
		},
	})

	var registryOpts []firestoreRepo.RegistryOption
	if cfg.Audit.Store == "postgres" {
		auditStore, err := postgres.NewAuditLogRepository(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("initialise postgres audit store: %w", err)
		}
		defer auditStore.Close()
		registryOpts = append(registryOpts, firestoreRepo.WithAuditLogRepository(auditStore))
		probes = append(probes, repositories.DependencyProbe{Name: "postgres", Timeout: time.Second, Probe: auditStore.Ping})
	}

	var redisClient redis.UniversalClient
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		client := redisClient
		probes = append(probes, repositories.DependencyProbe{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Probe:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider,
		append(registryOpts, firestoreRepo.WithHealthProbes(probes...))...)
	if err != nil {
		return fmt.Errorf("initialise repositories: %w", err)
	}

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("initialise storage client: %w", err)
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	evidenceStore, err := newEvidenceStore(storageClient, cfg)
	if err != nil {
		return fmt.Errorf("initialise evidence store: %w", err)
	}

	publisher, closePublisher, err := newEventPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise event publisher: %w", err)
	}
	defer closePublisher()

	gateway, err := newPaymentGateway(cfg, logger.Named("payments"))
	if err != nil {
		return fmt.Errorf("initialise payment gateway: %w", err)
	}

	metrics, err := observability.NewTransitionMetrics(nil)
	if err != nil {
		return fmt.Errorf("initialise metrics: %w", err)
	}

	container, err := di.NewContainer(cfg, registry, di.Infrastructure{
		Events:   publisher,
		Gateway:  gateway,
		Evidence: evidenceStore,
		Observer: metrics,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("initialise services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	var firebaseOpts []auth.FirebaseOption
	if cfg.Firebase.CheckRevoked {
		firebaseOpts = append(firebaseOpts, auth.WithRevocationCheck())
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseOpts...)
	if err != nil {
		return fmt.Errorf("initialise firebase verifier: %w", err)
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier,
		auth.WithDeniedHook(deniedAccessRecorder(svc.Audit)),
	)

	var idempotencyStore idempotency.Store
	var cleanupStore *idempotency.MemoryStore
	if redisClient != nil {
		idempotencyStore = idempotency.NewRedisStore(redisClient, idempotencyKeyPrefix)
	} else {
		cleanupStore = idempotency.NewMemoryStore()
		idempotencyStore = cleanupStore
		logger.Warn("idempotency: redis not configured; replay protection is per instance")
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if redisClient != nil {
		nonces = auth.NewRedisNonceStore(redisClient, hmacNonceKeyPrefix)
	}
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)
	captureMiddleware := buildCaptureMiddleware(logger.Named("auth"), cfg, nonces)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		idempotencyMiddleware,
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthReporter(registry.Health()),
	)
	bookingHandlers := handlers.NewBookingHandlers(authenticator, svc.Bookings)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	couponLimit := handlers.WithCouponAttemptLimit(couponAttemptLimit, couponAttemptWindow, time.Now)
	if redisClient != nil {
		couponLimit = handlers.WithSharedCouponAttemptLimit(redisClient, couponAttemptKeyPrefix, couponAttemptLimit, couponAttemptWindow)
	}
	couponHandlers := handlers.NewCouponHandlers(authenticator, svc.Coupons, couponLimit)
	bankTransferHandlers := handlers.NewBankTransferHandlers(authenticator, evidenceStore)
	adminHandlers := handlers.NewAdminHandlers(authenticator,
		handlers.WithAdminBookingService(svc.Bookings),
		handlers.WithAdminOrderService(svc.Orders),
		handlers.WithAdminVerificationService(svc.Verification),
		handlers.WithAdminCouponService(svc.Coupons),
		handlers.WithAdminAuditLogService(svc.Audit),
	)
	webhookOpts := []handlers.WebhookOption{handlers.WithStripeWebhookSecret(cfg.PSP.StripeWebhookSecret)}
	if captureMiddleware != nil {
		webhookOpts = append(webhookOpts, handlers.WithCaptureAuthenticator(captureMiddleware))
	}
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Orders, webhookOpts...)
	internalHandlers := handlers.NewInternalHandlers(svc.Bookings)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithBookingRoutes(bookingHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithBankTransferRoutes(bankTransferHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(oidcMiddleware),
			handlers.WithInternalRoutes(internalHandlers.Routes),
		)
	} else {
		logger.Warn("auth: OIDC not configured; internal routes disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	group.Go(func() error {
		serverLogger.Info("masar api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	if cleanupStore != nil {
		group.Go(func() error {
			runIdempotencyCleanup(groupCtx, cleanupStore, cfg.Idempotency, logger.Named("idempotency"))
			return nil
		})
	}

	return group.Wait()
}

func runIdempotencyCleanup(ctx context.Context, store *idempotency.MemoryStore, cfg config.IdempotencyConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if removed := store.Purge(now.UTC(), cfg.CleanupBatchSize); removed > 0 {
				logger.Info("idempotency cleanup removed entries", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// deniedAccessRecorder turns role rejections into critical audit entries. Record logs its own
// append failures.
func deniedAccessRecorder(audit services.AuditLogService) auth.DeniedHook {
	return func(ctx context.Context, identity *auth.Identity, r *http.Request) {
		if audit == nil || identity == nil {
			return
		}
		record := services.AuditLogRecord{
			Actor:      identity.UID,
			ActorType:  domain.ActorTypeUser,
			Action:     domain.AuditUnauthorizedAccess,
			TargetType: "route",
			TargetID:   r.Method + " " + r.URL.Path,
			Details:    map[string]any{"roles": identity.Roles},
		}
		if client, ok := requestctx.Client(ctx); ok {
			record.IPAddress = client.IPAddress
			record.UserAgent = client.UserAgent
			record.RequestID = client.RequestID
		}
		audit.Record(ctx, record)
	}
}

func newEvidenceStore(client *cloudstorage.Client, cfg config.Config) (*platformstorage.EvidenceStore, error) {
	opts := []platformstorage.EvidenceOption{platformstorage.WithSignerEmail(cfg.Storage.SignerEmail)}
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		key, err := platformstorage.LoadSigningKey(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, platformstorage.WithSigningKey(key))
	}
	return platformstorage.NewEvidenceStore(client, cfg.Storage.EvidenceBucket, opts...)
}

// newEventPublisher returns a nil publisher for the "none" driver; services then only log events.
func newEventPublisher(ctx context.Context, cfg config.Config) (services.DomainEventPublisher, func(), error) {
	switch cfg.Events.Driver {
	case "kafka":
		publisher, err := jobs.NewKafkaEventPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic)
		if err != nil {
			return nil, func() {}, err
		}
		return publisher, func() { _ = publisher.Close() }, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, func() {}, err
		}
		publisher, err := jobs.NewPubSubEventPublisher(client.Topic(cfg.Events.Topic))
		if err != nil {
			_ = client.Close()
			return nil, func() {}, err
		}
		return publisher, func() {
			publisher.Stop()
			_ = client.Close()
		}, nil
	default:
		return nil, func() {}, nil
	}
}

func newPaymentGateway(cfg config.Config, logger *zap.Logger) (services.PaymentGateway, error) {
	providers := make(map[string]payments.Provider)
	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: key,
			Logger: observability.ServiceLogger(logger.Named("stripe")),
		})
		if err != nil {
			return nil, err
		}
		providers[string(domain.PaymentMethodStripe)] = stripeProvider
	}
	if checkoutURL := strings.TrimSpace(cfg.PSP.PayPalCheckoutURL); checkoutURL != "" {
		paypalProvider, err := payments.NewPayPalRelayProvider(checkoutURL)
		if err != nil {
			return nil, err
		}
		providers[string(domain.PaymentMethodPayPal)] = paypalProvider
	}
	if len(providers) == 0 {
		logger.Warn("payments: no gateway configured; card and paypal checkouts will report unavailable")
		return nil, nil
	}
	return payments.NewManager(providers)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	return auth.NewOIDCValidator(cache, logger).RequireOIDC(audience, issuers)
}

// buildCaptureMiddleware guards the relay capture webhook. It returns nil when no capture secret
// is configured, which leaves the route answering 503.
func buildCaptureMiddleware(logger *zap.Logger, cfg config.Config, nonces auth.NonceStore) func(http.Handler) http.Handler {
	hmacSecrets := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		hmacSecrets[strings.ToLower(key)] = value
	}
	if _, ok := hmacSecrets[captureSecretName]; !ok {
		return nil
	}

	validator := auth.NewHMACValidator(hmacSecrets, nonces,
		auth.WithHMACLogger(logger),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACWindow(cfg.Security.HMAC.ClockSkew, cfg.Security.HMAC.NonceTTL),
	)
	return validator.RequireHMAC(captureSecretName)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func secretProjectID(env map[string]string) string {
	if project := strings.TrimSpace(env["API_SECRET_PROJECT_ID"]); project != "" {
		return project
	}
	return strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])
}

// requiredSecretNames lists the secrets whose absence must stop the process outside local runs.
func requiredSecretNames(env map[string]string) []string {
	if strings.EqualFold(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]), "local") ||
		strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]) == "" {
		return nil
	}
	required := []string{"Audit.IPSalt"}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_AUDIT_STORE"]), "postgres") {
		required = append(required, "Postgres.DSN")
	}
	if strings.TrimSpace(env["API_PSP_PAYPAL_CHECKOUT_URL"]) != "" {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", captureSecretName))
	}
	return required
}
