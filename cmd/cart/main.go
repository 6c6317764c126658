package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/di"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/handlers"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/payments"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/auth"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/config"
	pfirestore "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/firestore"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/idempotency"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/jobs"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/observability"
	platformstorage "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/platform/storage"
	"github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/providers/httpprovider"
	firestoreRepo "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories/firestore"
	redisrepo "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000/internal/repositories/redis"
)

const (
	meterName          = "github.com/Wunderbyte-GmbH/moodle-local-shopping-cart-sub000"
	summaryLinkExpiry  = 15 * time.Minute
	verifyTokenTimeout = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("cart")
	ctx = observability.WithLogger(ctx, logger)
	meter := otel.Meter(meterName)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, meter, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	healthOpts = append(healthOpts, handlers.WithHealthCheck("firestore", firestoreCheck(firestoreClient)))

	var registryOpts []firestoreRepo.RegistryOption
	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		carts, err := redisrepo.NewCartRepository(redisClient, redisrepo.WithKeyPrefix(cfg.Redis.KeyPrefix+"cart:"))
		if err != nil {
			logger.Fatal("failed to initialise redis cart repository", zap.Error(err))
		}
		registryOpts = append(registryOpts, firestoreRepo.WithCarts(carts, func(context.Context) error {
			return redisClient.Close()
		}))
		redisStore, err := idempotency.NewRedisStore(redisClient, cfg.Redis.KeyPrefix+"idem:")
		if err != nil {
			logger.Fatal("failed to initialise redis idempotency store", zap.Error(err))
		}
		idempotencyStore = redisStore
		healthOpts = append(healthOpts, handlers.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	} else {
		logger.Warn("redis not configured; carts are kept in firestore and idempotency keys in memory")
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, registryOpts...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	infra := di.Infrastructure{
		Permissions: auth.Permissions{},
		Logger:      observability.EventLogger(logger.Named("services")),
		Meter:       meter,
		Clock:       time.Now,
	}

	if topicName := strings.TrimSpace(cfg.PubSub.TasksTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		scheduler, err := jobs.NewPubSubScheduler(topic, time.Now)
		if err != nil {
			logger.Fatal("failed to initialise task scheduler", zap.Error(err))
		}
		infra.Scheduler = scheduler
	} else {
		logger.Warn("pubsub tasks topic not configured; cart expiry is not scheduled")
	}

	if apiKey := strings.TrimSpace(cfg.PSP.StripeAPIKey); apiKey != "" {
		verifier, err := payments.NewStripeVerifier(payments.StripeVerifierConfig{
			APIKey: apiKey,
			Logger: observability.EventLogger(logger.Named("payments")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe verifier", zap.Error(err))
		}
		infra.Verifier = verifier
	}

	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		storageClient, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		objects, err := platformstorage.NewGCSObjectStore(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise object store", zap.Error(err))
		}
		defer func() {
			if err := objects.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		exporter, err := platformstorage.NewSummaryExporter(objects, bucket, platformstorage.WithSignedDownloads(summaryLinkExpiry))
		if err != nil {
			logger.Fatal("failed to initialise summary exporter", zap.Error(err))
		}
		infra.Exporter = exporter
	}

	signer := auth.NewRequestSigner(cfg.Providers.SigningSecret, cfg.Providers.SignatureHeader, time.Now)
	remotes, err := httpprovider.FromEndpoints(cfg.Providers.Endpoints, nil, signer)
	if err != nil {
		logger.Fatal("failed to initialise item providers", zap.Error(err))
	}
	for _, remote := range remotes {
		infra.ItemProviders = append(infra.ItemProviders, di.ItemProviderRegistration{Component: remote.Component, Provider: remote.Provider})
	}

	container, err := di.NewContainer(ctx, cfg, registry, infra)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, verifyTokenTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	location, err := time.LoadLocation(cfg.Cart.Timezone)
	if err != nil {
		logger.Fatal("failed to load cart timezone", zap.Error(err))
	}

	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Purchases)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, svc.Purchases,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
		handlers.WithCheckoutPermissions(infra.Permissions),
	)
	historyHandlers := handlers.NewHistoryHandlers(authenticator, svc.History, svc.Purchases, idempotencyMiddleware)
	cashierHandlers := handlers.NewCashierHandlers(authenticator, svc.Purchases, svc.History,
		handlers.WithCashierIdempotency(idempotencyMiddleware),
		handlers.WithCashierLocation(location),
	)
	taskHandlers := handlers.NewTaskHandlers(svc.Purchases)
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithCartRoutes(cartHandlers.Routes))
	opts = append(opts, handlers.WithCheckoutRoutes(checkoutHandlers.Routes))
	opts = append(opts, handlers.WithHistoryRoutes(historyHandlers.Routes))
	opts = append(opts, handlers.WithCashierRoutes(cashierHandlers.Routes))
	opts = append(opts, handlers.WithInternalRoutes(taskHandlers.Routes))
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, meter); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("shopping cart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["CART_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["CART_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

// firestoreCheck reads at most one document; an empty collection counts as healthy.
func firestoreCheck(client *firestore.Client) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		iter := client.Collection("counters").Limit(1).Documents(ctx)
		defer iter.Stop()
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, meter metric.Meter) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		logger.Warn("auth: OIDC JWKS URL not configured; internal routes are unauthenticated")
		return nil
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger), auth.WithOIDCMeter(meter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
