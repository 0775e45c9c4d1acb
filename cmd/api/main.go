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

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/drbackfit/storefront/internal/di"
	"github.com/drbackfit/storefront/internal/handlers"
	"github.com/drbackfit/storefront/internal/notifications"
	"github.com/drbackfit/storefront/internal/payments"
	"github.com/drbackfit/storefront/internal/platform/auth"
	"github.com/drbackfit/storefront/internal/platform/config"
	"github.com/drbackfit/storefront/internal/platform/events"
	pfirestore "github.com/drbackfit/storefront/internal/platform/firestore"
	"github.com/drbackfit/storefront/internal/platform/idempotency"
	"github.com/drbackfit/storefront/internal/platform/observability"
	"github.com/drbackfit/storefront/internal/platform/secrets"
	"github.com/drbackfit/storefront/internal/repositories"
	firestoreRepo "github.com/drbackfit/storefront/internal/repositories/firestore"
	"github.com/drbackfit/storefront/internal/repositories/memory"
	"github.com/drbackfit/storefront/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLoggerWithLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	logger.Info("storage backend selected", zap.String("backend", cfg.Storage.Backend))

	var healthChecks []repositories.DependencyCheck

	var tokenStore payments.TokenStore
	var idemStore idempotency.Store = idempotency.NewMemoryStore(time.Now)
	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := payments.NewRedisTokenStore(redisClient, cfg.Redis.KeyPrefix)
		if err != nil {
			logger.Fatal("failed to initialise redis token store", zap.Error(err))
		}
		tokenStore = store
		redisIdem, err := idempotency.NewRedisStore(redisClient, "storefront:idempotency")
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idemStore = redisIdem
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	gateway, err := newPaymentManager(cfg, tokenStore, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}
	if gateway == nil {
		logger.Warn("no payment gateway configured; payment endpoints will report unavailable")
	}

	var orderEvents services.OrderEventPublisher
	var publisher *events.PubSubOrderEventPublisher
	var pubsubClient *pubsub.Client
	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID, credentialOptions(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicName)
		publisher, err = events.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		orderEvents = publisher
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topicName)
				}
				return nil
			},
		})
	}

	build := buildInfoFromEnv(cfg, startedAt)
	dispatcher := &notifications.AsyncDispatcher{}
	deps := di.Dependencies{
		Events:       orderEvents,
		Logger:       logger,
		Clock:        time.Now,
		Build:        build,
		HealthChecks: healthChecks,
		Dispatcher:   dispatcher,
	}
	if gateway != nil {
		deps.Gateway = gateway
	}
	container, err := di.NewContainer(ctx, cfg, registry, deps)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	router := handlers.NewRouter(routerOptions(ctx, cfg, container, build, idemStore, logger)...)
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
		serverLogger.Info("storefront api listening")
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
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("pending emails abandoned", zap.Error(err))
	}
	if publisher != nil {
		publisher.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("repository close error", zap.Error(err))
	}
}

func newRegistry(cfg config.Config) (repositories.Registry, error) {
	if cfg.Storage.Backend == config.StorageBackendMemory {
		return memory.NewRegistry(), nil
	}
	provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(credentialOptions(cfg)...))
	return firestoreRepo.NewRegistry(provider, firestoreRepo.RegistryOptions{
		MailCollection: cfg.Mail.Collection,
	})
}

func newPaymentManager(cfg config.Config, tokenStore payments.TokenStore, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)
	routes := make(map[string]string)

	if cfg.PhonePe.Enabled() {
		phonePe, err := payments.NewPhonePeProvider(payments.PhonePeConfig{
			ClientID:       cfg.PhonePe.ClientID,
			ClientSecret:   cfg.PhonePe.ClientSecret,
			ClientVersion:  cfg.PhonePe.ClientVersion,
			Environment:    cfg.PhonePe.Environment,
			ExpireAfter:    cfg.PhonePe.ExpireAfter,
			RequestsPerSec: cfg.PhonePe.RequestsPerSec,
			HTTPClient:     &http.Client{Timeout: cfg.PhonePe.Timeout},
			TokenStore:     tokenStore,
			Logger:         payments.Logger(observability.NewEventLogger(logger.Named("phonepe"))),
		})
		if err != nil {
			return nil, fmt.Errorf("phonepe: %w", err)
		}
		providers[payments.ProviderPhonePe] = phonePe
		routes["INR"] = payments.ProviderPhonePe
	}

	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.PSP.StripeAPIKey,
			AccountID: cfg.PSP.StripeAccountID,
			Logger:    payments.Logger(observability.NewEventLogger(logger.Named("stripe"))),
			Clock:     time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers[payments.ProviderStripe] = stripeProvider
		for _, currency := range cfg.PSP.StripeCurrency {
			routes[currency] = payments.ProviderStripe
		}
	}

	if len(providers) == 0 {
		return nil, nil
	}
	return payments.NewManager(providers, payments.WithCurrencyRoutes(routes))
}

func routerOptions(ctx context.Context, cfg config.Config, container *di.Container, build services.BuildInfo, idemStore idempotency.Store, logger *zap.Logger) []handlers.Option {
	svc := container.Services
	httpLogger := logger.Named("http")

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware(httpLogger),
			observability.RecoveryMiddleware(httpLogger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(svc.System),
		)),
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		if cfg.Storage.Backend != config.StorageBackendMemory {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		logger.Warn("firebase auth unavailable; customer and admin routes disabled", zap.Error(err))
	} else {
		authn := auth.NewAuthenticator(firebaseVerifier)
		opts = append(opts,
			handlers.WithOrderRoutes(handlers.NewOrderHandlers(authn, svc.Orders, svc.Payments,
				handlers.WithOrderIdempotency(idempotency.Middleware(idemStore)),
			).Routes),
			handlers.WithAdminRoutes(handlers.NewAdminOrderHandlers(authn, svc.Orders).Routes),
		)
	}

	if cfg.PhonePe.CallbackUsername != "" && cfg.PhonePe.CallbackPassword != "" {
		webhooks := handlers.NewWebhookHandlers(svc.Payments, cfg.PhonePe.CallbackUsername, cfg.PhonePe.CallbackPassword,
			handlers.WithWebhookRateLimit(cfg.Security.WebhookRateLimit, cfg.Security.WebhookBurst, time.Now),
		)
		opts = append(opts, handlers.WithWebhookRoutes(webhooks.Routes))
	} else {
		logger.Warn("phonepe callback credentials not configured; webhook route disabled")
	}

	opts = append(opts,
		handlers.WithInternalRoutes(handlers.NewInternalPaymentHandlers(svc.Payments, cfg.Orders.SweepAge).Routes),
		handlers.WithInternalMiddlewares(buildOIDCMiddleware(logger.Named("auth"), cfg)),
	)
	return opts
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func credentialOptions(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := strings.TrimSpace(os.Getenv("API_SECRET_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithProject(project))
	} else if project := strings.TrimSpace(os.Getenv("API_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if file := strings.TrimSpace(os.Getenv("API_FIREBASE_CREDENTIALS_FILE")); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
