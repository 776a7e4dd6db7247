package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notify-service/internal/credentials"
	"github.com/tinywideclouds/go-notify-service/internal/pipeline"
	"github.com/tinywideclouds/go-notify-service/internal/platform/apns"
	"github.com/tinywideclouds/go-notify-service/internal/platform/fcm"

	"github.com/tinywideclouds/go-notify-service/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-notify-service/internal/storage/firestore"
	pgStore "github.com/tinywideclouds/go-notify-service/internal/storage/postgres"
	"github.com/tinywideclouds/go-notify-service/pkg/dispatch"

	"github.com/tinywideclouds/go-notify-service/notificationservice"
	"github.com/tinywideclouds/go-notify-service/notificationservice/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notify-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	serviceAccount, err := credentials.LoadServiceAccount(cfg.Firebase.ServiceAccountJSON, cfg.Firebase.ServiceAccountFile)
	if err != nil {
		logger.Error("Service account invalid", "err", err)
		os.Exit(1)
	}

	// --- Redis (optional, shared by both caches) ---
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// --- Token + Log Stores ---
	var tokenStore dispatch.TokenStore
	var logStore dispatch.LogStore
	switch cfg.TokenStore {
	case config.TokenStoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		store := fsStore.NewFirestoreStore(fsClient, logger)
		tokenStore, logStore = store, store
	default:
		pool, err := pgStore.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			logger.Error("Postgres connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		tokenStore = pgStore.NewTokenStore(pool, logger)
		logStore = pgStore.NewLogStore(pool)
	}
	logger.Info("TokenStore initialized", "type", cfg.TokenStore)

	if redisClient != nil {
		tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, cfg.Cache.ResolverTTL, logger)
		logger.Info("TokenStore upgraded", "type", "redis_cached_"+cfg.TokenStore)
	}

	// --- Credentials ---
	var shared credentials.SharedCredentialCache
	if cfg.Cache.CredentialsEnabled && redisClient != nil {
		shared = cache.NewCredentialCache(redisClient)
	}
	exchanger := credentials.NewExchanger(&http.Client{}, cfg.Credentials.ExchangeTimeout, logger)
	credentialProvider := credentials.NewCachingProvider(exchanger, shared, cfg.Credentials.RefreshSkew, logger)

	// --- Deliverers ---
	fcmProject := serviceAccount.ProjectID
	if fcmProject == "" {
		fcmProject = cfg.ProjectID
	}
	deliverers := map[string]dispatch.Deliverer{
		dispatch.PlatformFCM: fcm.NewDispatcher(fcm.Config{
			ProjectID: fcmProject,
			BaseURL:   cfg.Firebase.BaseURL,
			ChannelID: cfg.Firebase.AndroidChannelID,
			OnUnauthorized: func(ctx context.Context) {
				credentialProvider.Invalidate(ctx, serviceAccount.ClientEmail)
			},
		}, &http.Client{}, logger),
	}
	if cfg.APNS.Enabled() {
		apnsDispatcher, err := apns.NewDispatcher(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: cfg.APNS.P8Key,
			Production:   cfg.APNS.Production,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize APNs", "err", err)
			os.Exit(1)
		}
		deliverers[dispatch.PlatformAPNS] = apnsDispatcher
		logger.Info("APNs Dispatcher enabled", "bundle_id", cfg.APNS.BundleID)
	} else {
		logger.Warn("APNs not configured. iOS tokens will fail delivery.")
	}

	// --- Dispatch Core ---
	fanout := pipeline.NewFanout(pipeline.FanoutConfig{
		Workers:    cfg.Delivery.Workers,
		RatePerSec: cfg.Delivery.RatePerSec,
		Timeout:    cfg.Delivery.Timeout,
	}, deliverers, logger)
	recorder := pipeline.NewRecorder(logStore, cfg.Logging.WriteTimeout, logger)
	dispatcher := pipeline.NewDispatcher(tokenStore, credentialProvider, serviceAccount, fanout, recorder, logger)

	// --- Auth ---
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.IdentityServiceURL, middleware.RSA256, logger)
	if err != nil {
		logger.Error("JWT config discovery failed", "err", err)
		os.Exit(1)
	}
	authMiddleware, err := middleware.NewJWKSAuthMiddleware(jwksURL, logger)
	if err != nil {
		logger.Error("JWKS middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.IngressEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("PubSub consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := notificationservice.New(
		cfg,
		consumer,
		dispatcher,
		tokenStore,
		recorder,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 30,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 5},
			MaximumBackoff: &durationpb.Duration{Seconds: 300},
		},
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
