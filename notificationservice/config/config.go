package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notify-service/internal/credentials"
)

const (
	TokenStorePostgres  = "postgres"
	TokenStoreFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// FirebaseConfig locates the service account and the FCM endpoint.
type FirebaseConfig struct {
	ServiceAccountJSON string
	ServiceAccountFile string
	BaseURL            string
	AndroidChannelID   string
}

type DeliveryConfig struct {
	Workers    int
	RatePerSec float64
	Timeout    time.Duration
}

type CacheConfig struct {
	CredentialsEnabled bool
	ResolverTTL        time.Duration
}

// CredentialsConfig bounds the bearer token exchange.
type CredentialsConfig struct {
	ExchangeTimeout time.Duration
	RefreshSkew     time.Duration
}

type LoggingConfig struct {
	WriteTimeout time.Duration
}

// APNSConfig enables iOS delivery when KeyID and P8Key are both set.
type APNSConfig struct {
	KeyID      string
	TeamID     string
	BundleID   string
	P8Key      string
	Production bool
}

func (c APNSConfig) Enabled() bool {
	return c.KeyID != "" && c.P8Key != ""
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	MetricsAddr            string
	IdentityServiceURL     string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	TokenStore string
	Database   DatabaseConfig
	Firebase   FirebaseConfig
	Delivery   DeliveryConfig
	Cache       CacheConfig
	Credentials CredentialsConfig
	Logging     LoggingConfig
	APNS       APNSConfig

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// IngressEnabled reports whether the Pub/Sub ingress should run.
func (c *Config) IngressEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("METRICS_PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "METRICS_PORT", "source", "env")
		cfg.MetricsAddr = ":" + val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Token store
	if val := os.Getenv("TOKEN_STORE"); val != "" {
		logger.Debug("Overriding config value", "key", "TOKEN_STORE", "source", "env")
		cfg.TokenStore = strings.ToLower(val)
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "DATABASE_URL", "source", "env")
		cfg.Database.URL = val
	}

	// Firebase / FCM
	if val := os.Getenv("FIREBASE_SERVICE_ACCOUNT"); val != "" {
		logger.Debug("Overriding config value", "key", "FIREBASE_SERVICE_ACCOUNT", "source", "env")
		cfg.Firebase.ServiceAccountJSON = val
	}
	if val := os.Getenv("FIREBASE_SERVICE_ACCOUNT_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "FIREBASE_SERVICE_ACCOUNT_FILE", "source", "env")
		cfg.Firebase.ServiceAccountFile = val
	}
	if val := os.Getenv("FCM_BASE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_BASE_URL", "source", "env")
		cfg.Firebase.BaseURL = val
	}
	if val := os.Getenv("ANDROID_CHANNEL_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "ANDROID_CHANNEL_ID", "source", "env")
		cfg.Firebase.AndroidChannelID = val
	}

	// Delivery
	if val := os.Getenv("DELIVERY_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "DELIVERY_WORKERS", "source", "env")
			cfg.Delivery.Workers = workers
		}
	}
	if val := os.Getenv("DELIVERY_RATE_PER_SEC"); val != "" {
		r, err := strconv.ParseFloat(val, 64)
		if err != nil || r < 0 {
			return nil, fmt.Errorf("invalid DELIVERY_RATE_PER_SEC %q", val)
		}
		cfg.Delivery.RatePerSec = r
	}
	if val := os.Getenv("DELIVERY_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid DELIVERY_TIMEOUT: %w", err)
		}
		cfg.Delivery.Timeout = d
	}

	// Caches
	if val := os.Getenv("CREDENTIAL_CACHE_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Cache.CredentialsEnabled = enabled
	}
	if val := os.Getenv("RESOLVER_CACHE_TTL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid RESOLVER_CACHE_TTL: %w", err)
		}
		cfg.Cache.ResolverTTL = d
	}

	if val := os.Getenv("CREDENTIAL_EXCHANGE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid CREDENTIAL_EXCHANGE_TIMEOUT: %w", err)
		}
		cfg.Credentials.ExchangeTimeout = d
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.APNS.P8Key = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.TokenStore == "" {
		cfg.TokenStore = TokenStorePostgres
	}
	switch cfg.TokenStore {
	case TokenStorePostgres:
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("database url is required for the postgres token store (set via YAML or DATABASE_URL env var)")
		}
	case TokenStoreFirestore:
	default:
		return nil, fmt.Errorf("unknown token store %q (want %s or %s)", cfg.TokenStore, TokenStorePostgres, TokenStoreFirestore)
	}
	if cfg.Firebase.ServiceAccountJSON == "" && cfg.Firebase.ServiceAccountFile == "" {
		return nil, fmt.Errorf("a service account is required (set FIREBASE_SERVICE_ACCOUNT or FIREBASE_SERVICE_ACCOUNT_FILE)")
	}
	if cfg.Cache.CredentialsEnabled && !cfg.Redis.Enabled {
		logger.Warn("Shared credential cache requested without Redis; using in-memory cache only")
		cfg.Cache.CredentialsEnabled = false
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = "http://localhost:3000"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Cache.ResolverTTL <= 0 {
		cfg.Cache.ResolverTTL = 5 * time.Minute
	}
	if cfg.Credentials.ExchangeTimeout <= 0 {
		cfg.Credentials.ExchangeTimeout = credentials.DefaultExchangeTimeout
	}
	if cfg.Credentials.RefreshSkew <= 0 {
		cfg.Credentials.RefreshSkew = credentials.DefaultRefreshSkew
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
