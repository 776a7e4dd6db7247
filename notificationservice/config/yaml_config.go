package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlDatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type YamlFirebaseConfig struct {
	ServiceAccountFile string `yaml:"service_account_file"`
	BaseURL            string `yaml:"base_url"`
	AndroidChannelID   string `yaml:"android_channel_id"`
}

type YamlDeliveryConfig struct {
	Workers    int     `yaml:"workers"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Timeout    string  `yaml:"timeout"`
}

type YamlCacheConfig struct {
	CredentialsEnabled bool   `yaml:"credentials_enabled"`
	ResolverTTL        string `yaml:"resolver_ttl"`
}

type YamlCredentialsConfig struct {
	ExchangeTimeout string `yaml:"exchange_timeout"`
	RefreshSkew     string `yaml:"refresh_skew"`
}

type YamlLoggingConfig struct {
	WriteTimeout string `yaml:"write_timeout"`
}

type YamlAPNSConfig struct {
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	BundleID   string `yaml:"bundle_id"`
	Production bool   `yaml:"production"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string                `yaml:"project_id"`
	ListenAddr             string                `yaml:"listen_addr"`
	MetricsAddr            string                `yaml:"metrics_addr"`
	IdentityServiceURL     string                `yaml:"identity_service_url"`
	TopicID                string                `yaml:"topic_id"`
	SubscriptionID         string                `yaml:"subscription_id"`
	SubscriptionDLQTopicID string                `yaml:"subscription_dlq_topic_id"`
	TokenStore             string                `yaml:"token_store"`
	DatabaseConfig         YamlDatabaseConfig    `yaml:"database"`
	FirebaseConfig         YamlFirebaseConfig    `yaml:"firebase"`
	DeliveryConfig         YamlDeliveryConfig    `yaml:"delivery"`
	CacheConfig            YamlCacheConfig       `yaml:"cache"`
	CredentialsConfig      YamlCredentialsConfig `yaml:"credentials"`
	LoggingConfig          YamlLoggingConfig     `yaml:"logging"`
	APNSConfig             YamlAPNSConfig        `yaml:"apns"`
	CorsConfig             YamlCorsConfig        `yaml:"cors"`
	RedisConfig            YamlRedisConfig       `yaml:"redis"`
	NumPipelineWorkers     int                   `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	deliveryTimeout, err := parseOptionalDuration("delivery.timeout", baseCfg.DeliveryConfig.Timeout)
	if err != nil {
		return nil, err
	}
	resolverTTL, err := parseOptionalDuration("cache.resolver_ttl", baseCfg.CacheConfig.ResolverTTL)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := parseOptionalDuration("logging.write_timeout", baseCfg.LoggingConfig.WriteTimeout)
	if err != nil {
		return nil, err
	}
	exchangeTimeout, err := parseOptionalDuration("credentials.exchange_timeout", baseCfg.CredentialsConfig.ExchangeTimeout)
	if err != nil {
		return nil, err
	}
	refreshSkew, err := parseOptionalDuration("credentials.refresh_skew", baseCfg.CredentialsConfig.RefreshSkew)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		MetricsAddr:        baseCfg.MetricsAddr,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		TokenStore:         baseCfg.TokenStore,
		Database: DatabaseConfig{
			URL:      baseCfg.DatabaseConfig.URL,
			MaxConns: baseCfg.DatabaseConfig.MaxConns,
		},
		Firebase: FirebaseConfig{
			ServiceAccountFile: baseCfg.FirebaseConfig.ServiceAccountFile,
			BaseURL:            baseCfg.FirebaseConfig.BaseURL,
			AndroidChannelID:   baseCfg.FirebaseConfig.AndroidChannelID,
		},
		Delivery: DeliveryConfig{
			Workers:    baseCfg.DeliveryConfig.Workers,
			RatePerSec: baseCfg.DeliveryConfig.RatePerSec,
			Timeout:    deliveryTimeout,
		},
		Cache: CacheConfig{
			CredentialsEnabled: baseCfg.CacheConfig.CredentialsEnabled,
			ResolverTTL:        resolverTTL,
		},
		Credentials: CredentialsConfig{
			ExchangeTimeout: exchangeTimeout,
			RefreshSkew:     refreshSkew,
		},
		Logging: LoggingConfig{
			WriteTimeout: writeTimeout,
		},
		APNS: APNSConfig{
			KeyID:      baseCfg.APNSConfig.KeyID,
			TeamID:     baseCfg.APNSConfig.TeamID,
			BundleID:   baseCfg.APNSConfig.BundleID,
			Production: baseCfg.APNSConfig.Production,
		},
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"token_store", cfg.TokenStore,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
