package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notify-service/notificationservice/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clearEnv blanks every variable the overrides read so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROJECT_ID", "PORT", "METRICS_PORT", "IDENTITY_SERVICE_URL", "SUBSCRIPTION_ID", "SUBSCRIPTION_DLQ_TOPIC_ID",
		"NUM_PIPELINE_WORKERS", "TOKEN_STORE", "DATABASE_URL", "FIREBASE_SERVICE_ACCOUNT",
		"FIREBASE_SERVICE_ACCOUNT_FILE", "FCM_BASE_URL", "ANDROID_CHANNEL_ID", "DELIVERY_WORKERS",
		"DELIVERY_RATE_PER_SEC", "DELIVERY_TIMEOUT", "CREDENTIAL_CACHE_ENABLED", "RESOLVER_CACHE_TTL", "CREDENTIAL_EXCHANGE_TIMEOUT",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_ENABLED",
		"APNS_KEY_ID", "APNS_TEAM_ID", "APNS_BUNDLE_ID", "APNS_P8_KEY", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:          "base-project",
			ListenAddr:         ":8080",
			NumPipelineWorkers: 2,
			TokenStore:         config.TokenStorePostgres,
			Database:           config.DatabaseConfig{URL: "postgres://base"},
			Firebase:           config.FirebaseConfig{ServiceAccountFile: "/secrets/sa.json"},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("DATABASE_URL", "postgres://env")
		t.Setenv("FIREBASE_SERVICE_ACCOUNT", `{"client_email":"x"}`)
		t.Setenv("FCM_BASE_URL", "http://fcm.local")
		t.Setenv("ANDROID_CHANNEL_ID", "alerts")
		t.Setenv("DELIVERY_WORKERS", "8")
		t.Setenv("DELIVERY_RATE_PER_SEC", "50")
		t.Setenv("DELIVERY_TIMEOUT", "3s")
		t.Setenv("RESOLVER_CACHE_TTL", "1m")
		t.Setenv("CREDENTIAL_EXCHANGE_TIMEOUT", "250ms")
		t.Setenv("APNS_KEY_ID", "KEY123")
		t.Setenv("APNS_P8_KEY", "p8")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.com, http://b.com,")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		assert.True(t, finalCfg.IngressEnabled())
		require.NotNil(t, finalCfg.PubsubConsumerConfig)
		assert.Equal(t, "postgres://env", finalCfg.Database.URL)
		assert.Equal(t, `{"client_email":"x"}`, finalCfg.Firebase.ServiceAccountJSON)
		assert.Equal(t, "http://fcm.local", finalCfg.Firebase.BaseURL)
		assert.Equal(t, "alerts", finalCfg.Firebase.AndroidChannelID)
		assert.Equal(t, 8, finalCfg.Delivery.Workers)
		assert.Equal(t, 50.0, finalCfg.Delivery.RatePerSec)
		assert.Equal(t, 3*time.Second, finalCfg.Delivery.Timeout)
		assert.Equal(t, time.Minute, finalCfg.Cache.ResolverTTL)
		assert.Equal(t, 250*time.Millisecond, finalCfg.Credentials.ExchangeTimeout)
		assert.True(t, finalCfg.APNS.Enabled())
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
	})

	t.Run("Success - Defaults preserved", func(t *testing.T) {
		clearEnv(t)
		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)

		assert.Equal(t, "base-project", finalCfg.ProjectID)
		assert.False(t, finalCfg.IngressEnabled())
		assert.Nil(t, finalCfg.PubsubConsumerConfig)
		assert.False(t, finalCfg.APNS.Enabled())
		assert.Equal(t, 5*time.Minute, finalCfg.Cache.ResolverTTL)
		assert.Equal(t, "http://localhost:3000", finalCfg.IdentityServiceURL)
		assert.Equal(t, ":9090", finalCfg.MetricsAddr)
		assert.Equal(t, 10*time.Second, finalCfg.Credentials.ExchangeTimeout)
		assert.Equal(t, time.Minute, finalCfg.Credentials.RefreshSkew)
	})

	t.Run("Firestore store needs no database", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TOKEN_STORE", "FIRESTORE")
		cfg := baseConfig()
		cfg.Database.URL = ""

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)
		assert.Equal(t, config.TokenStoreFirestore, finalCfg.TokenStore)
	})

	t.Run("Shared credential cache is dropped without Redis", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CREDENTIAL_CACHE_ENABLED", "true")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)
		assert.False(t, finalCfg.Cache.CredentialsEnabled)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()
		cfg.ProjectID = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Postgres without database url", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()
		cfg.Database.URL = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("Validation Failure - Unknown store", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()
		cfg.TokenStore = "mongo"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "unknown token store")
	})

	t.Run("Validation Failure - Missing service account", func(t *testing.T) {
		clearEnv(t)
		cfg := baseConfig()
		cfg.Firebase.ServiceAccountFile = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "service account")
	})

	t.Run("Validation Failure - Bad duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DELIVERY_TIMEOUT", "soon")
		_, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		assert.ErrorContains(t, err, "DELIVERY_TIMEOUT")

		clearEnv(t)
		t.Setenv("CREDENTIAL_EXCHANGE_TIMEOUT", "forever")
		_, err = config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		assert.ErrorContains(t, err, "CREDENTIAL_EXCHANGE_TIMEOUT")
	})
}
