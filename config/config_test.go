package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/identity-go/core/clock"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, FormatText, cfg.LogFormat)
	assert.Equal(t, "UTC", cfg.TZ)
	assert.Equal(t, StoreMemory, cfg.EventStore)
	assert.Equal(t, ReadModelMemory, cfg.ReadModel)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.False(t, cfg.AsyncDispatch)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, 1024, cfg.EmailCacheSize)
	assert.Equal(t, time.Hour, cfg.EmailCacheTTL)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"IDENTITY_LOG_LEVEL":       "debug",
		"IDENTITY_LOG_FORMAT":      "json",
		"IDENTITY_EVENT_STORE":     "postgres",
		"IDENTITY_POSTGRES_DSN":    "postgres://localhost/identity",
		"IDENTITY_READ_MODEL":      "redis",
		"IDENTITY_REDIS_DB":        "3",
		"IDENTITY_BCRYPT_COST":     "4",
		"IDENTITY_ASYNC_DISPATCH":  "true",
		"IDENTITY_EMAIL_CACHE_TTL": "90s",
	})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, StorePostgres, cfg.EventStore)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 4, cfg.BcryptCost)
	assert.True(t, cfg.AsyncDispatch)
	assert.Equal(t, 90*time.Second, cfg.EmailCacheTTL)
}

func TestLoad_ProcessEnvironment(t *testing.T) {
	t.Setenv("IDENTITY_EVENT_STORE", "sqlite")
	t.Setenv("IDENTITY_SQLITE_PATH", "/tmp/identity.db")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StoreSQLite, cfg.EventStore)
	require.Equal(t, "/tmp/identity.db", cfg.SQLitePath)
}

func TestValidate_Rejects(t *testing.T) {
	for name, tc := range map[string]map[string]string{
		"non utc timezone":     {"IDENTITY_TZ": "Europe/Berlin"},
		"unknown timezone":     {"IDENTITY_TZ": "Mars/Olympus"},
		"unknown event store":  {"IDENTITY_EVENT_STORE": "mongo"},
		"postgres without dsn": {"IDENTITY_EVENT_STORE": "postgres"},
		"unknown read model":   {"IDENTITY_READ_MODEL": "etcd"},
		"bcrypt cost too low":  {"IDENTITY_BCRYPT_COST": "3"},
		"bcrypt cost too high": {"IDENTITY_BCRYPT_COST": "32"},
		"unknown log format":   {"IDENTITY_LOG_FORMAT": "xml"},
		"negative cache size":  {"IDENTITY_EMAIL_CACHE_SIZE": "-1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(tc)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}

	t.Run("timezone error names the clock rule", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"IDENTITY_TZ": "Europe/Berlin"})
		require.ErrorIs(t, err, clock.ErrNotUTC)
	})

	t.Run("cleared required settings", func(t *testing.T) {
		cfg, err := LoadFrom(map[string]string{})
		require.NoError(t, err)

		redis := cfg
		redis.ReadModel, redis.RedisAddr = ReadModelRedis, ""
		require.ErrorIs(t, redis.Validate(), ErrInvalid)

		amqp := cfg
		amqp.AMQPURL, amqp.AMQPQueue = "amqp://localhost", ""
		require.ErrorIs(t, amqp.Validate(), ErrInvalid)
	})

	t.Run("malformed number", func(t *testing.T) {
		_, err := LoadFrom(map[string]string{"IDENTITY_REDIS_DB": "three"})
		require.Error(t, err)
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogFormat: FormatJSON, LogLevel: slog.LevelWarn}
	log := cfg.NewLogger(&buf)

	log.Info("dropped")
	log.Warn("kept", slog.String("k", "v"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "kept", line["msg"])
	require.Equal(t, "v", line["k"])
}
