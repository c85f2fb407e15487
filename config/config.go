// Package config loads the identity service settings from IDENTITY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"

	"github.com/codewandler/identity-go/core/clock"
)

const Prefix = "IDENTITY_"

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNATS     = "nats"

	ReadModelMemory = "memory"
	ReadModelNATS   = "nats"
	ReadModelRedis  = "redis"

	FormatText = "text"
	FormatJSON = "json"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	LogLevel  slog.Level `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text"`
	TZ        string     `env:"TZ"         envDefault:"UTC"`

	EventStore  string `env:"EVENT_STORE"  envDefault:"memory"`
	SQLitePath  string `env:"SQLITE_PATH"  envDefault:"identity.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	NATSURL     string `env:"NATS_URL"     envDefault:"nats://127.0.0.1:4222"`
	NATSStream  string `env:"NATS_STREAM"  envDefault:"IDENTITY_ES"`

	ReadModel     string `env:"READ_MODEL"      envDefault:"memory"`
	NATSKVBucket  string `env:"NATS_KV_BUCKET"  envDefault:"identity_read_model"`
	RedisAddr     string `env:"REDIS_ADDR"      envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"        envDefault:"0"`

	// EmailCacheSize bounds the email lookup cache. Zero disables it.
	EmailCacheSize int           `env:"EMAIL_CACHE_SIZE" envDefault:"1024"`
	EmailCacheTTL  time.Duration `env:"EMAIL_CACHE_TTL"  envDefault:"1h"`

	// AMQPURL enables the integration publisher when set.
	AMQPURL   string `env:"AMQP_URL"`
	AMQPQueue string `env:"AMQP_QUEUE" envDefault:"identity.events"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"10"`
	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr   string `env:"METRICS_ADDR"`
	AsyncDispatch bool   `env:"ASYNC_DISPATCH" envDefault:"false"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return load(env.Options{Prefix: Prefix})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return load(env.Options{Prefix: Prefix, Environment: environ})
}

func load(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate is the startup check. The service refuses to start on any error.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if err := clock.ValidateTimezone(c.TZ); err != nil {
		errs = append(errs, fmt.Errorf("%w: %sTZ: %w", ErrInvalid, Prefix, err))
	}
	if !slices.Contains([]string{FormatText, FormatJSON}, c.LogFormat) {
		invalid("unknown log format %q", c.LogFormat)
	}

	switch c.EventStore {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			invalid("%sSQLITE_PATH is required for the sqlite event store", Prefix)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			invalid("%sPOSTGRES_DSN is required for the postgres event store", Prefix)
		}
	case StoreNATS:
		if c.NATSURL == "" {
			invalid("%sNATS_URL is required for the nats event store", Prefix)
		}
	default:
		invalid("unknown event store %q", c.EventStore)
	}

	switch c.ReadModel {
	case ReadModelMemory:
	case ReadModelNATS:
		if c.NATSURL == "" {
			invalid("%sNATS_URL is required for the nats read model", Prefix)
		}
	case ReadModelRedis:
		if c.RedisAddr == "" {
			invalid("%sREDIS_ADDR is required for the redis read model", Prefix)
		}
	default:
		invalid("unknown read model %q", c.ReadModel)
	}

	if c.EmailCacheSize < 0 {
		invalid("email cache size %d is negative", c.EmailCacheSize)
	}
	if c.AMQPURL != "" && c.AMQPQueue == "" {
		invalid("%sAMQP_QUEUE is required when %sAMQP_URL is set", Prefix, Prefix)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		invalid("bcrypt cost %d outside [%d, %d]", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return errors.Join(errs...)
}

// NewLogger builds the slog handler selected by LogFormat and LogLevel.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
