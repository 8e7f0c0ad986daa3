// Package backend builds a queueing.Provider for the backend named in
// configuration.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/queueing/internal/backend/azurequeue"
	"github.com/sungwon/queueing/internal/backend/memqueue"
	"github.com/sungwon/queueing/internal/backend/offload"
	"github.com/sungwon/queueing/internal/backend/pgqueue"
	"github.com/sungwon/queueing/internal/backend/redisqueue"
	"github.com/sungwon/queueing/internal/backend/sqsqueue"
	"github.com/sungwon/queueing/internal/bodystore"
	"github.com/sungwon/queueing/internal/queueing"
	"github.com/sungwon/queueing/internal/storage"
)

// Backend types accepted in Config.Type.
const (
	TypeMemory   = "memory"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
	TypeSQS      = "sqs"
	TypeAzure    = "azure"
)

// Config holds configuration for one queue and the backend it lives on.
type Config struct {
	// Type selects the backend: "memory" (default), "redis", "postgres",
	// "sqs" or "azure".
	Type              string         `mapstructure:"backend"`
	Name              string         `mapstructure:"name"`
	VisibilityTimeout time.Duration  `mapstructure:"visibility_timeout"`
	TimeToLive        time.Duration  `mapstructure:"time_to_live"`
	ServiceVersion    string         `mapstructure:"service_version"`
	Redis             RedisConfig    `mapstructure:"redis"`
	Postgres          storage.Config `mapstructure:"postgres"`
	SQS               SQSConfig      `mapstructure:"sqs"`
	Azure             AzureConfig    `mapstructure:"azure"`
	Offload           OffloadConfig  `mapstructure:"offload"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SQSConfig holds Amazon SQS settings. Endpoint overrides the service URL.
type SQSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// AzureConfig holds Azure Queue Storage settings.
type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
}

// OffloadConfig moves bodies longer than Threshold bytes into Store. A zero
// Threshold disables offloading.
type OffloadConfig struct {
	Threshold int              `mapstructure:"threshold"`
	Store     bodystore.Config `mapstructure:"store"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:              TypeMemory,
		Name:              "default",
		VisibilityTimeout: 30 * time.Second,
		TimeToLive:        7 * 24 * time.Hour,
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "queueing",
		},
		Postgres: storage.Config{
			PoolMin:        1,
			PoolMax:        10,
			ConnectTimeout: 5 * time.Second,
		},
		SQS: SQSConfig{Region: "us-east-1"},
		Azure: AzureConfig{
			ConnectionString: "UseDevelopmentStorage=true",
		},
		Offload: OffloadConfig{
			Store: bodystore.Config{Type: bodystore.TypeLocal, Path: "bodies"},
		},
	}
}

// WithName returns a copy of cfg addressing another queue on the same
// backend.
func (c Config) WithName(name string) Config {
	c.Name = name
	return c
}

// ProviderConfig maps c onto the backend-independent queue configuration.
func (c Config) ProviderConfig() queueing.Config {
	return queueing.Config{
		Endpoint:          c.Endpoint(),
		QueueName:         c.Name,
		VisibilityTimeout: c.VisibilityTimeout,
		TimeToLive:        c.TimeToLive,
		ServiceVersion:    c.ServiceVersion,
	}
}

// Endpoint returns a loggable description of where the queue lives. It
// never includes credentials.
func (c Config) Endpoint() string {
	switch c.kind() {
	case TypeRedis:
		return "redis://" + c.Redis.Addr
	case TypePostgres:
		u, err := url.Parse(c.Postgres.URL)
		if err != nil {
			return "postgres"
		}
		return u.Redacted()
	case TypeSQS:
		if c.SQS.Endpoint != "" {
			return c.SQS.Endpoint
		}
		return "sqs." + c.SQS.Region + ".amazonaws.com"
	case TypeAzure:
		return azureAccount(c.Azure.ConnectionString)
	default:
		return TypeMemory
	}
}

func (c Config) kind() string {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	if t == "" {
		return TypeMemory
	}
	return t
}

// azureAccount extracts the account part of a connection string.
func azureAccount(conn string) string {
	if strings.EqualFold(strings.TrimSpace(conn), "UseDevelopmentStorage=true") {
		return "azure://devstoreaccount1"
	}
	for _, part := range strings.Split(conn, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(k, "AccountName") {
			return "azure://" + v
		}
	}
	return "azure"
}

// Open connects to the configured backend and returns a Provider for the
// queue. Configuration problems yield *queueing.ConfigurationError and
// connection failures *queueing.TransportError.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*queueing.Provider, error) {
	pcfg := cfg.ProviderConfig()
	if err := pcfg.Validate(); err != nil {
		return nil, err
	}

	b, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Offload.Threshold > 0 {
		store, err := bodystore.New(ctx, cfg.Offload.Store)
		if err != nil {
			_ = closeBackend(b)
			return nil, &queueing.ConfigurationError{Field: "offload store", Reason: err.Error()}
		}
		b = offload.New(b, store, cfg.Offload.Threshold, offload.WithLogger(log))
	}

	p, err := queueing.NewProvider(pcfg, b, queueing.WithLogger(log))
	if err != nil {
		_ = closeBackend(b)
		return nil, err
	}

	log.Info().
		Str("backend", cfg.kind()).
		Str("endpoint", pcfg.Endpoint).
		Str("queue", pcfg.QueueName).
		Dur("visibility_timeout", pcfg.VisibilityTimeout).
		Dur("time_to_live", pcfg.TimeToLive).
		Int("offload_threshold", cfg.Offload.Threshold).
		Msg("queue provider opened")
	return p, nil
}

func newBackend(ctx context.Context, cfg Config) (queueing.Backend, error) {
	switch cfg.kind() {
	case TypeMemory:
		return memqueue.New(), nil

	case TypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var opts []redisqueue.Option
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redisqueue.WithPrefix(cfg.Redis.Prefix))
		}
		q, err := redisqueue.New(client, cfg.Name, opts...)
		if err != nil {
			_ = client.Close()
			return nil, &queueing.ConfigurationError{Field: "queue name", Reason: err.Error()}
		}
		return q, nil

	case TypePostgres:
		if cfg.Postgres.URL == "" {
			return nil, &queueing.ConfigurationError{Field: "postgres url", Reason: "must not be empty"}
		}
		db, err := storage.NewDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, &queueing.TransportError{Op: "connect", Queue: cfg.Name, Err: err}
		}
		q, err := pgqueue.Open(db, cfg.Name)
		if err != nil {
			db.Close()
			return nil, &queueing.ConfigurationError{Field: "queue name", Reason: err.Error()}
		}
		return q, nil

	case TypeSQS:
		q, err := sqsqueue.New(ctx, sqsqueue.Config{
			Region:     cfg.SQS.Region,
			Endpoint:   cfg.SQS.Endpoint,
			QueueName:  cfg.Name,
			Visibility: cfg.VisibilityTimeout,
			Retention:  cfg.TimeToLive,
		})
		if err != nil {
			return nil, &queueing.ConfigurationError{Field: "sqs", Reason: err.Error()}
		}
		return q, nil

	case TypeAzure:
		q, err := azurequeue.New(azurequeue.Config{
			ConnectionString: cfg.Azure.ConnectionString,
			QueueName:        cfg.Name,
			ServiceVersion:   cfg.ServiceVersion,
		})
		if err != nil {
			return nil, &queueing.ConfigurationError{Field: "azure connection string", Reason: err.Error()}
		}
		return q, nil

	default:
		return nil, &queueing.ConfigurationError{Field: "backend", Reason: fmt.Sprintf("unknown type %q", cfg.Type)}
	}
}

func closeBackend(b queueing.Backend) error {
	if c, ok := b.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
