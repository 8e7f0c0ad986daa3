package backend

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sungwon/queueing/internal/backend/azurequeue"
	"github.com/sungwon/queueing/internal/backend/memqueue"
	"github.com/sungwon/queueing/internal/backend/offload"
	"github.com/sungwon/queueing/internal/backend/redisqueue"
	"github.com/sungwon/queueing/internal/backend/sqsqueue"
	"github.com/sungwon/queueing/internal/bodystore"
	"github.com/sungwon/queueing/internal/queueing"
	"github.com/sungwon/queueing/internal/storage"
)

func TestOpen_DefaultIsMemory(t *testing.T) {
	t.Parallel()
	p, err := Open(context.Background(), DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &memqueue.Queue{}, p.Backend())
	require.Equal(t, "default", p.Config().QueueName)
	require.Equal(t, "memory", p.Config().Endpoint)
}

func TestOpen_OffloadWrapsBackend(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Offload.Threshold = 8
	cfg.Offload.Store.Path = t.TempDir()

	p, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &offload.Backend{}, p.Backend())

	ctx := context.Background()
	c := p.CreateClient()
	_, err = c.SendString(ctx, "a body longer than eight bytes")
	require.NoError(t, err)

	env, err := c.TryReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "a body longer than eight bytes", env.String())
}

func TestOpen_OffloadBadStore(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Offload.Threshold = 8
	cfg.Offload.Store = bodystore.Config{Type: bodystore.TypeS3}

	_, err := Open(context.Background(), cfg, zerolog.Nop())
	require.True(t, queueing.IsConfiguration(err))
}

func TestOpen_UnknownType(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Type = "kafka"

	_, err := Open(context.Background(), cfg, zerolog.Nop())
	require.True(t, queueing.IsConfiguration(err))
	require.Contains(t, err.Error(), "kafka")
}

func TestOpen_InvalidQueueConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		apply func(*Config)
		field string
	}{
		{"blank name", func(c *Config) { c.Name = " " }, "queue name"},
		{"zero visibility", func(c *Config) { c.VisibilityTimeout = 0 }, "visibility timeout"},
		{"negative ttl", func(c *Config) { c.TimeToLive = -time.Second }, "time to live"},
		{"postgres without url", func(c *Config) { c.Type = TypePostgres }, "postgres url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.apply(&cfg)

			_, err := Open(context.Background(), cfg, zerolog.Nop())
			var cerr *queueing.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestOpen_Redis(t *testing.T) {
	t.Parallel()
	s := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Type = TypeRedis
	cfg.Redis.Addr = s.Addr()
	cfg.Name = "jobs"

	p, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.IsType(t, &redisqueue.Queue{}, p.Backend())
	require.NoError(t, p.EnsureQueue(context.Background()))

	c := p.CreateClient()
	_, err = c.SendString(context.Background(), "hello")
	require.NoError(t, err)
	env, err := c.TryReceiveMessage(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello", env.String())
}

func TestOpen_SQSAndAzureConstructOffline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Type = TypeSQS
	cfg.SQS.Endpoint = "http://localhost:9324"
	p, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &sqsqueue.Queue{}, p.Backend())

	cfg = DefaultConfig()
	cfg.Type = TypeAzure
	p, err = Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &azurequeue.Queue{}, p.Backend())
	require.Equal(t, "azure://devstoreaccount1", p.Config().Endpoint)
}

func TestEndpoint_NeverLeaksCredentials(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"memory", Config{}, "memory"},
		{"redis", Config{Type: "redis", Redis: RedisConfig{Addr: "cache:6379", Password: "hunter2"}}, "redis://cache:6379"},
		{"postgres", Config{Type: "POSTGRES", Postgres: storageURL("postgres://app:hunter2@db:5432/queue")}, "postgres://app:xxxxx@db:5432/queue"},
		{"sqs region", Config{Type: "sqs", SQS: SQSConfig{Region: "eu-west-1"}}, "sqs.eu-west-1.amazonaws.com"},
		{"sqs endpoint", Config{Type: "sqs", SQS: SQSConfig{Endpoint: "http://localstack:4566"}}, "http://localstack:4566"},
		{"azure", Config{Type: "azure", Azure: AzureConfig{ConnectionString: "DefaultEndpointsProtocol=https;AccountName=prod;AccountKey=secret"}}, "azure://prod"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.cfg.Endpoint())
		})
	}
}

func TestWithName(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	poison := cfg.WithName("default-poison")
	require.Equal(t, "default-poison", poison.Name)
	require.Equal(t, "default", cfg.Name)
}

func storageURL(u string) (c storage.Config) {
	c.URL = u
	return c
}
