// Package config loads process configuration from config.yaml and
// QUEUEING_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sungwon/queueing/internal/backend"
	"github.com/sungwon/queueing/internal/logger"
	"github.com/sungwon/queueing/internal/worker"
)

// Config holds all application configuration.
type Config struct {
	Queue   backend.Config `mapstructure:"queue"`
	API     APIConfig      `mapstructure:"api"`
	Worker  worker.Config  `mapstructure:"worker"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds HTTP API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Keys maps client names to bcrypt hashes of their API keys. When
	// empty the message routes require no authentication.
	Keys map[string]string `mapstructure:"keys"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// Logger converts to the logger package's configuration.
func (c LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:     c.Level,
		Format:    c.Format,
		Output:    c.Output,
		FilePath:  c.FilePath,
		MaxSizeMB: c.MaxSizeMB,
		MaxFiles:  c.MaxFiles,
	}
}

// Load reads configuration from config.yaml in configPath, if present.
// Environment variables with prefix QUEUEING_ override file values; for
// example QUEUEING_QUEUE_REDIS_ADDR overrides queue.redis.addr.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	v.SetEnvPrefix("QUEUEING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Queue.ProviderConfig().Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper) {
	q := backend.DefaultConfig()
	v.SetDefault("queue.backend", q.Type)
	v.SetDefault("queue.name", q.Name)
	v.SetDefault("queue.visibility_timeout", q.VisibilityTimeout)
	v.SetDefault("queue.time_to_live", q.TimeToLive)
	v.SetDefault("queue.service_version", q.ServiceVersion)
	v.SetDefault("queue.redis.addr", q.Redis.Addr)
	v.SetDefault("queue.redis.password", q.Redis.Password)
	v.SetDefault("queue.redis.db", q.Redis.DB)
	v.SetDefault("queue.redis.prefix", q.Redis.Prefix)
	v.SetDefault("queue.postgres.url", q.Postgres.URL)
	v.SetDefault("queue.postgres.pool_min", q.Postgres.PoolMin)
	v.SetDefault("queue.postgres.pool_max", q.Postgres.PoolMax)
	v.SetDefault("queue.postgres.connect_timeout", q.Postgres.ConnectTimeout)
	v.SetDefault("queue.sqs.region", q.SQS.Region)
	v.SetDefault("queue.sqs.endpoint", q.SQS.Endpoint)
	v.SetDefault("queue.azure.connection_string", q.Azure.ConnectionString)
	v.SetDefault("queue.offload.threshold", q.Offload.Threshold)
	v.SetDefault("queue.offload.store.type", q.Offload.Store.Type)
	v.SetDefault("queue.offload.store.path", q.Offload.Store.Path)
	v.SetDefault("queue.offload.store.s3_bucket", q.Offload.Store.S3Bucket)
	v.SetDefault("queue.offload.store.s3_prefix", q.Offload.Store.S3Prefix)
	v.SetDefault("queue.offload.store.s3_endpoint", q.Offload.Store.S3Endpoint)
	v.SetDefault("queue.offload.store.s3_region", q.Offload.Store.S3Region)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)

	w := worker.DefaultConfig()
	v.SetDefault("worker.count", w.Count)
	v.SetDefault("worker.poll_interval", w.PollInterval)
	v.SetDefault("worker.max_backoff", w.MaxBackoff)
	v.SetDefault("worker.process_timeout", w.ProcessTimeout)
	v.SetDefault("worker.shutdown_timeout", w.ShutdownTimeout)
	v.SetDefault("worker.max_deliveries", w.MaxDeliveries)
	v.SetDefault("worker.poison_queue", w.PoisonQueue)
	v.SetDefault("worker.sweep_interval", w.SweepInterval)
	v.SetDefault("worker.target_url", w.TargetURL)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "queueing.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)
}
