package queueing

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the identity and default policy of one logical queue.
type Config struct {
	// Endpoint is the backend connection identity, used for logging only;
	// the Backend owns the actual connection.
	Endpoint string
	// QueueName identifies the queue within the backend.
	QueueName string
	// VisibilityTimeout is how long a received message stays invisible
	// before it is redelivered.
	VisibilityTimeout time.Duration
	// TimeToLive is how long an unconsumed message is kept.
	TimeToLive time.Duration
	// ServiceVersion is an optional protocol version tag passed to backends
	// that support pinning one.
	ServiceVersion string
}

// Validate checks the invariants NewProvider enforces.
func (c Config) Validate() error {
	if strings.TrimSpace(c.QueueName) == "" {
		return &ConfigurationError{Field: "queue name", Reason: "must not be empty"}
	}
	if c.VisibilityTimeout <= 0 {
		return &ConfigurationError{Field: "visibility timeout", Reason: "must be positive"}
	}
	if c.TimeToLive <= 0 {
		return &ConfigurationError{Field: "time to live", Reason: "must be positive"}
	}
	return nil
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used by the provider and its clients.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// WithClock overrides the clock used for local deadline checks. Tests that
// drive a backend with a fake clock must pass the same clock here.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// Provider binds a Config to a Backend and manufactures Clients.
type Provider struct {
	cfg     Config
	backend Backend
	log     zerolog.Logger
	now     func() time.Time
}

// NewProvider validates cfg and returns a Provider for it. Errors are
// always *ConfigurationError.
func NewProvider(cfg Config, backend Backend, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, &ConfigurationError{Field: "backend", Reason: "must not be nil"}
	}

	p := &Provider{
		cfg:     cfg,
		backend: backend,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.log = p.log.With().Str("queue", cfg.QueueName).Logger()
	return p, nil
}

// Config returns the provider's configuration.
func (p *Provider) Config() Config {
	return p.cfg
}

// Backend returns the adapter the provider's clients delegate to.
func (p *Provider) Backend() Backend {
	return p.backend
}

// CreateClient returns a Client bound to this provider. No I/O is done.
func (p *Provider) CreateClient() *Client {
	return &Client{
		backend:    p.backend,
		queue:      p.cfg.QueueName,
		visibility: p.cfg.VisibilityTimeout,
		ttl:        p.cfg.TimeToLive,
		log:        p.log,
		now:        p.now,
	}
}

// EnsureQueue creates the queue when the backend supports provisioning. It
// is a no-op otherwise.
func (p *Provider) EnsureQueue(ctx context.Context) error {
	prov, ok := p.backend.(Provisioner)
	if !ok {
		return nil
	}
	if err := prov.EnsureQueue(ctx); err != nil {
		TransportErrorsTotal.WithLabelValues(p.cfg.QueueName, "ensure").Inc()
		return &TransportError{Op: "ensure", Queue: p.cfg.QueueName, Err: err}
	}
	p.log.Debug().Msg("queue ensured")
	return nil
}

// Clear removes every message from the queue. It is an administrative
// operation; outstanding envelopes become stale.
func (p *Provider) Clear(ctx context.Context) error {
	if err := p.backend.ClearAll(ctx); err != nil {
		TransportErrorsTotal.WithLabelValues(p.cfg.QueueName, "clear").Inc()
		return &TransportError{Op: "clear", Queue: p.cfg.QueueName, Err: err}
	}
	p.log.Info().Msg("queue cleared")
	return nil
}

// PurgeExpired deletes messages past their time-to-live on backends that
// keep them until swept. It reports 0 for backends that expire messages on
// their own.
func (p *Provider) PurgeExpired(ctx context.Context) (int, error) {
	sw, ok := p.backend.(Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.PurgeExpired(ctx)
	if err != nil {
		TransportErrorsTotal.WithLabelValues(p.cfg.QueueName, "purge").Inc()
		return 0, &TransportError{Op: "purge", Queue: p.cfg.QueueName, Err: err}
	}
	if n > 0 {
		p.log.Debug().Int("purged", n).Msg("expired messages purged")
	}
	return n, nil
}

// Close releases the backend if it holds resources.
func (p *Provider) Close() error {
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
