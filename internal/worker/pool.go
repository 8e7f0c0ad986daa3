// Package worker consumes a queue with a pool of goroutines, settling each
// message according to the outcome of a Handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/queueing/internal/queueing"
)

// Handler processes a single message. Returning nil commits the message;
// an error abandons it so it is redelivered.
type Handler interface {
	HandleMessage(ctx context.Context, env *queueing.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *queueing.Envelope) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, env *queueing.Envelope) error {
	return f(ctx, env)
}

// Config holds worker pool configuration.
type Config struct {
	Count           int           `mapstructure:"count"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxDeliveries moves a message to the poison queue once it has been
	// delivered more often than this. Zero disables the check.
	MaxDeliveries int64  `mapstructure:"max_deliveries"`
	PoisonQueue   string `mapstructure:"poison_queue"`
	// SweepInterval is how often expired messages are purged on backends
	// that need it. Zero disables sweeping.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// TargetURL, when set, makes queue-worker forward every message to it
	// instead of logging it.
	TargetURL string `mapstructure:"target_url"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Count:           4,
		PollInterval:    200 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		ProcessTimeout:  30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxDeliveries:   5,
		SweepInterval:   time.Minute,
	}
}

// Pool runs Count workers against one queue.
type Pool struct {
	provider *queueing.Provider
	client   *queueing.Client
	poison   *queueing.Client
	handler  Handler
	config   Config
	backoff  Backoff
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewPool creates a pool consuming provider's queue. poison may be nil, in
// which case messages over MaxDeliveries are dropped after being logged.
func NewPool(provider *queueing.Provider, poison *queueing.Provider, handler Handler, cfg Config, log zerolog.Logger) *Pool {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	p := &Pool{
		provider: provider,
		client:   provider.CreateClient(),
		handler:  handler,
		config:   cfg,
		backoff:  Backoff{Initial: cfg.PollInterval, Max: cfg.MaxBackoff},
		log:      log.With().Str("queue", provider.Config().QueueName).Logger(),
	}
	if poison != nil {
		p.poison = poison.CreateClient()
	}
	return p
}

// Start launches the workers and, if enabled, the expiry sweeper.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.config.Count {
		name := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			p.runWorker(gctx, name)
			return nil
		})
	}
	if p.config.SweepInterval > 0 {
		g.Go(func() error {
			return p.runSweeper(gctx)
		})
	}

	go func() {
		err := g.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()

	p.log.Info().
		Int("worker_count", p.config.Count).
		Dur("sweep_interval", p.config.SweepInterval).
		Msg("worker pool started")
}

// Stop signals all workers to stop and waits up to the configured shutdown
// timeout for in-flight messages to settle.
func (p *Pool) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		p.log.Info().Msg("worker pool stopped gracefully")
	case <-time.After(p.config.ShutdownTimeout):
		p.log.Warn().Msg("worker pool shutdown timed out")
		return errors.New("worker pool shutdown timed out")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil && !errors.Is(p.err, context.Canceled) {
		return p.err
	}
	return nil
}

func (p *Pool) runWorker(ctx context.Context, name string) {
	log := p.log.With().Str("worker", name).Logger()
	log.Debug().Msg("worker started")

	idle := 0
	for {
		if ctx.Err() != nil {
			log.Debug().Msg("worker stopping")
			return
		}

		processed, err := p.pollOnce(ctx, log)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("receive failed")
		}
		if processed {
			idle = 0
			continue
		}

		if !sleep(ctx, p.backoff.NextBackoff(idle)) {
			continue
		}
		idle++
	}
}

// pollOnce receives and processes at most one message. It reports whether
// a message was received.
func (p *Pool) pollOnce(ctx context.Context, log zerolog.Logger) (bool, error) {
	env, err := p.client.TryReceiveMessage(ctx)
	if err != nil {
		return false, err
	}
	if env == nil {
		return false, nil
	}

	p.process(ctx, log, env)
	return true, nil
}

func (p *Pool) process(ctx context.Context, log zerolog.Logger, env *queueing.Envelope) {
	queue := p.client.QueueName()
	log = log.With().
		Str("message_id", env.MessageID()).
		Int64("dequeue_count", env.DequeueCount()).
		Logger()

	// Settlement must reach the backend even while shutting down.
	settleCtx := context.WithoutCancel(ctx)

	if p.config.MaxDeliveries > 0 && env.DequeueCount() > p.config.MaxDeliveries {
		p.quarantine(settleCtx, log, env)
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.ProcessTimeout)
	if dl := env.Deadline(); !dl.IsZero() {
		processCtx, cancel = withEarlierDeadline(processCtx, cancel, dl)
	}
	start := time.Now()
	herr := p.handler.HandleMessage(processCtx, env)
	cancel()
	MessageProcessingDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())

	if herr == nil {
		applied, err := env.TryCommit(settleCtx)
		p.record(log, "commit", applied, err)
		return
	}

	if IsPermanent(herr) {
		log.Warn().Err(herr).Msg("message failed permanently")
		p.quarantine(settleCtx, log, env)
		return
	}

	log.Warn().Err(herr).Msg("message processing failed")
	applied, err := env.TryAbandon(settleCtx)
	p.record(log, "abandon", applied, err)
}

// quarantine copies a message that keeps failing, or failed permanently,
// to the poison queue and commits the original.
func (p *Pool) quarantine(ctx context.Context, log zerolog.Logger, env *queueing.Envelope) {
	if p.poison != nil {
		id, err := p.poison.SendMessage(ctx, env.Body())
		if err != nil {
			log.Error().Err(err).Msg("failed to move message to poison queue")
			if _, aerr := env.TryAbandon(ctx); aerr != nil {
				log.Error().Err(aerr).Msg("failed to abandon message")
			}
			return
		}
		log.Warn().
			Str("poison_queue", p.poison.QueueName()).
			Str("poison_message_id", id).
			Msg("moved to poison queue")
	} else {
		log.Warn().Msg("no poison queue configured, dropping message")
	}

	applied, err := env.TryCommit(ctx)
	if err != nil || !applied {
		p.record(log, "commit", applied, err)
		return
	}
	MessagesProcessedTotal.WithLabelValues(p.client.QueueName(), "poisoned").Inc()
}

func (p *Pool) record(log zerolog.Logger, op string, applied bool, err error) {
	queue := p.client.QueueName()
	switch {
	case err != nil:
		log.Error().Err(err).Str("op", op).Msg("failed to settle message")
	case !applied:
		MessagesProcessedTotal.WithLabelValues(queue, "stale").Inc()
		log.Warn().Str("op", op).Msg("handle went stale before settlement, message will be redelivered")
	case op == "commit":
		MessagesProcessedTotal.WithLabelValues(queue, "committed").Inc()
	default:
		MessagesProcessedTotal.WithLabelValues(queue, "abandoned").Inc()
	}
}

func (p *Pool) runSweeper(ctx context.Context) error {
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := p.provider.PurgeExpired(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error().Err(err).Msg("sweep failed")
			continue
		}
		if n > 0 {
			ExpiredPurgedTotal.WithLabelValues(p.client.QueueName()).Add(float64(n))
			p.log.Info().Int("purged", n).Msg("expired messages purged")
		}
	}
}

func withEarlierDeadline(ctx context.Context, cancel context.CancelFunc, deadline time.Time) (context.Context, context.CancelFunc) {
	if cur, ok := ctx.Deadline(); ok && !deadline.Before(cur) {
		return ctx, cancel
	}
	dctx, dcancel := context.WithDeadline(ctx, deadline)
	return dctx, func() {
		dcancel()
		cancel()
	}
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
