package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sungwon/queueing/internal/backend"
	"github.com/sungwon/queueing/internal/config"
	"github.com/sungwon/queueing/internal/logger"
	"github.com/sungwon/queueing/internal/queueing"
	"github.com/sungwon/queueing/internal/worker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Logging.Logger())
	log.Info().Msg("starting queue worker")

	ctx := context.Background()
	provider, err := backend.Open(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open queue")
	}
	defer provider.Close()
	if err := provider.EnsureQueue(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure queue")
	}

	var poison *queueing.Provider
	if name := cfg.Worker.PoisonQueue; name != "" {
		poison, err = backend.Open(ctx, cfg.Queue.WithName(name), log)
		if err != nil {
			log.Fatal().Err(err).Str("poison_queue", name).Msg("failed to open poison queue")
		}
		defer poison.Close()
		if err := poison.EnsureQueue(ctx); err != nil {
			log.Fatal().Err(err).Str("poison_queue", name).Msg("failed to ensure poison queue")
		}
	}

	var handler worker.Handler = worker.LogHandler(log)
	if cfg.Worker.TargetURL != "" {
		handler = worker.NewHTTPForwarder(cfg.Worker.TargetURL, cfg.Worker.ProcessTimeout)
		log.Info().Str("target_url", cfg.Worker.TargetURL).Msg("forwarding messages")
	}

	pool := worker.NewPool(provider, poison, handler, cfg.Worker, log)
	pool.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down queue worker")

	if err := pool.Stop(); err != nil {
		log.Error().Err(err).Msg("worker pool did not stop cleanly")
	}

	log.Info().Msg("queue worker stopped")
}
