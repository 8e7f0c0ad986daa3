package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sungwon/queueing/internal/api"
	"github.com/sungwon/queueing/internal/auth"
	"github.com/sungwon/queueing/internal/backend"
	"github.com/sungwon/queueing/internal/config"
	"github.com/sungwon/queueing/internal/logger"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Logging.Logger())
	log.Info().Msg("starting queue API server")

	ctx := context.Background()
	provider, err := backend.Open(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open queue")
	}
	defer provider.Close()

	if err := provider.EnsureQueue(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure queue")
	}

	keys := auth.NewKeySet(cfg.API.Keys)
	if keys.Len() == 0 {
		log.Warn().Msg("no API keys configured, message routes are unauthenticated")
	}

	srv := &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      api.NewRouter(provider, log, api.WithAuth(keys)),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
