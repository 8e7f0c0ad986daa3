package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sungwon/queueing/internal/backend"
	"github.com/sungwon/queueing/internal/config"
	"github.com/sungwon/queueing/internal/logger"
	"github.com/sungwon/queueing/internal/queueing"
)

var (
	configPath  string
	backendType string
	queueName   string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:           "queuectl",
	Short:         "queuectl sends, receives and settles messages on a queue",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config", "directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&backendType, "backend", "", "override queue.backend")
	rootCmd.PersistentFlags().StringVarP(&queueName, "queue", "q", "", "override queue.name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log backend operations to stderr")
}

// openProvider loads configuration, applies flag overrides and opens the
// configured queue.
func openProvider(ctx context.Context) (*queueing.Provider, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	qc := cfg.Queue
	if backendType != "" {
		qc.Type = backendType
	}
	if queueName != "" {
		qc = qc.WithName(queueName)
	}

	log := zerolog.Nop()
	if verbose {
		log = logger.New("debug")
	}
	return backend.Open(ctx, qc, log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
