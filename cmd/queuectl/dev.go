package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/queueing/internal/emulator"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run local Postgres, Redis and Azurite containers until interrupted",
	Long: `dev starts the backing services used by the postgres, redis and azure
backends in Docker and prints the QUEUEING_* variables that point at them.
The containers are removed when the command exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var (
			pg    *emulator.Postgres
			rd    *emulator.Redis
			azure *emulator.Azurite
			mu    sync.Mutex
			all   []*emulator.Container
		)
		track := func(c *emulator.Container) {
			mu.Lock()
			all = append(all, c)
			mu.Unlock()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			if pg, err = emulator.StartPostgres(gctx); err == nil {
				track(pg.Container)
			}
			return err
		})
		g.Go(func() (err error) {
			if rd, err = emulator.StartRedis(gctx); err == nil {
				track(rd.Container)
			}
			return err
		})
		g.Go(func() (err error) {
			if azure, err = emulator.StartAzurite(gctx); err == nil {
				track(azure.Container)
			}
			return err
		})
		startErr := g.Wait()

		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for _, c := range all {
				_ = c.Stop(stopCtx)
			}
		}()
		if startErr != nil {
			return fmt.Errorf("start emulators: %w", startErr)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "QUEUEING_QUEUE_POSTGRES_URL=%s\n", pg.DSN())
		fmt.Fprintf(out, "QUEUEING_QUEUE_REDIS_ADDR=%s\n", rd.Addr())
		fmt.Fprintf(out, "QUEUEING_QUEUE_AZURE_CONNECTION_STRING='%s'\n", azure.ConnectionString())
		fmt.Fprintln(out, "# press Ctrl-C to stop")

		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devCmd)
}
