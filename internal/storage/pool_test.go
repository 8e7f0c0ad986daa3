//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/sungwon/queueing/internal/emulator"
	"github.com/sungwon/queueing/internal/storage"
)

func TestNewDB_PingAndClose(t *testing.T) {
	ctx := context.Background()

	pg, err := emulator.StartPostgres(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Stop(context.Background()) })

	db, err := storage.NewDB(ctx, storage.Config{
		URL:            pg.DSN(),
		PoolMin:        1,
		PoolMax:        4,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDB() error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
