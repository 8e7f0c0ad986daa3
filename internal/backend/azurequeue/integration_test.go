//go:build integration

package azurequeue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sungwon/queueing/internal/backend/azurequeue"
	"github.com/sungwon/queueing/internal/emulator"
	"github.com/sungwon/queueing/internal/queueing"
	"github.com/sungwon/queueing/internal/queueing/queueingtest"
)

func TestConformance_Azurite(t *testing.T) {
	ctx := context.Background()

	az, err := emulator.StartAzurite(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = az.Stop(context.Background()) })

	cfg := queueing.Config{
		Endpoint:          az.QueueEndpoint(),
		QueueName:         "testqueue",
		VisibilityTimeout: time.Second,
		TimeToLive:        7 * 24 * time.Hour,
		ServiceVersion:    "2025-01-05",
	}
	q, err := azurequeue.New(azurequeue.Config{
		ConnectionString: az.ConnectionString(),
		QueueName:        cfg.QueueName,
		ServiceVersion:   cfg.ServiceVersion,
	})
	require.NoError(t, err)

	p, err := queueing.NewProvider(cfg, q)
	require.NoError(t, err)
	require.NoError(t, p.EnsureQueue(ctx))

	queueingtest.Run(t, func(t *testing.T) *queueing.Provider { return p })
}

func TestAbandon_KeepsBody(t *testing.T) {
	ctx := context.Background()

	az, err := emulator.StartAzurite(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = az.Stop(context.Background()) })

	q, err := azurequeue.New(azurequeue.Config{ConnectionString: az.ConnectionString(), QueueName: "keep"})
	require.NoError(t, err)
	require.NoError(t, q.EnsureQueue(ctx))

	_, err = q.Enqueue(ctx, []byte("payload"), time.Hour)
	require.NoError(t, err)

	c, err := q.ClaimNext(ctx, 30*time.Second)
	require.NoError(t, err)
	ok, err := q.MakeVisible(ctx, c.Handle)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := q.ClaimNext(ctx, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	require.Equal(t, []byte("payload"), again.Body)
	require.EqualValues(t, 2, again.DequeueCount)
}
