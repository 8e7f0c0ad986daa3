// Package queueingtest holds the behaviour every queueing backend must
// exhibit, packaged as a test suite that backend packages run against
// their own Provider.
package queueingtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sungwon/queueing/internal/queueing"
)

// Factory returns a provider over an empty-able queue. The suite clears the
// queue before every case and waits 1.5 visibility timeouts in the
// redelivery cases, so short timeouts (about a second) keep it fast.
type Factory func(t *testing.T) *queueing.Provider

// Run executes the conformance suite. Cases run sequentially because they
// share one queue.
func Run(t *testing.T, newProvider Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, p *queueing.Provider)
	}{
		{"SendMessage_SendsStringMessage_RoundTrips", testRoundTripString},
		{"SendMessage_SendsBinaryMessage_RoundTrips", testRoundTripBinary},
		{"TryReceiveMessage_QueueEmpty_ReturnsNil", testEmptyQueue},
		{"TryCommit_CommitsMessage_RemovesFromQueue", testCommitRemoves},
		{"TryCommit_Twice_SecondIsStale", testDoubleCommit},
		{"TryAbandon_AbandonsMessage_ReturnsToQueue", testAbandonRequeues},
		{"TryCommit_AfterAbandon_ReturnsFalse", testCommitAfterAbandon},
		{"TryReceiveMessage_AfterVisibilityTimeout_Redelivers", testDeadlineRedelivers},
		{"TryCommit_AfterVisibilityTimeout_ReturnsFalse", testCommitAfterDeadline},
		{"TryReceiveMessage_Concurrent_SingleWinner", testMutualExclusion},
		{"Scenario_RedeliverThenCommit", testScenario},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newProvider(t)
			ctx := context.Background()
			require.NoError(t, p.Clear(ctx))
			t.Cleanup(func() { _ = p.Clear(context.Background()) })
			tc.fn(t, p)
		})
	}
}

func pastDeadline(p *queueing.Provider) time.Duration {
	return p.Config().VisibilityTimeout * 3 / 2
}

func mustReceive(t *testing.T, c *queueing.Client) *queueing.Envelope {
	t.Helper()
	env, err := c.TryReceiveMessage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, env, "a message should have been found in the queue")
	return env
}

func requireEmpty(t *testing.T, c *queueing.Client) {
	t.Helper()
	env, err := c.TryReceiveMessage(context.Background())
	require.NoError(t, err)
	require.Nil(t, env, "queue should be empty")
}

func testRoundTripString(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Hello, queue!")
	require.NoError(t, err)

	env := mustReceive(t, c)
	require.Equal(t, "Hello, queue!", env.String())
	require.NotEmpty(t, env.MessageID())
	require.False(t, env.Handle().IsZero())
	require.True(t, env.Deadline().After(time.Now().Add(-time.Second)))
	require.GreaterOrEqual(t, env.DequeueCount(), int64(1))

	ok, err := env.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func testRoundTripBinary(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	body := []byte{0x00, 0xff, 0x10, '<', '&', 0x7f, 0xc3, 0x28}
	_, err := c.SendMessage(ctx, body)
	require.NoError(t, err)

	env := mustReceive(t, c)
	require.Equal(t, body, env.Body())

	ok, err := env.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func testEmptyQueue(t *testing.T, p *queueing.Provider) {
	requireEmpty(t, p.CreateClient())
}

func testCommitRemoves(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Commit test")
	require.NoError(t, err)

	env := mustReceive(t, c)
	ok, err := env.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok, "commit should succeed")

	requireEmpty(t, c)
}

func testDoubleCommit(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Double commit")
	require.NoError(t, err)

	env := mustReceive(t, c)
	ok, err := env.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = env.TryCommit(ctx)
	require.NoError(t, err)
	require.False(t, ok, "second commit must report a stale handle")

	ok, err = env.TryAbandon(ctx)
	require.NoError(t, err)
	require.False(t, ok, "abandon after commit must report a stale handle")
}

func testAbandonRequeues(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Abandon test")
	require.NoError(t, err)

	env := mustReceive(t, c)
	ok, err := env.TryAbandon(ctx)
	require.NoError(t, err)
	require.True(t, ok, "abandon should succeed")

	again := mustReceive(t, c)
	require.Equal(t, "Abandon test", again.String())
	require.Equal(t, env.MessageID(), again.MessageID())
	require.NotEqual(t, env.Handle(), again.Handle())

	ok, err = again.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func testCommitAfterAbandon(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Stale after abandon")
	require.NoError(t, err)

	env := mustReceive(t, c)
	ok, err := env.TryAbandon(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = env.TryCommit(ctx)
	require.NoError(t, err)
	require.False(t, ok, "handle from an abandoned period must be stale")

	again := mustReceive(t, c)
	require.Equal(t, "Stale after abandon", again.String())
	ok, err = again.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func testDeadlineRedelivers(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Timeout test")
	require.NoError(t, err)

	first := mustReceive(t, c)
	requireEmpty(t, c)

	time.Sleep(pastDeadline(p))

	again := mustReceive(t, c)
	require.Equal(t, "Timeout test", again.String())
	require.Equal(t, first.MessageID(), again.MessageID())
	require.Greater(t, again.DequeueCount(), first.DequeueCount())

	ok, err := again.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func testCommitAfterDeadline(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Late commit")
	require.NoError(t, err)

	first := mustReceive(t, c)
	time.Sleep(pastDeadline(p))

	ok, err := first.TryCommit(ctx)
	require.NoError(t, err)
	require.False(t, ok, "commit after the visibility window must fail")

	again := mustReceive(t, c)
	ok, err = first.TryAbandon(ctx)
	require.NoError(t, err)
	require.False(t, ok, "old handle must not act on the new period")

	ok, err = again.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func testMutualExclusion(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	_, err := p.CreateClient().SendString(ctx, "only one")
	require.NoError(t, err)

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []*queueing.Envelope
		errs    []error
	)
	start := make(chan struct{})
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := p.CreateClient()
			<-start
			env, err := c.TryReceiveMessage(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if env != nil {
				winners = append(winners, env)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, winners, 1, "exactly one receiver must win the message")

	ok, err := winners[0].TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func testScenario(t *testing.T, p *queueing.Provider) {
	ctx := context.Background()
	c := p.CreateClient()

	_, err := c.SendString(ctx, "Hello, queue!")
	require.NoError(t, err)

	first := mustReceive(t, c)
	require.Equal(t, "Hello, queue!", first.String())

	time.Sleep(pastDeadline(p))

	second := mustReceive(t, c)
	require.Equal(t, "Hello, queue!", second.String())

	ok, err := second.TryCommit(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	requireEmpty(t, c)
}
