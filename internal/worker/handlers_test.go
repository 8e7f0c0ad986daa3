package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sungwon/queueing/internal/backend/memqueue"
	"github.com/sungwon/queueing/internal/queueing"
)

func receiveOne(t *testing.T, body string) *queueing.Envelope {
	t.Helper()
	p := newTestProvider(t, "jobs", memqueue.New())
	c := p.CreateClient()
	_, err := c.SendString(context.Background(), body)
	require.NoError(t, err)
	env, err := c.TryReceiveMessage(context.Background())
	require.NoError(t, err)
	require.NotNil(t, env)
	return env
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()
	require.True(t, IsPermanent(&PermanentError{Err: errors.New("bad")}))
	require.True(t, IsPermanent(fmt.Errorf("wrapped: %w", &PermanentError{Err: errors.New("bad")})))
	require.False(t, IsPermanent(errors.New("temporary")))
	require.False(t, IsPermanent(nil))
}

func TestHTTPForwarder_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusAccepted, false, false},
		{http.StatusBadRequest, true, true},
		{http.StatusNotFound, true, true},
		{http.StatusRequestTimeout, true, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			var (
				mu             sync.Mutex
				gotBody, gotID string
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				mu.Lock()
				gotBody = string(b)
				gotID = r.Header.Get("X-Message-ID")
				mu.Unlock()
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			env := receiveOne(t, "payload")
			err := NewHTTPForwarder(srv.URL, time.Second).HandleMessage(context.Background(), env)

			require.Equal(t, tt.wantErr, err != nil, "err = %v", err)
			require.Equal(t, tt.permanent, IsPermanent(err))
			mu.Lock()
			defer mu.Unlock()
			require.Equal(t, "payload", gotBody)
			require.Equal(t, env.MessageID(), gotID)
		})
	}
}

func TestHTTPForwarder_ConnectionErrorIsTransient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPForwarder(url, time.Second).HandleMessage(context.Background(), receiveOne(t, "x"))
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestLogHandler_Succeeds(t *testing.T) {
	t.Parallel()
	require.NoError(t, LogHandler(zerolog.Nop()).HandleMessage(context.Background(), receiveOne(t, "x")))
}

func TestPool_PermanentFailureGoesToPoison(t *testing.T) {
	t.Parallel()
	mem := memqueue.New()
	poisonMem := memqueue.New()
	p := newTestProvider(t, "jobs", mem)
	poison := newTestProvider(t, "jobs-poison", poisonMem)

	_, err := p.CreateClient().SendString(context.Background(), "malformed")
	require.NoError(t, err)

	var attempts atomic.Int32
	cfg := testConfig()
	cfg.MaxDeliveries = 10
	pool := NewPool(p, poison, HandlerFunc(func(context.Context, *queueing.Envelope) error {
		attempts.Add(1)
		return &PermanentError{Err: errors.New("cannot parse")}
	}), cfg, zerolog.Nop())

	pool.Start(context.Background())
	require.Eventually(t, func() bool { return poisonMem.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, pool.Stop())
	require.EqualValues(t, 1, attempts.Load())
	require.Equal(t, 0, mem.Len())
}
