package queueing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sungwon/queueing/internal/backend/memqueue"
	"github.com/sungwon/queueing/internal/queueing"
	"github.com/sungwon/queueing/internal/queueing/queueingtest"
)

// mockBackend implements queueing.Backend for testing.
type mockBackend struct {
	mu          sync.Mutex
	claim       *queueing.Claim
	enqueueErr  error
	claimErr    error
	settleErr   error
	applied     bool
	enqueued    [][]byte
	ttls        []time.Duration
	visibility  []time.Duration
	deleted     []queueing.Handle
	madeVisible []queueing.Handle
}

func (m *mockBackend) Enqueue(_ context.Context, body []byte, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return "", m.enqueueErr
	}
	m.enqueued = append(m.enqueued, body)
	m.ttls = append(m.ttls, ttl)
	return "mock-msg-id", nil
}

func (m *mockBackend) ClaimNext(_ context.Context, visibility time.Duration) (*queueing.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visibility = append(m.visibility, visibility)
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	return m.claim, nil
}

func (m *mockBackend) Delete(_ context.Context, h queueing.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, h)
	return m.applied, m.settleErr
}

func (m *mockBackend) MakeVisible(_ context.Context, h queueing.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.madeVisible = append(m.madeVisible, h)
	return m.applied, m.settleErr
}

func (m *mockBackend) ClearAll(context.Context) error { return nil }

func newMockClient(t *testing.T, b *mockBackend, opts ...queueing.Option) *queueing.Client {
	t.Helper()
	p, err := queueing.NewProvider(validConfig(), b, opts...)
	if err != nil {
		t.Fatalf("NewProvider() error: %v", err)
	}
	return p.CreateClient()
}

func TestClient_SendMessage_PassesTimeToLive(t *testing.T) {
	t.Parallel()

	b := &mockBackend{}
	c := newMockClient(t, b)

	id, err := c.SendString(context.Background(), "Hello, queue!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "mock-msg-id" {
		t.Errorf("id = %q, want %q", id, "mock-msg-id")
	}
	if len(b.enqueued) != 1 || string(b.enqueued[0]) != "Hello, queue!" {
		t.Fatalf("unexpected enqueued bodies: %q", b.enqueued)
	}
	if b.ttls[0] != 7*24*time.Hour {
		t.Errorf("ttl = %v, want %v", b.ttls[0], 7*24*time.Hour)
	}
}

func TestClient_SendMessage_TransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	c := newMockClient(t, &mockBackend{enqueueErr: cause})

	_, err := c.SendMessage(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, queueing.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to propagate unchanged, got %v", err)
	}
	var te *queueing.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T", err)
	}
	if te.Op != "send" || te.Queue != "testqueue" {
		t.Errorf("unexpected op/queue: %q/%q", te.Op, te.Queue)
	}
}

func TestClient_TryReceiveMessage_Empty(t *testing.T) {
	t.Parallel()

	b := &mockBackend{}
	c := newMockClient(t, b)

	env, err := c.TryReceiveMessage(context.Background())
	if err != nil {
		t.Fatalf("empty queue must not be an error: %v", err)
	}
	if env != nil {
		t.Fatalf("expected nil envelope, got %+v", env)
	}
	if len(b.visibility) != 1 || b.visibility[0] != time.Second {
		t.Errorf("visibility passed = %v, want [1s]", b.visibility)
	}
}

func TestClient_TryReceiveMessage_TransportError(t *testing.T) {
	t.Parallel()

	c := newMockClient(t, &mockBackend{claimErr: context.DeadlineExceeded})

	env, err := c.TryReceiveMessage(context.Background())
	if env != nil {
		t.Error("expected nil envelope on error")
	}
	if !queueing.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", err)
	}
}

func TestEnvelope_Settle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	claim := &queueing.Claim{
		MessageID:    "m1",
		Handle:       queueing.Handle{MessageID: "m1", Receipt: "r1"},
		Body:         []byte("payload"),
		Deadline:     now.Add(time.Second),
		DequeueCount: 2,
	}

	tests := []struct {
		name      string
		applied   bool
		settleErr error
		commit    bool
		want      bool
		wantErr   bool
	}{
		{"commit applied", true, nil, true, true, false},
		{"commit stale", false, nil, true, false, false},
		{"commit transport", false, errors.New("boom"), true, false, true},
		{"abandon applied", true, nil, false, true, false},
		{"abandon stale", false, nil, false, false, false},
		{"abandon transport", false, errors.New("boom"), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := &mockBackend{claim: claim, applied: tt.applied, settleErr: tt.settleErr}
			c := newMockClient(t, b, queueing.WithClock(func() time.Time { return now }))

			env, err := c.TryReceiveMessage(context.Background())
			if err != nil || env == nil {
				t.Fatalf("TryReceiveMessage() = %v, %v", env, err)
			}
			if env.String() != "payload" || env.DequeueCount() != 2 {
				t.Errorf("unexpected envelope: %q / %d", env.String(), env.DequeueCount())
			}

			var got bool
			if tt.commit {
				got, err = env.TryCommit(context.Background())
			} else {
				got, err = env.TryAbandon(context.Background())
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !queueing.IsTransport(err) {
				t.Errorf("expected transport error, got %T", err)
			}
			if got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}

			handles := b.madeVisible
			if tt.commit {
				handles = b.deleted
			}
			if len(handles) != 1 || handles[0] != claim.Handle {
				t.Errorf("backend received handles %v, want [%v]", handles, claim.Handle)
			}
		})
	}
}

func TestEnvelope_DeadlinePassed_SkipsBackend(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	b := &mockBackend{
		applied: true,
		claim: &queueing.Claim{
			MessageID: "m1",
			Handle:    queueing.Handle{MessageID: "m1", Receipt: "r1"},
			Deadline:  now.Add(time.Second),
		},
	}
	c := newMockClient(t, b, queueing.WithClock(func() time.Time { return clock }))

	env, _ := c.TryReceiveMessage(context.Background())
	clock = now.Add(time.Second)

	ok, err := env.TryCommit(context.Background())
	if err != nil || ok {
		t.Fatalf("TryCommit() = %v, %v; want false, nil", ok, err)
	}
	if len(b.deleted) != 0 {
		t.Errorf("expected no backend call, got %d", len(b.deleted))
	}
}

func TestEnvelope_SettlesAtMostOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		first  func(*queueing.Envelope, context.Context) (bool, error)
		second func(*queueing.Envelope, context.Context) (bool, error)
	}{
		{"commit twice", (*queueing.Envelope).TryCommit, (*queueing.Envelope).TryCommit},
		{"abandon then commit", (*queueing.Envelope).TryAbandon, (*queueing.Envelope).TryCommit},
		{"commit then abandon", (*queueing.Envelope).TryCommit, (*queueing.Envelope).TryAbandon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// The backend accepts every receipt, as SQS does for old ones.
			b := &mockBackend{
				applied: true,
				claim: &queueing.Claim{
					MessageID: "m1",
					Handle:    queueing.Handle{MessageID: "m1", Receipt: "r1"},
					Deadline:  time.Now().Add(time.Minute),
				},
			}
			c := newMockClient(t, b)
			env, _ := c.TryReceiveMessage(context.Background())

			ok, err := tt.first(env, context.Background())
			if err != nil || !ok {
				t.Fatalf("first settle = %v, %v", ok, err)
			}
			ok, err = tt.second(env, context.Background())
			if err != nil || ok {
				t.Fatalf("second settle = %v, %v; want false, nil", ok, err)
			}
			if calls := len(b.deleted) + len(b.madeVisible); calls != 1 {
				t.Errorf("expected 1 backend call, got %d", calls)
			}
		})
	}
}

func TestEnvelope_TransportErrorAllowsRetry(t *testing.T) {
	t.Parallel()

	b := &mockBackend{
		settleErr: errors.New("boom"),
		claim: &queueing.Claim{
			MessageID: "m1",
			Handle:    queueing.Handle{MessageID: "m1", Receipt: "r1"},
			Deadline:  time.Now().Add(time.Minute),
		},
	}
	c := newMockClient(t, b)
	env, _ := c.TryReceiveMessage(context.Background())

	if _, err := env.TryCommit(context.Background()); !queueing.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}

	b.mu.Lock()
	b.settleErr, b.applied = nil, true
	b.mu.Unlock()

	ok, err := env.TryCommit(context.Background())
	if err != nil || !ok {
		t.Fatalf("retry TryCommit() = %v, %v", ok, err)
	}
}

func TestClient_ResumeWithoutDeadlineIsStale(t *testing.T) {
	t.Parallel()

	b := &mockBackend{applied: true}
	c := newMockClient(t, b)

	env := c.Resume(queueing.Handle{MessageID: "m9", Receipt: "r9"}, time.Time{})
	ok, err := env.TryCommit(context.Background())
	if err != nil || ok {
		t.Fatalf("TryCommit() = %v, %v; want false, nil", ok, err)
	}
	if len(b.deleted) != 0 {
		t.Errorf("expected no backend call, got %d", len(b.deleted))
	}
}

func TestEnvelope_BodyIsCopied(t *testing.T) {
	t.Parallel()

	b := &mockBackend{claim: &queueing.Claim{
		MessageID: "m1",
		Handle:    queueing.Handle{MessageID: "m1", Receipt: "r1"},
		Body:      []byte("abc"),
		Deadline:  time.Now().Add(time.Minute),
	}}
	c := newMockClient(t, b)

	env, _ := c.TryReceiveMessage(context.Background())
	body := env.Body()
	body[0] = 'X'
	if env.String() != "abc" {
		t.Errorf("envelope body mutated through Body(): %q", env.String())
	}
}

func TestClient_Resume(t *testing.T) {
	t.Parallel()

	b := &mockBackend{applied: true}
	c := newMockClient(t, b)

	h := queueing.Handle{MessageID: "m9", Receipt: "r9"}
	env := c.Resume(h, time.Now().Add(time.Minute))
	if env.MessageID() != "m9" || env.Handle() != h {
		t.Fatalf("unexpected resumed envelope: %s / %+v", env.MessageID(), env.Handle())
	}

	ok, err := env.TryCommit(context.Background())
	if err != nil || !ok {
		t.Fatalf("TryCommit() = %v, %v", ok, err)
	}

	empty := c.Resume(queueing.Handle{MessageID: "m9"}, time.Time{})
	ok, err = empty.TryAbandon(context.Background())
	if err != nil || ok {
		t.Errorf("zero receipt must be stale, got %v, %v", ok, err)
	}
}

func TestClient_CancelledContext(t *testing.T) {
	t.Parallel()

	p, _ := queueing.NewProvider(validConfig(), memqueue.New())
	c := p.CreateClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.SendString(ctx, "x"); !errors.Is(err, context.Canceled) || !queueing.IsTransport(err) {
		t.Errorf("SendString() error = %v, want wrapped context.Canceled", err)
	}
	if _, err := c.TryReceiveMessage(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("TryReceiveMessage() error = %v, want wrapped context.Canceled", err)
	}
}

func TestConformance_Memory(t *testing.T) {
	queueingtest.Run(t, func(t *testing.T) *queueing.Provider {
		cfg := validConfig()
		cfg.VisibilityTimeout = 300 * time.Millisecond
		p, err := queueing.NewProvider(cfg, memqueue.New())
		if err != nil {
			t.Fatalf("NewProvider() error: %v", err)
		}
		return p
	})
}
