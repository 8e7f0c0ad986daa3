// Package offload wraps a queue backend so that bodies above a size
// threshold are kept in a bodystore.Store and only a reference travels
// through the queue.
//
// A reference body is refPrefix followed by the store key. Handles of
// claimed references carry the key in front of the inner receipt, so a
// commit from another process can still remove the stored body.
package offload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/sungwon/queueing/internal/bodystore"
	"github.com/sungwon/queueing/internal/queueing"
)

const (
	refPrefix     = "queueing+body:"
	receiptPrefix = "body:"
)

// OrphanedBodiesTotal counts stored bodies that could not be removed after
// their message was committed or never enqueued.
var OrphanedBodiesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "queueing_offload_orphaned_bodies_total",
		Help: "Total number of offloaded bodies left in the store after a failed delete",
	},
	[]string{"op"}, // commit, send
)

// Backend is a queueing.Backend that offloads large bodies.
type Backend struct {
	inner     queueing.Backend
	store     bodystore.Store
	threshold int
	log       zerolog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger that reports orphaned bodies.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// New wraps inner. Bodies longer than threshold bytes are written to store.
func New(inner queueing.Backend, store bodystore.Store, threshold int, opts ...Option) *Backend {
	b := &Backend{inner: inner, store: store, threshold: threshold, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// removeBody deletes a stored body whose message is gone. A failure leaves
// the body behind and is logged and counted, never returned.
func (b *Backend) removeBody(ctx context.Context, op, key string) {
	if err := b.store.Delete(ctx, key); err != nil {
		OrphanedBodiesTotal.WithLabelValues(op).Inc()
		b.log.Warn().Err(err).Str("op", op).Str("body_key", key).Msg("offloaded body left in store")
	}
}

// Enqueue stores large bodies first and enqueues a reference to them.
func (b *Backend) Enqueue(ctx context.Context, body []byte, ttl time.Duration) (string, error) {
	if len(body) <= b.threshold {
		return b.inner.Enqueue(ctx, body, ttl)
	}

	key := uuid.NewString()
	if err := b.store.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("offload body: %w", err)
	}
	id, err := b.inner.Enqueue(ctx, []byte(refPrefix+key), ttl)
	if err != nil {
		b.removeBody(context.WithoutCancel(ctx), "send", key)
		return "", err
	}
	return id, nil
}

// ClaimNext claims from the inner backend and resolves references. A
// reference whose body is missing from the store is delivered as is.
func (b *Backend) ClaimNext(ctx context.Context, visibility time.Duration) (*queueing.Claim, error) {
	claim, err := b.inner.ClaimNext(ctx, visibility)
	if err != nil || claim == nil {
		return claim, err
	}

	key, ok := parseRef(claim.Body)
	if !ok {
		return claim, nil
	}
	body, err := b.store.Get(ctx, key)
	if errors.Is(err, bodystore.ErrNotFound) {
		return claim, nil
	}
	if err != nil {
		_, _ = b.inner.MakeVisible(context.WithoutCancel(ctx), claim.Handle)
		return nil, fmt.Errorf("load offloaded body: %w", err)
	}

	claim.Body = body
	claim.Handle.Receipt = receiptPrefix + key + ":" + claim.Handle.Receipt
	return claim, nil
}

// Delete deletes the message and then its stored body. A failure to
// remove the body does not undo the commit; it is logged and counted in
// OrphanedBodiesTotal.
func (b *Backend) Delete(ctx context.Context, h queueing.Handle) (bool, error) {
	inner, key := splitHandle(h)
	ok, err := b.inner.Delete(ctx, inner)
	if err != nil || !ok || key == "" {
		return ok, err
	}
	b.removeBody(ctx, "commit", key)
	return true, nil
}

// MakeVisible returns the message to the queue; its body stays stored.
func (b *Backend) MakeVisible(ctx context.Context, h queueing.Handle) (bool, error) {
	inner, _ := splitHandle(h)
	return b.inner.MakeVisible(ctx, inner)
}

// ClearAll clears the inner queue. Stored bodies are left for the store's
// own retention.
func (b *Backend) ClearAll(ctx context.Context) error {
	return b.inner.ClearAll(ctx)
}

// EnsureQueue provisions the inner queue when it supports it.
func (b *Backend) EnsureQueue(ctx context.Context) error {
	if p, ok := b.inner.(queueing.Provisioner); ok {
		return p.EnsureQueue(ctx)
	}
	return nil
}

// PurgeExpired sweeps the inner queue when it supports it.
func (b *Backend) PurgeExpired(ctx context.Context) (int, error) {
	if s, ok := b.inner.(queueing.Sweeper); ok {
		return s.PurgeExpired(ctx)
	}
	return 0, nil
}

// Close closes the inner backend.
func (b *Backend) Close() error {
	if c, ok := b.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func parseRef(body []byte) (string, bool) {
	rest, ok := bytes.CutPrefix(body, []byte(refPrefix))
	if !ok {
		return "", false
	}
	if _, err := uuid.ParseBytes(rest); err != nil {
		return "", false
	}
	return string(rest), true
}

func splitHandle(h queueing.Handle) (queueing.Handle, string) {
	rest, ok := strings.CutPrefix(h.Receipt, receiptPrefix)
	if !ok {
		return h, ""
	}
	key, receipt, ok := strings.Cut(rest, ":")
	if !ok || uuid.Validate(key) != nil {
		return h, ""
	}
	h.Receipt = receipt
	return h, key
}
