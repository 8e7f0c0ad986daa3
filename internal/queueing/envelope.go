package queueing

import (
	"context"
	"sync/atomic"
	"time"
)

// Envelope is one received message. It is a snapshot taken at receive time.
// At most one TryCommit or TryAbandon on an Envelope can report true; after
// that the Envelope is settled and further calls return false without a
// backend round trip. Otherwise the backend decides whether the handle is
// still valid.
type Envelope struct {
	settled atomic.Bool

	client       *Client
	messageID    string
	handle       Handle
	body         []byte
	deadline     time.Time
	enqueuedAt   time.Time
	expiresAt    time.Time
	dequeueCount int64
}

func newEnvelope(c *Client, claim Claim) *Envelope {
	return &Envelope{
		client:       c,
		messageID:    claim.MessageID,
		handle:       claim.Handle,
		body:         claim.Body,
		deadline:     claim.Deadline,
		enqueuedAt:   claim.EnqueuedAt,
		expiresAt:    claim.ExpiresAt,
		dequeueCount: claim.DequeueCount,
	}
}

// MessageID returns the backend-assigned message identifier.
func (e *Envelope) MessageID() string { return e.messageID }

// Handle returns the delivery handle of this invisibility period.
func (e *Envelope) Handle() Handle { return e.handle }

// Body returns a copy of the message body.
func (e *Envelope) Body() []byte {
	if e.body == nil {
		return nil
	}
	out := make([]byte, len(e.body))
	copy(out, e.body)
	return out
}

// String returns the body as text.
func (e *Envelope) String() string { return string(e.body) }

// Deadline returns the instant the message becomes visible again unless it
// is committed or abandoned first.
func (e *Envelope) Deadline() time.Time { return e.deadline }

// EnqueuedAt returns when the message was sent, if the backend reports it.
func (e *Envelope) EnqueuedAt() time.Time { return e.enqueuedAt }

// ExpiresAt returns when the message is discarded, if the backend reports it.
func (e *Envelope) ExpiresAt() time.Time { return e.expiresAt }

// DequeueCount returns how many times the message has been received,
// including this time.
func (e *Envelope) DequeueCount() int64 { return e.dequeueCount }

// TryCommit removes the message from the queue. It returns false, with a
// nil error, when the handle is stale: the deadline passed, the message was
// abandoned or already committed, or it expired.
func (e *Envelope) TryCommit(ctx context.Context) (bool, error) {
	return e.client.settle(ctx, "commit", e)
}

// TryAbandon makes the message visible again immediately. It follows the
// same staleness rule as TryCommit.
func (e *Envelope) TryAbandon(ctx context.Context) (bool, error) {
	return e.client.settle(ctx, "abandon", e)
}
