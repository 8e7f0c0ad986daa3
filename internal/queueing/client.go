package queueing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Client sends and receives messages on one queue. It holds no mutable
// state; every call is a single backend round trip.
type Client struct {
	backend    Backend
	queue      string
	visibility time.Duration
	ttl        time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// QueueName returns the name of the queue the client is bound to.
func (c *Client) QueueName() string {
	return c.queue
}

// SendMessage enqueues body as a new visible message that expires after the
// queue's time-to-live. It returns the backend-assigned message ID.
func (c *Client) SendMessage(ctx context.Context, body []byte) (string, error) {
	start := time.Now()
	id, err := c.backend.Enqueue(ctx, body, c.ttl)
	OperationDuration.WithLabelValues("send").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", c.transportError("send", err)
	}

	MessagesSentTotal.WithLabelValues(c.queue).Inc()
	c.log.Debug().
		Str("message_id", id).
		Int("size", len(body)).
		Msg("message sent")
	return id, nil
}

// SendString is SendMessage for a text body.
func (c *Client) SendString(ctx context.Context, body string) (string, error) {
	return c.SendMessage(ctx, []byte(body))
}

// TryReceiveMessage claims one visible message and hides it for the
// visibility timeout. It returns (nil, nil) when no message is visible.
// It never waits for a message to arrive.
func (c *Client) TryReceiveMessage(ctx context.Context) (*Envelope, error) {
	start := time.Now()
	claim, err := c.backend.ClaimNext(ctx, c.visibility)
	OperationDuration.WithLabelValues("receive").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.transportError("receive", err)
	}
	if claim == nil {
		ReceiveAttemptsTotal.WithLabelValues(c.queue, "empty").Inc()
		return nil, nil
	}

	ReceiveAttemptsTotal.WithLabelValues(c.queue, "claimed").Inc()
	c.log.Debug().
		Str("message_id", claim.MessageID).
		Int64("dequeue_count", claim.DequeueCount).
		Time("deadline", claim.Deadline).
		Msg("message received")
	return newEnvelope(c, *claim), nil
}

// Resume rebuilds an Envelope from a handle obtained earlier, for example
// by a different process. deadline must be the Deadline reported at
// receive time; a zero deadline makes the envelope stale. The body is not
// available on a resumed envelope.
func (c *Client) Resume(h Handle, deadline time.Time) *Envelope {
	return newEnvelope(c, Claim{
		MessageID: h.MessageID,
		Handle:    h,
		Deadline:  deadline,
	})
}

func (c *Client) settle(ctx context.Context, op string, e *Envelope) (bool, error) {
	if e.handle.IsZero() || e.deadline.IsZero() {
		return false, nil
	}
	if !c.now().Before(e.deadline) {
		SettlementsTotal.WithLabelValues(c.queue, op, "stale").Inc()
		c.log.Debug().
			Str("message_id", e.messageID).
			Str("op", op).
			Msg("deadline passed, handle is stale")
		return false, nil
	}
	if !e.settled.CompareAndSwap(false, true) {
		SettlementsTotal.WithLabelValues(c.queue, op, "stale").Inc()
		return false, nil
	}

	start := time.Now()
	var (
		applied bool
		err     error
	)
	switch op {
	case "commit":
		applied, err = c.backend.Delete(ctx, e.handle)
	default:
		applied, err = c.backend.MakeVisible(ctx, e.handle)
	}
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		// The outcome is unknown, so the caller may retry.
		e.settled.Store(false)
		return false, c.transportError(op, err)
	}

	outcome := "stale"
	if applied {
		outcome = "applied"
	}
	SettlementsTotal.WithLabelValues(c.queue, op, outcome).Inc()
	c.log.Debug().
		Str("message_id", e.messageID).
		Str("op", op).
		Bool("applied", applied).
		Msg("message settled")
	return applied, nil
}

func (c *Client) transportError(op string, err error) error {
	TransportErrorsTotal.WithLabelValues(c.queue, op).Inc()
	c.log.Warn().Err(err).Str("op", op).Msg("queue backend failure")
	return &TransportError{Op: op, Queue: c.queue, Err: err}
}
