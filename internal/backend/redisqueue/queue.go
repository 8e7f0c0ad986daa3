// Package redisqueue is a queueing.Backend on Redis. Each message is a hash
// and a member of a per-queue sorted set scored by the time it becomes
// visible, so redelivery after a missed deadline needs no background
// reaper.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sungwon/queueing/internal/queueing"
)

// ErrInvalidQueueName is returned by New for a blank queue name.
var ErrInvalidQueueName = errors.New("redisqueue: invalid queue name")

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix sets the key prefix. Defaults to "queueing".
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.prefix = prefix }
}

// WithClock replaces time.Now for deadline and expiry arithmetic.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is a Redis-backed queueing.Backend. It owns its client.
type Queue struct {
	client redis.UniversalClient
	name   string
	prefix string
	now    func() time.Time
}

var _ queueing.Backend = (*Queue)(nil)

// New returns a Queue named name on client.
func New(client redis.UniversalClient, name string, opts ...Option) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidQueueName
	}

	q := &Queue{
		client: client,
		name:   name,
		prefix: "queueing",
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if q.prefix == "" {
		q.prefix = "queueing"
	}
	return q, nil
}

// Keys share the {name} hash tag so that one queue lives in one cluster slot.
func (q *Queue) scheduleKey() string     { return q.prefix + ":{" + q.name + "}:schedule" }
func (q *Queue) msgKeyPrefix() string    { return q.prefix + ":{" + q.name + "}:msg:" }
func (q *Queue) msgKey(id string) string { return q.msgKeyPrefix() + id }

// Enqueue stores the message hash and schedules it as visible now.
func (q *Queue) Enqueue(ctx context.Context, body []byte, ttl time.Duration) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	msgID := id.String()
	now := q.now()
	expiresAt := now.Add(ttl)
	key := q.msgKey(msgID)

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"body", body,
			"enqueued_at", now.UnixMilli(),
			"expires_at", expiresAt.UnixMilli(),
			"dequeue_count", 0,
		)
		pipe.PExpireAt(ctx, key, expiresAt)
		pipe.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: float64(now.UnixMilli()), Member: msgID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue to %s: %w", q.scheduleKey(), err)
	}
	return msgID, nil
}

// ClaimNext hides the earliest visible message until now+visibility.
func (q *Queue) ClaimNext(ctx context.Context, visibility time.Duration) (*queueing.Claim, error) {
	now := q.now()
	deadline := now.Add(visibility)
	receipt := uuid.New().String()

	res, err := claimScript.Run(ctx, q.client,
		[]string{q.scheduleKey()},
		q.msgKeyPrefix(), now.UnixMilli(), deadline.UnixMilli(), receipt,
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim from %s: %w", q.scheduleKey(), err)
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("claim from %s: unexpected reply length %d", q.scheduleKey(), len(res))
	}

	id := toString(res[0])
	return &queueing.Claim{
		MessageID:    id,
		Handle:       queueing.Handle{MessageID: id, Receipt: receipt},
		Body:         []byte(toString(res[1])),
		Deadline:     time.UnixMilli(deadline.UnixMilli()),
		EnqueuedAt:   time.UnixMilli(toInt64(res[2])),
		ExpiresAt:    time.UnixMilli(toInt64(res[3])),
		DequeueCount: toInt64(res[4]),
	}, nil
}

// Delete removes the message if h matches its current invisibility period.
func (q *Queue) Delete(ctx context.Context, h queueing.Handle) (bool, error) {
	return q.settle(ctx, deleteScript, "delete", h)
}

// MakeVisible reschedules the message as visible now if h matches its
// current invisibility period.
func (q *Queue) MakeVisible(ctx context.Context, h queueing.Handle) (bool, error) {
	return q.settle(ctx, makeVisibleScript, "make visible", h)
}

func (q *Queue) settle(ctx context.Context, script *redis.Script, op string, h queueing.Handle) (bool, error) {
	if h.MessageID == "" || h.Receipt == "" {
		return false, nil
	}
	n, err := script.Run(ctx, q.client,
		[]string{q.scheduleKey(), q.msgKey(h.MessageID)},
		h.MessageID, h.Receipt, q.now().UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%s message %s: %w", op, h.MessageID, err)
	}
	return n == 1, nil
}

// ClearAll deletes every message of the queue.
func (q *Queue) ClearAll(ctx context.Context) error {
	if err := clearScript.Run(ctx, q.client, []string{q.scheduleKey()}, q.msgKeyPrefix()).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", q.scheduleKey(), err)
	}
	return nil
}

// PurgeExpired removes messages past their time-to-live, including those
// whose hash Redis already evicted.
func (q *Queue) PurgeExpired(ctx context.Context) (int, error) {
	n, err := purgeScript.Run(ctx, q.client,
		[]string{q.scheduleKey()},
		q.msgKeyPrefix(), q.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", q.scheduleKey(), err)
	}
	return n, nil
}

// EnsureQueue verifies connectivity. Redis keys need no provisioning.
func (q *Queue) EnsureQueue(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
