// Package pgqueue is a queueing.Backend on PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED so concurrent consumers never receive the same
// row, and the database clock decides deadlines and expiry.
package pgqueue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sungwon/queueing/internal/queueing"
	"github.com/sungwon/queueing/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// ErrInvalidQueueName is returned by New for a blank queue name.
var ErrInvalidQueueName = errors.New("pgqueue: invalid queue name")

// DBTX is the subset of pgxpool.Pool used by Queue.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const enqueueSQL = `
INSERT INTO queue_messages (id, queue_name, body, enqueued_at, expires_at, visible_at)
VALUES ($1, $2, $3, clock_timestamp(), clock_timestamp() + $4::bigint * interval '1 microsecond', clock_timestamp())`

const claimSQL = `
UPDATE queue_messages m
SET visible_at    = clock_timestamp() + $2::bigint * interval '1 microsecond',
    receipt       = $3,
    dequeue_count = m.dequeue_count + 1
FROM (
    SELECT id FROM queue_messages
    WHERE queue_name = $1
      AND visible_at <= clock_timestamp()
      AND expires_at > clock_timestamp()
    ORDER BY visible_at, enqueued_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
) next
WHERE m.id = next.id
RETURNING m.id, m.body, m.visible_at, m.enqueued_at, m.expires_at, m.dequeue_count`

const deleteSQL = `
DELETE FROM queue_messages
WHERE id = $1 AND queue_name = $2 AND receipt = $3
  AND visible_at > clock_timestamp()
  AND expires_at > clock_timestamp()`

const makeVisibleSQL = `
UPDATE queue_messages
SET visible_at = clock_timestamp(), receipt = NULL
WHERE id = $1 AND queue_name = $2 AND receipt = $3
  AND visible_at > clock_timestamp()
  AND expires_at > clock_timestamp()`

const clearSQL = `DELETE FROM queue_messages WHERE queue_name = $1`

const purgeSQL = `DELETE FROM queue_messages WHERE queue_name = $1 AND expires_at <= clock_timestamp()`

// Queue is a PostgreSQL-backed queueing.Backend.
type Queue struct {
	db    DBTX
	name  string
	owned *storage.DB
}

var _ queueing.Backend = (*Queue)(nil)

// New returns a Queue named name over db.
func New(db DBTX, name string) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidQueueName
	}
	return &Queue{db: db, name: name}, nil
}

// Open returns a Queue over a pool it owns; Close closes the pool.
func Open(db *storage.DB, name string) (*Queue, error) {
	q, err := New(db.Pool, name)
	if err != nil {
		return nil, err
	}
	q.owned = db
	return q, nil
}

// EnsureQueue creates the messages table and its indexes.
func (q *Queue) EnsureQueue(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Enqueue inserts a visible message.
func (q *Queue) Enqueue(ctx context.Context, body []byte, ttl time.Duration) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate message id: %w", err)
	}
	if body == nil {
		body = []byte{}
	}
	if _, err := q.db.Exec(ctx, enqueueSQL, id.String(), q.name, body, ttl.Microseconds()); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id.String(), nil
}

// ClaimNext locks the oldest visible row, hides it and hands out a new
// receipt, all in one statement.
func (q *Queue) ClaimNext(ctx context.Context, visibility time.Duration) (*queueing.Claim, error) {
	receipt := uuid.New().String()

	var c queueing.Claim
	err := q.db.QueryRow(ctx, claimSQL, q.name, visibility.Microseconds(), receipt).Scan(
		&c.MessageID,
		&c.Body,
		&c.Deadline,
		&c.EnqueuedAt,
		&c.ExpiresAt,
		&c.DequeueCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim message: %w", err)
	}
	c.Handle = queueing.Handle{MessageID: c.MessageID, Receipt: receipt}
	return &c, nil
}

// Delete removes the row if h matches its current invisibility period.
func (q *Queue) Delete(ctx context.Context, h queueing.Handle) (bool, error) {
	return q.settle(ctx, deleteSQL, "delete", h)
}

// MakeVisible ends the current invisibility period of the row early.
func (q *Queue) MakeVisible(ctx context.Context, h queueing.Handle) (bool, error) {
	return q.settle(ctx, makeVisibleSQL, "make visible", h)
}

func (q *Queue) settle(ctx context.Context, sql, op string, h queueing.Handle) (bool, error) {
	if h.MessageID == "" || h.Receipt == "" {
		return false, nil
	}
	tag, err := q.db.Exec(ctx, sql, h.MessageID, q.name, h.Receipt)
	if err != nil {
		return false, fmt.Errorf("%s message %s: %w", op, h.MessageID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearAll deletes every row of the queue.
func (q *Queue) ClearAll(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, clearSQL, q.name); err != nil {
		return fmt.Errorf("clear queue %s: %w", q.name, err)
	}
	return nil
}

// PurgeExpired deletes rows past their time-to-live.
func (q *Queue) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := q.db.Exec(ctx, purgeSQL, q.name)
	if err != nil {
		return 0, fmt.Errorf("purge queue %s: %w", q.name, err)
	}
	return int(tag.RowsAffected()), nil
}

// Close closes the pool if the queue owns it.
func (q *Queue) Close() error {
	if q.owned != nil {
		q.owned.Close()
	}
	return nil
}
