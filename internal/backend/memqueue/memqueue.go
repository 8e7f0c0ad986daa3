// Package memqueue is an in-process queue backend. It keeps every message
// in memory behind a single mutex and is intended for tests and
// single-process deployments.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/queueing/internal/queueing"
)

type record struct {
	id           string
	seq          uint64
	body         []byte
	enqueuedAt   time.Time
	expiresAt    time.Time
	visibleAt    time.Time
	receipt      string
	dequeueCount int64
}

func (r *record) expired(now time.Time) bool {
	return !now.Before(r.expiresAt)
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces time.Now. Useful to step through visibility deadlines
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is an in-memory queueing.Backend.
type Queue struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     uint64
	records map[string]*record
}

// New returns an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		now:     time.Now,
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

var _ queueing.Backend = (*Queue)(nil)

// Enqueue stores a copy of body as a visible message.
func (q *Queue) Enqueue(ctx context.Context, body []byte, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := make([]byte, len(body))
	copy(data, body)

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.seq++
	r := &record{
		id:         uuid.New().String(),
		seq:        q.seq,
		body:       data,
		enqueuedAt: now,
		expiresAt:  now.Add(ttl),
		visibleAt:  now,
	}
	q.records[r.id] = r
	return r.id, nil
}

// ClaimNext hides the oldest visible message and returns it with a fresh
// receipt. Expired messages found on the way are dropped.
func (q *Queue) ClaimNext(ctx context.Context, visibility time.Duration) (*queueing.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *record
	for id, r := range q.records {
		if r.expired(now) {
			delete(q.records, id)
			continue
		}
		if r.visibleAt.After(now) {
			continue
		}
		if next == nil || r.seq < next.seq {
			next = r
		}
	}
	if next == nil {
		return nil, nil
	}

	next.receipt = uuid.New().String()
	next.visibleAt = now.Add(visibility)
	next.dequeueCount++

	body := make([]byte, len(next.body))
	copy(body, next.body)

	return &queueing.Claim{
		MessageID:    next.id,
		Handle:       queueing.Handle{MessageID: next.id, Receipt: next.receipt},
		Body:         body,
		Deadline:     next.visibleAt,
		EnqueuedAt:   next.enqueuedAt,
		ExpiresAt:    next.expiresAt,
		DequeueCount: next.dequeueCount,
	}, nil
}

// Delete removes the message if h is the receipt of its current,
// unexpired invisibility period.
func (q *Queue) Delete(ctx context.Context, h queueing.Handle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.inFlight(h)
	if !ok {
		return false, nil
	}
	delete(q.records, r.id)
	return true, nil
}

// MakeVisible ends the current invisibility period early.
func (q *Queue) MakeVisible(ctx context.Context, h queueing.Handle) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.inFlight(h)
	if !ok {
		return false, nil
	}
	r.receipt = ""
	r.visibleAt = q.now()
	return true, nil
}

// inFlight returns the record h refers to if h is still valid. The caller
// holds q.mu.
func (q *Queue) inFlight(h queueing.Handle) (*record, bool) {
	r, ok := q.records[h.MessageID]
	if !ok || h.Receipt == "" || r.receipt != h.Receipt {
		return nil, false
	}
	now := q.now()
	if r.expired(now) {
		delete(q.records, r.id)
		return nil, false
	}
	if !now.Before(r.visibleAt) {
		return nil, false
	}
	return r, true
}

// ClearAll drops every message.
func (q *Queue) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.records = make(map[string]*record)
	return nil
}

// PurgeExpired drops messages older than their time-to-live.
func (q *Queue) PurgeExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	purged := 0
	for id, r := range q.records {
		if r.expired(now) {
			delete(q.records, id)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored messages, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
