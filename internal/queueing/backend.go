package queueing

import (
	"context"
	"time"
)

// Handle identifies one invisibility period of one message. It is minted by
// the backend on every successful claim and stops being accepted as soon as
// that period ends.
type Handle struct {
	MessageID string `json:"message_id"`
	Receipt   string `json:"receipt"`
}

// IsZero reports whether h carries no receipt.
func (h Handle) IsZero() bool {
	return h.Receipt == ""
}

// Claim is the result of a successful ClaimNext call.
type Claim struct {
	MessageID    string
	Handle       Handle
	Body         []byte
	Deadline     time.Time
	EnqueuedAt   time.Time
	ExpiresAt    time.Time
	DequeueCount int64
}

// Backend is the storage contract every concrete queue implementation
// satisfies. Implementations must be safe for concurrent use.
//
// ClaimNext returns (nil, nil) when no message is visible. Delete and
// MakeVisible return (false, nil) when the handle is stale; a non-nil error
// is reserved for transport failures.
type Backend interface {
	Enqueue(ctx context.Context, body []byte, ttl time.Duration) (string, error)
	ClaimNext(ctx context.Context, visibility time.Duration) (*Claim, error)
	Delete(ctx context.Context, h Handle) (bool, error)
	MakeVisible(ctx context.Context, h Handle) (bool, error)
	ClearAll(ctx context.Context) error
}

// Provisioner is implemented by backends that can create their queue.
type Provisioner interface {
	EnsureQueue(ctx context.Context) error
}

// Sweeper is implemented by backends that keep expired messages around
// until they are explicitly purged.
type Sweeper interface {
	PurgeExpired(ctx context.Context) (int, error)
}
