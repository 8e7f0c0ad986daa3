// Package azurequeue is a queueing.Backend on Azure Queue Storage.
//
// Azure works in whole seconds, so visibility timeouts and time-to-live are
// rounded up. Message text is base64 encoded, matching what the other Azure
// SDKs write by default.
package azurequeue

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"

	"github.com/sungwon/queueing/internal/queueing"
)

// ErrInvalidQueueName is returned for a blank queue name.
var ErrInvalidQueueName = errors.New("azurequeue: invalid queue name")

// DevelopmentConnectionString addresses a local Azurite queue service with
// the emulator's well-known account. "UseDevelopmentStorage=true" expands to
// it.
const DevelopmentConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"QueueEndpoint=http://127.0.0.1:10001/devstoreaccount1;"

// Azure limits.
const (
	maxVisibility = 7 * 24 * time.Hour
	infiniteTTL   = -1
)

// Config describes an Azure storage queue.
type Config struct {
	ConnectionString string
	QueueName        string
	// ServiceVersion, when set, is sent as x-ms-version on every request.
	ServiceVersion string
}

// Queue is an Azure-backed queueing.Backend.
type Queue struct {
	api  queueAPI
	name string
	now  func() time.Time
}

var _ queueing.Backend = (*Queue)(nil)

// New creates a Queue from a storage connection string.
func New(cfg Config) (*Queue, error) {
	name := strings.TrimSpace(cfg.QueueName)
	if name == "" {
		return nil, ErrInvalidQueueName
	}
	conn := cfg.ConnectionString
	if strings.EqualFold(strings.TrimSpace(conn), "UseDevelopmentStorage=true") {
		conn = DevelopmentConnectionString
	}
	api, err := newAzureQueueClient(conn, name, cfg.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("create queue client: %w", err)
	}
	return newQueue(api, name), nil
}

func newQueue(api queueAPI, name string) *Queue {
	return &Queue{api: api, name: name, now: time.Now}
}

// EnsureQueue creates the queue if it does not exist.
func (q *Queue) EnsureQueue(ctx context.Context) error {
	if err := q.api.Create(ctx); err != nil {
		return fmt.Errorf("create queue %s: %w", q.name, err)
	}
	return nil
}

// Enqueue adds a message that expires after ttl.
func (q *Queue) Enqueue(ctx context.Context, body []byte, ttl time.Duration) (string, error) {
	id, err := q.api.Enqueue(ctx, base64.StdEncoding.EncodeToString(body), ttlSeconds(ttl))
	if err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	return id, nil
}

// ClaimNext dequeues one message. The claim deadline is computed locally
// as now + visibility, which is never later than the service's.
func (q *Queue) ClaimNext(ctx context.Context, visibility time.Duration) (*queueing.Claim, error) {
	visibility = min(visibility, maxVisibility)
	start := q.now()
	m, err := q.api.Dequeue(ctx, seconds(visibility))
	if err != nil {
		return nil, fmt.Errorf("dequeue message: %w", err)
	}
	if m == nil {
		return nil, nil
	}

	return &queueing.Claim{
		MessageID:    m.MessageID,
		Handle:       queueing.Handle{MessageID: m.MessageID, Receipt: m.PopReceipt},
		Body:         decodeBody(m.Text),
		Deadline:     start.Add(visibility),
		EnqueuedAt:   m.InsertedAt,
		ExpiresAt:    m.ExpiresAt,
		DequeueCount: m.DequeueCount,
	}, nil
}

// Delete deletes the message if h's pop receipt is still current.
func (q *Queue) Delete(ctx context.Context, h queueing.Handle) (bool, error) {
	if h.MessageID == "" || h.Receipt == "" {
		return false, nil
	}
	return settled("delete", h, q.api.Delete(ctx, h.MessageID, h.Receipt))
}

// MakeVisible sets the message's visibility timeout to zero.
func (q *Queue) MakeVisible(ctx context.Context, h queueing.Handle) (bool, error) {
	if h.MessageID == "" || h.Receipt == "" {
		return false, nil
	}
	return settled("update", h, q.api.MakeVisible(ctx, h.MessageID, h.Receipt))
}

func settled(op string, h queueing.Handle, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case queueerror.HasCode(err, queueerror.MessageNotFound, queueerror.PopReceiptMismatch):
		return false, nil
	default:
		return false, fmt.Errorf("%s message %s: %w", op, h.MessageID, err)
	}
}

// ClearAll deletes every message in the queue.
func (q *Queue) ClearAll(ctx context.Context) error {
	if err := q.api.Clear(ctx); err != nil {
		return fmt.Errorf("clear queue %s: %w", q.name, err)
	}
	return nil
}

func decodeBody(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return b
}

// seconds rounds d up to whole seconds.
func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32(math.Ceil(d.Seconds()))
}

func ttlSeconds(ttl time.Duration) int32 {
	if ttl <= 0 || ttl.Seconds() > math.MaxInt32 {
		return infiniteTTL
	}
	return seconds(ttl)
}
