// Package sqsqueue is a queueing.Backend on Amazon SQS.
//
// SQS has no per-message time-to-live, so the ttl passed to Enqueue is
// ignored and the queue's MessageRetentionPeriod, set by EnsureQueue,
// applies instead. Bodies are base64 encoded so arbitrary bytes survive
// the string-only SQS body.
package sqsqueue

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/sungwon/queueing/internal/queueing"
)

// ErrInvalidQueueName is returned for a blank queue name.
var ErrInvalidQueueName = errors.New("sqsqueue: invalid queue name")

// SQS limits for queue attributes.
const (
	maxVisibility = 12 * time.Hour
	minRetention  = time.Minute
	maxRetention  = 14 * 24 * time.Hour
)

// Config describes an SQS queue.
type Config struct {
	Region    string
	Endpoint  string
	QueueName string
	// Visibility and Retention are applied as queue attributes by
	// EnsureQueue.
	Visibility time.Duration
	Retention  time.Duration
}

// Queue is an SQS-backed queueing.Backend.
type Queue struct {
	api sqsAPI
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	queueURL string

	// spent holds receipts this Queue already settled, until they can no
	// longer be valid. SQS accepts a repeated DeleteMessage silently.
	spentMu sync.Mutex
	spent   map[string]time.Time
}

var _ queueing.Backend = (*Queue)(nil)

// New connects to SQS using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if strings.TrimSpace(cfg.QueueName) == "" {
		return nil, ErrInvalidQueueName
	}
	api, err := newAWSSQSClient(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return newQueue(api, cfg), nil
}

func newQueue(api sqsAPI, cfg Config) *Queue {
	return &Queue{api: api, cfg: cfg, now: time.Now, spent: make(map[string]time.Time)}
}

// EnsureQueue creates the queue, or updates its attributes when it already
// exists.
func (q *Queue) EnsureQueue(ctx context.Context) error {
	attrs := q.attributes()

	url, err := q.api.CreateQueue(ctx, q.cfg.QueueName, attrs)
	if err != nil {
		var exists *types.QueueNameExists
		if !errors.As(err, &exists) {
			return fmt.Errorf("create queue %s: %w", q.cfg.QueueName, err)
		}
		if url, err = q.api.GetQueueURL(ctx, q.cfg.QueueName); err != nil {
			return fmt.Errorf("get queue url %s: %w", q.cfg.QueueName, err)
		}
		if err := q.api.SetQueueAttributes(ctx, url, attrs); err != nil {
			return fmt.Errorf("set queue attributes %s: %w", q.cfg.QueueName, err)
		}
	}

	q.mu.Lock()
	q.queueURL = url
	q.mu.Unlock()
	return nil
}

func (q *Queue) attributes() map[string]string {
	attrs := make(map[string]string, 2)
	if q.cfg.Visibility > 0 {
		attrs[string(types.QueueAttributeNameVisibilityTimeout)] =
			strconv.Itoa(int(seconds(min(q.cfg.Visibility, maxVisibility))))
	}
	if q.cfg.Retention > 0 {
		r := min(max(q.cfg.Retention, minRetention), maxRetention)
		attrs[string(types.QueueAttributeNameMessageRetentionPeriod)] = strconv.Itoa(int(seconds(r)))
	}
	return attrs
}

func (q *Queue) url(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queueURL != "" {
		return q.queueURL, nil
	}
	url, err := q.api.GetQueueURL(ctx, q.cfg.QueueName)
	if err != nil {
		return "", fmt.Errorf("get queue url %s: %w", q.cfg.QueueName, err)
	}
	q.queueURL = url
	return url, nil
}

// Enqueue sends body. ttl is ignored.
func (q *Queue) Enqueue(ctx context.Context, body []byte, _ time.Duration) (string, error) {
	url, err := q.url(ctx)
	if err != nil {
		return "", err
	}
	out, err := q.api.SendMessage(ctx, &sqsSendInput{
		QueueURL:    url,
		MessageBody: base64.StdEncoding.EncodeToString(body),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return out.MessageID, nil
}

// ClaimNext receives at most one message without waiting. SQS does not
// report the visibility deadline, so the claim carries now + visibility,
// which is never later than the real one.
func (q *Queue) ClaimNext(ctx context.Context, visibility time.Duration) (*queueing.Claim, error) {
	url, err := q.url(ctx)
	if err != nil {
		return nil, err
	}
	visibility = min(visibility, maxVisibility)
	start := q.now()
	out, err := q.api.ReceiveMessage(ctx, &sqsReceiveInput{
		QueueURL:            url,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     0,
		VisibilityTimeout:   seconds(visibility),
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	m := out.Messages[0]
	c := &queueing.Claim{
		MessageID:    m.MessageID,
		Handle:       queueing.Handle{MessageID: m.MessageID, Receipt: m.ReceiptHandle},
		Body:         decodeBody(m.Body),
		Deadline:     start.Add(visibility),
		DequeueCount: m.ReceiveCount,
	}
	if m.SentTimestamp > 0 {
		c.EnqueuedAt = time.UnixMilli(m.SentTimestamp)
		if q.cfg.Retention > 0 {
			c.ExpiresAt = c.EnqueuedAt.Add(q.cfg.Retention)
		}
	}
	return c, nil
}

// Delete deletes the message identified by h's receipt handle.
func (q *Queue) Delete(ctx context.Context, h queueing.Handle) (bool, error) {
	if h.Receipt == "" {
		return false, nil
	}
	if !q.spend(h.Receipt) {
		return false, nil
	}
	url, err := q.url(ctx)
	if err != nil {
		q.unspend(h.Receipt)
		return false, err
	}
	err = q.api.DeleteMessage(ctx, &sqsDeleteInput{QueueURL: url, ReceiptHandle: h.Receipt})
	return q.settled("delete", h, err)
}

// MakeVisible sets the message's visibility timeout to zero.
func (q *Queue) MakeVisible(ctx context.Context, h queueing.Handle) (bool, error) {
	if h.Receipt == "" {
		return false, nil
	}
	if !q.spend(h.Receipt) {
		return false, nil
	}
	url, err := q.url(ctx)
	if err != nil {
		q.unspend(h.Receipt)
		return false, err
	}
	err = q.api.ChangeMessageVisibility(ctx, &sqsChangeVisibilityInput{
		QueueURL:          url,
		ReceiptHandle:     h.Receipt,
		VisibilityTimeout: 0,
	})
	return q.settled("change visibility", h, err)
}

func (q *Queue) settled(op string, h queueing.Handle, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case isStaleReceipt(err):
		return false, nil
	default:
		q.unspend(h.Receipt)
		return false, fmt.Errorf("%s %s: %w", op, h.MessageID, err)
	}
}

// spend marks receipt as used and reports whether it was unused. Entries
// are kept for the longest visibility a receipt can carry.
func (q *Queue) spend(receipt string) bool {
	now := q.now()
	q.spentMu.Lock()
	defer q.spentMu.Unlock()
	if exp, ok := q.spent[receipt]; ok && now.Before(exp) {
		return false
	}
	for r, exp := range q.spent {
		if !now.Before(exp) {
			delete(q.spent, r)
		}
	}
	q.spent[receipt] = now.Add(maxVisibility)
	return true
}

// unspend releases a receipt whose settle outcome is unknown.
func (q *Queue) unspend(receipt string) {
	q.spentMu.Lock()
	delete(q.spent, receipt)
	q.spentMu.Unlock()
}

// ClearAll purges the queue. SQS allows one purge per minute; when a purge
// is already running the visible messages are drained instead.
func (q *Queue) ClearAll(ctx context.Context) error {
	url, err := q.url(ctx)
	if err != nil {
		return err
	}
	err = q.api.PurgeQueue(ctx, url)
	if err == nil {
		return nil
	}
	var inProgress *types.PurgeQueueInProgress
	if errors.As(err, &inProgress) {
		return q.drain(ctx, url)
	}
	return fmt.Errorf("purge queue %s: %w", q.cfg.QueueName, err)
}

func (q *Queue) drain(ctx context.Context, url string) error {
	for {
		out, err := q.api.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            url,
			MaxNumberOfMessages: 10,
			VisibilityTimeout:   30,
		})
		if err != nil {
			return fmt.Errorf("drain queue %s: %w", q.cfg.QueueName, err)
		}
		if len(out.Messages) == 0 {
			return nil
		}
		for _, m := range out.Messages {
			err := q.api.DeleteMessage(ctx, &sqsDeleteInput{QueueURL: url, ReceiptHandle: m.ReceiptHandle})
			if err != nil && !isStaleReceipt(err) {
				return fmt.Errorf("drain queue %s: %w", q.cfg.QueueName, err)
			}
		}
	}
}

// isStaleReceipt reports whether err means the receipt handle no longer
// refers to an in-flight message.
func isStaleReceipt(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	var notInflight *types.MessageNotInflight
	if errors.As(err, &invalid) || errors.As(err, &notInflight) {
		return true
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ReceiptHandleIsInvalid", "AWS.SimpleQueueService.MessageNotInflight", "MessageNotInflight":
		return true
	case "InvalidParameterValue":
		// Expired handles on ChangeMessageVisibility come back this way.
		return strings.Contains(apiErr.ErrorMessage(), "ReceiptHandle")
	}
	return false
}

// decodeBody returns the raw body when it was not written by this package.
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
