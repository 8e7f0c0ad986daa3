package sqsqueue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/sungwon/queueing/internal/backend/memqueue"
	"github.com/sungwon/queueing/internal/queueing"
)

// fakeSQS implements sqsAPI on top of an in-memory queue and answers stale
// receipts the way SQS does: DeleteMessage succeeds silently and
// ChangeMessageVisibility fails.
type fakeSQS struct {
	mu        sync.Mutex
	store     *memqueue.Queue
	retention time.Duration
	queues    map[string]map[string]string
	calls     []string
	purgeErr  error
	getURLErr error

	lastVisibility int32
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{
		store:     memqueue.New(),
		retention: 4 * 24 * time.Hour,
		queues:    make(map[string]map[string]string),
	}
}

func (f *fakeSQS) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSQS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fakeURL(name string) string { return "http://sqs.local/000000000000/" + name }

func (f *fakeSQS) GetQueueURL(_ context.Context, name string) (string, error) {
	f.record("GetQueueUrl")
	if f.getURLErr != nil {
		return "", f.getURLErr
	}
	return fakeURL(name), nil
}

func (f *fakeSQS) CreateQueue(_ context.Context, name string, attrs map[string]string) (string, error) {
	f.record("CreateQueue")
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.queues[name]; ok && !equalAttrs(existing, attrs) {
		return "", &types.QueueNameExists{Message: aws.String("queue already exists with different attributes")}
	}
	f.queues[name] = attrs
	return fakeURL(name), nil
}

func (f *fakeSQS) SetQueueAttributes(_ context.Context, url string, attrs map[string]string) error {
	f.record("SetQueueAttributes")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[url[strings.LastIndex(url, "/")+1:]] = attrs
	return nil
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqsSendInput) (*sqsSendOutput, error) {
	f.record("SendMessage")
	id, err := f.store.Enqueue(ctx, []byte(in.MessageBody), f.retention)
	if err != nil {
		return nil, err
	}
	return &sqsSendOutput{MessageID: id}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqsReceiveInput) (*sqsReceiveOutput, error) {
	f.record("ReceiveMessage")
	f.mu.Lock()
	f.lastVisibility = in.VisibilityTimeout
	f.mu.Unlock()
	visibility := time.Duration(in.VisibilityTimeout) * time.Second
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	n := max(int(in.MaxNumberOfMessages), 1)

	out := &sqsReceiveOutput{}
	for range n {
		c, err := f.store.ClaimNext(ctx, visibility)
		if err != nil {
			return nil, err
		}
		if c == nil {
			break
		}
		out.Messages = append(out.Messages, sqsReceivedMessage{
			MessageID:     c.MessageID,
			ReceiptHandle: c.MessageID + "#" + c.Handle.Receipt,
			Body:          string(c.Body),
			SentTimestamp: c.EnqueuedAt.UnixMilli(),
			ReceiveCount:  c.DequeueCount,
		})
	}
	return out, nil
}

func splitReceipt(rh string) queueing.Handle {
	id, receipt, _ := strings.Cut(rh, "#")
	return queueing.Handle{MessageID: id, Receipt: receipt}
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, in *sqsDeleteInput) error {
	f.record("DeleteMessage")
	_, err := f.store.Delete(ctx, splitReceipt(in.ReceiptHandle))
	return err
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, in *sqsChangeVisibilityInput) error {
	f.record("ChangeMessageVisibility")
	ok, err := f.store.MakeVisible(ctx, splitReceipt(in.ReceiptHandle))
	if err != nil {
		return err
	}
	if !ok {
		return &smithy.GenericAPIError{
			Code:    "InvalidParameterValue",
			Message: "Value " + in.ReceiptHandle + " for parameter ReceiptHandle is invalid. Reason: Message does not exist or is not available for visibility timeout change.",
		}
	}
	return nil
}

func (f *fakeSQS) PurgeQueue(ctx context.Context, _ string) error {
	f.record("PurgeQueue")
	if f.purgeErr != nil {
		return f.purgeErr
	}
	return f.store.ClearAll(ctx)
}

func equalAttrs(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
