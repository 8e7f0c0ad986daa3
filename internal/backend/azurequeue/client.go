package azurequeue

import (
	"context"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
)

// queueAPI abstracts the Azure queue client for testability.
type queueAPI interface {
	Create(ctx context.Context) error
	Enqueue(ctx context.Context, text string, ttlSeconds int32) (string, error)
	Dequeue(ctx context.Context, visibilitySeconds int32) (*dequeuedMessage, error)
	Delete(ctx context.Context, messageID, popReceipt string) error
	MakeVisible(ctx context.Context, messageID, popReceipt string) error
	Clear(ctx context.Context) error
}

// dequeuedMessage holds the fields of an Azure dequeue result the backend
// uses.
type dequeuedMessage struct {
	MessageID    string
	PopReceipt   string
	Text         string
	DequeueCount int64
	InsertedAt   time.Time
	ExpiresAt    time.Time
}

// azureQueueClient wraps azqueue.QueueClient and implements queueAPI.
type azureQueueClient struct {
	client *azqueue.QueueClient
}

func newAzureQueueClient(connectionString, queueName, serviceVersion string) (*azureQueueClient, error) {
	opts := &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			PerCallPolicies: []policy.Policy{
				versionPolicy{version: serviceVersion},
				visibilityOnlyPolicy{},
			},
		},
	}
	client, err := azqueue.NewQueueClientFromConnectionString(connectionString, queueName, opts)
	if err != nil {
		return nil, err
	}
	return &azureQueueClient{client: client}, nil
}

func (c *azureQueueClient) Create(ctx context.Context) error {
	_, err := c.client.Create(ctx, nil)
	if queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
		return nil
	}
	return err
}

func (c *azureQueueClient) Enqueue(ctx context.Context, text string, ttlSeconds int32) (string, error) {
	resp, err := c.client.EnqueueMessage(ctx, text, &azqueue.EnqueueMessageOptions{
		TimeToLive: &ttlSeconds,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0] == nil {
		return "", nil
	}
	return deref(resp.Messages[0].MessageID), nil
}

func (c *azureQueueClient) Dequeue(ctx context.Context, visibilitySeconds int32) (*dequeuedMessage, error) {
	resp, err := c.client.DequeueMessage(ctx, &azqueue.DequeueMessageOptions{
		VisibilityTimeout: &visibilitySeconds,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 || resp.Messages[0] == nil {
		return nil, nil
	}

	m := resp.Messages[0]
	out := &dequeuedMessage{
		MessageID:  deref(m.MessageID),
		PopReceipt: deref(m.PopReceipt),
		Text:       deref(m.MessageText),
	}
	if m.DequeueCount != nil {
		out.DequeueCount = *m.DequeueCount
	}
	if m.InsertionTime != nil {
		out.InsertedAt = *m.InsertionTime
	}
	if m.ExpirationTime != nil {
		out.ExpiresAt = *m.ExpirationTime
	}
	return out, nil
}

func (c *azureQueueClient) Delete(ctx context.Context, messageID, popReceipt string) error {
	_, err := c.client.DeleteMessage(ctx, messageID, popReceipt, nil)
	return err
}

// MakeVisible resets the visibility timeout to zero. The request body is
// dropped by visibilityOnlyPolicy so the message text is left unchanged.
func (c *azureQueueClient) MakeVisible(ctx context.Context, messageID, popReceipt string) error {
	var zero int32
	ctx = context.WithValue(ctx, visibilityOnlyKey{}, true)
	_, err := c.client.UpdateMessage(ctx, messageID, popReceipt, "", &azqueue.UpdateMessageOptions{
		VisibilityTimeout: &zero,
	})
	return err
}

func (c *azureQueueClient) Clear(ctx context.Context) error {
	_, err := c.client.ClearMessages(ctx, nil)
	return err
}

// versionPolicy pins the x-ms-version header of every request.
type versionPolicy struct {
	version string
}

func (p versionPolicy) Do(req *policy.Request) (*http.Response, error) {
	if p.version != "" {
		req.Raw().Header.Set("x-ms-version", p.version)
	}
	return req.Next()
}

type visibilityOnlyKey struct{}

// visibilityOnlyPolicy removes the body of update requests marked with
// visibilityOnlyKey. Azure keeps the stored text when an update carries no
// body, which the SDK's UpdateMessage cannot express.
type visibilityOnlyPolicy struct{}

func (visibilityOnlyPolicy) Do(req *policy.Request) (*http.Response, error) {
	if marked, _ := req.Raw().Context().Value(visibilityOnlyKey{}).(bool); marked && req.Raw().Method == http.MethodPut {
		if err := req.SetBody(nil, ""); err != nil {
			return nil, err
		}
	}
	return req.Next()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
