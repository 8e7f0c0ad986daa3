package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/queueing/internal/queueing"
)

// PermanentError marks a handler failure that will not succeed on retry.
// The pool sends such messages straight to the poison queue.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is, or wraps, a *PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// LogHandler returns a Handler that logs each message and succeeds.
// Intended for development and debugging.
func LogHandler(log zerolog.Logger) Handler {
	return HandlerFunc(func(_ context.Context, env *queueing.Envelope) error {
		log.Info().
			Str("message_id", env.MessageID()).
			Int64("dequeue_count", env.DequeueCount()).
			Int("size", len(env.Body())).
			Str("body", env.String()).
			Msg("message consumed")
		return nil
	})
}

// HTTPForwarder posts each message body to a URL. 2xx commits the message,
// 408, 429 and 5xx are retried, and any other status is permanent.
type HTTPForwarder struct {
	client *http.Client
	url    string
}

// NewHTTPForwarder creates an HTTPForwarder with the given request timeout.
func NewHTTPForwarder(url string, timeout time.Duration) *HTTPForwarder {
	return &HTTPForwarder{client: &http.Client{Timeout: timeout}, url: url}
}

// HandleMessage implements Handler.
func (f *HTTPForwarder) HandleMessage(ctx context.Context, env *queueing.Envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(env.Body()))
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Message-ID", env.MessageID())
	req.Header.Set("X-Dequeue-Count", strconv.FormatInt(env.DequeueCount(), 10))

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward message %s: %w", env.MessageID(), err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("forward message %s: status %d: %s", env.MessageID(), code, body)
	default:
		return &PermanentError{Err: fmt.Errorf("forward message %s: status %d: %s", env.MessageID(), code, body)}
	}
}
