package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sungwon/queueing/internal/logger"
	"github.com/sungwon/queueing/internal/queueing"
)

// maxRequestBytes bounds request bodies; the largest message a backend
// accepts (Azure, 64 KiB base64) fits comfortably.
const maxRequestBytes = 1 << 20

type sendRequest struct {
	Body       *string `json:"body,omitempty"`
	BodyBase64 *string `json:"body_base64,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

type messageResponse struct {
	MessageID    string    `json:"message_id"`
	Receipt      string    `json:"receipt"`
	Deadline     time.Time `json:"deadline"`
	EnqueuedAt   time.Time `json:"enqueued_at,omitzero"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	DequeueCount int64     `json:"dequeue_count"`
	Body         *string   `json:"body,omitempty"`
	BodyBase64   string    `json:"body_base64"`
}

type settleRequest struct {
	MessageID string    `json:"message_id"`
	Receipt   string    `json:"receipt"`
	Deadline  time.Time `json:"deadline"`
}

type settleResponse struct {
	Applied bool `json:"applied"`
}

func toMessageResponse(env *queueing.Envelope) messageResponse {
	body := env.Body()
	resp := messageResponse{
		MessageID:    env.MessageID(),
		Receipt:      env.Handle().Receipt,
		Deadline:     env.Deadline(),
		EnqueuedAt:   env.EnqueuedAt(),
		ExpiresAt:    env.ExpiresAt(),
		DequeueCount: env.DequeueCount(),
		BodyBase64:   base64.StdEncoding.EncodeToString(body),
	}
	if utf8.Valid(body) {
		s := string(body)
		resp.Body = &s
	}
	return resp
}

// SendMessageHandler handles POST /api/v1/messages.
// Exactly one of body (text) or body_base64 must be set.
func SendMessageHandler(client *queueing.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var body []byte
		switch {
		case req.Body != nil && req.BodyBase64 != nil:
			respondValidationErrors(w, []string{"set only one of body or body_base64"})
			return
		case req.Body != nil:
			body = []byte(*req.Body)
		case req.BodyBase64 != nil:
			b, err := base64.StdEncoding.DecodeString(*req.BodyBase64)
			if err != nil {
				respondValidationErrors(w, []string{"body_base64 is not valid base64"})
				return
			}
			body = b
		default:
			respondValidationErrors(w, []string{"body or body_base64 is required"})
			return
		}

		id, err := client.SendMessage(r.Context(), body)
		if err != nil {
			lg := logger.FromContext(r.Context())
			lg.Error().Err(err).Msg("send failed")
			respondQueueError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, sendResponse{MessageID: id})
	}
}

// ReceiveMessageHandler handles POST /api/v1/messages/receive.
// Returns 204 when no message is visible.
func ReceiveMessageHandler(client *queueing.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := client.TryReceiveMessage(r.Context())
		if err != nil {
			lg := logger.FromContext(r.Context())
			lg.Error().Err(err).Msg("receive failed")
			respondQueueError(w, err)
			return
		}
		if env == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		respondJSON(w, http.StatusOK, toMessageResponse(env))
	}
}

// CommitMessageHandler handles POST /api/v1/messages/commit.
func CommitMessageHandler(client *queueing.Client) http.HandlerFunc {
	return settleHandler(client, (*queueing.Envelope).TryCommit)
}

// AbandonMessageHandler handles POST /api/v1/messages/abandon.
func AbandonMessageHandler(client *queueing.Client) http.HandlerFunc {
	return settleHandler(client, (*queueing.Envelope).TryAbandon)
}

func settleHandler(client *queueing.Client, settle func(*queueing.Envelope, context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settleRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var details []string
		if req.MessageID == "" {
			details = append(details, "message_id is required")
		}
		if req.Receipt == "" {
			details = append(details, "receipt is required")
		}
		if req.Deadline.IsZero() {
			details = append(details, "deadline is required")
		}
		if len(details) > 0 {
			respondValidationErrors(w, details)
			return
		}

		env := client.Resume(queueing.Handle{MessageID: req.MessageID, Receipt: req.Receipt}, req.Deadline)
		applied, err := settle(env, r.Context())
		if err != nil {
			lg := logger.FromContext(r.Context())
			lg.Error().Err(err).Str("message_id", req.MessageID).Msg("settle failed")
			respondQueueError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, settleResponse{Applied: applied})
	}
}

// ClearMessagesHandler handles DELETE /api/v1/messages.
func ClearMessagesHandler(provider *queueing.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := provider.Clear(r.Context()); err != nil {
			lg := logger.FromContext(r.Context())
			lg.Error().Err(err).Msg("clear failed")
			respondQueueError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
