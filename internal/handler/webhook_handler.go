// internal/handler/webhook_handler.go
package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/inbound"
	"github.com/unclebandit/leadreach-backend/internal/queue"
)

const maxWebhookBody = 1 << 20

// WebhookHandler accepts signed provider callbacks and queues them. The
// response only acknowledges receipt; processing happens on a worker.
type WebhookHandler struct {
	Queue     queue.Queue
	Secret    string
	Tolerance time.Duration
	Clock     func() time.Time
}

func NewWebhookHandler(q queue.Queue, secret string, tolerance time.Duration) *WebhookHandler {
	return &WebhookHandler{Queue: q, Secret: secret, Tolerance: tolerance, Clock: time.Now}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	err = inbound.VerifySignature(h.Secret, r.Header.Get(inbound.TimestampHeader), body,
		r.Header.Get(inbound.SignatureHeader), h.Clock(), h.Tolerance)
	if err != nil {
		log.Println("⚠️ Rejected webhook:", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	ev, err := inbound.ParseEvent(body)
	if err != nil {
		log.Println("⚠️ Malformed webhook:", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ev.Kind == inbound.EventIgnored {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := queue.PublishEvent(r.Context(), h.Queue, ev); err != nil {
		log.Println("❌ Failed to queue webhook:", err)
		// a non-2xx makes the provider redeliver
		http.Error(w, "failed to queue event", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

var errNoQueue = errors.New("webhook handler has no queue")

// Validate reports wiring mistakes at startup.
func (h *WebhookHandler) Validate() error {
	if h.Queue == nil {
		return errNoQueue
	}
	if h.Secret == "" {
		log.Println("⚠️ WEBHOOK_SECRET is empty, every callback will be rejected")
	}
	return nil
}
