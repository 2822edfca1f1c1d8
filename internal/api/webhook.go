/**
 * @description
 * HTTP handler for asynchronous payment gateway webhooks. The HMAC signature
 * is verified before any payload is trusted; reconciliation itself is
 * delegated to the app layer.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/dineflow/billing-service/internal/app"
)

// WebhookHandler processes incoming webhooks from the payment gateway.
type WebhookHandler struct {
	reconciler *app.Reconciler
	secret     string
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(reconciler *app.Reconciler, secret string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, secret: secret}
}

type webhookEnvelope struct {
	Event string             `json:"event"`
	Data  app.WebhookPayload `json:"data"`
}

// maxWebhookBodyBytes bounds how much of an unauthenticated webhook body is
// read before the signature is even checked.
const maxWebhookBodyBytes = 1 << 20

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if !h.isValidSignature(r.Header.Get("X-Gateway-Signature"), body) {
		log.Printf("Webhook rejected: invalid signature from %s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if envelope.Event == "" {
		http.Error(w, "Missing event type", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.HandleEvent(r.Context(), envelope.Event, envelope.Data); err != nil {
		if errors.Is(err, app.ErrUnknownWebhookEvent) {
			// Acknowledge so the gateway stops redelivering event types we
			// do not care about.
			log.Printf("Unhandled webhook event type: %s", envelope.Event)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("Webhook received"))
			return
		}
		log.Printf("Webhook reconciliation error for event %s: %v", envelope.Event, err)
		http.Error(w, "Internal server error during event processing", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// isValidSignature validates the HMAC-SHA256 signature of the webhook body.
// Both hex and base64 encodings of the digest are accepted; providers differ.
func (h *WebhookHandler) isValidSignature(signatureHeader string, body []byte) bool {
	if h.secret == "" || signatureHeader == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	candidate := strings.TrimSpace(signatureHeader)
	if decoded, err := hex.DecodeString(candidate); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(candidate); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}
