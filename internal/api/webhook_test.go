package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dineflow/billing-service/internal/app"
	"github.com/dineflow/billing-service/internal/domain"
	"github.com/dineflow/billing-service/internal/store"
)

const testWebhookSecret = "webhook-secret"

// noopReconcilerRepo satisfies the reconciler's store interface with empty
// lookups, enough for events that resolve before any write.
type noopReconcilerRepo struct{}

func (noopReconcilerRepo) GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error) {
	return nil, store.ErrSubscriptionNotFound
}

func (noopReconcilerRepo) GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error) {
	return nil, store.ErrPlanNotFound
}

func (noopReconcilerRepo) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.SubscriptionPayment, error) {
	return &domain.SubscriptionPayment{ID: "pay-1", Status: domain.PaymentCompleted}, nil
}

func (noopReconcilerRepo) FindPendingPayment(ctx context.Context, subID string) (*domain.SubscriptionPayment, error) {
	return nil, store.ErrPaymentNotFound
}

func (noopReconcilerRepo) ClaimForProcessing(ctx context.Context, subID string, now time.Time, staleAfter time.Duration) (*domain.Subscription, error) {
	return nil, store.ErrProcessingConflict
}

func (noopReconcilerRepo) ReleaseProcessingClaim(ctx context.Context, subID string) error {
	return nil
}

func (noopReconcilerRepo) CompleteChargeAndRenew(ctx context.Context, paymentID, subID, transactionID string, paidAt, nextBillingDate time.Time) error {
	return nil
}

func (noopReconcilerRepo) FailChargeAndTransition(ctx context.Context, paymentID, subID string, status domain.SubscriptionStatus) error {
	return nil
}

func newTestWebhookHandler() *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler := app.NewReconciler(noopReconcilerRepo{}, logger, 10*time.Minute)
	return NewWebhookHandler(reconciler, testWebhookSecret)
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func postWebhook(handler *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Gateway-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ValidHexSignatureIsAccepted(t *testing.T) {
	handler := newTestWebhookHandler()
	body := []byte(`{"event":"charge.completed","data":{"transaction_id":"txn-1","subscription_id":"sub-1"}}`)

	rec := postWebhook(handler, body, hex.EncodeToString(sign(testWebhookSecret, body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhook_ValidBase64SignatureIsAccepted(t *testing.T) {
	handler := newTestWebhookHandler()
	body := []byte(`{"event":"charge.completed","data":{"transaction_id":"txn-1","subscription_id":"sub-1"}}`)

	rec := postWebhook(handler, body, base64.StdEncoding.EncodeToString(sign(testWebhookSecret, body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhook_InvalidSignatureIsRejected(t *testing.T) {
	handler := newTestWebhookHandler()
	body := []byte(`{"event":"charge.completed","data":{}}`)

	rec := postWebhook(handler, body, hex.EncodeToString(sign("wrong-secret", body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_MissingSignatureIsRejected(t *testing.T) {
	handler := newTestWebhookHandler()
	body := []byte(`{"event":"charge.completed","data":{}}`)

	rec := postWebhook(handler, body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_TamperedBodyIsRejected(t *testing.T) {
	handler := newTestWebhookHandler()
	body := []byte(`{"event":"charge.completed","data":{}}`)
	signature := hex.EncodeToString(sign(testWebhookSecret, body))

	tampered := []byte(`{"event":"charge.completed","data":{"subscription_id":"sub-evil"}}`)
	rec := postWebhook(handler, tampered, signature)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", rec.Code)
	}
}

func TestWebhook_UnknownEventIsAcknowledged(t *testing.T) {
	handler := newTestWebhookHandler()
	body := []byte(`{"event":"customer.updated","data":{}}`)

	rec := postWebhook(handler, body, hex.EncodeToString(sign(testWebhookSecret, body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown events must be acknowledged, got %d", rec.Code)
	}
}

func TestWebhook_OversizedBodyIsRejected(t *testing.T) {
	handler := newTestWebhookHandler()
	body := bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1)

	rec := postWebhook(handler, body, hex.EncodeToString(sign(testWebhookSecret, body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an oversized body, got %d", rec.Code)
	}
}

func TestWebhook_MissingEventType(t *testing.T) {
	handler := newTestWebhookHandler()
	body := []byte(`{"data":{}}`)

	rec := postWebhook(handler, body, hex.EncodeToString(sign(testWebhookSecret, body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing event type, got %d", rec.Code)
	}
}
