/**
 * @description
 * Reconciliation of asynchronous gateway notifications against the payment
 * ledger. Matching is by transaction id and subscription id, never by timing:
 * a delayed confirmation may arrive long after the originating dispatch gave
 * up on the call. Reconciliation takes the same processing claim a sweep
 * dispatch takes, so the two can never resolve the same attempt concurrently.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dineflow/billing-service/internal/domain"
	"github.com/dineflow/billing-service/internal/store"
)

// ErrUnknownWebhookEvent marks event types the reconciler does not handle.
// The endpoint acknowledges them anyway so the gateway stops redelivering.
var ErrUnknownWebhookEvent = errors.New("unhandled webhook event type")

// WebhookPayload is the normalized body of a gateway notification.
type WebhookPayload struct {
	TransactionID  string     `json:"transaction_id"`
	SubscriptionID string     `json:"subscription_id"`
	Reason         string     `json:"reason,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
}

// ReconcilerRepository defines the database operations reconciliation needs.
type ReconcilerRepository interface {
	GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error)
	GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error)
	FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.SubscriptionPayment, error)
	FindPendingPayment(ctx context.Context, subID string) (*domain.SubscriptionPayment, error)
	ClaimForProcessing(ctx context.Context, subID string, now time.Time, staleAfter time.Duration) (*domain.Subscription, error)
	ReleaseProcessingClaim(ctx context.Context, subID string) error
	CompleteChargeAndRenew(ctx context.Context, paymentID, subID, transactionID string, paidAt, nextBillingDate time.Time) error
	FailChargeAndTransition(ctx context.Context, paymentID, subID string, status domain.SubscriptionStatus) error
}

// Reconciler applies webhook events to the ledger.
type Reconciler struct {
	repo       ReconcilerRepository
	logger     *slog.Logger
	leaseStale time.Duration
}

// NewReconciler creates a webhook reconciler. leaseStale matches the
// processor's claim staleness window.
func NewReconciler(repo ReconcilerRepository, logger *slog.Logger, leaseStale time.Duration) *Reconciler {
	return &Reconciler{repo: repo, logger: logger, leaseStale: leaseStale}
}

// HandleEvent reconciles one gateway event. Redelivered events are harmless:
// a ledger row that already carries the transaction id, or a subscription
// with no pending row, means the outcome has been applied before.
func (r *Reconciler) HandleEvent(ctx context.Context, eventType string, payload WebhookPayload) error {
	switch eventType {
	case "charge.completed":
		return r.reconcileCompleted(ctx, payload)
	case "charge.failed":
		return r.reconcileFailed(ctx, payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownWebhookEvent, eventType)
	}
}

func (r *Reconciler) reconcileCompleted(ctx context.Context, payload WebhookPayload) error {
	if payload.TransactionID == "" {
		return errors.New("charge.completed event missing transaction_id")
	}

	// Already settled under this transaction id: duplicate delivery.
	if _, err := r.repo.FindPaymentByTransactionID(ctx, payload.TransactionID); err == nil {
		r.logger.Info("webhook duplicate ignored", "transaction_id", payload.TransactionID)
		return nil
	} else if !errors.Is(err, store.ErrPaymentNotFound) {
		return err
	}

	sub, err := r.repo.GetSubscriptionByID(ctx, payload.SubscriptionID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(sub.Status, domain.StatusActive) {
		// A terminal subscription stays terminal. The money is acknowledged
		// and left to support tooling rather than resurrecting the row.
		r.logger.Warn("charge.completed for a subscription that cannot activate, ignoring",
			"subscription_id", sub.ID, "status", sub.Status, "transaction_id", payload.TransactionID)
		return nil
	}

	claimed, release, err := r.claim(ctx, sub.ID, payload.TransactionID)
	if err != nil || claimed == nil {
		return err
	}
	settled := false
	defer func() {
		// The dual write clears the marker itself; releasing again could
		// clobber a claim a later sweep has already taken.
		if !settled {
			release()
		}
	}()

	pending, err := r.repo.FindPendingPayment(ctx, claimed.ID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			// Nothing in flight; the dispatch already resolved this attempt
			// (possibly as failed). Log the discrepancy and acknowledge.
			r.logger.Warn("charge.completed with no pending payment",
				"subscription_id", claimed.ID, "transaction_id", payload.TransactionID)
			return nil
		}
		return err
	}

	plan, err := r.repo.GetPlanByID(ctx, claimed.PlanID)
	if err != nil {
		return err
	}

	paidAt := time.Now().UTC()
	if payload.PaidAt != nil {
		paidAt = *payload.PaidAt
	}
	nextBillingDate, err := domain.AdvanceBillingDate(paidAt, plan.BillingCycle)
	if err != nil {
		return err
	}

	if err := r.repo.CompleteChargeAndRenew(ctx, pending.ID, claimed.ID, payload.TransactionID, paidAt, nextBillingDate); err != nil {
		return err
	}
	settled = true
	r.logger.Info("reconciled delayed charge confirmation",
		"subscription_id", claimed.ID, "payment_id", pending.ID, "transaction_id", payload.TransactionID)
	return nil
}

func (r *Reconciler) reconcileFailed(ctx context.Context, payload WebhookPayload) error {
	sub, err := r.repo.GetSubscriptionByID(ctx, payload.SubscriptionID)
	if err != nil {
		return err
	}

	failStatus := domain.StatusInactive
	if sub.Status == domain.StatusTrial {
		failStatus = domain.StatusExpired
	}
	if !domain.CanTransition(sub.Status, failStatus) {
		r.logger.Warn("charge.failed for a subscription in a terminal status, ignoring",
			"subscription_id", sub.ID, "status", sub.Status)
		return nil
	}

	claimed, release, err := r.claim(ctx, sub.ID, payload.TransactionID)
	if err != nil || claimed == nil {
		return err
	}
	settled := false
	defer func() {
		if !settled {
			release()
		}
	}()

	pending, err := r.repo.FindPendingPayment(ctx, claimed.ID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			return nil
		}
		return err
	}

	if err := r.repo.FailChargeAndTransition(ctx, pending.ID, claimed.ID, failStatus); err != nil {
		return err
	}
	settled = true
	r.logger.Info("reconciled delayed charge failure",
		"subscription_id", claimed.ID, "payment_id", pending.ID, "reason", payload.Reason)
	return nil
}

// claim takes the processing claim before any resolution, so a sweep dispatch
// whose gateway call is still outstanding keeps exclusive ownership of its
// pending row. A held claim acknowledges the event: the holder's own outcome
// wins. A nil subscription with a nil error means the event was acknowledged
// without processing.
func (r *Reconciler) claim(ctx context.Context, subID, transactionID string) (*domain.Subscription, func(), error) {
	claimed, err := r.repo.ClaimForProcessing(ctx, subID, time.Now().UTC(), r.leaseStale)
	if err != nil {
		if errors.Is(err, store.ErrProcessingConflict) {
			r.logger.Info("subscription claimed elsewhere, leaving event to the active dispatch",
				"subscription_id", subID, "transaction_id", transactionID)
			return nil, nil, nil
		}
		return nil, nil, err
	}
	release := func() {
		if relErr := r.repo.ReleaseProcessingClaim(ctx, claimed.ID); relErr != nil {
			r.logger.Error("failed to release processing claim", "subscription_id", claimed.ID, "error", relErr)
		}
	}
	return claimed, release, nil
}
