/**
 * @description
 * Billing processor: executes the charge-and-transition protocol for a single
 * subscription. A pending ledger row is durably written before any gateway
 * call; the paired payment/subscription updates afterwards are atomic.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dineflow/billing-service/internal/domain"
	"github.com/dineflow/billing-service/internal/gateway"
	"github.com/dineflow/billing-service/internal/store"
	"github.com/shopspring/decimal"
)

var (
	// ErrChargeInFlight means a recent pending payment exists for the
	// subscription's current period. The dispatch is deferred, not failed.
	ErrChargeInFlight = errors.New("a charge is already in flight for this subscription")

	// ErrTerminalStatus means the subscription is expired or cancelled and no
	// automatic transition may advance it.
	ErrTerminalStatus = errors.New("subscription is in a terminal status")

	// ErrNoPaymentMethod means no stored payment method reference exists, so
	// no charge can even be attempted.
	ErrNoPaymentMethod = errors.New("subscription has no stored payment method")
)

// DispatchStatus classifies the outcome of one processor dispatch.
type DispatchStatus int

const (
	// DispatchCharged: the charge succeeded and the subscription advanced.
	DispatchCharged DispatchStatus = iota
	// DispatchChargeFailed: the gateway refused or stayed unreachable; the
	// failure state was durably recorded.
	DispatchChargeFailed
	// DispatchSkipped: another sweep holds the lease or a charge is in
	// flight; nothing was written.
	DispatchSkipped
	// DispatchError: a store or validation error aborted the dispatch before
	// a terminal state was reached; the subscription keeps its prior state.
	DispatchError
)

// Repository defines the database operations the processor needs.
type Repository interface {
	GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error)
	ClaimForProcessing(ctx context.Context, subID string, now time.Time, staleAfter time.Duration) (*domain.Subscription, error)
	ReleaseProcessingClaim(ctx context.Context, subID string) error
	FindPendingPayment(ctx context.Context, subID string) (*domain.SubscriptionPayment, error)
	HasCompletedPaymentSince(ctx context.Context, subID string, since time.Time) (bool, error)
	CreatePendingPayment(ctx context.Context, subID string, amount decimal.Decimal, currency, paymentMethod string) (*domain.SubscriptionPayment, error)
	MarkPaymentFailed(ctx context.Context, paymentID string) error
	CompleteChargeAndRenew(ctx context.Context, paymentID, subID, transactionID string, paidAt, nextBillingDate time.Time) error
	FailChargeAndTransition(ctx context.Context, paymentID, subID string, status domain.SubscriptionStatus) error
}

// Processor runs the charge protocol for one subscription at a time.
type Processor struct {
	repo       Repository
	gateway    gateway.Client
	publisher  EventPublisher
	logger     *slog.Logger
	currency   string
	retry      gateway.RetryPolicy
	leaseStale time.Duration
}

// NewProcessor creates a billing processor. currency is the deployment's
// billing currency; leaseStale bounds how long a processing claim or pending
// payment is considered live before a later sweep may take over.
func NewProcessor(repo Repository, gw gateway.Client, publisher EventPublisher, logger *slog.Logger, currency string, retry gateway.RetryPolicy, leaseStale time.Duration) *Processor {
	return &Processor{
		repo:       repo,
		gateway:    gw,
		publisher:  publisher,
		logger:     logger,
		currency:   currency,
		retry:      retry,
		leaseStale: leaseStale,
	}
}

// ProcessRenewal charges an active or inactive subscription for its next
// period. On gateway failure the subscription becomes inactive and its
// billing date stays in the past so the next sweep retries.
func (p *Processor) ProcessRenewal(ctx context.Context, sub domain.Subscription, now time.Time) (DispatchStatus, error) {
	if sub.Status != domain.StatusActive && sub.Status != domain.StatusInactive {
		if sub.Status.IsTerminal() {
			return DispatchError, fmt.Errorf("%w: %s", ErrTerminalStatus, sub.Status)
		}
		return DispatchError, fmt.Errorf("subscription %s is %s, not due for renewal", sub.ID, sub.Status)
	}
	return p.charge(ctx, sub, domain.StatusInactive, now)
}

// ProcessTrialExpiration converts an ended trial into an active subscription
// via the first charge. A failed first charge is terminal: the subscription
// expires rather than lingering in a retry loop, because a trial with no
// working payment method will not heal without owner action.
func (p *Processor) ProcessTrialExpiration(ctx context.Context, sub domain.Subscription, now time.Time) (DispatchStatus, error) {
	if sub.Status != domain.StatusTrial {
		if sub.Status.IsTerminal() {
			return DispatchError, fmt.Errorf("%w: %s", ErrTerminalStatus, sub.Status)
		}
		return DispatchError, fmt.Errorf("subscription %s is %s, not an expiring trial", sub.ID, sub.Status)
	}
	return p.charge(ctx, sub, domain.StatusExpired, now)
}

// charge runs the shared protocol. failStatus is where the subscription lands
// when the charge does not succeed.
func (p *Processor) charge(ctx context.Context, sub domain.Subscription, failStatus domain.SubscriptionStatus, now time.Time) (DispatchStatus, error) {
	claimed, err := p.repo.ClaimForProcessing(ctx, sub.ID, now, p.leaseStale)
	if err != nil {
		if errors.Is(err, store.ErrProcessingConflict) {
			return DispatchSkipped, err
		}
		return DispatchError, err
	}

	status, err := p.chargeClaimed(ctx, claimed, failStatus, now)
	if status == DispatchError || status == DispatchSkipped {
		// The dual writes release the claim themselves; anything that bailed
		// out earlier still holds it.
		if relErr := p.repo.ReleaseProcessingClaim(ctx, claimed.ID); relErr != nil {
			p.logger.Error("failed to release processing claim", "subscription_id", claimed.ID, "error", relErr)
		}
	}
	return status, err
}

func (p *Processor) chargeClaimed(ctx context.Context, sub *domain.Subscription, failStatus domain.SubscriptionStatus, now time.Time) (DispatchStatus, error) {
	plan, err := p.repo.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return DispatchError, fmt.Errorf("load plan %s: %w", sub.PlanID, err)
	}

	// The scan may be stale: a webhook can settle the period between the scan
	// and the claim. A completed payment on or after the due date means this
	// period is paid.
	settled, err := p.repo.HasCompletedPaymentSince(ctx, sub.ID, sub.NextBillingDate)
	if err != nil {
		return DispatchError, err
	}
	if settled {
		return DispatchSkipped, fmt.Errorf("subscription %s already settled for this period", sub.ID)
	}

	// A live pending row means a previous attempt has not resolved yet:
	// treat the period as payment-in-flight and defer. A stale one is
	// superseded so a fresh anchor can be written.
	pending, err := p.repo.FindPendingPayment(ctx, sub.ID)
	switch {
	case err == nil:
		if now.Sub(pending.CreatedAt) < p.leaseStale {
			return DispatchSkipped, ErrChargeInFlight
		}
		if err := p.repo.MarkPaymentFailed(ctx, pending.ID); err != nil {
			return DispatchError, fmt.Errorf("supersede stale pending payment %s: %w", pending.ID, err)
		}
		p.logger.Warn("superseded stale pending payment", "subscription_id", sub.ID, "payment_id", pending.ID)
	case errors.Is(err, store.ErrPaymentNotFound):
		// Normal case: nothing in flight.
	default:
		return DispatchError, err
	}

	payment, err := p.repo.CreatePendingPayment(ctx, sub.ID, plan.Price, p.currency, "card")
	if err != nil {
		return DispatchError, fmt.Errorf("create pending payment: %w", err)
	}

	if sub.PaymentMethodRef == nil || *sub.PaymentMethodRef == "" {
		// No gateway call possible; record the failure and transition.
		if err := p.repo.FailChargeAndTransition(ctx, payment.ID, sub.ID, failStatus); err != nil {
			return DispatchError, err
		}
		p.publishChargeFailed(ctx, sub, payment, failStatus, ErrNoPaymentMethod.Error())
		return DispatchChargeFailed, ErrNoPaymentMethod
	}

	result, chargeErr := gateway.ChargeWithRetry(ctx, p.gateway, gateway.ChargeRequest{
		SubscriptionID:   sub.ID,
		Amount:           plan.Price,
		Currency:         p.currency,
		PaymentMethodRef: *sub.PaymentMethodRef,
	}, p.retry)
	if chargeErr != nil {
		if err := p.repo.FailChargeAndTransition(ctx, payment.ID, sub.ID, failStatus); err != nil {
			return DispatchError, err
		}
		p.publishChargeFailed(ctx, sub, payment, failStatus, chargeErr.Error())
		return DispatchChargeFailed, chargeErr
	}

	nextBillingDate, err := domain.AdvanceBillingDate(now, plan.BillingCycle)
	if err != nil {
		return DispatchError, err
	}
	if err := p.repo.CompleteChargeAndRenew(ctx, payment.ID, sub.ID, result.TransactionID, now, nextBillingDate); err != nil {
		return DispatchError, err
	}

	p.publish(ctx, "billing.renewed", billingEvent{
		SubscriptionID:  sub.ID,
		RestaurantID:    sub.RestaurantID,
		PaymentID:       payment.ID,
		Amount:          plan.Price.StringFixed(2),
		Currency:        p.currency,
		Status:          string(domain.StatusActive),
		NextBillingDate: &nextBillingDate,
		Timestamp:       now,
	})
	return DispatchCharged, nil
}

func (p *Processor) publishChargeFailed(ctx context.Context, sub *domain.Subscription, payment *domain.SubscriptionPayment, failStatus domain.SubscriptionStatus, reason string) {
	routingKey := "billing.payment_failed"
	if failStatus == domain.StatusExpired {
		routingKey = "billing.trial_expired"
	}
	p.publish(ctx, routingKey, billingEvent{
		SubscriptionID: sub.ID,
		RestaurantID:   sub.RestaurantID,
		PaymentID:      payment.ID,
		Amount:         payment.Amount.StringFixed(2),
		Currency:       payment.Currency,
		Status:         string(failStatus),
		FailureReason:  &reason,
		Timestamp:      time.Now().UTC(),
	})
}
