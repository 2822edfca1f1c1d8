/**
 * @description
 * Data access layer for the billing engine. All SQL against the subscriptions,
 * subscription_plans and subscription_payments tables lives here.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dineflow/billing-service/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrPaymentNotFound      = errors.New("payment not found")

	// ErrProcessingConflict means another sweep holds the processing claim on
	// the subscription. The caller skips the subscription for this sweep.
	ErrProcessingConflict = errors.New("subscription is already being processed")

	// ErrAtomicWriteFailed means the paired payment/subscription update could
	// not be committed. The subscription keeps its pre-dispatch state and the
	// next sweep retries cleanly.
	ErrAtomicWriteFailed = errors.New("atomic payment/subscription write failed")
)

const subscriptionColumns = `
	id, restaurant_id, plan_id, status, start_date, end_date, next_billing_date,
	trial_ends_at, cancel_at_period_end, cancelled_at,
	customer_ref, payment_method_ref, remote_subscription_ref, processing_at,
	created_at, updated_at`

// Repository handles database operations for the billing engine.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.RestaurantID,
		&sub.PlanID,
		&sub.Status,
		&sub.StartDate,
		&sub.EndDate,
		&sub.NextBillingDate,
		&sub.TrialEndsAt,
		&sub.CancelAtPeriodEnd,
		&sub.CancelledAt,
		&sub.CustomerRef,
		&sub.PaymentMethodRef,
		&sub.RemoteSubRef,
		&sub.ProcessingAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if !sub.Status.IsValid() {
		return nil, fmt.Errorf("subscription %s has unknown status %q", sub.ID, sub.Status)
	}
	return &sub, nil
}

func (r *Repository) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// GetSubscriptionByID retrieves a subscription.
func (r *Repository) GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// GetSubscriptionByRestaurantID retrieves the subscription for a restaurant.
// restaurant_id is unique, so there is at most one.
func (r *Repository) GetSubscriptionByRestaurantID(ctx context.Context, restaurantID string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE restaurant_id = $1`
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, restaurantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// CreateTrialSubscription inserts a new subscription in trial state. The
// unique index on restaurant_id rejects a second subscription for the same
// restaurant.
func (r *Repository) CreateTrialSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (
			restaurant_id, plan_id, status, start_date, end_date, next_billing_date,
			trial_ends_at, customer_ref, payment_method_ref, remote_subscription_ref
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + subscriptionColumns
	created, err := scanSubscription(r.db.QueryRow(ctx, query,
		sub.RestaurantID,
		sub.PlanID,
		sub.Status,
		sub.StartDate,
		sub.EndDate,
		sub.NextBillingDate,
		sub.TrialEndsAt,
		sub.CustomerRef,
		sub.PaymentMethodRef,
		sub.RemoteSubRef,
	))
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetCancelAtPeriodEnd flags or unflags a subscription for cancellation at the
// end of its current period.
func (r *Repository) SetCancelAtPeriodEnd(ctx context.Context, subID string, cancel bool) error {
	query := `
		UPDATE subscriptions
		SET cancel_at_period_end = $2,
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, subID, cancel)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListDueRenewals fetches renewal candidates: active or inactive (retryable)
// subscriptions whose next billing date has arrived and that are not flagged
// for cancellation.
func (r *Repository) ListDueRenewals(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status IN ('active', 'inactive')
		  AND next_billing_date <= $1
		  AND cancel_at_period_end = FALSE
		ORDER BY next_billing_date ASC`
	return r.querySubscriptions(ctx, query, now)
}

// ListExpiredTrials fetches trial subscriptions whose trial period has ended.
// Trials flagged for cancellation are left to the cancellation scan so a
// failed conversion charge cannot strand the cancel flag on a terminal row.
func (r *Repository) ListExpiredTrials(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = 'trial'
		  AND trial_ends_at <= $1
		  AND cancel_at_period_end = FALSE
		ORDER BY trial_ends_at ASC`
	return r.querySubscriptions(ctx, query, now)
}

// FinalizeDueCancellations closes every subscription whose grace period has
// elapsed: cancel_at_period_end was requested and the paid period is over.
// Re-running is a no-op because finalized rows no longer match the predicate.
func (r *Repository) FinalizeDueCancellations(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET status = 'cancelled',
		    cancel_at_period_end = FALSE,
		    cancelled_at = COALESCE(cancelled_at, $1),
		    processing_at = NULL,
		    updated_at = NOW()
		WHERE cancel_at_period_end = TRUE
		  AND end_date <= $1
		  AND status IN ('active', 'inactive', 'trial')
		RETURNING ` + subscriptionColumns
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ClaimForProcessing takes the exclusive processing claim on a subscription.
// The conditional update only succeeds when no live claim exists; a claim
// older than staleAfter is treated as abandoned by a crashed holder and is
// taken over. Returns ErrProcessingConflict when another holder has the claim.
func (r *Repository) ClaimForProcessing(ctx context.Context, subID string, now time.Time, staleAfter time.Duration) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET processing_at = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND status IN ('trial', 'active', 'inactive')
		  AND (processing_at IS NULL OR processing_at < $3)
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, subID, now, now.Add(-staleAfter)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProcessingConflict
		}
		return nil, err
	}
	return sub, nil
}

// ReleaseProcessingClaim clears the processing claim without touching any
// other state. Safe to call on an already-released row.
func (r *Repository) ReleaseProcessingClaim(ctx context.Context, subID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE subscriptions
		SET processing_at = NULL,
		    updated_at = NOW()
		WHERE id = $1`, subID)
	return err
}

// FindPendingPayment returns the most recent pending ledger row for a
// subscription, or ErrPaymentNotFound when every attempt has resolved.
func (r *Repository) FindPendingPayment(ctx context.Context, subID string) (*domain.SubscriptionPayment, error) {
	query := `
		SELECT id, subscription_id, amount, currency, payment_method, status,
		       transaction_id, paid_at, created_at
		FROM subscription_payments
		WHERE subscription_id = $1
		  AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`
	payment, err := r.scanPayment(r.db.QueryRow(ctx, query, subID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// FindPaymentByTransactionID looks a ledger row up by the gateway transaction
// reference. Used by webhook reconciliation.
func (r *Repository) FindPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.SubscriptionPayment, error) {
	query := `
		SELECT id, subscription_id, amount, currency, payment_method, status,
		       transaction_id, paid_at, created_at
		FROM subscription_payments
		WHERE transaction_id = $1`
	payment, err := r.scanPayment(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// HasCompletedPaymentSince reports whether a completed payment exists for the
// subscription with paid_at on or after the given instant. This backs the
// one-completed-payment-per-period check.
func (r *Repository) HasCompletedPaymentSince(ctx context.Context, subID string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM subscription_payments
			WHERE subscription_id = $1
			  AND status = 'completed'
			  AND paid_at >= $2
		)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, subID, since).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CreatePendingPayment writes the idempotency anchor: a pending ledger row
// committed before any gateway call.
func (r *Repository) CreatePendingPayment(ctx context.Context, subID string, amount decimal.Decimal, currency, paymentMethod string) (*domain.SubscriptionPayment, error) {
	query := `
		INSERT INTO subscription_payments (subscription_id, amount, currency, payment_method, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, subscription_id, amount, currency, payment_method, status,
		          transaction_id, paid_at, created_at`
	return r.scanPayment(r.db.QueryRow(ctx, query, subID, amount, currency, paymentMethod))
}

// MarkPaymentFailed resolves a pending ledger row to failed without touching
// the subscription. Used when superseding a stale in-flight attempt.
func (r *Repository) MarkPaymentFailed(ctx context.Context, paymentID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscription_payments
		SET status = 'failed'
		WHERE id = $1
		  AND status = 'pending'`, paymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// CompleteChargeAndRenew applies the success branch of the charge protocol in
// one transaction: the pending row becomes completed and the subscription
// becomes active with its dates advanced. Either both writes commit or
// neither does. The status predicate keeps expired and cancelled rows
// untouchable; a terminal subscription can never be reactivated.
func (r *Repository) CompleteChargeAndRenew(ctx context.Context, paymentID, subID, transactionID string, paidAt, nextBillingDate time.Time) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscription_payments
			SET status = 'completed',
			    transaction_id = $2,
			    paid_at = $3
			WHERE id = $1
			  AND status = 'pending'`, paymentID, transactionID, paidAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("payment %s is not pending", paymentID)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE subscriptions
			SET status = 'active',
			    next_billing_date = $2,
			    end_date = $2,
			    processing_at = NULL,
			    updated_at = NOW()
			WHERE id = $1
			  AND status IN ('trial', 'active', 'inactive')`, subID, nextBillingDate)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("subscription %s not found or in a terminal status", subID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

// FailChargeAndTransition applies the failure branch in one transaction: the
// pending row becomes failed and the subscription moves to the given status
// (inactive for renewals, expired for trial conversions). The billing date is
// left untouched so the next sweep picks the subscription up again.
func (r *Repository) FailChargeAndTransition(ctx context.Context, paymentID, subID string, status domain.SubscriptionStatus) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE subscription_payments
			SET status = 'failed'
			WHERE id = $1
			  AND status = 'pending'`, paymentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("payment %s is not pending", paymentID)
		}

		tag, err = tx.Exec(ctx, `
			UPDATE subscriptions
			SET status = $2,
			    cancel_at_period_end = CASE WHEN $2 IN ('expired', 'cancelled')
			                                THEN FALSE
			                                ELSE cancel_at_period_end END,
			    processing_at = NULL,
			    updated_at = NOW()
			WHERE id = $1
			  AND status IN ('trial', 'active', 'inactive')`, subID, status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("subscription %s not found or in a terminal status", subID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

func (r *Repository) scanPayment(row rowScanner) (*domain.SubscriptionPayment, error) {
	var p domain.SubscriptionPayment
	err := row.Scan(
		&p.ID,
		&p.SubscriptionID,
		&p.Amount,
		&p.Currency,
		&p.PaymentMethod,
		&p.Status,
		&p.TransactionID,
		&p.PaidAt,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
