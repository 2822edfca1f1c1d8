/**
 * @description
 * Payment ledger model. Rows are append-only: a pending row is written before
 * any gateway call and later resolved to completed or failed, never rewritten
 * into a fresh attempt.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates the states of a ledger row.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// SubscriptionPayment is one charge attempt against a subscription.
// TransactionID and PaidAt are only set once the gateway confirms the charge.
type SubscriptionPayment struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethod  string          `json:"payment_method"`
	Status         PaymentStatus   `json:"status"`
	TransactionID  *string         `json:"transaction_id,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SweepSummary reports what one sweep run did. It is returned by the manual
// trigger endpoint and logged by the scheduled run.
type SweepSummary struct {
	RenewalsProcessed      int `json:"renewals_processed"`
	RenewalsFailed         int `json:"renewals_failed"`
	TrialsConverted        int `json:"trials_converted"`
	TrialsExpired          int `json:"trials_expired"`
	CancellationsFinalized int `json:"cancellations_finalized"`
}
