/**
 * @description
 * Abstract payment gateway capability used by the billing processor. Two
 * implementations exist: a deterministic mock for development and tests, and
 * an HTTP adapter for a real payment provider. The processor only ever sees
 * this interface.
 */
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnavailable indicates the gateway could not be reached at all.
var ErrUnavailable = errors.New("payment gateway unavailable")

// DeclineError is a definitive refusal from the payment network (card
// declined, insufficient funds). Declines are recorded and never retried
// within the same dispatch.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("charge declined: %s", e.Reason)
}

// IsDecline reports whether err is a definitive decline rather than a
// transient failure.
func IsDecline(err error) bool {
	var decline *DeclineError
	return errors.As(err, &decline)
}

// ChargeRequest describes one charge attempt.
type ChargeRequest struct {
	SubscriptionID   string
	Amount           decimal.Decimal
	Currency         string
	PaymentMethodRef string
}

// ChargeResult is the outcome of a successful charge call.
type ChargeResult struct {
	TransactionID string
}

// CardDetails carries the minimum card data needed to tokenize a payment
// method. Raw numbers never touch the store; only the returned reference is
// persisted.
type CardDetails struct {
	Number      string
	ExpiryMonth int
	ExpiryYear  int
	CVC         string
	HolderName  string
}

// PaymentMethod is the tokenized result of CreatePaymentMethod.
type PaymentMethod struct {
	Ref   string
	Last4 string
	Brand string
}

// Client is the payment gateway capability. Every call is network I/O with
// latency and failure modes; callers bound each call with a context deadline.
type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreatePaymentMethod(ctx context.Context, card CardDetails) (*PaymentMethod, error)
	CreateRemoteSubscription(ctx context.Context, customerRef, planRef, methodRef string) (string, error)
	CancelRemoteSubscription(ctx context.Context, remoteSubRef string) error
}
