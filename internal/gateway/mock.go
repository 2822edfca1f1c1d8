/**
 * @description
 * Mock payment gateway for development and tests. Outcomes are deterministic:
 * an explicit per-subscription outcome table takes precedence, otherwise a
 * seeded RNG with a configured failure rate decides. Latency is simulated and
 * respects context cancellation.
 */
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome scripts the mock's response for a subscription.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDecline
	OutcomeTimeout
)

// MockClient simulates a payment gateway.
type MockClient struct {
	mu          sync.Mutex
	rng         *rand.Rand
	failureRate float64
	latency     time.Duration
	outcomes    map[string]Outcome
}

// NewMockClient creates a mock gateway. failureRate is the probability in
// [0, 1] that an unscripted charge is declined; seed makes runs repeatable.
func NewMockClient(failureRate float64, latency time.Duration, seed int64) *MockClient {
	return &MockClient{
		rng:         rand.New(rand.NewSource(seed)),
		failureRate: failureRate,
		latency:     latency,
		outcomes:    make(map[string]Outcome),
	}
}

// ScriptOutcome pins the outcome for a subscription id, overriding the RNG.
func (m *MockClient) ScriptOutcome(subscriptionID string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[subscriptionID] = outcome
}

// ClearOutcome removes a scripted outcome.
func (m *MockClient) ClearOutcome(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outcomes, subscriptionID)
}

func (m *MockClient) sleep(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.latency):
		return nil
	}
}

func (m *MockClient) outcomeFor(subscriptionID string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome, ok := m.outcomes[subscriptionID]; ok {
		return outcome
	}
	if m.rng.Float64() < m.failureRate {
		return OutcomeDecline
	}
	return OutcomeSuccess
}

// Charge simulates a charge attempt.
func (m *MockClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch m.outcomeFor(req.SubscriptionID) {
	case OutcomeDecline:
		return nil, &DeclineError{Reason: "insufficient funds"}
	case OutcomeTimeout:
		return nil, fmt.Errorf("%w: simulated timeout", ErrUnavailable)
	default:
		return &ChargeResult{TransactionID: "mock_txn_" + uuid.NewString()}, nil
	}
}

// CreateCustomer simulates customer creation.
func (m *MockClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if err := m.sleep(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return "mock_cus_" + uuid.NewString(), nil
}

// CreatePaymentMethod simulates card tokenization.
func (m *MockClient) CreatePaymentMethod(ctx context.Context, card CardDetails) (*PaymentMethod, error) {
	if err := m.sleep(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	last4 := card.Number
	if len(last4) > 4 {
		last4 = last4[len(last4)-4:]
	}
	return &PaymentMethod{
		Ref:   "mock_pm_" + uuid.NewString(),
		Last4: last4,
		Brand: "visa",
	}, nil
}

// CreateRemoteSubscription simulates provider-side subscription creation.
func (m *MockClient) CreateRemoteSubscription(ctx context.Context, customerRef, planRef, methodRef string) (string, error) {
	if err := m.sleep(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return "mock_sub_" + uuid.NewString(), nil
}

// CancelRemoteSubscription simulates provider-side cancellation.
func (m *MockClient) CancelRemoteSubscription(ctx context.Context, remoteSubRef string) error {
	if err := m.sleep(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
