package gateway

import (
	"context"
	"strings"
	"testing"
)

func TestMockClient_ScriptedDecline(t *testing.T) {
	client := NewMockClient(0, 0, 1)
	client.ScriptOutcome("sub-1", OutcomeDecline)

	_, err := client.Charge(context.Background(), ChargeRequest{SubscriptionID: "sub-1"})
	if err == nil {
		t.Fatal("expected decline error")
	}
	if !IsDecline(err) {
		t.Fatalf("expected a DeclineError, got %v", err)
	}
}

func TestMockClient_ScriptedTimeoutIsTransient(t *testing.T) {
	client := NewMockClient(0, 0, 1)
	client.ScriptOutcome("sub-1", OutcomeTimeout)

	_, err := client.Charge(context.Background(), ChargeRequest{SubscriptionID: "sub-1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if IsDecline(err) {
		t.Fatalf("timeout must not classify as a decline, got %v", err)
	}
}

func TestMockClient_ClearOutcomeRestoresDefault(t *testing.T) {
	client := NewMockClient(0, 0, 1)
	client.ScriptOutcome("sub-1", OutcomeDecline)
	client.ClearOutcome("sub-1")

	result, err := client.Charge(context.Background(), ChargeRequest{SubscriptionID: "sub-1"})
	if err != nil {
		t.Fatalf("expected success with zero failure rate, got %v", err)
	}
	if !strings.HasPrefix(result.TransactionID, "mock_txn_") {
		t.Fatalf("unexpected transaction id %q", result.TransactionID)
	}
}

func TestMockClient_FailureRateOneAlwaysDeclines(t *testing.T) {
	client := NewMockClient(1, 0, 42)

	for i := 0; i < 5; i++ {
		_, err := client.Charge(context.Background(), ChargeRequest{SubscriptionID: "sub-1"})
		if !IsDecline(err) {
			t.Fatalf("attempt %d: expected decline, got %v", i, err)
		}
	}
}

func TestMockClient_CreatePaymentMethodKeepsLast4Only(t *testing.T) {
	client := NewMockClient(0, 0, 1)

	method, err := client.CreatePaymentMethod(context.Background(), CardDetails{Number: "4242424242424242"})
	if err != nil {
		t.Fatalf("CreatePaymentMethod returned error: %v", err)
	}
	if method.Last4 != "4242" {
		t.Fatalf("expected last4 4242, got %q", method.Last4)
	}
	if strings.Contains(method.Ref, "4242424242424242") {
		t.Fatal("payment method reference must not embed the card number")
	}
}
