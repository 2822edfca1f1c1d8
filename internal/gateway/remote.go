/**
 * @description
 * HTTP adapter for the production payment provider. It encapsulates
 * authenticated REST calls, request/response bodies and error mapping; the
 * provider's 402 responses become DeclineError so the processor can tell a
 * refusal apart from an outage.
 */
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteClient talks to the payment provider's REST API.
type RemoteClient struct {
	BaseURL    string
	APIKey     string
	httpClient *http.Client
}

// NewRemoteClient creates a provider client with a bounded request timeout.
func NewRemoteClient(baseURL, apiKey string) *RemoteClient {
	return &RemoteClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type chargeRequestBody struct {
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
}

type chargeResponseBody struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

// Charge submits a charge for an amount against a stored payment method.
func (c *RemoteClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := chargeRequestBody{
		Reference:     req.SubscriptionID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethodRef,
	}

	var out chargeResponseBody
	if err := c.post(ctx, "/v1/charges", body, &out); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, &DeclineError{Reason: out.Reason}
	}
	return &ChargeResult{TransactionID: out.TransactionID}, nil
}

// CreateCustomer registers a customer with the provider.
func (c *RemoteClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	body := map[string]string{"email": email, "name": name}
	var out struct {
		CustomerRef string `json:"customer_ref"`
	}
	if err := c.post(ctx, "/v1/customers", body, &out); err != nil {
		return "", err
	}
	return out.CustomerRef, nil
}

// CreatePaymentMethod tokenizes card details with the provider.
func (c *RemoteClient) CreatePaymentMethod(ctx context.Context, card CardDetails) (*PaymentMethod, error) {
	body := map[string]any{
		"number":       card.Number,
		"expiry_month": card.ExpiryMonth,
		"expiry_year":  card.ExpiryYear,
		"cvc":          card.CVC,
		"holder_name":  card.HolderName,
	}
	var out struct {
		MethodRef string `json:"method_ref"`
		Last4     string `json:"last4"`
		Brand     string `json:"brand"`
	}
	if err := c.post(ctx, "/v1/payment_methods", body, &out); err != nil {
		return nil, err
	}
	return &PaymentMethod{Ref: out.MethodRef, Last4: out.Last4, Brand: out.Brand}, nil
}

// CreateRemoteSubscription mirrors the subscription on the provider side.
func (c *RemoteClient) CreateRemoteSubscription(ctx context.Context, customerRef, planRef, methodRef string) (string, error) {
	body := map[string]string{
		"customer_ref": customerRef,
		"plan_ref":     planRef,
		"method_ref":   methodRef,
	}
	var out struct {
		SubscriptionRef string `json:"subscription_ref"`
	}
	if err := c.post(ctx, "/v1/subscriptions", body, &out); err != nil {
		return "", err
	}
	return out.SubscriptionRef, nil
}

// CancelRemoteSubscription cancels the provider-side subscription.
func (c *RemoteClient) CancelRemoteSubscription(ctx context.Context, remoteSubRef string) error {
	url := fmt.Sprintf("%s/v1/subscriptions/%s/cancel", c.BaseURL, remoteSubRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create cancel request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	return nil
}

func (c *RemoteClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.handleErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

func (c *RemoteClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
}

// handleErrorResponse maps a failed provider call onto the gateway error
// taxonomy: 402 is a decline, everything else is treated as transient.
func (c *RemoteClient) handleErrorResponse(resp *http.Response) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("provider error with status %d, unreadable body", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		var declined struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(bodyBytes, &declined); err == nil && declined.Reason != "" {
			return &DeclineError{Reason: declined.Reason}
		}
		return &DeclineError{Reason: string(bodyBytes)}
	}

	return fmt.Errorf("provider request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
}
