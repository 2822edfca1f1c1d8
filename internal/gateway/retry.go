/**
 * @description
 * Bounded retry wrapper around gateway charge calls. Transient failures are
 * retried with exponential backoff; declines are definitive and returned
 * immediately.
 */
package gateway

import (
	"context"
	"time"
)

// RetryPolicy bounds how a single dispatch retries a transient gateway
// failure before giving up.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy matches the dispatch contract: a small number of
// attempts, each with its own timeout, backing off between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		CallTimeout: 20 * time.Second,
	}
}

// ChargeWithRetry performs a charge with per-call timeouts and exponential
// backoff. A DeclineError short-circuits: the card said no, asking again in
// the same dispatch will not change the answer. The last transient error is
// returned once attempts are exhausted.
func ChargeWithRetry(ctx context.Context, client Client, req ChargeRequest, policy RetryPolicy) (*ChargeResult, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := chargeOnce(ctx, client, req, policy.CallTimeout)
		if err == nil {
			return result, nil
		}
		if IsDecline(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func chargeOnce(ctx context.Context, client Client, req ChargeRequest, timeout time.Duration) (*ChargeResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return client.Charge(ctx, req)
}
