/**
 * @description
 * Billing lifecycle events published to the message broker. Publishing is
 * best-effort: a broker outage never blocks or fails a billing dispatch.
 */
package app

import (
	"context"
	"time"
)

// BillingExchange is the topic exchange all billing events go to.
const BillingExchange = "dineflow.events"

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

type billingEvent struct {
	SubscriptionID  string     `json:"subscription_id"`
	RestaurantID    string     `json:"restaurant_id"`
	PaymentID       string     `json:"payment_id,omitempty"`
	Amount          string     `json:"amount,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	Status          string     `json:"status"`
	NextBillingDate *time.Time `json:"next_billing_date,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

func (p *Processor) publish(ctx context.Context, routingKey string, event billingEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, BillingExchange, routingKey, event); err != nil {
		p.logger.Warn("failed to publish billing event", "routing_key", routingKey, "subscription_id", event.SubscriptionID, "error", err)
	}
}
