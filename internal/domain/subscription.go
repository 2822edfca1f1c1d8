/**
 * @description
 * Core domain models for the billing engine: subscriptions, their lifecycle
 * states, and the billing-cycle date arithmetic used when a renewal succeeds.
 */
package domain

import (
	"fmt"
	"time"
)

// SubscriptionStatus enumerates the lifecycle states of a subscription.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusInactive  SubscriptionStatus = "inactive"
	StatusExpired   SubscriptionStatus = "expired"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transition is allowed
// from this status.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

// IsValid reports whether s is one of the five known statuses.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusInactive, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// allowedTransitions is the full transition table of the subscription state
// machine. active -> active covers successful renewals.
var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	StatusTrial:    {StatusActive, StatusExpired, StatusCancelled},
	StatusActive:   {StatusActive, StatusInactive, StatusCancelled},
	StatusInactive: {StatusActive, StatusInactive},
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Terminal states permit nothing.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Subscription represents one restaurant's subscription. There is at most one
// row per restaurant; the record is never deleted, only transitioned.
type Subscription struct {
	ID                string             `json:"id"`
	RestaurantID      string             `json:"restaurant_id"`
	PlanID            string             `json:"plan_id"`
	Status            SubscriptionStatus `json:"status"`
	StartDate         time.Time          `json:"start_date"`
	EndDate           time.Time          `json:"end_date"`
	NextBillingDate   time.Time          `json:"next_billing_date"`
	TrialEndsAt       *time.Time         `json:"trial_ends_at,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	CancelledAt       *time.Time         `json:"cancelled_at,omitempty"`
	CustomerRef       *string            `json:"customer_ref,omitempty"`
	PaymentMethodRef  *string            `json:"payment_method_ref,omitempty"`
	RemoteSubRef      *string            `json:"remote_subscription_ref,omitempty"`
	ProcessingAt      *time.Time         `json:"-"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// BillingCycle is the recurring period after which a subscription re-charges.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// AdvanceBillingDate returns from plus one billing cycle using calendar-aware
// arithmetic. The day of month is clamped to the length of the target month,
// so Jan 31 + 1 month yields Feb 29 in a leap year and Feb 28 otherwise.
// time.Time.AddDate is deliberately avoided here: it normalizes overflow, so
// Jan 31 + 1 month would come out as Mar 2 or Mar 3.
func AdvanceBillingDate(from time.Time, cycle BillingCycle) (time.Time, error) {
	year, month, day := from.Date()

	switch cycle {
	case CycleMonthly:
		month++
		if month > time.December {
			month = time.January
			year++
		}
	case CycleYearly:
		year++
	default:
		return time.Time{}, fmt.Errorf("unknown billing cycle %q", cycle)
	}

	if last := daysInMonth(year, month); day > last {
		day = last
	}

	hh, mm, ss := from.Clock()
	return time.Date(year, month, day, hh, mm, ss, from.Nanosecond(), from.Location()), nil
}

// daysInMonth returns the number of days in the given month. Day zero of the
// following month is the last day of this one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
