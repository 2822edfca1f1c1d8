/**
 * @description
 * Subscription plan catalog model. Plans are created and edited through the
 * admin surface; the billing engine only ever reads them.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a catalog entry describing what a restaurant pays and what it gets.
// Nil usage limits mean unlimited.
type Plan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	Price        decimal.Decimal `json:"price"`
	BillingCycle BillingCycle    `json:"billing_cycle"`
	Features     []string        `json:"features"`
	MaxTables    *int            `json:"max_tables,omitempty"`
	MaxMenuItems *int            `json:"max_menu_items,omitempty"`
	MaxOrders    *int            `json:"max_orders,omitempty"`
	AIFeatures   bool            `json:"ai_features"`
	SupportLevel string          `json:"support_level"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
