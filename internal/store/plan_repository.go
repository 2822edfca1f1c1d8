/**
 * @description
 * Read-only access to the subscription plan catalog. Plans are managed by the
 * admin surface; the billing engine never writes them.
 */
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dineflow/billing-service/internal/domain"
)

const planColumns = `
	id, name, type, price, billing_cycle, features,
	max_tables, max_menu_items, max_orders,
	ai_features, support_level, is_active, created_at, updated_at`

// GetPlanByID retrieves a single plan from the catalog.
func (r *Repository) GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	plan, err := r.scanPlan(r.db.QueryRow(ctx, query, planID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return plan, nil
}

// ListActivePlans returns the plans an owner can currently subscribe to.
func (r *Repository) ListActivePlans(ctx context.Context) ([]domain.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE is_active = TRUE ORDER BY price ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		plan, err := r.scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *Repository) scanPlan(row rowScanner) (*domain.Plan, error) {
	var p domain.Plan
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Type,
		&p.Price,
		&p.BillingCycle,
		&p.Features,
		&p.MaxTables,
		&p.MaxMenuItems,
		&p.MaxOrders,
		&p.AIFeatures,
		&p.SupportLevel,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
