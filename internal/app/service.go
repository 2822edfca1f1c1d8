/**
 * @description
 * Owner-facing business logic: selecting a plan (which starts a trial),
 * requesting cancellation at period end, and reading subscription status.
 * These are the only paths that provision gateway customers, payment methods
 * and remote subscriptions.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dineflow/billing-service/internal/domain"
	"github.com/dineflow/billing-service/internal/gateway"
	"github.com/dineflow/billing-service/internal/store"
)

var (
	// ErrPlanInactive is returned when an owner picks a plan that has been
	// retired from the catalog.
	ErrPlanInactive = errors.New("plan is not active")

	// ErrAlreadySubscribed is returned when the restaurant already has a
	// subscription; there is at most one per restaurant, ever.
	ErrAlreadySubscribed = errors.New("restaurant already has a subscription")

	// ErrAlreadyTerminal is returned for cancel requests against an expired
	// or cancelled subscription.
	ErrAlreadyTerminal = errors.New("subscription is already expired or cancelled")
)

// ServiceRepository defines the database operations the owner-facing service
// needs.
type ServiceRepository interface {
	GetPlanByID(ctx context.Context, planID string) (*domain.Plan, error)
	ListActivePlans(ctx context.Context) ([]domain.Plan, error)
	GetSubscriptionByRestaurantID(ctx context.Context, restaurantID string) (*domain.Subscription, error)
	CreateTrialSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subID string, cancel bool) error
}

// Service provides the owner/admin boundary over the billing engine.
type Service struct {
	repo      ServiceRepository
	gateway   gateway.Client
	publisher EventPublisher
	logger    *slog.Logger
	trialDays int
}

// NewService creates the owner-facing service. trialDays is the length of
// the free trial granted on plan selection.
func NewService(repo ServiceRepository, gw gateway.Client, publisher EventPublisher, logger *slog.Logger, trialDays int) *Service {
	return &Service{
		repo:      repo,
		gateway:   gw,
		publisher: publisher,
		logger:    logger,
		trialDays: trialDays,
	}
}

// SubscribeParams carries everything needed to start a trial subscription.
type SubscribeParams struct {
	RestaurantID string
	PlanID       string
	OwnerEmail   string
	OwnerName    string
	Card         gateway.CardDetails
}

// Subscribe provisions the gateway artifacts for a restaurant and creates its
// subscription in trial state. The first charge happens when the trial ends.
func (s *Service) Subscribe(ctx context.Context, params SubscribeParams) (*domain.Subscription, error) {
	plan, err := s.repo.GetPlanByID(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}

	if _, err := s.repo.GetSubscriptionByRestaurantID(ctx, params.RestaurantID); err == nil {
		return nil, ErrAlreadySubscribed
	} else if !errors.Is(err, store.ErrSubscriptionNotFound) {
		return nil, err
	}

	customerRef, err := s.gateway.CreateCustomer(ctx, params.OwnerEmail, params.OwnerName)
	if err != nil {
		return nil, fmt.Errorf("create gateway customer: %w", err)
	}
	method, err := s.gateway.CreatePaymentMethod(ctx, params.Card)
	if err != nil {
		return nil, fmt.Errorf("create payment method: %w", err)
	}
	remoteRef, err := s.gateway.CreateRemoteSubscription(ctx, customerRef, plan.ID, method.Ref)
	if err != nil {
		return nil, fmt.Errorf("create remote subscription: %w", err)
	}

	now := time.Now().UTC()
	trialEnd := now.AddDate(0, 0, s.trialDays)
	sub := &domain.Subscription{
		RestaurantID:     params.RestaurantID,
		PlanID:           plan.ID,
		Status:           domain.StatusTrial,
		StartDate:        now,
		EndDate:          trialEnd,
		NextBillingDate:  trialEnd,
		TrialEndsAt:      &trialEnd,
		CustomerRef:      &customerRef,
		PaymentMethodRef: &method.Ref,
		RemoteSubRef:     &remoteRef,
	}

	created, err := s.repo.CreateTrialSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.logger.Info("trial subscription created",
		"subscription_id", created.ID,
		"restaurant_id", created.RestaurantID,
		"plan_id", plan.ID,
		"trial_ends_at", trialEnd,
		"card_last4", method.Last4,
	)
	return created, nil
}

// RequestCancellation flags the restaurant's subscription to end at the
// close of its current paid period. The cancellation finalizer performs the
// actual transition once the period elapses.
func (s *Service) RequestCancellation(ctx context.Context, restaurantID string) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByRestaurantID(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}

	if err := s.repo.SetCancelAtPeriodEnd(ctx, sub.ID, true); err != nil {
		return nil, err
	}

	if sub.RemoteSubRef != nil && *sub.RemoteSubRef != "" {
		if err := s.gateway.CancelRemoteSubscription(ctx, *sub.RemoteSubRef); err != nil {
			// The local flag is authoritative; the provider side is retried
			// out of band if this fails.
			s.logger.Warn("failed to cancel remote subscription", "subscription_id", sub.ID, "error", err)
		}
	}

	sub.CancelAtPeriodEnd = true
	return sub, nil
}

// SubscriptionStatus is what the owner screens render.
type SubscriptionStatus struct {
	Subscription *domain.Subscription `json:"subscription"`
	Plan         *domain.Plan         `json:"plan"`
}

// GetStatus returns the restaurant's subscription together with its plan.
func (s *Service) GetStatus(ctx context.Context, restaurantID string) (*SubscriptionStatus, error) {
	sub, err := s.repo.GetSubscriptionByRestaurantID(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionStatus{Subscription: sub, Plan: plan}, nil
}

// ListPlans returns the active plan catalog.
func (s *Service) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	return s.repo.ListActivePlans(ctx)
}
