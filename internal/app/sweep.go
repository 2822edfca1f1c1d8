/**
 * @description
 * The daily billing sweep: three ordered scans (renewals, trial conversions,
 * cancellation finalization) dispatched over a bounded worker pool. One
 * subscription's failure never aborts the sweep for the others.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dineflow/billing-service/internal/domain"
	"github.com/dineflow/billing-service/internal/store"
)

// SweepRepository defines the scan queries the sweep driver needs on top of
// what the processor already uses.
type SweepRepository interface {
	ListDueRenewals(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	ListExpiredTrials(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	FinalizeDueCancellations(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}

// Sweeper is the daily entry point that advances every due subscription.
type Sweeper struct {
	repo      SweepRepository
	processor *Processor
	publisher EventPublisher
	logger    *slog.Logger
	workers   int
}

// NewSweeper creates a sweep driver with a bounded number of concurrent
// dispatches.
func NewSweeper(repo SweepRepository, processor *Processor, publisher EventPublisher, logger *slog.Logger, workers int) *Sweeper {
	if workers < 1 {
		workers = 1
	}
	return &Sweeper{
		repo:      repo,
		processor: processor,
		publisher: publisher,
		logger:    logger,
		workers:   workers,
	}
}

type dispatchFunc func(ctx context.Context, sub domain.Subscription, now time.Time) (DispatchStatus, error)

// RunSweep performs the three scans in order, each completing all its
// dispatches before the next begins, and returns the summary. Only a failure
// to read the scan itself aborts the sweep; gateway or per-subscription
// errors are isolated and retried on the next run.
func (s *Sweeper) RunSweep(ctx context.Context) (*domain.SweepSummary, error) {
	now := time.Now().UTC()
	summary := &domain.SweepSummary{}

	renewals, err := s.repo.ListDueRenewals(ctx, now)
	if err != nil {
		return nil, err
	}
	s.logger.Info("billing sweep: renewal scan", "due", len(renewals))
	s.dispatchAll(ctx, renewals, now, s.processor.ProcessRenewal, &summary.RenewalsProcessed, &summary.RenewalsFailed)

	trials, err := s.repo.ListExpiredTrials(ctx, now)
	if err != nil {
		return nil, err
	}
	s.logger.Info("billing sweep: trial conversion scan", "due", len(trials))
	s.dispatchAll(ctx, trials, now, s.processor.ProcessTrialExpiration, &summary.TrialsConverted, &summary.TrialsExpired)

	finalized, err := s.repo.FinalizeDueCancellations(ctx, now)
	if err != nil {
		return nil, err
	}
	summary.CancellationsFinalized = len(finalized)
	for _, sub := range finalized {
		s.publishCancelled(ctx, sub, now)
	}

	s.logger.Info("billing sweep completed",
		"renewals_processed", summary.RenewalsProcessed,
		"renewals_failed", summary.RenewalsFailed,
		"trials_converted", summary.TrialsConverted,
		"trials_expired", summary.TrialsExpired,
		"cancellations_finalized", summary.CancellationsFinalized,
	)
	return summary, nil
}

// dispatchAll fans the scan's subscriptions out over the worker pool and
// waits for every dispatch to finish. succeeded counts charges that landed,
// failed counts charges that durably failed and transitioned the
// subscription. Skips (lease held, charge in flight) and dispatch errors
/// count as neither: those subscriptions kept their prior state and the next
// sweep picks them up again.
func (s *Sweeper) dispatchAll(ctx context.Context, subs []domain.Subscription, now time.Time, dispatch dispatchFunc, succeeded, failed *int) {
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			status, err := dispatch(ctx, sub, now)

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case DispatchCharged:
				*succeeded++
			case DispatchChargeFailed:
				*failed++
				s.logger.Info("charge failed", "subscription_id", sub.ID, "error", err)
			case DispatchSkipped:
				if errors.Is(err, store.ErrProcessingConflict) {
					s.logger.Info("subscription claimed elsewhere, skipping", "subscription_id", sub.ID)
				} else {
					s.logger.Info("charge in flight, deferring", "subscription_id", sub.ID)
				}
			default:
				s.logger.Error("dispatch error", "subscription_id", sub.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Sweeper) publishCancelled(ctx context.Context, sub domain.Subscription, now time.Time) {
	if s.publisher == nil {
		return
	}
	event := billingEvent{
		SubscriptionID: sub.ID,
		RestaurantID:   sub.RestaurantID,
		Status:         string(domain.StatusCancelled),
		Timestamp:      now,
	}
	if err := s.publisher.Publish(ctx, BillingExchange, "billing.cancelled", event); err != nil {
		s.logger.Warn("failed to publish cancellation event", "subscription_id", sub.ID, "error", err)
	}
}
