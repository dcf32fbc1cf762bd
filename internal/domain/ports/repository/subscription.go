package repository

import (
	"context"
	"time"

	"mpesa-subscription-billing/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Subscription, error)
	FindByCheckoutID(ctx context.Context, tx Tx, checkoutRequestID string) (*model.Subscription, error)
	// FindLatestPendingByBusinessAndAmount backs the heuristic fallback
	// matcher: most recent pending subscription for the business with a
	// matching amount, created after the notBefore cutoff.
	FindLatestPendingByBusinessAndAmount(ctx context.Context, tx Tx, businessID string, amount int64, notBefore time.Time) (*model.Subscription, error)
	CountActiveByBusiness(ctx context.Context, tx Tx, businessID string) (int, error)
}

type PlanRepository interface {
	Save(ctx context.Context, tx Tx, p *model.BillingPlan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.BillingPlan, error)
	List(ctx context.Context, tx Tx) ([]*model.BillingPlan, error)
}
