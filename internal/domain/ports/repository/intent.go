package repository

import (
	"context"
	"time"

	"mpesa-subscription-billing/internal/domain/model"
)

// IntentRepository persists the payment intent ledger.
//
// Lookups return domain.ErrNotFound on a miss; callers treat that as
// "nothing to reconcile yet", never as a failure.
type IntentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.PaymentIntent) error
	FindByCheckoutID(ctx context.Context, tx Tx, checkoutRequestID string) (*model.PaymentIntent, error)
	FindByReceipt(ctx context.Context, tx Tx, receipt string) (*model.PaymentIntent, error)
	// MarkResolved records the terminal outcome. It only touches rows still
	// pending; the returned bool reports whether a row was updated.
	MarkResolved(ctx context.Context, tx Tx, id string, status model.IntentStatus, resultCode int, receipt *string, raw map[string]interface{}, resolvedAt time.Time) (bool, error)
	// SetSubscriptionID backfills the subscription linkage once known.
	SetSubscriptionID(ctx context.Context, tx Tx, id, subscriptionID string) error
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentIntent, error)
}
