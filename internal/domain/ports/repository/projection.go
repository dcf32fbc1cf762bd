package repository

import (
	"context"

	"mpesa-subscription-billing/internal/domain/model"
)

// ProjectionRepository maintains the SubscriptionPayment reporting rows.
// Upsert keyed by checkout request id; never read by the state machine.
type ProjectionRepository interface {
	Upsert(ctx context.Context, tx Tx, sp *model.SubscriptionPayment) error
	FindByCheckoutID(ctx context.Context, tx Tx, checkoutRequestID string) (*model.SubscriptionPayment, error)
	List(ctx context.Context, tx Tx, offset, limit int) ([]*model.SubscriptionPayment, error)
}

type NotificationRepository interface {
	Save(ctx context.Context, tx Tx, n *model.Notification) error
	ListByUser(ctx context.Context, tx Tx, userID string, offset, limit int) ([]*model.Notification, error)
}
