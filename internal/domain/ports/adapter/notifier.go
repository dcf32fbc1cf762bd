package adapter

import (
	"context"

	"mpesa-subscription-billing/internal/domain/model"
)

// ActivationEvent describes one completed activation for fan-out consumers.
type ActivationEvent struct {
	BusinessID        string
	BusinessName      string
	SubscriptionID    string
	PlanName          string
	Amount            int64
	Receipt           string
	CheckoutRequestID string
	DuplicateActive   int // number of concurrently active subscriptions, alert when > 1
}

// Notifier delivers activation notifications to stakeholders. Implementations
// are best-effort: the activation use case calls these after commit and
// swallows every error.
type Notifier interface {
	NotifyOwner(ctx context.Context, owner *model.User, ev ActivationEvent) error
	NotifyAdmins(ctx context.Context, ev ActivationEvent) error
	AlertDuplicateActive(ctx context.Context, ev ActivationEvent) error
}

// EventPublisher pushes a real-time event scoped to one business.
type EventPublisher interface {
	PublishActivation(ctx context.Context, ev ActivationEvent) error
}
