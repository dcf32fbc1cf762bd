package redis

import (
	"context"
	"encoding/json"

	"mpesa-subscription-billing/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.EventPublisher = (*EventPublisher)(nil)

// EventPublisher pushes activation events onto a per-business pub/sub
// channel so connected dashboards see entitlement changes immediately.
type EventPublisher struct {
	cli RedisClient
}

func NewEventPublisher(cli RedisClient) *EventPublisher {
	return &EventPublisher{cli: cli}
}

func (p *EventPublisher) PublishActivation(ctx context.Context, ev adapter.ActivationEvent) error {
	payload, err := json.Marshal(map[string]interface{}{
		"event":               "subscription.activated",
		"business_id":         ev.BusinessID,
		"subscription_id":     ev.SubscriptionID,
		"plan_name":           ev.PlanName,
		"amount":              ev.Amount,
		"receipt":             ev.Receipt,
		"checkout_request_id": ev.CheckoutRequestID,
	})
	if err != nil {
		return err
	}
	return p.cli.Publish(ctx, "events:business:"+ev.BusinessID, payload)
}
