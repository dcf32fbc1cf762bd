package model

import (
	"time"

	"mpesa-subscription-billing/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

// Billing cycles accepted in payment metadata and plan definitions.
const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

// Subscription is a business's entitlement record. It only transitions to
// active through the activation use case, and never back to pending.
type Subscription struct {
	ID                 string // UUID
	BusinessID         string // UUID
	PlanID             string
	PlanName           string
	Amount             int64
	Currency           string // "KES"
	Status             SubscriptionStatus
	IsActive           bool
	IsVerified         bool
	CheckoutRequestID  *string // correlates to PaymentIntent
	MpesaReceipt       *string
	BillingCycle       string
	StartsAt           *time.Time
	EndsAt             *time.Time
	ActivatedAt        *time.Time
	PaymentConfirmedAt *time.Time
	CancelledAt        *time.Time
	CancelReason       *string
	CancelCode         *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewPendingSubscription creates an unverified subscription awaiting payment.
func NewPendingSubscription(id, businessID string, plan *BillingPlan, billingCycle string, checkoutRequestID *string) (*Subscription, error) {
	if id == "" || businessID == "" || plan == nil {
		return nil, domain.ErrInvalidArgument
	}
	if billingCycle == "" {
		billingCycle = BillingCycleMonthly
	}
	now := time.Now()
	return &Subscription{
		ID:                id,
		BusinessID:        businessID,
		PlanID:            plan.ID,
		PlanName:          plan.Name,
		Amount:            plan.Price(billingCycle),
		Currency:          "KES",
		Status:            SubscriptionStatusPending,
		BillingCycle:      billingCycle,
		CheckoutRequestID: checkoutRequestID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Activate flips the subscription to its entitled state. ends_at is computed
// from the billing cycle relative to now.
func (s *Subscription) Activate(receipt string, now time.Time) {
	s.Status = SubscriptionStatusActive
	s.IsActive = true
	s.IsVerified = true
	s.MpesaReceipt = &receipt
	s.ActivatedAt = &now
	s.PaymentConfirmedAt = &now
	start := now
	s.StartsAt = &start
	end := CycleEnd(now, s.BillingCycle)
	s.EndsAt = &end
	s.UpdatedAt = now
}

// Cancel records a confirmed gateway failure.
func (s *Subscription) Cancel(reason string, code int, now time.Time) {
	s.Status = SubscriptionStatusCancelled
	s.IsActive = false
	s.CancelReason = &reason
	s.CancelCode = &code
	s.CancelledAt = &now
	s.UpdatedAt = now
}

// CycleEnd returns the entitlement end for a billing cycle starting at from.
func CycleEnd(from time.Time, cycle string) time.Time {
	if cycle == BillingCycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
