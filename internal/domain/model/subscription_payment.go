package model

import "time"

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// SubscriptionPayment is the operator-facing ledger projection, keyed by
// checkout request id. It is derived from PaymentIntent + Subscription and is
// never the source of truth; it is safe to rebuild at any time.
type SubscriptionPayment struct {
	CheckoutRequestID string
	BusinessID        string
	BusinessName      string
	PlanName          string
	Phone             string
	Amount            int64
	Receipt           *string
	Status            IntentStatus
	ApprovalStatus    ApprovalStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
