package model

import "time"

type IntentStatus string

const (
	IntentStatusPending IntentStatus = "pending" // STK push sent; awaiting gateway result
	IntentStatusSuccess IntentStatus = "success" // gateway reported result code 0
	IntentStatusFailed  IntentStatus = "failed"  // gateway reported a non-zero result code
)

// PaymentIntent is the ledger row for one STK push attempt. It is the
// financial source of truth every reconciliation path reads and writes.
type PaymentIntent struct {
	ID                string // ULID
	BusinessID        string // UUID
	SubscriptionID    *string
	CheckoutRequestID string // gateway correlation id; unique per attempt
	MerchantRequestID string
	Phone             string
	Amount            int64 // KES minor units avoided; Daraja amounts are whole shillings
	AccountReference  string
	Status            IntentStatus
	ResultCode        *int    // nil until resolved; 0 == success
	Receipt           *string // M-Pesa receipt, set only on success
	RawResponse       map[string]interface{}
	Meta              map[string]interface{} // payment type, plan id, billing cycle, initiation id
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ResolvedAt        *time.Time
}

// Resolved reports whether the intent already reached a terminal status.
func (p *PaymentIntent) Resolved() bool {
	return p.Status == IntentStatusSuccess || p.Status == IntentStatusFailed
}

// SameOutcome reports whether a new result code agrees with the recorded one.
// Used to distinguish an idempotent re-resolution from an integrity conflict.
func (p *PaymentIntent) SameOutcome(resultCode int) bool {
	if p.ResultCode == nil {
		return false
	}
	return (*p.ResultCode == 0) == (resultCode == 0)
}

// Metadata markers set at initiation time.
const (
	MetaKeyType         = "type"
	MetaKeyPlanID       = "plan_id"
	MetaKeyBillingCycle = "billing_cycle"
	MetaKeyInitiationID = "initiation_id"

	MetaTypeSubscription = "subscription"
)

// SubscriptionIntent extracts the subscription marker from intent metadata.
// Returns planID, billingCycle and ok=false when the payment is not
// subscription-typed (e.g. a point-of-sale collection).
func (p *PaymentIntent) SubscriptionIntent() (planID, billingCycle string, ok bool) {
	if p.Meta == nil {
		return "", "", false
	}
	if t, _ := p.Meta[MetaKeyType].(string); t != MetaTypeSubscription {
		return "", "", false
	}
	planID, _ = p.Meta[MetaKeyPlanID].(string)
	billingCycle, _ = p.Meta[MetaKeyBillingCycle].(string)
	if planID == "" {
		return "", "", false
	}
	if billingCycle == "" {
		billingCycle = BillingCycleMonthly
	}
	return planID, billingCycle, true
}
