package model

import "time"

// BillingPlan is a platform subscription tier.
type BillingPlan struct {
	ID           string
	Name         string
	PriceMonthly int64 // KES
	PriceYearly  int64 // KES
	Features     []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Price returns the charge for the given billing cycle.
func (p *BillingPlan) Price(cycle string) int64 {
	if cycle == BillingCycleYearly {
		return p.PriceYearly
	}
	return p.PriceMonthly
}
