package model

import "time"

type NotificationKind string

const (
	NotificationKindActivation         NotificationKind = "subscription_activated"
	NotificationKindPaymentFailed      NotificationKind = "payment_failed"
	NotificationKindDuplicateActive    NotificationKind = "duplicate_active_subscription"
	NotificationKindAdminNewActivation NotificationKind = "admin_new_activation"
)

// Notification is a persisted in-app message for an owner or admin account.
// Delivery is best-effort; rows are written by the fan-out after activation
// commits and a failure to write never rolls anything back.
type Notification struct {
	ID         string // UUID
	UserID     string // recipient account
	BusinessID string
	Kind       NotificationKind
	Title      string
	Body       string
	ReadAt     *time.Time
	CreatedAt  time.Time
}
