package model

import "time"

// Business is the account whose activation is gated on a paid subscription.
// Only the fields touched by the activation core live here.
type Business struct {
	ID         string // UUID
	Name       string
	OwnerID    string // UUID of owning user account
	IsActive   bool
	PlanID     *string
	PlanEndsAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// User is the business owner's login account. Activation of a subscription
// must also activate this account in the same transaction.
type User struct {
	ID        string // UUID
	Phone     string
	Email     string
	IsActive  bool
	IsAdmin   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DarajaCredentials are per-business gateway settings used for point-of-sale
// collection. Stored encrypted at rest; decrypted by the security service
// before they reach the gateway client.
type DarajaCredentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string // paybill or till head office number
	StoreNumber    string // aggregator-style store shortcode, may be empty
	Passkey        string
}
