package adapter

import (
	"context"

	"mpesa-subscription-billing/internal/domain/model"
)

// CredentialScope selects which Daraja credential set a call runs under.
type CredentialScope string

const (
	// ScopePlatform uses the platform's own shortcode (subscription billing).
	ScopePlatform CredentialScope = "platform"
	// ScopeBusiness uses a business's configured shortcode (POS collection).
	ScopeBusiness CredentialScope = "business"
)

// StkPushRequest carries everything the gateway needs to fire a push prompt.
type StkPushRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
	Scope            CredentialScope
	// Credentials is required for ScopeBusiness; ignored for ScopePlatform.
	Credentials *model.DarajaCredentials
}

// StkPushResult is the normalized initiation outcome. Gateway declines and
// non-2xx responses come back here with OK=false, never as a Go error.
type StkPushResult struct {
	OK                bool
	CheckoutRequestID string
	MerchantRequestID string
	Message           string
	// Strategy names the shortcode mapping that succeeded (head_office or
	// store); status queries must reuse it.
	Strategy string
	Raw      map[string]interface{}
}

// StkQueryResult is the normalized status-query outcome. A transport failure
// yields Pending=true: ambiguous network conditions mean "try again later",
// never a definitive failure.
type StkQueryResult struct {
	Pending    bool
	ResultCode int
	ResultDesc string
	Receipt    string
}

// StkGateway is the port for the mobile-money gateway.
type StkGateway interface {
	Name() string
	InitiateStkPush(ctx context.Context, req StkPushRequest) (*StkPushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID, strategy string, scope CredentialScope, creds *model.DarajaCredentials) (*StkQueryResult, error)
}
