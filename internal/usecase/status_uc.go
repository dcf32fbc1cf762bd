package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
	"mpesa-subscription-billing/internal/domain/ports/repository"
	"mpesa-subscription-billing/internal/infra/metrics"
)

// Compile-time check
var _ StatusUseCase = (*statusUC)(nil)

type PaymentState string

const (
	PaymentStatePending PaymentState = "pending"
	PaymentStateSuccess PaymentState = "success"
	PaymentStateFailed  PaymentState = "failed"
)

type StatusUseCase interface {
	// Check answers "have we heard back yet" for a checkout id. It prefers
	// the intent ledger (authoritative, no outbound call), then the
	// reporting projection, and only then an active gateway query. A
	// conclusive gateway answer triggers Finalize inline, so polling covers
	// the lost-webhook case.
	Check(ctx context.Context, checkoutRequestID string) (PaymentState, string, error)
}

type statusUC struct {
	intents    repository.IntentRepository
	projection repository.ProjectionRepository
	businesses repository.BusinessRepository
	gateway    adapter.StkGateway
	activation ActivationUseCase
	log        *zerolog.Logger
}

func NewStatusUseCase(
	intents repository.IntentRepository,
	projection repository.ProjectionRepository,
	businesses repository.BusinessRepository,
	gateway adapter.StkGateway,
	activation ActivationUseCase,
	logger *zerolog.Logger,
) *statusUC {
	l := logger.With().Str("component", "StatusUC").Logger()
	return &statusUC{intents: intents, projection: projection, businesses: businesses, gateway: gateway, activation: activation, log: &l}
}

func (u *statusUC) Check(ctx context.Context, checkoutRequestID string) (PaymentState, string, error) {
	if checkoutRequestID == "" {
		return "", "", domain.ErrInvalidArgument
	}

	intent, err := u.intents.FindByCheckoutID(ctx, repository.NoTX, checkoutRequestID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", "", err
	}
	if intent != nil && intent.Resolved() {
		return stateFromIntent(intent.Status), "resolved from ledger", nil
	}

	if sp, perr := u.projection.FindByCheckoutID(ctx, repository.NoTX, checkoutRequestID); perr == nil {
		if sp.Status == model.IntentStatusSuccess || sp.Status == model.IntentStatusFailed {
			return stateFromIntent(sp.Status), "resolved from payment record", nil
		}
	}

	if intent == nil {
		// Nothing to query the gateway with; the initiation may not have
		// committed yet.
		return PaymentStatePending, "no payment record yet", nil
	}

	scope, creds, cerr := u.credentialsFor(ctx, intent)
	if cerr != nil {
		u.log.Warn().Err(cerr).Str("checkout_request_id", checkoutRequestID).Msg("cannot query gateway without credentials")
		return PaymentStatePending, "awaiting gateway result", nil
	}
	strategy, _ := intent.Meta["strategy"].(string)

	q, qerr := u.gateway.QueryStatus(ctx, checkoutRequestID, strategy, scope, creds)
	if qerr != nil {
		return "", "", qerr
	}
	if q.Pending {
		metrics.IncGatewayQuery("pending")
		return PaymentStatePending, "awaiting gateway result", nil
	}

	rc := q.ResultCode
	d := ResolutionData{CheckoutRequestID: checkoutRequestID, ResultCode: &rc}
	if q.Receipt != "" {
		d.MpesaReceipt = q.Receipt
	}
	if _, ferr := u.activation.Finalize(ctx, d); ferr != nil {
		return "", "", ferr
	}

	if rc == 0 {
		metrics.IncGatewayQuery("success")
		return PaymentStateSuccess, q.ResultDesc, nil
	}
	metrics.IncGatewayQuery("failed")
	return PaymentStateFailed, q.ResultDesc, nil
}

func (u *statusUC) credentialsFor(ctx context.Context, intent *model.PaymentIntent) (adapter.CredentialScope, *model.DarajaCredentials, error) {
	if t, _ := intent.Meta[model.MetaKeyType].(string); t == model.MetaTypeSubscription {
		return adapter.ScopePlatform, nil, nil
	}
	creds, err := u.businesses.FindDarajaCredentials(ctx, repository.NoTX, intent.BusinessID)
	if err != nil {
		return adapter.ScopeBusiness, nil, err
	}
	return adapter.ScopeBusiness, creds, nil
}

func stateFromIntent(s model.IntentStatus) PaymentState {
	switch s {
	case model.IntentStatusSuccess:
		return PaymentStateSuccess
	case model.IntentStatusFailed:
		return PaymentStateFailed
	default:
		return PaymentStatePending
	}
}
