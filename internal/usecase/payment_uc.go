package usecase

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
	"mpesa-subscription-billing/internal/domain/ports/repository"
	"mpesa-subscription-billing/internal/infra/metrics"

	"github.com/google/uuid"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

// InitiateInput describes one STK push initiation request.
type InitiateInput struct {
	BusinessID       string
	Phone            string
	Amount           int64  // ignored for subscription payments; plan price wins
	AccountReference string
	Description      string
	Type             string // model.MetaTypeSubscription or "pos"
	PlanID           string
	BillingCycle     string
}

// ResolveKey identifies an intent by whichever key the confirmation channel
// carried. At least one of the fields must be set.
type ResolveKey struct {
	CheckoutRequestID string
	Receipt           string
}

type PaymentUseCase interface {
	// Initiate fires the STK push and, on gateway acceptance, records the
	// pending intent (and pending subscription for subscription payments)
	// before returning. A declined push returns the structured result with
	// no rows written.
	Initiate(ctx context.Context, in InitiateInput) (*model.PaymentIntent, *adapter.StkPushResult, error)
	// Resolve records the terminal gateway outcome on the ledger. Resolving
	// an already-resolved intent with the same outcome is a no-op returning
	// the stored row; a different outcome returns ErrConflictingResolution
	// and leaves the original untouched.
	Resolve(ctx context.Context, tx repository.Tx, key ResolveKey, resultCode int, receipt *string, raw map[string]interface{}) (*model.PaymentIntent, error)
	// Lookup finds an intent by checkout id, falling back to receipt.
	Lookup(ctx context.Context, tx repository.Tx, key ResolveKey) (*model.PaymentIntent, error)
}

type paymentUC struct {
	intents    repository.IntentRepository
	subs       repository.SubscriptionRepository
	plans      repository.PlanRepository
	businesses repository.BusinessRepository
	gateway    adapter.StkGateway
	log        *zerolog.Logger
}

func NewPaymentUseCase(
	intents repository.IntentRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	businesses repository.BusinessRepository,
	gateway adapter.StkGateway,
	logger *zerolog.Logger,
) *paymentUC {
	l := logger.With().Str("component", "PaymentUC").Logger()
	return &paymentUC{intents: intents, subs: subs, plans: plans, businesses: businesses, gateway: gateway, log: &l}
}

func (u *paymentUC) Initiate(ctx context.Context, in InitiateInput) (*model.PaymentIntent, *adapter.StkPushResult, error) {
	if in.BusinessID == "" || in.Phone == "" {
		return nil, nil, domain.ErrInvalidArgument
	}

	req := adapter.StkPushRequest{
		Phone:            in.Phone,
		Amount:           in.Amount,
		AccountReference: in.AccountReference,
		Description:      in.Description,
		Scope:            adapter.ScopeBusiness,
	}

	meta := map[string]interface{}{
		model.MetaKeyType:         in.Type,
		model.MetaKeyInitiationID: uuid.NewString(),
	}

	var plan *model.BillingPlan
	if in.Type == model.MetaTypeSubscription {
		var err error
		plan, err = u.plans.FindByID(ctx, repository.NoTX, in.PlanID)
		if err != nil {
			return nil, nil, err
		}
		if in.BillingCycle == "" {
			in.BillingCycle = model.BillingCycleMonthly
		}
		req.Amount = plan.Price(in.BillingCycle)
		req.Scope = adapter.ScopePlatform
		meta[model.MetaKeyPlanID] = plan.ID
		meta[model.MetaKeyBillingCycle] = in.BillingCycle
	} else {
		creds, err := u.businesses.FindDarajaCredentials(ctx, repository.NoTX, in.BusinessID)
		if err != nil {
			return nil, nil, err
		}
		req.Credentials = creds
	}

	res, err := u.gateway.InitiateStkPush(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if !res.OK {
		u.log.Warn().Str("business_id", in.BusinessID).Str("message", res.Message).Msg("stk push declined by gateway")
		return nil, res, nil
	}
	meta["strategy"] = res.Strategy

	now := time.Now()
	intent := &model.PaymentIntent{
		ID:                ulid.Make().String(),
		BusinessID:        in.BusinessID,
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		Phone:             in.Phone,
		Amount:            req.Amount,
		AccountReference:  in.AccountReference,
		Status:            model.IntentStatusPending,
		RawResponse:       res.Raw,
		Meta:              meta,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// The intent (and pending subscription) must be durable before the
	// initiation response returns, so a racing callback has a row to find.
	if plan != nil {
		sub, err := model.NewPendingSubscription(uuid.NewString(), in.BusinessID, plan, in.BillingCycle, &res.CheckoutRequestID)
		if err != nil {
			return nil, nil, err
		}
		if err := u.subs.Save(ctx, repository.NoTX, sub); err != nil {
			return nil, nil, err
		}
		intent.SubscriptionID = &sub.ID
	}
	if err := u.intents.Save(ctx, repository.NoTX, intent); err != nil {
		return nil, nil, err
	}

	metrics.IncStkPush("initiated")
	u.log.Info().
		Str("business_id", in.BusinessID).
		Str("checkout_request_id", res.CheckoutRequestID).
		Int64("amount", req.Amount).
		Msg("payment intent created")
	return intent, res, nil
}

func (u *paymentUC) Lookup(ctx context.Context, tx repository.Tx, key ResolveKey) (*model.PaymentIntent, error) {
	if key.CheckoutRequestID != "" {
		p, err := u.intents.FindByCheckoutID(ctx, tx, key.CheckoutRequestID)
		if err == nil {
			return p, nil
		}
		if err != domain.ErrNotFound {
			return nil, err
		}
	}
	if key.Receipt != "" {
		return u.intents.FindByReceipt(ctx, tx, key.Receipt)
	}
	return nil, domain.ErrNotFound
}

func (u *paymentUC) Resolve(ctx context.Context, tx repository.Tx, key ResolveKey, resultCode int, receipt *string, raw map[string]interface{}) (*model.PaymentIntent, error) {
	p, err := u.Lookup(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if p.Resolved() {
		if p.SameOutcome(resultCode) {
			return p, nil
		}
		// The original resolution wins; this is an integrity fault worth an
		// error-level event, not a silent overwrite.
		u.log.Error().
			Str("intent_id", p.ID).
			Str("checkout_request_id", p.CheckoutRequestID).
			Str("recorded_status", string(p.Status)).
			Int("incoming_result_code", resultCode).
			Msg("conflicting resolution for already-resolved intent")
		return p, domain.ErrConflictingResolution
	}

	status := model.IntentStatusFailed
	if resultCode == 0 {
		status = model.IntentStatusSuccess
	}
	now := time.Now()
	updated, err := u.intents.MarkResolved(ctx, tx, p.ID, status, resultCode, receipt, raw, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		// Lost the race to another resolver; re-read and re-check outcome.
		fresh, ferr := u.Lookup(ctx, tx, key)
		if ferr != nil {
			return nil, ferr
		}
		if !fresh.SameOutcome(resultCode) {
			u.log.Error().Str("intent_id", fresh.ID).Msg("conflicting resolution raced ahead")
			return fresh, domain.ErrConflictingResolution
		}
		return fresh, nil
	}

	p.Status = status
	p.ResultCode = &resultCode
	p.Receipt = receipt
	if raw != nil {
		p.RawResponse = raw
	}
	p.ResolvedAt = &now
	p.UpdatedAt = now
	metrics.IncStkPush(string(status))
	return p, nil
}
