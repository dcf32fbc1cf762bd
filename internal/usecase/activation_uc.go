package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
	"mpesa-subscription-billing/internal/domain/ports/repository"
	"mpesa-subscription-billing/internal/infra/metrics"
)

// Compile-time check
var _ ActivationUseCase = (*activationUC)(nil)

// heuristicMatchWindow bounds the fallback matcher to recent pending
// subscriptions. The match by (business, amount, most recent pending) is
// inherently ambiguous when two pending subscriptions share an amount; the
// window narrows the exposure but does not remove it.
const heuristicMatchWindow = 24 * time.Hour

// ResolutionData is the uniform payload every reconciliation entry point
// (webhook, status poll, manual finalize, reconciler) hands to Finalize.
type ResolutionData struct {
	CheckoutRequestID string
	MpesaReceipt      string
	ResultCode        *int
	Phone             string
	Amount            int64
	Raw               map[string]interface{}
}

type ActivationUseCase interface {
	// Finalize converges a payment intent and its subscription to a terminal
	// state. It is safe to call any number of times, in any order, from any
	// entry point, for the same payment: at most one activation happens.
	//
	// Returns true when the payment is confirmed and the subscription is (or
	// already was) active; false for failures, ambiguous input, and confirmed
	// payments with no subscription linkage (plain POS collections).
	Finalize(ctx context.Context, d ResolutionData) (bool, error)
}

type activationUC struct {
	intents    repository.IntentRepository
	subs       repository.SubscriptionRepository
	plans      repository.PlanRepository
	businesses repository.BusinessRepository
	users      repository.UserRepository
	projection repository.ProjectionRepository
	payments   PaymentUseCase
	tm         repository.TransactionManager
	notifier   adapter.Notifier
	events     adapter.EventPublisher
	log        *zerolog.Logger
}

func NewActivationUseCase(
	intents repository.IntentRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	businesses repository.BusinessRepository,
	users repository.UserRepository,
	projection repository.ProjectionRepository,
	payments PaymentUseCase,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	events adapter.EventPublisher,
	logger *zerolog.Logger,
) *activationUC {
	l := logger.With().Str("component", "ActivationUC").Logger()
	return &activationUC{
		intents: intents, subs: subs, plans: plans, businesses: businesses,
		users: users, projection: projection, payments: payments, tm: tm,
		notifier: notifier, events: events, log: &l,
	}
}

type fanoutPayload struct {
	ev    adapter.ActivationEvent
	owner *model.User
}

func (u *activationUC) Finalize(ctx context.Context, d ResolutionData) (bool, error) {
	key := ResolveKey{CheckoutRequestID: d.CheckoutRequestID, Receipt: d.MpesaReceipt}

	intent, err := u.payments.Lookup(ctx, repository.NoTX, key)
	if errors.Is(err, domain.ErrNotFound) {
		u.log.Info().
			Str("checkout_request_id", d.CheckoutRequestID).
			Str("receipt", d.MpesaReceipt).
			Msg("no payment intent to reconcile yet")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rc := d.ResultCode
	if rc == nil {
		rc = intent.ResultCode
	}
	if rc == nil {
		// Incomplete callback: no result code supplied and none on record.
		// Not a failure; a later trigger will carry the verdict.
		u.log.Info().Str("intent_id", intent.ID).Msg("resolution without result code, skipping")
		return false, nil
	}

	if *rc != 0 {
		if err := u.finalizeFailure(ctx, intent, key, *rc, d); err != nil {
			if errors.Is(err, domain.ErrConflictingResolution) {
				return false, nil
			}
			return false, err
		}
		return false, nil
	}

	activated, payload, err := u.finalizeSuccess(ctx, intent, key, d)
	if err != nil {
		if errors.Is(err, domain.ErrConflictingResolution) {
			return false, nil
		}
		return false, err
	}
	if payload != nil {
		u.fanOut(ctx, *payload)
	}
	return activated, nil
}

// finalizeFailure records a confirmed non-zero result code: ledger resolved
// failed, linked subscription (if any) cancelled, projection updated.
func (u *activationUC) finalizeFailure(ctx context.Context, intent *model.PaymentIntent, key ResolveKey, rc int, d ResolutionData) error {
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		resolved, err := u.payments.Resolve(ctx, tx, key, rc, nil, d.Raw)
		if err != nil {
			return err
		}

		sub, err := u.resolveSubscription(ctx, tx, resolved)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := time.Now()
		if sub != nil && sub.Status == model.SubscriptionStatusPending {
			sub.Cancel(fmt.Sprintf("gateway result code %d", rc), rc, now)
			if err := u.subs.Save(ctx, tx, sub); err != nil {
				return err
			}
		}

		if err := u.upsertProjection(ctx, tx, resolved, sub, model.IntentStatusFailed, model.ApprovalStatusRejected); err != nil {
			return err
		}

		metrics.IncActivation("cancelled")
		u.log.Info().
			Str("intent_id", resolved.ID).
			Int("result_code", rc).
			Bool("subscription_cancelled", sub != nil).
			Msg("payment failure recorded")
		return nil
	})
}

// finalizeSuccess runs the all-or-nothing activation unit. Everything up to
// the commit happens against the same transaction; the intent row is read
// FOR UPDATE first so concurrent finalizers for one payment serialize and the
// loser observes the already-active subscription.
func (u *activationUC) finalizeSuccess(ctx context.Context, intent *model.PaymentIntent, key ResolveKey, d ResolutionData) (bool, *fanoutPayload, error) {
	var (
		activated bool
		payload   *fanoutPayload
	)

	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		locked, err := u.payments.Lookup(ctx, tx, key)
		if err != nil {
			return err
		}

		sub, err := u.resolveSubscription(ctx, tx, locked)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		freshlyCreated := false
		if sub == nil {
			sub, freshlyCreated, err = u.matchOrCreateSubscription(ctx, tx, locked, d)
			if err != nil {
				return err
			}
		}

		receipt := firstNonEmpty(d.MpesaReceipt, deref(locked.Receipt))
		var receiptPtr *string
		if receipt != "" {
			receiptPtr = &receipt
		} else {
			// Daraja status queries do not return the receipt, so a confirmed
			// payment can land here without one. The resolution proceeds; the
			// null receipt needs manual follow-up.
			u.log.Warn().Str("intent_id", locked.ID).Msg("success resolution without receipt")
		}

		if sub == nil {
			// Confirmed payment with no subscription relevance (POS sale).
			// The ledger still gets its terminal resolution.
			if _, err := u.payments.Resolve(ctx, tx, key, 0, receiptPtr, d.Raw); err != nil {
				return err
			}
			metrics.IncActivation("unmatched")
			u.log.Info().Str("intent_id", locked.ID).Msg("payment confirmed without subscription linkage")
			return nil
		}

		if !freshlyCreated && sub.Status == model.SubscriptionStatusActive {
			// Another trigger already activated; converge with no new side
			// effects. This short-circuit is what makes every entry point
			// safe to fire concurrently.
			if !locked.Resolved() {
				if _, err := u.payments.Resolve(ctx, tx, key, 0, receiptPtr, d.Raw); err != nil {
					return err
				}
			}
			activated = true
			metrics.IncActivation("idempotent")
			return nil
		}

		now := time.Now()
		sub.Activate(receipt, now)
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return err
		}

		business, err := u.businesses.FindByID(ctx, tx, sub.BusinessID)
		if err != nil {
			return err
		}
		business.IsActive = true
		business.PlanID = &sub.PlanID
		business.PlanEndsAt = sub.EndsAt
		business.UpdatedAt = now
		if err := u.businesses.Save(ctx, tx, business); err != nil {
			return err
		}

		owner, err := u.users.FindByID(ctx, tx, business.OwnerID)
		if err != nil {
			return err
		}
		if !owner.IsActive {
			owner.IsActive = true
			owner.UpdatedAt = now
			if err := u.users.Save(ctx, tx, owner); err != nil {
				return err
			}
		}

		if _, err := u.payments.Resolve(ctx, tx, key, 0, receiptPtr, d.Raw); err != nil {
			return err
		}
		if locked.SubscriptionID == nil || *locked.SubscriptionID != sub.ID {
			if err := u.intents.SetSubscriptionID(ctx, tx, locked.ID, sub.ID); err != nil {
				return err
			}
		}

		locked.Receipt = receiptPtr
		if err := u.upsertProjection(ctx, tx, locked, sub, model.IntentStatusSuccess, model.ApprovalStatusApproved); err != nil {
			return err
		}

		activated = true
		payload = &fanoutPayload{
			ev: adapter.ActivationEvent{
				BusinessID:        business.ID,
				BusinessName:      business.Name,
				SubscriptionID:    sub.ID,
				PlanName:          sub.PlanName,
				Amount:            sub.Amount,
				Receipt:           receipt,
				CheckoutRequestID: locked.CheckoutRequestID,
			},
			owner: owner,
		}
		metrics.IncActivation("activated")
		u.log.Info().
			Str("intent_id", locked.ID).
			Str("subscription_id", sub.ID).
			Str("business_id", business.ID).
			Msg("subscription activated")
		return nil
	})
	if err != nil {
		return false, nil, err
	}

	if payload != nil {
		// Duplicate detection happens after commit on purpose: the design
		// tolerates a second concurrently-active subscription and alerts on
		// it rather than preventing it.
		if n, cerr := u.subs.CountActiveByBusiness(ctx, repository.NoTX, payload.ev.BusinessID); cerr == nil {
			payload.ev.DuplicateActive = n
		}
	}
	return activated, payload, nil
}

// resolveSubscription finds the subscription for an intent: explicit linkage
// first, then checkout id correlation. A miss is not an error here.
func (u *activationUC) resolveSubscription(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent) (*model.Subscription, error) {
	if intent.SubscriptionID != nil {
		return u.subs.FindByID(ctx, tx, *intent.SubscriptionID)
	}
	if intent.CheckoutRequestID != "" {
		return u.subs.FindByCheckoutID(ctx, tx, intent.CheckoutRequestID)
	}
	return nil, domain.ErrNotFound
}

// matchOrCreateSubscription covers step 5a/5b of the success path: lazy
// creation from subscription-typed metadata, then the heuristic fallback for
// receipt-only resolutions. A nil subscription with nil error means the
// payment is simply not subscription-relevant.
func (u *activationUC) matchOrCreateSubscription(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, d ResolutionData) (*model.Subscription, bool, error) {
	if planID, cycle, ok := intent.SubscriptionIntent(); ok {
		plan, err := u.plans.FindByID(ctx, tx, planID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				u.log.Warn().Str("intent_id", intent.ID).Str("plan_id", planID).Msg("subscription metadata references unknown plan")
				return nil, false, nil
			}
			return nil, false, err
		}
		var checkoutID *string
		if intent.CheckoutRequestID != "" {
			id := intent.CheckoutRequestID
			checkoutID = &id
		}
		sub, err := model.NewPendingSubscription(uuid.NewString(), intent.BusinessID, plan, cycle, checkoutID)
		if err != nil {
			return nil, false, err
		}
		if err := u.subs.Save(ctx, tx, sub); err != nil {
			return nil, false, err
		}
		u.log.Info().Str("intent_id", intent.ID).Str("subscription_id", sub.ID).Msg("subscription created lazily from payment metadata")
		return sub, true, nil
	}

	if d.CheckoutRequestID == "" {
		// Receipt-only confirmation with no explicit linkage: best-effort
		// match against the most recent pending subscription of the same
		// business and amount. Ambiguous by design when amounts collide.
		sub, err := u.subs.FindLatestPendingByBusinessAndAmount(ctx, tx, intent.BusinessID, intent.Amount, time.Now().Add(-heuristicMatchWindow))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		u.log.Warn().
			Str("intent_id", intent.ID).
			Str("subscription_id", sub.ID).
			Msg("subscription matched heuristically by business and amount")
		return sub, false, nil
	}

	return nil, false, nil
}

// upsertProjection refreshes the operator-facing payment row. A nil sub
// records the attempt without plan context (non-subscription failures).
func (u *activationUC) upsertProjection(ctx context.Context, tx repository.Tx, intent *model.PaymentIntent, sub *model.Subscription, status model.IntentStatus, approval model.ApprovalStatus) error {
	businessName := ""
	if b, err := u.businesses.FindByID(ctx, tx, intent.BusinessID); err == nil {
		businessName = b.Name
	}
	planName := ""
	if sub != nil {
		planName = sub.PlanName
	}
	now := time.Now()
	return u.projection.Upsert(ctx, tx, &model.SubscriptionPayment{
		CheckoutRequestID: intent.CheckoutRequestID,
		BusinessID:        intent.BusinessID,
		BusinessName:      businessName,
		PlanName:          planName,
		Phone:             intent.Phone,
		Amount:            intent.Amount,
		Receipt:           intent.Receipt,
		Status:            status,
		ApprovalStatus:    approval,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

// fanOut delivers post-commit side effects. Every channel is wrapped so a
// panic or error in delivery is logged and swallowed, never propagated to
// the caller of Finalize.
func (u *activationUC) fanOut(ctx context.Context, p fanoutPayload) {
	u.safely("events", func() error { return u.events.PublishActivation(ctx, p.ev) })
	u.safely("owner", func() error { return u.notifier.NotifyOwner(ctx, p.owner, p.ev) })
	u.safely("admins", func() error { return u.notifier.NotifyAdmins(ctx, p.ev) })
	if p.ev.DuplicateActive > 1 {
		metrics.IncDuplicateActiveAlert()
		u.safely("duplicate_alert", func() error { return u.notifier.AlertDuplicateActive(ctx, p.ev) })
	}
}

func (u *activationUC) safely(channel string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncFanoutFailure(channel)
			u.log.Error().Interface("panic", r).Str("channel", channel).Msg("notification delivery panicked")
		}
	}()
	if err := fn(); err != nil {
		metrics.IncFanoutFailure(channel)
		u.log.Error().Err(err).Str("channel", channel).Msg("notification delivery failed")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
