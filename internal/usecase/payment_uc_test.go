//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/adapter"
	"mpesa-subscription-billing/internal/domain/ports/repository"
	"mpesa-subscription-billing/internal/usecase"
)

type paymentDeps struct {
	intents    *MockIntentRepo
	subs       *MockSubscriptionRepo
	plans      *MockPlanRepo
	businesses *MockBusinessRepo
	gateway    *MockGateway
}

func newPaymentDeps() *paymentDeps {
	return &paymentDeps{
		intents:    NewMockIntentRepo(),
		subs:       NewMockSubscriptionRepo(),
		plans:      NewMockPlanRepo(),
		businesses: NewMockBusinessRepo(),
		gateway:    &MockGateway{},
	}
}

func (d *paymentDeps) uc() usecase.PaymentUseCase {
	return usecase.NewPaymentUseCase(d.intents, d.subs, d.plans, d.businesses, d.gateway, newTestLogger())
}

func TestPaymentUseCase_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("subscription payment uses plan price and records pending rows", func(t *testing.T) {
		deps := newPaymentDeps()
		deps.plans.Save(ctx, repository.NoTX, &model.BillingPlan{ID: "plan-1", Name: "Growth", PriceMonthly: 3500, PriceYearly: 35000})

		var pushed adapter.StkPushRequest
		deps.gateway.InitiateFunc = func(ctx context.Context, req adapter.StkPushRequest) (*adapter.StkPushResult, error) {
			pushed = req
			return &adapter.StkPushResult{OK: true, CheckoutRequestID: "ws_CO_42", MerchantRequestID: "mr_42", Strategy: "head_office"}, nil
		}

		intent, res, err := deps.uc().Initiate(ctx, usecase.InitiateInput{
			BusinessID:   "biz-1",
			Phone:        "254700000001",
			Amount:       999, // must be ignored
			Type:         model.MetaTypeSubscription,
			PlanID:       "plan-1",
			BillingCycle: model.BillingCycleMonthly,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.OK {
			t.Fatal("expected accepted push")
		}
		if pushed.Amount != 3500 {
			t.Errorf("pushed amount = %d, want plan price 3500", pushed.Amount)
		}
		if pushed.Scope != adapter.ScopePlatform {
			t.Errorf("scope = %s, want platform for subscription payments", pushed.Scope)
		}
		if intent.Status != model.IntentStatusPending {
			t.Errorf("intent status = %s, want pending", intent.Status)
		}
		if intent.SubscriptionID == nil {
			t.Fatal("expected a pending subscription to be created and linked")
		}
		sub := deps.subs.Get(*intent.SubscriptionID)
		if sub == nil || sub.Status != model.SubscriptionStatusPending {
			t.Fatalf("linked subscription not pending: %+v", sub)
		}
		if sub.CheckoutRequestID == nil || *sub.CheckoutRequestID != "ws_CO_42" {
			t.Error("subscription not correlated to checkout id")
		}
	})

	t.Run("declined push writes nothing", func(t *testing.T) {
		deps := newPaymentDeps()
		deps.plans.Save(ctx, repository.NoTX, &model.BillingPlan{ID: "plan-1", PriceMonthly: 3500})
		deps.gateway.InitiateFunc = func(ctx context.Context, req adapter.StkPushRequest) (*adapter.StkPushResult, error) {
			return &adapter.StkPushResult{OK: false, Message: "Invalid PhoneNumber"}, nil
		}

		intent, res, err := deps.uc().Initiate(ctx, usecase.InitiateInput{
			BusinessID: "biz-1",
			Phone:      "0712",
			Type:       model.MetaTypeSubscription,
			PlanID:     "plan-1",
		})
		if err != nil {
			t.Fatalf("a gateway decline is not a Go error: %v", err)
		}
		if intent != nil {
			t.Error("no intent row expected for a declined push")
		}
		if res.OK {
			t.Error("expected OK=false")
		}
	})

	t.Run("pos payment requires business credentials", func(t *testing.T) {
		deps := newPaymentDeps()

		_, _, err := deps.uc().Initiate(ctx, usecase.InitiateInput{
			BusinessID: "biz-1",
			Phone:      "254700000001",
			Amount:     250,
			Type:       "pos",
		})
		if !errors.Is(err, domain.ErrNoGatewayCredentials) {
			t.Fatalf("expected ErrNoGatewayCredentials, got %v", err)
		}
	})

	t.Run("missing business or phone is rejected", func(t *testing.T) {
		deps := newPaymentDeps()
		if _, _, err := deps.uc().Initiate(ctx, usecase.InitiateInput{Phone: "254700000001"}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestPaymentUseCase_Resolve(t *testing.T) {
	ctx := context.Background()

	seed := func(deps *paymentDeps) *model.PaymentIntent {
		p := &model.PaymentIntent{
			ID:                "01JTESTRESOLVE000000000001",
			BusinessID:        "biz-1",
			CheckoutRequestID: "ws_CO_7",
			Amount:            3500,
			Status:            model.IntentStatusPending,
			CreatedAt:         time.Now(),
		}
		deps.intents.Save(ctx, repository.NoTX, p)
		return p
	}

	t.Run("records success with receipt", func(t *testing.T) {
		deps := newPaymentDeps()
		p := seed(deps)

		got, err := deps.uc().Resolve(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_7"}, 0, strPtr("SFCAAA111"), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != model.IntentStatusSuccess {
			t.Errorf("status = %s, want success", got.Status)
		}
		stored := deps.intents.Get(p.ID)
		if stored.Receipt == nil || *stored.Receipt != "SFCAAA111" {
			t.Error("receipt not persisted")
		}
		if stored.ResolvedAt == nil {
			t.Error("resolved_at not set")
		}
	})

	t.Run("same outcome twice is a no-op", func(t *testing.T) {
		deps := newPaymentDeps()
		seed(deps)
		uc := deps.uc()

		if _, err := uc.Resolve(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_7"}, 0, strPtr("SFCAAA111"), nil); err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		got, err := uc.Resolve(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_7"}, 0, strPtr("SFCAAA111"), nil)
		if err != nil {
			t.Fatalf("idempotent re-resolve must not error: %v", err)
		}
		if got.Status != model.IntentStatusSuccess {
			t.Errorf("status = %s, want success", got.Status)
		}
	})

	t.Run("conflicting outcome returns ErrConflictingResolution and keeps original", func(t *testing.T) {
		deps := newPaymentDeps()
		p := seed(deps)
		uc := deps.uc()

		if _, err := uc.Resolve(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_7"}, 1032, nil, nil); err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		_, err := uc.Resolve(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_7"}, 0, strPtr("SFCBBB222"), nil)
		if !errors.Is(err, domain.ErrConflictingResolution) {
			t.Fatalf("expected ErrConflictingResolution, got %v", err)
		}
		if deps.intents.Get(p.ID).Status != model.IntentStatusFailed {
			t.Error("original failed verdict must stand")
		}
	})

	t.Run("unknown key returns ErrNotFound", func(t *testing.T) {
		deps := newPaymentDeps()
		_, err := deps.uc().Resolve(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_MISSING"}, 0, nil, nil)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPaymentUseCase_Lookup(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentDeps()

	receipt := "SFCLOOKUP1"
	deps.intents.Save(ctx, repository.NoTX, &model.PaymentIntent{
		ID:                "01JTESTLOOKUP0000000000001",
		CheckoutRequestID: "ws_CO_9",
		Receipt:           &receipt,
		Status:            model.IntentStatusSuccess,
	})
	uc := deps.uc()

	if p, err := uc.Lookup(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_9"}); err != nil || p == nil {
		t.Errorf("lookup by checkout id failed: %v", err)
	}
	if p, err := uc.Lookup(ctx, repository.NoTX, usecase.ResolveKey{Receipt: receipt}); err != nil || p == nil {
		t.Errorf("lookup by receipt failed: %v", err)
	}
	// Checkout id misses fall through to the receipt.
	if p, err := uc.Lookup(ctx, repository.NoTX, usecase.ResolveKey{CheckoutRequestID: "ws_CO_NOPE", Receipt: receipt}); err != nil || p == nil {
		t.Errorf("fallback lookup failed: %v", err)
	}
	if _, err := uc.Lookup(ctx, repository.NoTX, usecase.ResolveKey{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("empty key must return ErrNotFound, got %v", err)
	}
}
