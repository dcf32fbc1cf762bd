package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/ports/repository"
	infraredis "mpesa-subscription-billing/internal/infra/redis"
	"mpesa-subscription-billing/internal/usecase"
)

const reconcilerLockKey = "locks:payment-reconciler"

// PaymentReconciler periodically scans for stale pending intents and drives
// them through the status check, which queries the gateway and finalizes
// conclusive outcomes. This covers lost callbacks and crashes mid-activation.
//
// Each sweep takes a Redis lock so multiple replicas do not hammer the
// gateway with duplicate queries; missing the lock just skips the tick.
type PaymentReconciler struct {
	statusUC   usecase.StatusUseCase
	intents    repository.IntentRepository
	locker     infraredis.Locker
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewPaymentReconciler(
	statusUC usecase.StatusUseCase,
	intents repository.IntentRepository,
	locker infraredis.Locker,
	interval, staleAfter time.Duration,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		statusUC:   statusUC,
		intents:    intents,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		log:        &l,
	}
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	token, err := w.locker.TryLock(ctx, reconcilerLockKey, w.interval)
	if err != nil {
		if !errors.Is(err, domain.ErrLockNotAcquired) {
			w.log.Warn().Err(err).Msg("reconciler lock error")
		}
		return
	}
	defer func() {
		if uerr := w.locker.Unlock(ctx, reconcilerLockKey, token); uerr != nil {
			w.log.Warn().Err(uerr).Msg("reconciler unlock failed")
		}
	}()

	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.intents.ListPendingOlderThan(ctx, repository.NoTX, cutoff, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending intents failed")
		return
	}
	if len(pending) == 0 {
		return
	}
	w.log.Info().Int("count", len(pending)).Msg("reconciling stale pending intents")

	for _, p := range pending {
		if p.CheckoutRequestID == "" {
			continue
		}
		state, _, err := w.statusUC.Check(ctx, p.CheckoutRequestID)
		if err != nil {
			w.log.Warn().Err(err).
				Str("intent_id", p.ID).
				Str("checkout_request_id", p.CheckoutRequestID).
				Msg("reconcile attempt failed")
			continue
		}
		if state != usecase.PaymentStatePending {
			w.log.Info().
				Str("intent_id", p.ID).
				Str("state", string(state)).
				Msg("stale intent reconciled")
		}
	}
}
