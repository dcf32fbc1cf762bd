package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, business_id, plan_id, plan_name, amount, currency, status, is_active, is_verified, checkout_request_id, mpesa_receipt, billing_cycle, starts_at, ends_at, activated_at, payment_confirmed_at, cancelled_at, cancel_reason, cancel_code, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, business_id, plan_id, plan_name, amount, currency, status, is_active, is_verified, checkout_request_id, mpesa_receipt, billing_cycle, starts_at, ends_at, activated_at, payment_confirmed_at, cancelled_at, cancel_reason, cancel_code, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
) ON CONFLICT (id) DO UPDATE SET
  status=$7, is_active=$8, is_verified=$9, checkout_request_id=$10, mpesa_receipt=$11, starts_at=$13, ends_at=$14, activated_at=$15, payment_confirmed_at=$16, cancelled_at=$17, cancel_reason=$18, cancel_code=$19, updated_at=$21;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.BusinessID, s.PlanID, s.PlanName, s.Amount, s.Currency, s.Status, s.IsActive, s.IsVerified, s.CheckoutRequestID, s.MpesaReceipt, s.BillingCycle, s.StartsAt, s.EndsAt, s.ActivatedAt, s.PaymentConfirmedAt, s.CancelledAt, s.CancelReason, s.CancelCode, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.scanOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE checkout_request_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += " LIMIT 1;"
	return r.scanOne(ctx, tx, q, checkoutRequestID)
}

func (r *subscriptionRepo) FindLatestPendingByBusinessAndAmount(ctx context.Context, tx repository.Tx, businessID string, amount int64, notBefore time.Time) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions
 WHERE business_id=$1 AND amount=$2 AND status='pending' AND created_at >= $3
 ORDER BY created_at DESC`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += " LIMIT 1;"
	return r.scanOne(ctx, tx, q, businessID, amount, notBefore)
}

func (r *subscriptionRepo) CountActiveByBusiness(ctx context.Context, tx repository.Tx, businessID string) (int, error) {
	const q = `SELECT COUNT(*) FROM subscriptions WHERE business_id=$1 AND status='active' AND is_active=TRUE;`
	row, err := pickRow(ctx, r.pool, tx, q, businessID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *subscriptionRepo) scanOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s := &model.Subscription{}
	if err := row.Scan(&s.ID, &s.BusinessID, &s.PlanID, &s.PlanName, &s.Amount, &s.Currency, &s.Status, &s.IsActive, &s.IsVerified, &s.CheckoutRequestID, &s.MpesaReceipt, &s.BillingCycle, &s.StartsAt, &s.EndsAt, &s.ActivatedAt, &s.PaymentConfirmedAt, &s.CancelledAt, &s.CancelReason, &s.CancelCode, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return s, nil
}

// --- Billing plans ---

var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct{ pool *pgxpool.Pool }

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.BillingPlan) error {
	const q = `
INSERT INTO billing_plans (id, name, price_monthly, price_yearly, features, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET name=$2, price_monthly=$3, price_yearly=$4, features=$5, updated_at=$7;`
	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.PriceMonthly, p.PriceYearly, p.Features, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BillingPlan, error) {
	const q = `SELECT id, name, price_monthly, price_yearly, features, created_at, updated_at FROM billing_plans WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p := &model.BillingPlan{}
	if err := row.Scan(&p.ID, &p.Name, &p.PriceMonthly, &p.PriceYearly, &p.Features, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

func (r *planRepo) List(ctx context.Context, tx repository.Tx) ([]*model.BillingPlan, error) {
	const q = `SELECT id, name, price_monthly, price_yearly, features, created_at, updated_at FROM billing_plans ORDER BY price_monthly ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.BillingPlan
	for rows.Next() {
		p := new(model.BillingPlan)
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceMonthly, &p.PriceYearly, &p.Features, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, nil
}
