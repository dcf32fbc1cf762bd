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

var _ repository.IntentRepository = (*intentRepo)(nil)

type intentRepo struct{ pool *pgxpool.Pool }

func NewIntentRepo(pool *pgxpool.Pool) *intentRepo {
	return &intentRepo{pool: pool}
}

const intentColumns = `id, business_id, subscription_id, checkout_request_id, merchant_request_id, phone, amount, account_reference, status, result_code, receipt, raw_response, meta, created_at, updated_at, resolved_at`

func (r *intentRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentIntent) error {
	const q = `
INSERT INTO payment_intents (
  id, business_id, subscription_id, checkout_request_id, merchant_request_id, phone, amount, account_reference, status, result_code, receipt, raw_response, meta, created_at, updated_at, resolved_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
) ON CONFLICT (id) DO UPDATE SET
  subscription_id=$3, status=$9, result_code=$10, receipt=$11, raw_response=$12, meta=$13, updated_at=$15, resolved_at=$16;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.BusinessID, p.SubscriptionID, p.CheckoutRequestID, p.MerchantRequestID, p.Phone, p.Amount, p.AccountReference, p.Status, p.ResultCode, p.Receipt, p.RawResponse, p.Meta, p.CreatedAt, p.UpdatedAt, p.ResolvedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *intentRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE checkout_request_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.scanOne(ctx, tx, q, checkoutRequestID)
}

func (r *intentRepo) FindByReceipt(ctx context.Context, tx repository.Tx, receipt string) (*model.PaymentIntent, error) {
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE receipt=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += " LIMIT 1;"
	return r.scanOne(ctx, tx, q, receipt)
}

func (r *intentRepo) scanOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.PaymentIntent, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p := &model.PaymentIntent{}
	if err := row.Scan(&p.ID, &p.BusinessID, &p.SubscriptionID, &p.CheckoutRequestID, &p.MerchantRequestID, &p.Phone, &p.Amount, &p.AccountReference, &p.Status, &p.ResultCode, &p.Receipt, &p.RawResponse, &p.Meta, &p.CreatedAt, &p.UpdatedAt, &p.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return p, nil
}

// MarkResolved only touches rows still pending, so a terminal resolution can
// never be overwritten at the storage level.
func (r *intentRepo) MarkResolved(ctx context.Context, tx repository.Tx, id string, status model.IntentStatus, resultCode int, receipt *string, raw map[string]interface{}, resolvedAt time.Time) (bool, error) {
	const q = `
UPDATE payment_intents
   SET status=$2,
       result_code=$3,
       receipt=COALESCE($4, receipt),
       raw_response=COALESCE($5, raw_response),
       resolved_at=$6,
       updated_at=NOW()
 WHERE id=$1
   AND status='pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, status, resultCode, receipt, raw, resolvedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *intentRepo) SetSubscriptionID(ctx context.Context, tx repository.Tx, id, subscriptionID string) error {
	const q = `UPDATE payment_intents SET subscription_id=$2, updated_at=NOW() WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, subscriptionID)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *intentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentIntent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + intentColumns + ` FROM payment_intents WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentIntent
	for rows.Next() {
		p := new(model.PaymentIntent)
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.SubscriptionID, &p.CheckoutRequestID, &p.MerchantRequestID, &p.Phone, &p.Amount, &p.AccountReference, &p.Status, &p.ResultCode, &p.Receipt, &p.RawResponse, &p.Meta, &p.CreatedAt, &p.UpdatedAt, &p.ResolvedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, nil
}
