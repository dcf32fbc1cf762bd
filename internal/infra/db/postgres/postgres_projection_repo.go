package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/repository"
)

var _ repository.ProjectionRepository = (*projectionRepo)(nil)

// projectionRepo maintains the subscription_payments reporting table. Upserts
// are keyed by checkout request id; the table can always be rebuilt from the
// intent ledger and subscriptions.
type projectionRepo struct{ pool *pgxpool.Pool }

func NewProjectionRepo(pool *pgxpool.Pool) *projectionRepo {
	return &projectionRepo{pool: pool}
}

const projectionColumns = `checkout_request_id, business_id, business_name, plan_name, phone, amount, receipt, status, approval_status, created_at, updated_at`

func (r *projectionRepo) Upsert(ctx context.Context, tx repository.Tx, sp *model.SubscriptionPayment) error {
	const q = `
INSERT INTO subscription_payments (
  checkout_request_id, business_id, business_name, plan_name, phone, amount, receipt, status, approval_status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (checkout_request_id) DO UPDATE SET
  business_name=$3, plan_name=$4, receipt=$7, status=$8, approval_status=$9, updated_at=$11;`

	_, err := execSQL(ctx, r.pool, tx, q, sp.CheckoutRequestID, sp.BusinessID, sp.BusinessName, sp.PlanName, sp.Phone, sp.Amount, sp.Receipt, sp.Status, sp.ApprovalStatus, sp.CreatedAt, sp.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *projectionRepo) FindByCheckoutID(ctx context.Context, tx repository.Tx, checkoutRequestID string) (*model.SubscriptionPayment, error) {
	const q = `SELECT ` + projectionColumns + ` FROM subscription_payments WHERE checkout_request_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	sp := &model.SubscriptionPayment{}
	if err := row.Scan(&sp.CheckoutRequestID, &sp.BusinessID, &sp.BusinessName, &sp.PlanName, &sp.Phone, &sp.Amount, &sp.Receipt, &sp.Status, &sp.ApprovalStatus, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return sp, nil
}

func (r *projectionRepo) List(ctx context.Context, tx repository.Tx, offset, limit int) ([]*model.SubscriptionPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT ` + projectionColumns + ` FROM subscription_payments ORDER BY updated_at DESC OFFSET $1 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, offset, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.SubscriptionPayment
	for rows.Next() {
		sp := new(model.SubscriptionPayment)
		if err := rows.Scan(&sp.CheckoutRequestID, &sp.BusinessID, &sp.BusinessName, &sp.PlanName, &sp.Phone, &sp.Amount, &sp.Receipt, &sp.Status, &sp.ApprovalStatus, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, sp)
	}
	return out, nil
}

// --- Notifications ---

var _ repository.NotificationRepository = (*notificationRepo)(nil)

type notificationRepo struct{ pool *pgxpool.Pool }

func NewNotificationRepo(pool *pgxpool.Pool) *notificationRepo {
	return &notificationRepo{pool: pool}
}

func (r *notificationRepo) Save(ctx context.Context, tx repository.Tx, n *model.Notification) error {
	const q = `
INSERT INTO notifications (id, user_id, business_id, kind, title, body, read_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`
	_, err := execSQL(ctx, r.pool, tx, q, n.ID, n.UserID, n.BusinessID, n.Kind, n.Title, n.Body, n.ReadAt, n.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *notificationRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT id, user_id, business_id, kind, title, body, read_at, created_at FROM notifications WHERE user_id=$1 ORDER BY created_at DESC OFFSET $2 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID, offset, limit)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		n := new(model.Notification)
		if err := rows.Scan(&n.ID, &n.UserID, &n.BusinessID, &n.Kind, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, n)
	}
	return out, nil
}
