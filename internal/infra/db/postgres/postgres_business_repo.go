package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mpesa-subscription-billing/internal/domain"
	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/repository"
	"mpesa-subscription-billing/internal/infra/security"
)

var _ repository.BusinessRepository = (*businessRepo)(nil)

// businessRepo persists businesses and their gateway credentials. Credentials
// are sealed with the credential cipher before they touch the database.
type businessRepo struct {
	pool   *pgxpool.Pool
	cipher *security.CredentialCipher
}

func NewBusinessRepo(pool *pgxpool.Pool, cipher *security.CredentialCipher) *businessRepo {
	return &businessRepo{pool: pool, cipher: cipher}
}

func (r *businessRepo) Save(ctx context.Context, tx repository.Tx, b *model.Business) error {
	const q = `
INSERT INTO businesses (id, name, owner_id, is_active, plan_id, plan_ends_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET name=$2, is_active=$4, plan_id=$5, plan_ends_at=$6, updated_at=$8;`
	_, err := execSQL(ctx, r.pool, tx, q, b.ID, b.Name, b.OwnerID, b.IsActive, b.PlanID, b.PlanEndsAt, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *businessRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Business, error) {
	q := `SELECT id, name, owner_id, is_active, plan_id, plan_ends_at, created_at, updated_at FROM businesses WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	b := &model.Business{}
	if err := row.Scan(&b.ID, &b.Name, &b.OwnerID, &b.IsActive, &b.PlanID, &b.PlanEndsAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return b, nil
}

func (r *businessRepo) FindDarajaCredentials(ctx context.Context, tx repository.Tx, businessID string) (*model.DarajaCredentials, error) {
	const q = `SELECT daraja_credentials FROM businesses WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, businessID)
	if err != nil {
		return nil, err
	}
	var sealed *string
	if err := row.Scan(&sealed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if sealed == nil || *sealed == "" {
		return nil, domain.ErrNoGatewayCredentials
	}
	creds, err := r.cipher.Open(*sealed)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	return creds, nil
}

func (r *businessRepo) SaveDarajaCredentials(ctx context.Context, tx repository.Tx, businessID string, creds *model.DarajaCredentials) error {
	sealed, err := r.cipher.Seal(creds)
	if err != nil {
		return domain.ErrOperationFailed
	}
	const q = `UPDATE businesses SET daraja_credentials=$2, updated_at=NOW() WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, businessID, sealed); err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

// --- Users ---

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct{ pool *pgxpool.Pool }

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, phone, email, is_active, is_admin, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET phone=$2, email=$3, is_active=$4, is_admin=$5, updated_at=$7;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Phone, u.Email, u.IsActive, u.IsAdmin, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT id, phone, email, is_active, is_admin, created_at, updated_at FROM users WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Phone, &u.Email, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return u, nil
}

func (r *userRepo) ListAdmins(ctx context.Context, tx repository.Tx) ([]*model.User, error) {
	const q = `SELECT id, phone, email, is_active, is_admin, created_at, updated_at FROM users WHERE is_admin=TRUE;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u := new(model.User)
		if err := rows.Scan(&u.ID, &u.Phone, &u.Email, &u.IsActive, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, u)
	}
	return out, nil
}
