package repository

import (
	"context"

	"mpesa-subscription-billing/internal/domain/model"
)

type BusinessRepository interface {
	Save(ctx context.Context, tx Tx, b *model.Business) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Business, error)
	// FindDarajaCredentials returns decrypted per-business gateway settings,
	// or domain.ErrNoGatewayCredentials when the business has none.
	FindDarajaCredentials(ctx context.Context, tx Tx, businessID string) (*model.DarajaCredentials, error)
	SaveDarajaCredentials(ctx context.Context, tx Tx, businessID string, creds *model.DarajaCredentials) error
}

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	ListAdmins(ctx context.Context, tx Tx) ([]*model.User, error)
}
