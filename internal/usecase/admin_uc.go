package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"mpesa-subscription-billing/internal/domain/model"
	"mpesa-subscription-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ AdminUseCase = (*adminUC)(nil)

type AdminUseCase interface {
	// ListPayments pages through the reporting projection, newest first.
	ListPayments(ctx context.Context, offset, limit int) ([]*model.SubscriptionPayment, error)
}

type adminUC struct {
	projection repository.ProjectionRepository
	log        *zerolog.Logger
}

func NewAdminUseCase(projection repository.ProjectionRepository, logger *zerolog.Logger) *adminUC {
	l := logger.With().Str("component", "AdminUC").Logger()
	return &adminUC{projection: projection, log: &l}
}

func (u *adminUC) ListPayments(ctx context.Context, offset, limit int) ([]*model.SubscriptionPayment, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return u.projection.List(ctx, repository.NoTX, offset, limit)
}
