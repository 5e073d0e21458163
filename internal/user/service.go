package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
)

type ServiceAPI interface {
	Profile(ctx context.Context, id int64) (*Profile, error)
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With("component", "user_service"),
	}
}

// GetByID returns the stored user. It backs the buyer lookups of the payment
// and notification flows.
func (s *Service) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Profile(ctx context.Context, id int64) (*Profile, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	perms, err := s.repo.Permissions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user permissions: %w", err)
	}

	return NewProfile(u, perms), nil
}
