package user

import (
	"context"
	"time"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
)

type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	Permissions(ctx context.Context, id int64) ([]string, error)
	// SetTwoFactor switches the user's second factor. An empty method
	// disables it and clears the authenticator secret.
	SetTwoFactor(ctx context.Context, id int64, method, totpSecret string) error
}

// Profile is the view of a user returned by /users/me.
type Profile struct {
	ID               int64     `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone,omitempty"`
	Role             string    `json:"role"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	TwoFactorMethod  string    `json:"two_factor_method,omitempty"`
	Permissions      []string  `json:"permissions"`
	CreatedAt        time.Time `json:"created_at"`
}

func NewProfile(u *user.User, permissions []string) *Profile {
	if permissions == nil {
		permissions = []string{}
	}
	return &Profile{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Phone:            u.Phone,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		TwoFactorMethod:  u.TwoFactorMethod,
		Permissions:      permissions,
		CreatedAt:        u.CreatedAt,
	}
}

func (p *Profile) HasPermission(permission string) bool {
	for _, perm := range p.Permissions {
		if perm == permission {
			return true
		}
	}
	return false
}
