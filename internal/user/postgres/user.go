package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	userpkg "github.com/frahmantamala/land-payment/internal/user"
)

const userColumns = `id, email, name, COALESCE(phone, '') AS phone, password_hash,
	COALESCE(role, 'buyer') AS role, is_active, two_factor_enabled,
	COALESCE(two_factor_method, '') AS two_factor_method,
	COALESCE(totp_secret, '') AS totp_secret, created_at, updated_at`

type userRow struct {
	ID               int64     `db:"id"`
	Email            string    `db:"email"`
	Name             string    `db:"name"`
	Phone            string    `db:"phone"`
	PasswordHash     string    `db:"password_hash"`
	Role             string    `db:"role"`
	IsActive         bool      `db:"is_active"`
	TwoFactorEnabled bool      `db:"two_factor_enabled"`
	TwoFactorMethod  string    `db:"two_factor_method"`
	TOTPSecret       string    `db:"totp_secret"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r userRow) toModel() *user.User {
	return &user.User{
		ID:               r.ID,
		Email:            r.Email,
		Name:             r.Name,
		Phone:            r.Phone,
		PasswordHash:     r.PasswordHash,
		Role:             r.Role,
		IsActive:         r.IsActive,
		TwoFactorEnabled: r.TwoFactorEnabled,
		TwoFactorMethod:  r.TwoFactorMethod,
		TOTPSecret:       r.TOTPSecret,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// UserRepository reads users with plain SQL through sqlx. Queries use ?
// placeholders and are rebound for the driver in use.
type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) userpkg.RepositoryAPI {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE LOWER(email) = LOWER(?)", email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*user.User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return row.toModel(), nil
}

func (r *UserRepository) Permissions(ctx context.Context, id int64) ([]string, error) {
	query := r.db.Rebind(`SELECT p.name
		FROM permissions p
		JOIN user_permissions up ON p.id = up.permission_id
		WHERE up.user_id = ?
		ORDER BY p.name`)

	var perms []string
	if err := r.db.SelectContext(ctx, &perms, query, id); err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	return perms, nil
}

func (r *UserRepository) SetTwoFactor(ctx context.Context, id int64, method, totpSecret string) error {
	query := r.db.Rebind(`UPDATE users
		SET two_factor_enabled = ?, two_factor_method = ?, totp_secret = ?, updated_at = ?
		WHERE id = ?`)

	res, err := r.db.ExecContext(ctx, query, method != "", method, totpSecret, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update two factor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return internal.ErrUserNotFound
	}
	return nil
}
