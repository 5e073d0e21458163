package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/otp"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// UserStore is the slice of the user repository that authentication needs.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	Permissions(ctx context.Context, id int64) ([]string, error)
	SetTwoFactor(ctx context.Context, id int64, method, totpSecret string) error
}

// SecondFactor issues and checks one-time codes.
type SecondFactor interface {
	Issue(ctx context.Context, u *user.User, channel string) (*otp.Challenge, error)
	Verify(ctx context.Context, u *user.User, code string) error
	Enroll(u *user.User) (*otp.Enrollment, error)
}

// TokenGenerator creates and validates session tokens.
type TokenGenerator interface {
	GenerateAccessToken(userID string, email string) (string, error)
	GenerateRefreshToken(userID string, email string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type ServiceAPI interface {
	Login(ctx context.Context, dto LoginDTO) (*LoginResult, error)
	VerifyTwoFactor(ctx context.Context, dto VerifyTwoFactorDTO) (*AuthTokens, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*AuthTokens, error)
	EnrollTwoFactor(ctx context.Context, userID int64, dto EnrollDTO) (*EnrollResult, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	Permissions(ctx context.Context, userID int64) ([]string, error)
}

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult carries tokens when no second factor is needed, and the
// challenge otherwise.
type LoginResult struct {
	TwoFactorRequired bool        `json:"two_factor_required"`
	Method            string      `json:"method,omitempty"`
	Email             string      `json:"email,omitempty"`
	Tokens            *AuthTokens `json:"tokens,omitempty"`
}

type EnrollResult struct {
	Method          string `json:"method"`
	Secret          string `json:"secret,omitempty"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
}

// Claims represents JWT token claims
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}
