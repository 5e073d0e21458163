package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/otp"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
)

// Service is the main auth service with dependencies
type Service struct {
	users          UserStore
	secondFactor   SecondFactor
	tokenGenerator TokenGenerator
	logger         *slog.Logger
}

func NewService(users UserStore, secondFactor SecondFactor, tokenGen TokenGenerator, logger *slog.Logger) *Service {
	return &Service{
		users:          users,
		secondFactor:   secondFactor,
		tokenGenerator: tokenGen,
		logger:         logger.With("component", "auth_service"),
	}
}

// Login checks the password. Users with a second factor get a challenge
// instead of tokens; tokens then come only from VerifyTwoFactor.
func (s *Service) Login(ctx context.Context, dto LoginDTO) (*LoginResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	u, err := s.credentials(ctx, dto.Email, dto.Password)
	if err != nil {
		return nil, err
	}

	if !u.TwoFactorEnabled {
		tokens, err := s.issueTokens(u)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Login: password login", "user_id", u.ID)
		return &LoginResult{Tokens: tokens}, nil
	}

	challenge, err := s.secondFactor.Issue(ctx, u, u.TwoFactorMethod)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Login: second factor required", "user_id", u.ID, "method", challenge.Channel)
	return &LoginResult{
		TwoFactorRequired: true,
		Method:            challenge.Channel,
		Email:             u.Email,
	}, nil
}

func (s *Service) VerifyTwoFactor(ctx context.Context, dto VerifyTwoFactorDTO) (*AuthTokens, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(dto.Email))
	if errors.Is(err, internal.ErrUserNotFound) {
		return nil, internal.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, internal.ErrUserInactive
	}
	if !u.TwoFactorEnabled {
		return nil, internal.ErrTwoFactorDisabled
	}

	if err := s.secondFactor.Verify(ctx, u, dto.Code); err != nil {
		s.logger.Warn("VerifyTwoFactor: code rejected", "user_id", u.ID, "error", err)
		return nil, err
	}

	return s.issueTokens(u)
}

// RefreshTokens validates refresh token and returns new tokens
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*AuthTokens, error) {
	claims, err := s.tokenGenerator.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, internal.ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return nil, internal.ErrInvalidToken
	}
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, internal.ErrUserNotFound) {
		return nil, internal.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, internal.ErrUserInactive
	}

	return s.issueTokens(u)
}

// EnrollTwoFactor turns on the second factor. The app method also returns the
// new authenticator secret, which is shown to the user once.
func (s *Service) EnrollTwoFactor(ctx context.Context, userID int64, dto EnrollDTO) (*EnrollResult, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &EnrollResult{Method: dto.Method}
	var secret string
	switch dto.Method {
	case otp.ChannelApp:
		enrollment, err := s.secondFactor.Enroll(u)
		if err != nil {
			return nil, internal.NewInternalError("Failed to create authenticator secret", err)
		}
		secret = enrollment.Secret
		result.Secret = enrollment.Secret
		result.ProvisioningURI = enrollment.ProvisioningURI
	case otp.ChannelSMS:
		if u.Phone == "" {
			return nil, internal.ErrOTPNoDestination
		}
	}

	if err := s.users.SetTwoFactor(ctx, u.ID, dto.Method, secret); err != nil {
		return nil, err
	}

	s.logger.Info("EnrollTwoFactor: second factor enabled", "user_id", u.ID, "method", dto.Method)
	return result, nil
}

// ValidateAccessToken validates access token and returns claims
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.tokenGenerator.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, internal.ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) Permissions(ctx context.Context, userID int64) ([]string, error) {
	return s.users.Permissions(ctx, userID)
}

func (s *Service) credentials(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, internal.ErrUserNotFound) {
		return nil, internal.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, internal.ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, internal.ErrUserInactive
	}
	return u, nil
}

func (s *Service) issueTokens(u *user.User) (*AuthTokens, error) {
	id := strconv.FormatInt(u.ID, 10)
	access, err := s.tokenGenerator.GenerateAccessToken(id, u.Email)
	if err != nil {
		return nil, internal.NewInternalError("Failed to issue access token", err)
	}
	refresh, err := s.tokenGenerator.GenerateRefreshToken(id, u.Email)
	if err != nil {
		return nil, internal.NewInternalError("Failed to issue refresh token", err)
	}
	return &AuthTokens{AccessToken: access, RefreshToken: refresh}, nil
}

type JWTTokenGenerator struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
}

func NewJWTTokenGenerator(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *JWTTokenGenerator {
	return &JWTTokenGenerator{
		AccessTokenSecret:  []byte(accessSecret),
		RefreshTokenSecret: []byte(refreshSecret),
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
	}
}

func (j *JWTTokenGenerator) GenerateAccessToken(userID, email string) (string, error) {
	return j.sign(userID, email, tokenTypeAccess, j.AccessTokenTTL, j.AccessTokenSecret)
}

func (j *JWTTokenGenerator) GenerateRefreshToken(userID, email string) (string, error) {
	return j.sign(userID, email, tokenTypeRefresh, j.RefreshTokenTTL, j.RefreshTokenSecret)
}

func (j *JWTTokenGenerator) sign(userID, email, tokenType string, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    userID,
		Email:     email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken picks the secret from the token's declared type, so an access
// token signed with the refresh secret (or the reverse) fails verification.
func (j *JWTTokenGenerator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, internal.ErrInvalidToken
		}
		if claims.TokenType == tokenTypeRefresh {
			return j.RefreshTokenSecret, nil
		}
		return j.AccessTokenSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, internal.ErrInvalidToken
}

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
