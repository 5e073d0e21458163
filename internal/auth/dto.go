package auth

import (
	"strings"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/otp"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type VerifyTwoFactorDTO struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type EnrollDTO struct {
	Method string `json:"method"`
}

// RefreshTokenDTO for refresh token requests
type RefreshTokenDTO struct {
	RefreshToken string `json:"refresh_token"`
}

func (d LoginDTO) Validate() error {
	if strings.TrimSpace(d.Email) == "" {
		return internal.NewValidationFieldError("email", "email is required", internal.ErrCodeValidationFailed)
	}
	if d.Password == "" {
		return internal.NewValidationFieldError("password", "password is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

func (d VerifyTwoFactorDTO) Validate() error {
	if strings.TrimSpace(d.Email) == "" {
		return internal.NewValidationFieldError("email", "email is required", internal.ErrCodeValidationFailed)
	}
	if strings.TrimSpace(d.Code) == "" {
		return internal.NewValidationFieldError("code", "code is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

func (d EnrollDTO) Validate() error {
	switch d.Method {
	case otp.ChannelEmail, otp.ChannelSMS, otp.ChannelApp:
		return nil
	}
	return internal.ErrOTPMethod
}

// Validate for refresh token DTO
func (d RefreshTokenDTO) Validate() error {
	if d.RefreshToken == "" {
		return internal.NewValidationFieldError("refresh_token", "refresh_token is required", internal.ErrCodeValidationFailed)
	}
	return nil
}
