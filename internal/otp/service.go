package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/otp"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/notification"
)

const (
	defaultLength      = 6
	defaultTTL         = 10 * time.Minute
	defaultMaxAttempts = 5
	defaultIssuer      = "LandPay"
)

type Service struct {
	repo   RepositoryAPI
	sender notification.Sender
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, sender notification.Sender, cfg Config, logger *slog.Logger) *Service {
	if cfg.Length <= 0 {
		cfg.Length = defaultLength
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:   repo,
		sender: sender,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "otp"),
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue replaces any live code of u with a new one on channel. Email and SMS
// codes are random digits delivered through the notifier; app codes come from
// the user's authenticator, so only the bookkeeping row is created.
func (s *Service) Issue(ctx context.Context, u *user.User, channel string) (*Challenge, error) {
	now := s.now()

	var destination string
	switch channel {
	case otp.ChannelEmail:
		destination = u.Email
	case otp.ChannelSMS:
		destination = u.Phone
	case otp.ChannelApp:
		if u.TOTPSecret == "" {
			return nil, internal.ErrOTPNotEnrolled
		}
	default:
		return nil, internal.ErrOTPMethod
	}
	if channel != otp.ChannelApp && destination == "" {
		return nil, internal.ErrOTPNoDestination
	}

	invalidated, err := s.repo.InvalidateLive(ctx, u.ID, now)
	if err != nil {
		return nil, fmt.Errorf("invalidate live codes: %w", err)
	}

	code := &otp.Code{
		UserID:    u.ID,
		Channel:   channel,
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}

	var plain string
	if channel != otp.ChannelApp {
		plain, err = s.numericCode()
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cfg.HashCost)
		if err != nil {
			return nil, fmt.Errorf("hash code: %w", err)
		}
		code.CodeHash = string(hash)
	}

	if err := s.repo.Create(ctx, code); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}

	if plain != "" {
		msgChannel := notification.ChannelEmail
		if channel == otp.ChannelSMS {
			msgChannel = notification.ChannelSMS
		}
		err := s.sender.Send(ctx, notification.Message{
			Channel:  msgChannel,
			To:       destination,
			Template: notification.TemplateVerificationCode,
			Data: map[string]interface{}{
				"name":               u.Name,
				"code":               plain,
				"expires_in_minutes": int(s.cfg.TTL / time.Minute),
			},
			IdempotencyKey: fmt.Sprintf("otp:%d:%d", u.ID, code.ID),
		})
		if err != nil {
			return nil, internal.NewServiceUnavailableError("Could not deliver verification code", err)
		}
	}

	s.logger.Info("verification code issued",
		"user_id", u.ID,
		"channel", channel,
		"invalidated", invalidated,
		"expires_at", code.ExpiresAt)

	return &Challenge{Channel: channel, ExpiresAt: code.ExpiresAt}, nil
}

// Verify checks candidate against the user's latest code. A success consumes
// the code; every mismatch counts against the attempt limit.
func (s *Service) Verify(ctx context.Context, u *user.User, candidate string) error {
	code, err := s.repo.Latest(ctx, u.ID)
	if err != nil {
		return err
	}

	now := s.now()
	switch {
	case now.After(code.ExpiresAt):
		return internal.ErrOTPExpired
	case code.IsUsed:
		return internal.ErrOTPAlreadyUsed
	case code.Attempts >= s.cfg.MaxAttempts:
		return internal.ErrOTPAttemptsExceeded
	}

	if !s.matches(code, u, strings.TrimSpace(candidate), now) {
		attempts, err := s.repo.RecordFailure(ctx, code.ID)
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		s.logger.Warn("verification code mismatch", "user_id", u.ID, "attempts", attempts)
		if attempts >= s.cfg.MaxAttempts {
			return internal.ErrOTPAttemptsExceeded
		}
		return internal.ErrOTPMismatch
	}

	used, err := s.repo.MarkUsed(ctx, code.ID, s.cfg.MaxAttempts, now)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if !used {
		// a concurrent guess consumed the code or used up its attempts
		current, err := s.repo.Latest(ctx, u.ID)
		if err == nil && current.ID == code.ID && !current.IsUsed && current.Attempts >= s.cfg.MaxAttempts {
			return internal.ErrOTPAttemptsExceeded
		}
		return internal.ErrOTPAlreadyUsed
	}

	s.logger.Info("verification code accepted", "user_id", u.ID, "channel", code.Channel)
	return nil
}

// Enroll generates an authenticator-app secret for u. The caller stores it.
func (s *Service) Enroll(u *user.User) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: u.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

func (s *Service) matches(code *otp.Code, u *user.User, candidate string, now time.Time) bool {
	if candidate == "" {
		return false
	}
	if code.Channel == otp.ChannelApp {
		ok, err := totp.ValidateCustom(candidate, u.TOTPSecret, now, totp.ValidateOpts{
			Period: 30,
			Skew:   1,
			Digits: 6,
		})
		return err == nil && ok
	}
	return bcrypt.CompareHashAndPassword([]byte(code.CodeHash), []byte(candidate)) == nil
}

func (s *Service) numericCode() (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < s.cfg.Length; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
