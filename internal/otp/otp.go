package otp

import (
	"context"
	"time"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/otp"
)

type RepositoryAPI interface {
	Create(ctx context.Context, code *otp.Code) error
	// InvalidateLive expires every unused, unexpired code of the user.
	InvalidateLive(ctx context.Context, userID int64, at time.Time) (int64, error)
	Latest(ctx context.Context, userID int64) (*otp.Code, error)
	// RecordFailure increments the attempt counter and returns the new value.
	RecordFailure(ctx context.Context, id int64) (int, error)
	// MarkUsed consumes the code only if nobody consumed it first and fewer
	// than maxAttempts wrong guesses have been recorded against it.
	MarkUsed(ctx context.Context, id int64, maxAttempts int, at time.Time) (bool, error)
}

type Config struct {
	Length      int
	TTL         time.Duration
	MaxAttempts int
	Issuer      string
	HashCost    int
}

// Challenge is what the caller learns about an issued code. The code itself
// only travels to the user.
type Challenge struct {
	Channel   string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Enrollment carries a freshly generated authenticator-app secret.
type Enrollment struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}
