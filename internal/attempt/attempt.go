package attempt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
)

// Outcome is the terminal write applied to an attempt.
type Outcome struct {
	Status               string
	ErrorMessage         string
	GatewayResponse      json.RawMessage
	GatewayTransactionID *int64
	At                   time.Time
}

// IsFailed keeps the failure flag consistent with the terminal status.
func (o Outcome) IsFailed() bool {
	return o.Status != attempt.StatusCompleted
}

type RepositoryAPI interface {
	// Create atomically claims the payment's in-flight slot and appends the
	// next numbered attempt. It fails with ErrAttemptInFlight when the slot is
	// already taken.
	Create(ctx context.Context, paymentID int64, txRef string) (*attempt.Attempt, error)
	GetByTxRef(ctx context.Context, txRef string) (*attempt.Attempt, error)
	GetInFlight(ctx context.Context, paymentID int64) (*attempt.Attempt, error)
	ListByPayment(ctx context.Context, paymentID int64) ([]*attempt.Attempt, error)
	MarkProcessing(ctx context.Context, id int64, at time.Time) error
	Close(ctx context.Context, id int64, outcome Outcome) error
}

// GenerateTxRef returns an attempt transaction reference. It is assigned once
// at creation and never rewritten.
func GenerateTxRef(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate attempt reference: %w", err)
	}
	return fmt.Sprintf("land_attempt_%d_%s", now.Unix(), hex.EncodeToString(buf)), nil
}
