package purchase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
)

type RepositoryAPI interface {
	GetLand(ctx context.Context, id int64) (*land.Land, error)
	GetPlan(ctx context.Context, id int64) (*land.InstallmentPlan, error)

	GetByID(ctx context.Context, id int64) (*purchase.Purchase, error)
	// GetOrCreateDraft returns the buyer's open draft for the land, creating
	// it from the template when none exists.
	GetOrCreateDraft(ctx context.Context, template *purchase.Purchase) (*purchase.Purchase, error)
	UpdateDraftTerms(ctx context.Context, p *purchase.Purchase) error

	CompletedPayments(ctx context.Context, purchaseID int64) ([]*payment.Payment, error)
	Schedule(ctx context.Context, purchaseID int64) ([]*purchase.PaymentSchedule, error)
	ScheduleEntry(ctx context.Context, purchaseID int64, installmentNumber int) (*purchase.PaymentSchedule, error)
	DueInstallments(ctx context.Context, from, to time.Time) ([]*purchase.PaymentSchedule, error)

	// ApplyRollup writes a rollup guarded by the purchase status it was
	// computed from. It reports false when the status moved underneath.
	ApplyRollup(ctx context.Context, plan *RollupPlan) (bool, error)
}

// RollupPlan is the full set of writes derived from one completed-payment snapshot.
type RollupPlan struct {
	PurchaseID            int64
	LandID                int64
	FromStatus            string
	ToStatus              string
	DownPaymentPaid       bool
	CompletedInstallments int
	PaidInstallments      map[int]time.Time
	Schedule              []*purchase.PaymentSchedule
	LandStatus            string
	CompletionDate        *time.Time
}

type RollupResult struct {
	PurchaseID int64
	Reference  string
	Status     string
	LandStatus string
	TotalPaid  decimal.Decimal
	Changed    bool
}

// DraftRequest describes the purchase a new payment is opened against.
type DraftRequest struct {
	BuyerID           int64
	LandID            int64
	PaymentType       string
	InstallmentPlanID *int64
}

var statusRank = map[string]int{
	purchase.StatusDraft:           0,
	purchase.StatusReserved:        1,
	purchase.StatusDownPaymentPaid: 2,
	purchase.StatusInProgress:      3,
	purchase.StatusCompleted:       4,
}

// Advances reports whether moving from one status to another goes forward
// along the purchase path. Cancelled and defaulted purchases never move.
func Advances(from, to string) bool {
	f, okFrom := statusRank[from]
	t, okTo := statusRank[to]
	return okFrom && okTo && t > f
}

// GenerateReference returns a purchase reference such as LAND-20260301100000-A1B2C3.
func GenerateReference(now time.Time) (string, error) {
	return reference("LAND", now)
}

// GeneratePaymentReference returns a payment reference such as LAND-PAY-20260301100000-A1B2C3.
func GeneratePaymentReference(now time.Time) (string, error) {
	return reference("LAND-PAY", now)
}

func reference(prefix string, now time.Time) (string, error) {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102150405"), strings.ToUpper(hex.EncodeToString(buf))), nil
}
