package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
)

const (
	MetaAutoExpiredAt = "auto_expired_at"
	MetaCancelledBy   = "cancelled_by"
	MetaSettledBy     = "settled_by"
	MetaPaymentLink   = "payment_link"
	MetaRetryOf       = "retry_of"
	MetaRefundNeeded  = "refund_required"
)

// Settlement sources, recorded under settled_by.
const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
	SourceSweep   = "sweep"
	SourceBuyer   = "buyer"
	SourceAdmin   = "admin"
)

type RepositoryAPI interface {
	Create(ctx context.Context, p *payment.Payment) error
	GetByID(ctx context.Context, id int64) (*payment.Payment, error)
	GetByReference(ctx context.Context, reference string) (*payment.Payment, error)
	// FindByTxRef resolves an attempt reference to its payment, falling back
	// to the payment's own reference.
	FindByTxRef(ctx context.Context, txRef string) (*payment.Payment, error)
	ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]*payment.Payment, int64, error)
	ListStale(ctx context.Context, statuses []string, createdBefore time.Time, limit int) ([]*payment.Payment, error)
	InstallmentTaken(ctx context.Context, purchaseID int64, installmentNumber int) (bool, error)

	// Advance moves an open payment between the two in-flight statuses.
	Advance(ctx context.Context, id int64, from, to string, metadata map[string]interface{}) error
	// Settle applies a terminal status guarded by the payment's current
	// status. It reports false when another writer settled first.
	Settle(ctx context.Context, s *Settlement) (bool, error)
	// MergeMetadata adds keys to the metadata map without touching status.
	MergeMetadata(ctx context.Context, id int64, values map[string]interface{}) error

	// MarkDispatched records that the settlement's jobs reached the queue.
	// Settle clears the marker in the same transaction as the status change.
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
	// ListUndispatched returns settled payments whose jobs never reached the
	// queue, oldest settlement first.
	ListUndispatched(ctx context.Context, settledBefore time.Time, limit int) ([]*payment.Payment, error)
}

type GatewayAPI interface {
	Initiate(ctx context.Context, req paymentgateway.ChargeRequest) (*paymentgateway.InitiateResult, error)
	Verify(ctx context.Context, transactionID int64) (*paymentgateway.Verification, error)
	VerifyByReference(ctx context.Context, txRef string) (*paymentgateway.Verification, error)
	ValidateSignature(raw []byte, signature string) bool
	ParseWebhook(raw []byte) (*paymentgateway.WebhookEvent, error)
}

// PurchaseAPI is the purchase-side collaborator of the reconciler.
type PurchaseAPI interface {
	OpenDraft(ctx context.Context, req purchasepkg.DraftRequest) (*purchase.Purchase, *land.Land, error)
	AmountDue(p *purchase.Purchase, paymentType string, reservationFee decimal.Decimal) (decimal.Decimal, error)
	GetForBuyer(ctx context.Context, purchaseID, buyerID int64) (*purchase.Purchase, error)
	InstallmentDue(ctx context.Context, purchaseID, buyerID int64, number int) (*purchase.Purchase, *purchase.PaymentSchedule, error)
	Rollup(ctx context.Context, purchaseID int64) (*purchasepkg.RollupResult, error)
}

type BuyerDirectory interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
}

// Limiter guards the webhook path against floods for a single reference.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Settlement is one guarded terminal transition of a payment.
type Settlement struct {
	PaymentID            int64
	Status               string
	From                 []string
	GatewayTransactionID *int64
	GatewayResponse      json.RawMessage
	PaymentMethod        string
	FailureReason        string
	PaidAt               *time.Time
	Metadata             map[string]interface{}
	At                   time.Time
}

// FromStatuses is the set the transition is guarded by.
func (s *Settlement) FromStatuses() []string {
	if len(s.From) == 0 {
		return payment.OpenStatuses
	}
	return s.From
}

// GenerateTxRef derives the payment-level gateway reference.
func GenerateTxRef(reference string, now time.Time) string {
	return fmt.Sprintf("land_%s_%d", reference, now.Unix())
}

var gatewayPaymentMethods = map[string]string{
	"card":          payment.MethodCard,
	"bank_transfer": payment.MethodBankTransfer,
	"banktransfer":  payment.MethodBankTransfer,
	"account":       payment.MethodAccount,
	"mobile_money":  payment.MethodMobileMoney,
	"mobilemoney":   payment.MethodMobileMoney,
	"ussd":          payment.MethodUSSD,
}

// MethodFromGateway maps the provider's payment_type onto our method names.
func MethodFromGateway(paymentType string) string {
	if m, ok := gatewayPaymentMethods[paymentType]; ok {
		return m
	}
	return paymentType
}
