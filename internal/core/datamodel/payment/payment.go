package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusPending    = "pending"
	StatusInitiated  = "initiated"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusExpired    = "expired"
)

const (
	TypeFullPayment    = "full_payment"
	TypeDownPayment    = "down_payment"
	TypeInstallment    = "installment"
	TypeReservationFee = "reservation_fee"
	TypeLegalFee       = "legal_fee"
	TypeDocumentFee    = "documentation_fee"
)

const (
	MethodCard         = "card"
	MethodBankTransfer = "bank_transfer"
	MethodMobileMoney  = "mobile_money"
	MethodUSSD         = "ussd"
	MethodAccount      = "account"
)

// OpenStatuses are the statuses a settlement may still move out of.
var OpenStatuses = []string{StatusPending, StatusInitiated, StatusProcessing}

type Payment struct {
	ID                   int64             `gorm:"primaryKey"`
	Reference            string            `gorm:"column:reference;size:50;not null;uniqueIndex"`
	PurchaseID           int64             `gorm:"column:purchase_id;not null;index;uniqueIndex:idx_land_payments_open_installment,priority:1,where:status <> 'failed' AND status <> 'cancelled' AND status <> 'expired' AND installment_number IS NOT NULL"`
	BuyerID              int64             `gorm:"column:buyer_id;not null;index"`
	TxRef                string            `gorm:"column:tx_ref;size:100;not null;uniqueIndex"`
	GatewayTransactionID *int64            `gorm:"column:gateway_transaction_id"`
	Amount               decimal.Decimal   `gorm:"column:amount;type:decimal(15,2);not null"`
	Currency             string            `gorm:"column:currency;size:3;not null"`
	PaymentType          string            `gorm:"column:payment_type;size:20;not null"`
	PaymentMethod        string            `gorm:"column:payment_method;size:20"`
	Status               string            `gorm:"column:status;size:20;not null;default:pending;index"`
	IsInstallment        bool              `gorm:"column:is_installment;default:false"`
	InstallmentNumber    *int              `gorm:"column:installment_number;uniqueIndex:idx_land_payments_open_installment,priority:2"`
	DueDate              *time.Time        `gorm:"column:due_date"`
	PaidDate             *time.Time        `gorm:"column:paid_date"`
	GatewayResponse      datatypes.JSON    `gorm:"column:gateway_response"`
	FailureReason        string            `gorm:"column:failure_reason"`
	CustomerEmail        string            `gorm:"column:customer_email"`
	CustomerPhone        string            `gorm:"column:customer_phone"`
	CustomerName         string            `gorm:"column:customer_name"`
	Description          string            `gorm:"column:description"`
	Metadata             datatypes.JSONMap `gorm:"column:metadata"`
	AttemptCount         int               `gorm:"column:attempt_count;not null;default:0"`
	AttemptInFlight      bool              `gorm:"column:attempt_in_flight;not null;default:false"`
	DispatchedAt         *time.Time        `gorm:"column:dispatched_at"`
	CreatedAt            time.Time         `gorm:"column:created_at;index"`
	UpdatedAt            time.Time         `gorm:"column:updated_at"`
}

func (Payment) TableName() string { return "land_payments" }

// IsSettled reports whether reconciliation has already recorded an outcome.
func (p *Payment) IsSettled() bool {
	return IsSettledStatus(p.Status)
}

func IsSettledStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// MetadataString reads a string marker from the metadata map.
func (p *Payment) MetadataString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata[key].(string); ok {
		return v
	}
	return ""
}
