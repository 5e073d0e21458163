package purchase

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	StatusDraft           = "draft"
	StatusReserved        = "reserved"
	StatusDownPaymentPaid = "down_payment_paid"
	StatusInProgress      = "in_progress"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
	StatusDefaulted       = "defaulted"
)

const (
	TypeFullPayment    = "full_payment"
	TypeDownPayment    = "down_payment"
	TypeReservationFee = "reservation_fee"
)

type Purchase struct {
	ID                    int64           `gorm:"primaryKey"`
	Reference             string          `gorm:"column:reference;size:50;not null;uniqueIndex"`
	LandID                int64           `gorm:"column:land_id;not null;index"`
	BuyerID               int64           `gorm:"column:buyer_id;not null;index"`
	InstallmentPlanID     *int64          `gorm:"column:installment_plan_id"`
	TotalLandPrice        decimal.Decimal `gorm:"column:total_land_price;type:decimal(15,2);not null"`
	PaymentType           string          `gorm:"column:payment_type;size:20;not null"`
	Status                string          `gorm:"column:status;size:20;not null;default:draft"`
	DownPaymentAmount     decimal.Decimal `gorm:"column:down_payment_amount;type:decimal(15,2);not null;default:0"`
	DownPaymentPaid       bool            `gorm:"column:down_payment_paid;default:false"`
	TotalInstallments     int             `gorm:"column:total_installments;default:0"`
	CompletedInstallments int             `gorm:"column:completed_installments;default:0"`
	PurchaseDate          *time.Time      `gorm:"column:purchase_date"`
	CompletionDate        *time.Time      `gorm:"column:completion_date"`
	CreatedAt             time.Time       `gorm:"column:created_at"`
	UpdatedAt             time.Time       `gorm:"column:updated_at"`
}

func (Purchase) TableName() string { return "land_purchases" }

type PaymentSchedule struct {
	ID                int64             `gorm:"primaryKey"`
	PurchaseID        int64             `gorm:"column:purchase_id;not null;uniqueIndex:idx_schedule_purchase_installment"`
	InstallmentNumber int               `gorm:"column:installment_number;not null;uniqueIndex:idx_schedule_purchase_installment"`
	DueDate           time.Time         `gorm:"column:due_date;not null"`
	Amount            decimal.Decimal   `gorm:"column:amount;type:decimal(15,2);not null"`
	IsPaid            bool              `gorm:"column:is_paid;default:false"`
	PaidDate          *time.Time        `gorm:"column:paid_date"`
	Metadata          datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt         time.Time         `gorm:"column:created_at"`
	UpdatedAt         time.Time         `gorm:"column:updated_at"`
}

func (PaymentSchedule) TableName() string { return "payment_schedules" }
