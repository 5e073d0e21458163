package land

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusAvailable   = "available"
	StatusReserved    = "reserved"
	StatusSold        = "sold"
	StatusUnavailable = "unavailable"
)

type Land struct {
	ID         int64           `gorm:"primaryKey"`
	Title      string          `gorm:"column:title;not null"`
	City       string          `gorm:"column:city"`
	State      string          `gorm:"column:state"`
	TotalPrice decimal.Decimal `gorm:"column:total_price;type:decimal(15,2);not null"`
	Currency   string          `gorm:"column:currency;size:3;default:NGN"`
	Status     string          `gorm:"column:status;size:20;default:available"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
	UpdatedAt  time.Time       `gorm:"column:updated_at"`
}

func (Land) TableName() string { return "lands" }

// Purchasable reports whether a new purchase may be opened against the parcel.
func (l *Land) Purchasable() bool {
	return l.Status == StatusAvailable || l.Status == StatusReserved
}

type InstallmentPlan struct {
	ID                    int64           `gorm:"primaryKey"`
	LandID                int64           `gorm:"column:land_id;not null;index"`
	Name                  string          `gorm:"column:name;not null"`
	TotalMonths           int             `gorm:"column:total_months;not null"`
	DownPaymentPercentage decimal.Decimal `gorm:"column:down_payment_percentage;type:decimal(5,2);not null"`
	MonthlyInterestRate   decimal.Decimal `gorm:"column:monthly_interest_rate;type:decimal(5,2);not null"`
	IsActive              bool            `gorm:"column:is_active;default:true"`
	CreatedAt             time.Time       `gorm:"column:created_at"`
	UpdatedAt             time.Time       `gorm:"column:updated_at"`
}

func (InstallmentPlan) TableName() string { return "installment_plans" }
