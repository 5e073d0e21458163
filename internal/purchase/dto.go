package purchase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
)

type InstallmentDTO struct {
	InstallmentNumber int             `json:"installment_number"`
	DueDate           time.Time       `json:"due_date"`
	Amount            decimal.Decimal `json:"amount"`
	IsPaid            bool            `json:"is_paid"`
	PaidDate          *time.Time      `json:"paid_date,omitempty"`
}

type ScheduleResponse struct {
	PurchaseReference string           `json:"purchase_reference"`
	Status            string           `json:"status"`
	TotalLandPrice    decimal.Decimal  `json:"total_land_price"`
	DownPaymentAmount decimal.Decimal  `json:"down_payment_amount"`
	DownPaymentPaid   bool             `json:"down_payment_paid"`
	RemainingBalance  decimal.Decimal  `json:"remaining_balance"`
	PaymentSchedule   []InstallmentDTO `json:"payment_schedule"`
}

func NewScheduleResponse(p *purchase.Purchase, rows []*purchase.PaymentSchedule, remaining decimal.Decimal) *ScheduleResponse {
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	items := make([]InstallmentDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, InstallmentDTO{
			InstallmentNumber: row.InstallmentNumber,
			DueDate:           row.DueDate,
			Amount:            row.Amount,
			IsPaid:            row.IsPaid,
			PaidDate:          row.PaidDate,
		})
	}
	return &ScheduleResponse{
		PurchaseReference: p.Reference,
		Status:            p.Status,
		TotalLandPrice:    p.TotalLandPrice,
		DownPaymentAmount: p.DownPaymentAmount,
		DownPaymentPaid:   p.DownPaymentPaid,
		RemainingBalance:  remaining,
		PaymentSchedule:   items,
	}
}
