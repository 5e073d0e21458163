package purchase

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
)

const installmentInterval = 30 * 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// DownPayment is the plan's percentage of the price, rounded to cents.
func DownPayment(price decimal.Decimal, plan *land.InstallmentPlan) decimal.Decimal {
	pct := plan.DownPaymentPercentage
	if !pct.IsPositive() {
		pct = decimal.NewFromInt(30)
	}
	return price.Mul(pct).Div(hundred).Round(2)
}

// Installments splits the financed principal into monthly amounts. Every
// amount is rounded to cents and the last absorbs the rounding remainder, so
// with a zero rate the amounts always sum to the principal exactly.
func Installments(principal decimal.Decimal, months int, monthlyRatePct decimal.Decimal) []decimal.Decimal {
	if months <= 0 || !principal.IsPositive() {
		return nil
	}

	total := principal
	monthly := principal.Div(decimal.NewFromInt(int64(months))).Round(2)
	if monthlyRatePct.IsPositive() {
		r := monthlyRatePct.Div(hundred)
		growth := decimal.NewFromInt(1)
		for i := 0; i < months; i++ {
			growth = growth.Mul(decimal.NewFromInt(1).Add(r))
		}
		monthly = principal.Mul(r).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))).Round(2)
		total = monthly.Mul(decimal.NewFromInt(int64(months)))
	}

	amounts := make([]decimal.Decimal, months)
	allocated := decimal.Zero
	for i := 0; i < months-1; i++ {
		amounts[i] = monthly
		allocated = allocated.Add(monthly)
	}
	amounts[months-1] = total.Sub(allocated)
	return amounts
}

// BuildSchedule lays out one row per installment, due every 30 days after start.
func BuildSchedule(p *purchase.Purchase, plan *land.InstallmentPlan, start time.Time) []*purchase.PaymentSchedule {
	principal := p.TotalLandPrice.Sub(p.DownPaymentAmount)
	amounts := Installments(principal, plan.TotalMonths, plan.MonthlyInterestRate)

	rows := make([]*purchase.PaymentSchedule, 0, len(amounts))
	for i, amount := range amounts {
		rows = append(rows, &purchase.PaymentSchedule{
			PurchaseID:        p.ID,
			InstallmentNumber: i + 1,
			DueDate:           start.Add(time.Duration(i+1) * installmentInterval),
			Amount:            amount,
		})
	}
	return rows
}
