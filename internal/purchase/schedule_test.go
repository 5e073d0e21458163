package purchase_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
)

var _ = Describe("Installment schedule", func() {
	It("takes the plan percentage as down payment", func() {
		plan := &land.InstallmentPlan{DownPaymentPercentage: decimal.NewFromInt(30)}
		Expect(purchasepkg.DownPayment(decimal.NewFromInt(50_000_000), plan).StringFixed(2)).To(Equal("15000000.00"))
	})

	It("splits the principal so that rows sum to it exactly", func() {
		// When
		amounts := purchasepkg.Installments(decimal.NewFromInt(35_000_000), 6, decimal.Zero)

		// Then
		Expect(amounts).To(HaveLen(6))
		sum := decimal.Zero
		for i, a := range amounts {
			sum = sum.Add(a)
			if i < 5 {
				Expect(a.StringFixed(2)).To(Equal("5833333.33"))
			}
		}
		Expect(amounts[5].StringFixed(2)).To(Equal("5833333.35"))
		Expect(sum.Equal(decimal.NewFromInt(35_000_000))).To(BeTrue())
	})

	It("produces equal rows when the principal divides evenly", func() {
		amounts := purchasepkg.Installments(decimal.NewFromInt(36_000_000), 6, decimal.Zero)
		for _, a := range amounts {
			Expect(a.Equal(decimal.NewFromInt(6_000_000))).To(BeTrue())
		}
	})

	It("amortises with interest when the plan charges a rate", func() {
		// When
		amounts := purchasepkg.Installments(decimal.NewFromInt(12_000), 12, decimal.NewFromInt(1))

		// Then
		Expect(amounts[0].StringFixed(2)).To(Equal("1066.19"))
		sum := decimal.Zero
		for _, a := range amounts {
			sum = sum.Add(a)
		}
		Expect(sum.GreaterThan(decimal.NewFromInt(12_000))).To(BeTrue())
	})

	It("lays rows out thirty days apart", func() {
		// Given
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		p := &purchase.Purchase{ID: 9, TotalLandPrice: decimal.NewFromInt(50_000_000), DownPaymentAmount: decimal.NewFromInt(15_000_000)}
		plan := &land.InstallmentPlan{TotalMonths: 6}

		// When
		rows := purchasepkg.BuildSchedule(p, plan, start)

		// Then
		Expect(rows).To(HaveLen(6))
		Expect(rows[0].InstallmentNumber).To(Equal(1))
		Expect(rows[0].DueDate).To(Equal(start.AddDate(0, 0, 30)))
		Expect(rows[5].DueDate).To(Equal(start.AddDate(0, 0, 180)))
		Expect(rows[5].PurchaseID).To(Equal(int64(9)))
	})

	It("only moves purchases forward", func() {
		Expect(purchasepkg.Advances(purchase.StatusDraft, purchase.StatusReserved)).To(BeTrue())
		Expect(purchasepkg.Advances(purchase.StatusDownPaymentPaid, purchase.StatusInProgress)).To(BeTrue())
		Expect(purchasepkg.Advances(purchase.StatusCompleted, purchase.StatusReserved)).To(BeFalse())
		Expect(purchasepkg.Advances(purchase.StatusReserved, purchase.StatusReserved)).To(BeFalse())
		Expect(purchasepkg.Advances(purchase.StatusCancelled, purchase.StatusCompleted)).To(BeFalse())
	})

	It("formats references with a timestamp and random suffix", func() {
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		ref, err := purchasepkg.GeneratePaymentReference(now)
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(MatchRegexp(`^LAND-PAY-20260301100000-[0-9A-F]{6}$`))
	})
})
