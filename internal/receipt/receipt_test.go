package receipt_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/receipt"
)

func TestReceipt(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Receipt Suite")
}

var _ = Describe("Renderer", func() {
	var (
		renderer *receipt.Renderer
		paidAt   time.Time
		issued   time.Time
	)

	BeforeEach(func() {
		paidAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
		issued = time.Date(2026, 3, 1, 9, 31, 0, 0, time.UTC)
		renderer = receipt.NewRenderer().WithClock(func() time.Time { return issued })
	})

	completed := func() *payment.Payment {
		n := 2
		return &payment.Payment{
			Reference:         "LAND-PAY-20260301093000-ABC123",
			TxRef:             "land_attempt_1772357400_0a1b2c3d",
			Amount:            decimal.RequireFromString("5833333.33"),
			Currency:          "ngn",
			PaymentType:       payment.TypeInstallment,
			PaymentMethod:     payment.MethodCard,
			Status:            payment.StatusCompleted,
			InstallmentNumber: &n,
			PaidDate:          &paidAt,
			CustomerName:      "Ada Obi",
			CustomerEmail:     "ada@example.com",
			Description:       "Installment 2 for LAND-20260101000000-FFFFFF",
		}
	}

	It("derives the receipt number from the payment reference", func() {
		rc, err := renderer.Render(completed())

		Expect(err).NotTo(HaveOccurred())
		Expect(rc.Number).To(Equal("RCP-LAND-PAY-20260301093000-ABC123"))
		Expect(rc.Amount).To(Equal("5833333.33"))
		Expect(rc.Currency).To(Equal("NGN"))
		Expect(rc.PaidAt).To(Equal(paidAt))
	})

	It("renders a plain text receipt", func() {
		rc, err := renderer.Render(completed())
		Expect(err).NotTo(HaveOccurred())

		text, err := rc.Text()

		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(ContainSubstring("RECEIPT RCP-LAND-PAY-20260301093000-ABC123"))
		Expect(text).To(ContainSubstring("NGN 5833333.33"))
		Expect(text).To(ContainSubstring("(installment 2)"))
	})

	It("stores the summary fields as metadata", func() {
		rc, err := renderer.Render(completed())
		Expect(err).NotTo(HaveOccurred())

		meta := rc.Metadata()

		Expect(meta).To(HaveKeyWithValue("number", "RCP-LAND-PAY-20260301093000-ABC123"))
		Expect(meta).To(HaveKeyWithValue("installment_number", 2))
		Expect(meta).To(HaveKeyWithValue("paid_at", "2026-03-01T09:30:00Z"))
	})

	It("refuses a payment that is not completed", func() {
		p := completed()
		p.Status = payment.StatusFailed

		_, err := renderer.Render(p)

		Expect(err).To(MatchError(ContainSubstring("not completed")))
	})
})
