package attempt_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	attemptpkg "github.com/frahmantamala/land-payment/internal/attempt"
	"github.com/frahmantamala/land-payment/internal/attempt/postgres"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
)

func TestAttemptLedger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Attempt Ledger Suite")
}

var txRefPattern = regexp.MustCompile(`^land_attempt_\d+_[0-9a-f]{8}$`)

var _ = Describe("Ledger", func() {
	var (
		db     *gorm.DB
		ledger *attemptpkg.Ledger
		p      *payment.Payment
		ctx    context.Context
		clock  time.Time
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, _ := db.DB()
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&payment.Payment{}, &attempt.Attempt{})).To(Succeed())

		clock = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		ledger = attemptpkg.NewLedger(postgres.NewAttemptRepository(db), logger).
			WithClock(func() time.Time { return clock })
		ctx = context.Background()

		p = &payment.Payment{
			Reference:   "LAND-PAY-20260301100000-ABCDEF",
			PurchaseID:  1,
			BuyerID:     1,
			TxRef:       "land_LAND-PAY-20260301100000-ABCDEF_1772359200",
			Amount:      decimal.NewFromInt(50_000_000),
			Currency:    "NGN",
			PaymentType: payment.TypeFullPayment,
			Status:      payment.StatusPending,
		}
		Expect(db.Create(p).Error).NotTo(HaveOccurred())
	})

	It("creates attempts with their own timestamped reference", func() {
		// When
		a, err := ledger.CreateAttempt(ctx, p)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(a.TxRef).To(MatchRegexp(txRefPattern.String()))
		Expect(a.TxRef).To(ContainSubstring("1772359200"))
		Expect(a.TxRef).NotTo(Equal(p.TxRef))
	})

	It("walks an attempt through processing to completion", func() {
		// Given
		a, err := ledger.CreateAttempt(ctx, p)
		Expect(err).NotTo(HaveOccurred())

		// When
		Expect(ledger.MarkProcessing(ctx, a)).To(Succeed())
		clock = clock.Add(time.Minute)
		txID := int64(77)
		Expect(ledger.MarkCompleted(ctx, a, []byte(`{"status":"successful"}`), &txID)).To(Succeed())

		// Then
		Expect(a.Status).To(Equal(attempt.StatusCompleted))
		Expect(a.IsFailed).To(BeFalse())
		Expect(a.CompletedAt.Equal(clock)).To(BeTrue())

		history, err := ledger.History(ctx, p.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1))
		Expect(history[0].Status).To(Equal(attempt.StatusCompleted))
	})

	It("allows a new attempt only after the previous one failed", func() {
		// Given
		first, _ := ledger.CreateAttempt(ctx, p)
		_, err := ledger.CreateAttempt(ctx, p)
		Expect(errors.Is(err, internal.ErrAttemptInFlight)).To(BeTrue())

		// When
		Expect(ledger.MarkFailed(ctx, first, "card declined", nil)).To(Succeed())
		second, err := ledger.CreateAttempt(ctx, p)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(second.AttemptNumber).To(Equal(2))
		Expect(first.IsFailed).To(BeTrue())

		inFlight, err := ledger.InFlight(ctx, p.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(inFlight.ID).To(Equal(second.ID))
	})

	It("rejects attempts for settled payments without touching storage", func() {
		// Given
		p.Status = payment.StatusExpired

		// When
		_, err := ledger.CreateAttempt(ctx, p)

		// Then
		Expect(errors.Is(err, internal.ErrInvalidStatus)).To(BeTrue())
		history, _ := ledger.History(ctx, p.ID)
		Expect(history).To(BeEmpty())
	})
})
