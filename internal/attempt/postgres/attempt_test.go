package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	attemptpkg "github.com/frahmantamala/land-payment/internal/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
)

func TestAttemptRepository(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Attempt Repository Suite")
}

func openTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	gomega.Expect(err).ToNot(gomega.HaveOccurred())

	sqlDB, err := db.DB()
	gomega.Expect(err).ToNot(gomega.HaveOccurred())
	sqlDB.SetMaxOpenConns(1)

	gomega.Expect(db.AutoMigrate(&payment.Payment{}, &attempt.Attempt{})).To(gomega.Succeed())
	return db
}

func seedPayment(db *gorm.DB, ref string) *payment.Payment {
	p := &payment.Payment{
		Reference:   ref,
		PurchaseID:  1,
		BuyerID:     1,
		TxRef:       "land_" + ref,
		Amount:      decimal.NewFromInt(15_000_000),
		Currency:    "NGN",
		PaymentType: payment.TypeDownPayment,
		Status:      payment.StatusPending,
	}
	gomega.Expect(db.Create(p).Error).ToNot(gomega.HaveOccurred())
	return p
}

func closedNow(status string) attemptpkg.Outcome {
	return attemptpkg.Outcome{Status: status, ErrorMessage: "declined", At: time.Now().UTC()}
}

var _ = ginkgo.Describe("AttemptRepository", func() {
	var (
		db   *gorm.DB
		repo attemptpkg.RepositoryAPI
		ctx  context.Context
	)

	ginkgo.BeforeEach(func() {
		db = openTestDB()
		repo = NewAttemptRepository(db)
		ctx = context.Background()
	})

	ginkgo.Describe("Create", func() {
		ginkgo.It("numbers attempts from one and claims the in-flight slot", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-1")

			// When
			a, err := repo.Create(ctx, p.ID, "land_attempt_1_aaaa")

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(a.AttemptNumber).To(gomega.Equal(1))
			gomega.Expect(a.Status).To(gomega.Equal(attempt.StatusInitiated))

			var stored payment.Payment
			gomega.Expect(db.First(&stored, p.ID).Error).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.AttemptInFlight).To(gomega.BeTrue())
			gomega.Expect(stored.AttemptCount).To(gomega.Equal(1))
		})

		ginkgo.It("refuses a second attempt while one is in flight", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-2")
			_, err := repo.Create(ctx, p.ID, "land_attempt_1_bbbb")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			// When
			_, err = repo.Create(ctx, p.ID, "land_attempt_2_bbbb")

			// Then
			gomega.Expect(errors.Is(err, internal.ErrAttemptInFlight)).To(gomega.BeTrue())
		})

		ginkgo.It("never reuses a sequence number after failure", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-3")
			first, err := repo.Create(ctx, p.ID, "land_attempt_1_cccc")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(repo.Close(ctx, first.ID, closedNow(attempt.StatusFailed))).To(gomega.Succeed())

			// When
			second, err := repo.Create(ctx, p.ID, "land_attempt_2_cccc")

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(second.AttemptNumber).To(gomega.Equal(2))
		})

		ginkgo.It("refuses attempts on a settled payment", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-4")
			gomega.Expect(db.Model(p).Update("status", payment.StatusCompleted).Error).ToNot(gomega.HaveOccurred())

			// When
			_, err := repo.Create(ctx, p.ID, "land_attempt_1_dddd")

			// Then
			gomega.Expect(errors.Is(err, internal.ErrInvalidStatus)).To(gomega.BeTrue())
		})

		ginkgo.It("reports unknown payments as not found", func() {
			_, err := repo.Create(ctx, 999, "land_attempt_1_eeee")
			gomega.Expect(errors.Is(err, internal.ErrPaymentNotFound)).To(gomega.BeTrue())
		})

		ginkgo.It("lets exactly one of many concurrent creations win", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-5")
			const racers = 12

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				inFlight int
			)

			// When
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(i int) {
					defer ginkgo.GinkgoRecover()
					defer wg.Done()
					txRef, err := attemptpkg.GenerateTxRef(time.Now())
					gomega.Expect(err).ToNot(gomega.HaveOccurred())
					_, err = repo.Create(ctx, p.ID, txRef)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, internal.ErrAttemptInFlight):
						inFlight++
					}
				}(i)
			}
			wg.Wait()

			// Then
			gomega.Expect(wins).To(gomega.Equal(1))
			gomega.Expect(inFlight).To(gomega.Equal(racers - 1))

			var open int64
			gomega.Expect(db.Model(&attempt.Attempt{}).
				Where("payment_id = ? AND status IN ?", p.ID, attempt.InFlightStatuses).
				Count(&open).Error).ToNot(gomega.HaveOccurred())
			gomega.Expect(open).To(gomega.Equal(int64(1)))
		})
	})

	ginkgo.Describe("transitions", func() {
		ginkgo.It("stamps completion and the failure flag together", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-6")
			a, _ := repo.Create(ctx, p.ID, "land_attempt_1_ffff")
			gomega.Expect(repo.MarkProcessing(ctx, a.ID, time.Now().UTC())).To(gomega.Succeed())

			// When
			gomega.Expect(repo.Close(ctx, a.ID, closedNow(attempt.StatusFailed))).To(gomega.Succeed())

			// Then
			stored, err := repo.GetByTxRef(ctx, "land_attempt_1_ffff")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.Status).To(gomega.Equal(attempt.StatusFailed))
			gomega.Expect(stored.IsFailed).To(gomega.BeTrue())
			gomega.Expect(stored.CompletedAt).ToNot(gomega.BeNil())
			gomega.Expect(stored.ProcessingStartedAt).ToNot(gomega.BeNil())

			var owner payment.Payment
			gomega.Expect(db.First(&owner, p.ID).Error).ToNot(gomega.HaveOccurred())
			gomega.Expect(owner.AttemptInFlight).To(gomega.BeFalse())
		})

		ginkgo.It("records a completed attempt as not failed", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-7")
			a, _ := repo.Create(ctx, p.ID, "land_attempt_1_gggg")
			txID := int64(4242)

			// When
			err := repo.Close(ctx, a.ID, attemptpkg.Outcome{
				Status:               attempt.StatusCompleted,
				GatewayResponse:      []byte(`{"status":"success"}`),
				GatewayTransactionID: &txID,
				At:                   time.Now().UTC(),
			})

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			stored, _ := repo.GetByTxRef(ctx, "land_attempt_1_gggg")
			gomega.Expect(stored.IsFailed).To(gomega.BeFalse())
			gomega.Expect(*stored.GatewayTransactionID).To(gomega.Equal(txID))
		})

		ginkgo.It("refuses to close an attempt twice", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-8")
			a, _ := repo.Create(ctx, p.ID, "land_attempt_1_hhhh")
			gomega.Expect(repo.Close(ctx, a.ID, closedNow(attempt.StatusCancelled))).To(gomega.Succeed())

			// When
			err := repo.Close(ctx, a.ID, closedNow(attempt.StatusCompleted))

			// Then
			gomega.Expect(errors.Is(err, internal.ErrStaleStatus)).To(gomega.BeTrue())
			stored, _ := repo.GetByTxRef(ctx, "land_attempt_1_hhhh")
			gomega.Expect(stored.Status).To(gomega.Equal(attempt.StatusCancelled))
		})

		ginkgo.It("closes whichever attempt is in flight", func() {
			// Given
			p := seedPayment(db, "LAND-PAY-9")
			_, _ = repo.Create(ctx, p.ID, "land_attempt_1_iiii")

			// When
			err := db.Transaction(func(tx *gorm.DB) error {
				return CloseInFlight(tx, p.ID, closedNow(attempt.StatusCancelled))
			})

			// Then
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			_, err = repo.GetInFlight(ctx, p.ID)
			gomega.Expect(errors.Is(err, internal.ErrAttemptNotFound)).To(gomega.BeTrue())
		})
	})
})
