package payment_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	attemptpkg "github.com/frahmantamala/land-payment/internal/attempt"
	attemptpostgres "github.com/frahmantamala/land-payment/internal/attempt/postgres"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/land"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
	"github.com/frahmantamala/land-payment/internal/core/events"
	paymentpkg "github.com/frahmantamala/land-payment/internal/payment"
	paymentpostgres "github.com/frahmantamala/land-payment/internal/payment/postgres"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
	purchasepostgres "github.com/frahmantamala/land-payment/internal/purchase/postgres"
)

type fakeLocker struct {
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

type dueRows []*purchase.PaymentSchedule

func (d dueRows) DueInstallments(ctx context.Context, within time.Duration) ([]*purchase.PaymentSchedule, error) {
	return d, nil
}

type recordingScheduler struct {
	failFor   int
	scheduled []int
}

func (s *recordingScheduler) ScheduleReminder(ctx context.Context, row *purchase.PaymentSchedule) error {
	if row.InstallmentNumber == s.failFor {
		return errors.New("queue unavailable")
	}
	s.scheduled = append(s.scheduled, row.InstallmentNumber)
	return nil
}

var _ = Describe("Sweeper", func() {
	var (
		db      *gorm.DB
		ctx     context.Context
		service *paymentpkg.Service
		locker  *fakeLocker
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, _ := db.DB()
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(
			&land.Land{},
			&land.InstallmentPlan{},
			&purchase.Purchase{},
			&purchase.PaymentSchedule{},
			&payment.Payment{},
			&attempt.Attempt{},
		)).To(Succeed())

		ctx = context.Background()
		logger := quietLogger()
		gateway := &scriptedGateway{
			Client: paymentgateway.NewClient(paymentgateway.Config{BaseURL: "http://gateway.invalid", WebhookHash: webhookSecret}, logger),
		}
		service = paymentpkg.NewService(
			paymentpostgres.NewPaymentRepository(db),
			attemptpkg.NewLedger(attemptpostgres.NewAttemptRepository(db), logger),
			gateway,
			purchasepkg.NewService(purchasepostgres.NewPurchaseRepository(db), logger),
			buyerDirectory{1: {ID: 1, Email: "buyer@example.com", Name: "Buyer One"}},
			events.NewEventBus(logger),
			paymentpkg.Config{},
			logger,
		)
		locker = &fakeLocker{}

		stale := &payment.Payment{
			Reference:   "LAND-PAY-20260101000000-AAAAAA",
			PurchaseID:  1,
			BuyerID:     1,
			TxRef:       "land_LAND-PAY-20260101000000-AAAAAA_1767225600",
			Amount:      decimal.NewFromInt(1000),
			Currency:    "NGN",
			PaymentType: payment.TypeFullPayment,
			Status:      payment.StatusPending,
		}
		Expect(db.Create(stale).Error).NotTo(HaveOccurred())
		Expect(db.Model(stale).UpdateColumn("created_at", time.Now().UTC().Add(-48*time.Hour)).Error).NotTo(HaveOccurred())
	})

	It("expires stale payments and schedules reminders while holding the lock", func() {
		// Given
		scheduler := &recordingScheduler{failFor: 2}
		rows := dueRows{
			{PurchaseID: 5, InstallmentNumber: 1},
			{PurchaseID: 5, InstallmentNumber: 2},
			{PurchaseID: 6, InstallmentNumber: 3},
		}
		sweeper := paymentpkg.NewSweeper(service, locker, 4242, quietLogger()).
			WithReminders(rows, scheduler, 72*time.Hour)

		// When
		report, err := sweeper.Run(ctx)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Skipped).To(BeFalse())
		Expect(report.Expired).To(Equal(1))
		Expect(report.Reminders).To(Equal(2))
		Expect(scheduler.scheduled).To(Equal([]int{1, 3}))
		Expect(locker.released).To(Equal(1))

		var p payment.Payment
		Expect(db.Where("reference = ?", "LAND-PAY-20260101000000-AAAAAA").First(&p).Error).NotTo(HaveOccurred())
		Expect(p.Status).To(Equal(payment.StatusExpired))
		Expect(p.MetadataString(paymentpkg.MetaSettledBy)).To(Equal(paymentpkg.SourceSweep))
	})

	It("publishes settlements whose jobs never reached the queue", func() {
		// Given a payment settled before a crash, with no dispatch recorded
		orphan := &payment.Payment{
			Reference:   "LAND-PAY-20260101000000-BBBBBB",
			PurchaseID:  1,
			BuyerID:     1,
			TxRef:       "land_LAND-PAY-20260101000000-BBBBBB_1767225600",
			Amount:      decimal.NewFromInt(1000),
			Currency:    "NGN",
			PaymentType: payment.TypeFullPayment,
			Status:      payment.StatusCompleted,
		}
		Expect(db.Create(orphan).Error).NotTo(HaveOccurred())
		Expect(db.Model(orphan).UpdateColumn("updated_at", time.Now().UTC().Add(-time.Hour)).Error).NotTo(HaveOccurred())

		// When
		report, err := paymentpkg.NewSweeper(service, locker, 4242, quietLogger()).Run(ctx)

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Redispatched).To(Equal(1))
		var p payment.Payment
		Expect(db.First(&p, orphan.ID).Error).NotTo(HaveOccurred())
		Expect(p.DispatchedAt).NotTo(BeNil())
	})

	It("does nothing when another instance holds the lock", func() {
		locker.held = true

		report, err := paymentpkg.NewSweeper(service, locker, 4242, quietLogger()).Run(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Skipped).To(BeTrue())
		var p payment.Payment
		Expect(db.First(&p).Error).NotTo(HaveOccurred())
		Expect(p.Status).To(Equal(payment.StatusPending))
	})

	It("returns the lock error", func() {
		locker.err = errors.New("connection refused")

		_, err := paymentpkg.NewSweeper(service, locker, 4242, quietLogger()).Run(ctx)

		Expect(err).To(MatchError("connection refused"))
	})
})
