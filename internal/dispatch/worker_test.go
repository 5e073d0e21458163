package dispatch_test

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/dispatch"
	"github.com/frahmantamala/land-payment/internal/notification"
	paymentpkg "github.com/frahmantamala/land-payment/internal/payment"
	paymentpostgres "github.com/frahmantamala/land-payment/internal/payment/postgres"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
	"github.com/frahmantamala/land-payment/internal/receipt"
)

type outbox struct {
	sent []notification.Message
	err  error
}

func (o *outbox) Send(ctx context.Context, msg notification.Message) error {
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, msg)
	return nil
}

type fakePurchases struct {
	rollups  []int64
	purchase *purchase.Purchase
	row      *purchase.PaymentSchedule
}

func (f *fakePurchases) Rollup(ctx context.Context, purchaseID int64) (*purchasepkg.RollupResult, error) {
	f.rollups = append(f.rollups, purchaseID)
	return &purchasepkg.RollupResult{PurchaseID: purchaseID, Reference: "LAND-1", Status: purchase.StatusCompleted, Changed: true}, nil
}

func (f *fakePurchases) Installment(ctx context.Context, purchaseID int64, number int) (*purchase.Purchase, *purchase.PaymentSchedule, error) {
	if f.row == nil {
		return nil, nil, internal.ErrScheduleNotFound
	}
	return f.purchase, f.row, nil
}

type buyers map[int64]*user.User

func (b buyers) GetByID(ctx context.Context, id int64) (*user.User, error) {
	if u, ok := b[id]; ok {
		return u, nil
	}
	return nil, errors.New("no such user")
}

type stubSweeper struct{ runs int }

func (s *stubSweeper) Run(ctx context.Context) (*paymentpkg.SweepReport, error) {
	s.runs++
	return &paymentpkg.SweepReport{Expired: 1}, nil
}

var _ = Describe("Worker", func() {
	var (
		db        *gorm.DB
		ctx       context.Context
		mail      *outbox
		purchases *fakePurchases
		sweeper   *stubSweeper
		worker    *dispatch.Worker
		paid      *payment.Payment
		now       time.Time
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

		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		paidAt := now.Add(-time.Minute)
		paid = &payment.Payment{
			Reference:     "LAND-PAY-20260301115900-ABCDEF",
			PurchaseID:    3,
			BuyerID:       7,
			TxRef:         "land_LAND-PAY-20260301115900-ABCDEF_1772366340",
			Amount:        decimal.NewFromInt(15_000_000),
			Currency:      "NGN",
			PaymentType:   payment.TypeDownPayment,
			PaymentMethod: payment.MethodCard,
			Status:        payment.StatusCompleted,
			PaidDate:      &paidAt,
			CustomerEmail: "ada@example.com",
			CustomerName:  "Ada Obi",
		}
		Expect(db.Create(paid).Error).NotTo(HaveOccurred())

		mail = &outbox{}
		purchases = &fakePurchases{}
		sweeper = &stubSweeper{}
		worker = dispatch.NewWorker(
			paymentpostgres.NewPaymentRepository(db),
			purchases,
			buyers{7: {ID: 7, Email: "ada@example.com", Name: "Ada Obi"}},
			mail,
			receipt.NewRenderer().WithClock(func() time.Time { return now }),
			quietLogger(),
		).WithSweeper(sweeper).
			WithSalesRecipient("sales@landpay.test").
			WithClock(func() time.Time { return now })
	})

	taskFor := func(taskType string, p *payment.Payment) *asynq.Task {
		task, err := dispatch.NewSettlementTask(taskType, dispatch.SettlementPayload{
			PaymentID:        p.ID,
			PaymentReference: p.Reference,
			PurchaseID:       p.PurchaseID,
			Status:           p.Status,
		})
		Expect(err).NotTo(HaveOccurred())
		return task
	}

	reload := func() *payment.Payment {
		var p payment.Payment
		Expect(db.First(&p, paid.ID).Error).NotTo(HaveOccurred())
		return &p
	}

	Describe("HandleReceipt", func() {
		It("stores the receipt once", func() {
			// When
			Expect(worker.HandleReceipt(ctx, taskFor(dispatch.TypeReceipt, paid))).To(Succeed())
			Expect(worker.HandleReceipt(ctx, taskFor(dispatch.TypeReceipt, paid))).To(Succeed())

			// Then
			p := reload()
			Expect(p.MetadataString(dispatch.MarkerReceipt)).To(Equal("2026-03-01T12:00:00Z"))
			stored, ok := p.Metadata[receipt.MetaKey].(map[string]interface{})
			Expect(ok).To(BeTrue())
			Expect(stored["number"]).To(Equal("RCP-LAND-PAY-20260301115900-ABCDEF"))
		})
	})

	Describe("HandleConfirmation", func() {
		It("emails the buyer once even when redelivered", func() {
			Expect(worker.HandleConfirmation(ctx, taskFor(dispatch.TypeConfirmation, paid))).To(Succeed())
			Expect(worker.HandleConfirmation(ctx, taskFor(dispatch.TypeConfirmation, paid))).To(Succeed())

			Expect(mail.sent).To(HaveLen(1))
			msg := mail.sent[0]
			Expect(msg.To).To(Equal("ada@example.com"))
			Expect(msg.Template).To(Equal(notification.TemplatePaymentConfirmation))
			Expect(msg.Data).To(HaveKeyWithValue("receipt_number", "RCP-LAND-PAY-20260301115900-ABCDEF"))
			Expect(msg.IdempotencyKey).To(Equal("payment:confirmation:LAND-PAY-20260301115900-ABCDEF"))
			Expect(reload().MetadataString(dispatch.MarkerConfirmation)).NotTo(BeEmpty())
		})

		It("leaves the marker unset when delivery fails so the job is retried", func() {
			mail.err = errors.New("broker down")

			err := worker.HandleConfirmation(ctx, taskFor(dispatch.TypeConfirmation, paid))

			Expect(err).To(MatchError(ContainSubstring("broker down")))
			Expect(errors.Is(err, asynq.SkipRetry)).To(BeFalse())
			Expect(reload().MetadataString(dispatch.MarkerConfirmation)).To(BeEmpty())
		})
	})

	Describe("HandleSalesNotification", func() {
		It("notifies the sales inbox", func() {
			Expect(worker.HandleSalesNotification(ctx, taskFor(dispatch.TypeSalesNotification, paid))).To(Succeed())

			Expect(mail.sent).To(HaveLen(1))
			Expect(mail.sent[0].To).To(Equal("sales@landpay.test"))
			Expect(mail.sent[0].Data).To(HaveKeyWithValue("buyer_name", "Ada Obi"))
		})
	})

	Describe("HandleFailureNotification", func() {
		It("skips a payment that did not fail", func() {
			Expect(worker.HandleFailureNotification(ctx, taskFor(dispatch.TypeFailureNotification, paid))).To(Succeed())

			Expect(mail.sent).To(BeEmpty())
		})

		It("tells the buyer why the payment failed", func() {
			Expect(db.Model(paid).Updates(map[string]interface{}{
				"status":         payment.StatusFailed,
				"failure_reason": "Insufficient funds",
			}).Error).NotTo(HaveOccurred())

			Expect(worker.HandleFailureNotification(ctx, taskFor(dispatch.TypeFailureNotification, paid))).To(Succeed())

			Expect(mail.sent).To(HaveLen(1))
			Expect(mail.sent[0].Template).To(Equal(notification.TemplatePaymentFailed))
			Expect(mail.sent[0].Data).To(HaveKeyWithValue("failure_reason", "Insufficient funds"))
		})
	})

	Describe("HandleRollup", func() {
		It("rolls up the payment's purchase", func() {
			Expect(worker.HandleRollup(ctx, taskFor(dispatch.TypeRollup, paid))).To(Succeed())

			Expect(purchases.rollups).To(Equal([]int64{3}))
		})
	})

	It("does not retry a job whose payment is gone", func() {
		ghost := &payment.Payment{Reference: "LAND-PAY-MISSING", Status: payment.StatusCompleted}

		err := worker.HandleReceipt(ctx, taskFor(dispatch.TypeReceipt, ghost))

		Expect(errors.Is(err, asynq.SkipRetry)).To(BeTrue())
	})

	It("does not retry a malformed payload", func() {
		err := worker.HandleConfirmation(ctx, asynq.NewTask(dispatch.TypeConfirmation, []byte("{")))

		Expect(errors.Is(err, asynq.SkipRetry)).To(BeTrue())
	})

	Describe("HandleReminder", func() {
		reminder := func() *asynq.Task {
			task, err := dispatch.NewReminderTask(dispatch.ReminderPayload{PurchaseID: 3, InstallmentNumber: 2, DueDate: now.Add(48 * time.Hour)})
			Expect(err).NotTo(HaveOccurred())
			return task
		}

		It("reminds the buyer of an unpaid installment", func() {
			purchases.purchase = &purchase.Purchase{ID: 3, BuyerID: 7, Reference: "LAND-1", Status: purchase.StatusInProgress}
			purchases.row = &purchase.PaymentSchedule{PurchaseID: 3, InstallmentNumber: 2, Amount: decimal.RequireFromString("5833333.33"), DueDate: now.Add(48 * time.Hour)}

			Expect(worker.HandleReminder(ctx, reminder())).To(Succeed())

			Expect(mail.sent).To(HaveLen(1))
			Expect(mail.sent[0].Template).To(Equal(notification.TemplateInstallmentReminder))
			Expect(mail.sent[0].Data).To(HaveKeyWithValue("amount", "5833333.33"))
		})

		It("stays quiet once the installment is paid", func() {
			purchases.purchase = &purchase.Purchase{ID: 3, BuyerID: 7, Status: purchase.StatusInProgress}
			purchases.row = &purchase.PaymentSchedule{PurchaseID: 3, InstallmentNumber: 2, IsPaid: true}

			Expect(worker.HandleReminder(ctx, reminder())).To(Succeed())

			Expect(mail.sent).To(BeEmpty())
		})

		It("drops reminders for rows that no longer exist", func() {
			err := worker.HandleReminder(ctx, reminder())

			Expect(errors.Is(err, asynq.SkipRetry)).To(BeTrue())
		})
	})

	It("runs the sweep", func() {
		Expect(worker.HandleSweep(ctx, dispatch.NewSweepTask())).To(Succeed())

		Expect(sweeper.runs).To(Equal(1))
	})

	It("routes every task type through the mux", func() {
		mux := worker.Mux()

		Expect(mux.ProcessTask(ctx, taskFor(dispatch.TypeRollup, paid))).To(Succeed())
		Expect(purchases.rollups).To(HaveLen(1))
	})
})

