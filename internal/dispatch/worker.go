package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/purchase"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/user"
	"github.com/frahmantamala/land-payment/internal/notification"
	paymentpkg "github.com/frahmantamala/land-payment/internal/payment"
	purchasepkg "github.com/frahmantamala/land-payment/internal/purchase"
	"github.com/frahmantamala/land-payment/internal/receipt"
)

type PaymentStore interface {
	GetByReference(ctx context.Context, reference string) (*payment.Payment, error)
	MergeMetadata(ctx context.Context, id int64, values map[string]interface{}) error
}

type PurchaseAPI interface {
	Rollup(ctx context.Context, purchaseID int64) (*purchasepkg.RollupResult, error)
	Installment(ctx context.Context, purchaseID int64, number int) (*purchase.Purchase, *purchase.PaymentSchedule, error)
}

type BuyerDirectory interface {
	GetByID(ctx context.Context, id int64) (*user.User, error)
}

type Sweeper interface {
	Run(ctx context.Context) (*paymentpkg.SweepReport, error)
}

// Worker holds the queue handlers. Every settlement handler checks its
// marker before acting and writes it after, so a redelivered task is a no-op.
type Worker struct {
	payments       PaymentStore
	purchases      PurchaseAPI
	buyers         BuyerDirectory
	notifier       notification.Sender
	receipts       *receipt.Renderer
	sweeper        Sweeper
	salesRecipient string
	logger         *slog.Logger
	now            func() time.Time
}

func NewWorker(payments PaymentStore, purchases PurchaseAPI, buyers BuyerDirectory, notifier notification.Sender, receipts *receipt.Renderer, logger *slog.Logger) *Worker {
	return &Worker{
		payments:  payments,
		purchases: purchases,
		buyers:    buyers,
		notifier:  notifier,
		receipts:  receipts,
		logger:    logger.With("component", "settlement_worker"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) WithSweeper(s Sweeper) *Worker {
	w.sweeper = s
	return w
}

func (w *Worker) WithSalesRecipient(to string) *Worker {
	w.salesRecipient = to
	return w
}

func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReceipt, w.HandleReceipt)
	mux.HandleFunc(TypeConfirmation, w.HandleConfirmation)
	mux.HandleFunc(TypeRollup, w.HandleRollup)
	mux.HandleFunc(TypeSalesNotification, w.HandleSalesNotification)
	mux.HandleFunc(TypeFailureNotification, w.HandleFailureNotification)
	mux.HandleFunc(TypeReminder, w.HandleReminder)
	if w.sweeper != nil {
		mux.HandleFunc(TypeSweep, w.HandleSweep)
	}
	return mux
}

func (w *Worker) HandleReceipt(ctx context.Context, t *asynq.Task) error {
	p, err := w.load(ctx, t)
	if err != nil {
		return err
	}
	if w.skip(p, payment.StatusCompleted, MarkerReceipt, t.Type()) {
		return nil
	}

	rc, err := w.receipts.Render(p)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := w.payments.MergeMetadata(ctx, p.ID, map[string]interface{}{
		receipt.MetaKey: rc.Metadata(),
		MarkerReceipt:   w.stamp(),
	}); err != nil {
		return fmt.Errorf("store receipt %s: %w", rc.Number, err)
	}

	w.logger.Info("receipt generated", "payment_reference", p.Reference, "receipt_number", rc.Number)
	return nil
}

func (w *Worker) HandleConfirmation(ctx context.Context, t *asynq.Task) error {
	p, err := w.load(ctx, t)
	if err != nil {
		return err
	}
	if w.skip(p, payment.StatusCompleted, MarkerConfirmation, t.Type()) {
		return nil
	}
	if p.CustomerEmail == "" {
		return fmt.Errorf("payment %s has no buyer email: %w", p.Reference, asynq.SkipRetry)
	}

	data := paymentData(p)
	data["receipt_number"] = receipt.Number(p.Reference)
	data["paid_at"] = p.PaidDate
	msg := notification.Message{
		Channel:        notification.ChannelEmail,
		To:             p.CustomerEmail,
		Template:       notification.TemplatePaymentConfirmation,
		Data:           data,
		IdempotencyKey: settlementTaskID(t.Type(), p.Reference),
	}
	return w.notifyAndMark(ctx, p, msg, MarkerConfirmation)
}

func (w *Worker) HandleSalesNotification(ctx context.Context, t *asynq.Task) error {
	p, err := w.load(ctx, t)
	if err != nil {
		return err
	}
	if w.skip(p, payment.StatusCompleted, MarkerSales, t.Type()) {
		return nil
	}
	if w.salesRecipient == "" {
		w.logger.Debug("sales notification disabled", "payment_reference", p.Reference)
		return nil
	}

	data := paymentData(p)
	data["buyer_name"] = p.CustomerName
	data["buyer_email"] = p.CustomerEmail
	data["purchase_id"] = p.PurchaseID
	msg := notification.Message{
		Channel:        notification.ChannelEmail,
		To:             w.salesRecipient,
		Template:       notification.TemplateSalesNewPayment,
		Data:           data,
		IdempotencyKey: settlementTaskID(t.Type(), p.Reference),
	}
	return w.notifyAndMark(ctx, p, msg, MarkerSales)
}

func (w *Worker) HandleFailureNotification(ctx context.Context, t *asynq.Task) error {
	p, err := w.load(ctx, t)
	if err != nil {
		return err
	}
	if w.skip(p, payment.StatusFailed, MarkerFailure, t.Type()) {
		return nil
	}
	if p.CustomerEmail == "" {
		return fmt.Errorf("payment %s has no buyer email: %w", p.Reference, asynq.SkipRetry)
	}

	data := paymentData(p)
	data["failure_reason"] = p.FailureReason
	msg := notification.Message{
		Channel:        notification.ChannelEmail,
		To:             p.CustomerEmail,
		Template:       notification.TemplatePaymentFailed,
		Data:           data,
		IdempotencyKey: settlementTaskID(t.Type(), p.Reference),
	}
	return w.notifyAndMark(ctx, p, msg, MarkerFailure)
}

// HandleRollup recomputes the purchase. The rollup is a pure function of the
// completed payments, so it needs no marker.
func (w *Worker) HandleRollup(ctx context.Context, t *asynq.Task) error {
	payload, err := decodeSettlement(t)
	if err != nil {
		return err
	}
	purchaseID := payload.PurchaseID
	if purchaseID == 0 {
		p, err := w.load(ctx, t)
		if err != nil {
			return err
		}
		purchaseID = p.PurchaseID
	}

	res, err := w.purchases.Rollup(ctx, purchaseID)
	if errors.Is(err, internal.ErrPurchaseNotFound) {
		return fmt.Errorf("purchase %d: %v: %w", purchaseID, err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("rollup purchase %d: %w", purchaseID, err)
	}

	w.logger.Info("purchase rolled up",
		"purchase_reference", res.Reference,
		"status", res.Status,
		"changed", res.Changed,
		"total_paid", res.TotalPaid.StringFixed(2))
	return nil
}

func (w *Worker) HandleReminder(ctx context.Context, t *asynq.Task) error {
	var payload ReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	p, row, err := w.purchases.Installment(ctx, payload.PurchaseID, payload.InstallmentNumber)
	if errors.Is(err, internal.ErrPurchaseNotFound) || errors.Is(err, internal.ErrScheduleNotFound) {
		return fmt.Errorf("installment %d/%d: %v: %w", payload.PurchaseID, payload.InstallmentNumber, err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}
	if row.IsPaid || p.Status == purchase.StatusCancelled || p.Status == purchase.StatusCompleted {
		w.logger.Debug("reminder no longer needed",
			"purchase_reference", p.Reference,
			"installment_number", row.InstallmentNumber)
		return nil
	}

	buyer, err := w.buyers.GetByID(ctx, p.BuyerID)
	if err != nil {
		return fmt.Errorf("load buyer %d: %w", p.BuyerID, err)
	}

	return w.notifier.Send(ctx, notification.Message{
		Channel:  notification.ChannelEmail,
		To:       buyer.Email,
		Template: notification.TemplateInstallmentReminder,
		Data: map[string]interface{}{
			"buyer_name":         buyer.Name,
			"purchase_reference": p.Reference,
			"installment_number": row.InstallmentNumber,
			"amount":             row.Amount.StringFixed(2),
			"due_date":           row.DueDate.Format("2006-01-02"),
		},
		IdempotencyKey: reminderTaskID(payload),
	})
}

func (w *Worker) HandleSweep(ctx context.Context, t *asynq.Task) error {
	report, err := w.sweeper.Run(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	if report.Skipped {
		w.logger.Debug("sweep skipped")
	}
	return nil
}

// load resolves the task's payment. A payment that does not exist will not
// appear on retry either.
func (w *Worker) load(ctx context.Context, t *asynq.Task) (*payment.Payment, error) {
	payload, err := decodeSettlement(t)
	if err != nil {
		return nil, err
	}
	p, err := w.payments.GetByReference(ctx, payload.PaymentReference)
	if errors.Is(err, internal.ErrPaymentNotFound) {
		return nil, fmt.Errorf("payment %s: %v: %w", payload.PaymentReference, err, asynq.SkipRetry)
	}
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", payload.PaymentReference, err)
	}
	return p, nil
}

func (w *Worker) skip(p *payment.Payment, wantStatus, marker, taskType string) bool {
	if p.Status != wantStatus {
		w.logger.Warn("job does not match payment status",
			"task_type", taskType,
			"payment_reference", p.Reference,
			"status", p.Status)
		return true
	}
	if p.MetadataString(marker) != "" {
		w.logger.Info("job already done",
			"task_type", taskType,
			"payment_reference", p.Reference,
			"marker", marker)
		return true
	}
	return false
}

// notifyAndMark sends then marks. A crash between the two resends once; the
// idempotency key lets the delivery side drop the duplicate.
func (w *Worker) notifyAndMark(ctx context.Context, p *payment.Payment, msg notification.Message, marker string) error {
	if err := w.notifier.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s for %s: %w", msg.Template, p.Reference, err)
	}
	if err := w.payments.MergeMetadata(ctx, p.ID, map[string]interface{}{marker: w.stamp()}); err != nil {
		return fmt.Errorf("mark %s on %s: %w", marker, p.Reference, err)
	}
	w.logger.Info("notification sent", "template", msg.Template, "payment_reference", p.Reference)
	return nil
}

func (w *Worker) stamp() string {
	return w.now().Format(time.RFC3339)
}

func paymentData(p *payment.Payment) map[string]interface{} {
	data := map[string]interface{}{
		"payment_reference": p.Reference,
		"buyer_name":        p.CustomerName,
		"amount":            p.Amount.StringFixed(2),
		"currency":          p.Currency,
		"payment_type":      p.PaymentType,
		"description":       p.Description,
	}
	if p.InstallmentNumber != nil {
		data["installment_number"] = *p.InstallmentNumber
	}
	return data
}
