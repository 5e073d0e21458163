package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeReceipt             = "payment:receipt"
	TypeConfirmation        = "payment:confirmation"
	TypeRollup              = "purchase:rollup"
	TypeSalesNotification   = "payment:sales_notification"
	TypeFailureNotification = "payment:failure_notification"
	TypeSweep               = "payment:sweep"
	TypeReminder            = "installment:reminder"
)

// Payment metadata markers written once a job has taken effect.
const (
	MarkerReceipt      = "receipt_generated_at"
	MarkerConfirmation = "confirmation_sent_at"
	MarkerSales        = "sales_notified_at"
	MarkerFailure      = "failure_notified_at"
)

type SettlementPayload struct {
	PaymentID        int64  `json:"payment_id"`
	PaymentReference string `json:"payment_reference"`
	PurchaseID       int64  `json:"purchase_id"`
	Status           string `json:"status"`
}

type ReminderPayload struct {
	PurchaseID        int64     `json:"purchase_id"`
	InstallmentNumber int       `json:"installment_number"`
	DueDate           time.Time `json:"due_date"`
}

func NewSettlementTask(taskType string, payload SettlementPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}

func NewReminderTask(payload ReminderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", TypeReminder, err)
	}
	return asynq.NewTask(TypeReminder, data), nil
}

func NewSweepTask() *asynq.Task {
	return asynq.NewTask(TypeSweep, nil)
}

// settlementTaskID is stable per job and payment so a replayed event cannot
// queue the same job twice while the first is retained.
func settlementTaskID(taskType, paymentReference string) string {
	return taskType + ":" + paymentReference
}

func reminderTaskID(p ReminderPayload) string {
	return fmt.Sprintf("%s:%d:%d:%s", TypeReminder, p.PurchaseID, p.InstallmentNumber, p.DueDate.UTC().Format("2006-01-02"))
}

func decodeSettlement(t *asynq.Task) (SettlementPayload, error) {
	var p SettlementPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.PaymentReference == "" {
		return p, fmt.Errorf("%s payload has no payment reference: %w", t.Type(), asynq.SkipRetry)
	}
	return p, nil
}
