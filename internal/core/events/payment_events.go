package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSettled = "payment.settled"
)

// PaymentSettledEvent is published once, by whichever reconciliation path won
// the status transition of a payment.
type PaymentSettledEvent struct {
	BaseEvent
	PaymentID        int64  `json:"payment_id"`
	PaymentReference string `json:"payment_reference"`
	PurchaseID       int64  `json:"purchase_id"`
	TxRef            string `json:"tx_ref"`
	Status           string `json:"status"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

func NewPaymentSettledEvent(paymentID int64, paymentRef string, purchaseID int64, txRef, status, amount, currency, failureReason string) *PaymentSettledEvent {
	return &PaymentSettledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSettled,
			Timestamp: time.Now().UTC(),
			Data: map[string]interface{}{
				"payment_id":        paymentID,
				"payment_reference": paymentRef,
				"purchase_id":       purchaseID,
				"tx_ref":            txRef,
				"status":            status,
				"amount":            amount,
				"currency":          currency,
			},
		},
		PaymentID:        paymentID,
		PaymentReference: paymentRef,
		PurchaseID:       purchaseID,
		TxRef:            txRef,
		Status:           status,
		Amount:           amount,
		Currency:         currency,
		FailureReason:    failureReason,
	}
}
