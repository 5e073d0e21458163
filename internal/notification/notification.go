package notification

import (
	"context"
	"time"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

const (
	TemplatePaymentConfirmation = "payment_confirmation"
	TemplatePaymentFailed       = "payment_failed"
	TemplateSalesNewPayment     = "sales_new_payment"
	TemplateInstallmentReminder = "installment_reminder"
	TemplateVerificationCode    = "verification_code"
)

// Message is a templated message addressed to one recipient. Rendering the
// template is the delivery side's job.
type Message struct {
	ID             string                 `json:"id"`
	Channel        string                 `json:"channel"`
	To             string                 `json:"to"`
	Template       string                 `json:"template"`
	Data           map[string]interface{} `json:"data"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}
