package payment

import (
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/common/validation"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/attempt"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
)

// InitiatePaymentRequest is the body of POST /lands/{landID}/payments.
type InitiatePaymentRequest struct {
	PaymentType       string          `json:"payment_type"`
	InstallmentPlanID *int64          `json:"installment_plan_id,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	ReservationFee    decimal.Decimal `json:"reservation_fee,omitempty"`
	RedirectURL       string          `json:"redirect_url,omitempty"`
}

func (r *InitiatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("payment_type", r.PaymentType).
		Required().
		OneOf(payment.TypeFullPayment, payment.TypeDownPayment, payment.TypeReservationFee)
	validator.Field("payment_method", r.PaymentMethod).
		OneOf(payment.MethodCard, payment.MethodBankTransfer, payment.MethodMobileMoney, payment.MethodUSSD, payment.MethodAccount)
	if r.PaymentType == payment.TypeDownPayment {
		validator.Field("installment_plan_id", r.InstallmentPlanID).Required()
	}
	if !r.ReservationFee.IsZero() {
		validator.Field("reservation_fee", r.ReservationFee).Positive(errors.ErrCodeInvalidAmount)
	}
	validator.Field("redirect_url", r.RedirectURL).MaxLength(500)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type PayInstallmentRequest struct {
	PaymentMethod string `json:"payment_method,omitempty"`
	RedirectURL   string `json:"redirect_url,omitempty"`
}

func (r *PayInstallmentRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("payment_method", r.PaymentMethod).
		OneOf(payment.MethodCard, payment.MethodBankTransfer, payment.MethodMobileMoney, payment.MethodUSSD, payment.MethodAccount)
	validator.Field("redirect_url", r.RedirectURL).MaxLength(500)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// VerifyRequest carries what the browser got back from the gateway redirect.
// Either field may be empty; the reconciler falls back to the in-flight
// attempt's reference.
type VerifyRequest struct {
	TransactionID *int64 `json:"transaction_id,omitempty"`
	TxRef         string `json:"tx_ref,omitempty"`
}

func (r *VerifyRequest) Validate() error {
	validator := validation.NewValidator()
	if r.TransactionID != nil {
		validator.Field("transaction_id", *r.TransactionID).MinInt(1, errors.ErrCodeValidationFailed)
	}
	validator.Field("tx_ref", r.TxRef).MaxLength(100)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// StartRequest is what the reconciler needs to open a payment.
type StartRequest struct {
	BuyerID           int64
	LandID            int64
	PaymentType       string
	InstallmentPlanID *int64
	PaymentMethod     string
	ReservationFee    decimal.Decimal
	RedirectURL       string
}

type PaymentView struct {
	Reference            string          `json:"reference"`
	PurchaseID           int64           `json:"purchase_id"`
	TxRef                string          `json:"tx_ref"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	PaymentType          string          `json:"payment_type"`
	PaymentMethod        string          `json:"payment_method,omitempty"`
	Status               string          `json:"status"`
	InstallmentNumber    *int            `json:"installment_number,omitempty"`
	GatewayTransactionID *int64          `json:"gateway_transaction_id,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	PaidDate             *time.Time      `json:"paid_date,omitempty"`
	AttemptCount         int             `json:"attempt_count"`
	CreatedAt            time.Time       `json:"created_at"`
}

func NewPaymentView(p *payment.Payment) PaymentView {
	return PaymentView{
		Reference:            p.Reference,
		PurchaseID:           p.PurchaseID,
		TxRef:                p.TxRef,
		Amount:               p.Amount,
		Currency:             p.Currency,
		PaymentType:          p.PaymentType,
		PaymentMethod:        p.PaymentMethod,
		Status:               p.Status,
		InstallmentNumber:    p.InstallmentNumber,
		GatewayTransactionID: p.GatewayTransactionID,
		FailureReason:        p.FailureReason,
		PaidDate:             p.PaidDate,
		AttemptCount:         p.AttemptCount,
		CreatedAt:            p.CreatedAt,
	}
}

type AttemptView struct {
	AttemptNumber int        `json:"attempt_number"`
	TxRef         string     `json:"tx_ref"`
	Status        string     `json:"status"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type PaymentDetail struct {
	PaymentView
	Attempts []AttemptView `json:"attempts"`
}

func NewPaymentDetail(p *payment.Payment, attempts []*attempt.Attempt) *PaymentDetail {
	views := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, AttemptView{
			AttemptNumber: a.AttemptNumber,
			TxRef:         a.TxRef,
			Status:        a.Status,
			ErrorMessage:  a.ErrorMessage,
			CompletedAt:   a.CompletedAt,
			CreatedAt:     a.CreatedAt,
		})
	}
	return &PaymentDetail{PaymentView: NewPaymentView(p), Attempts: views}
}

// InitiateResponse is returned once the gateway has accepted a charge.
type InitiateResponse struct {
	PaymentView
	PurchaseReference string `json:"purchase_reference"`
	PaymentLink       string `json:"payment_link"`
}

// ReconcileResult reports what one settlement call did.
type ReconcileResult struct {
	Payment PaymentView `json:"payment"`
	// Applied is true only for the caller that performed the transition.
	Applied bool `json:"applied"`
	// ProviderStatus is empty when the gateway was not consulted.
	ProviderStatus string `json:"provider_status,omitempty"`
}

type PaymentList struct {
	Payments []PaymentView `json:"payments"`
	Total    int64         `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// Webhook outcomes reported back to the provider.
const (
	WebhookProcessed   = "processed"
	WebhookDuplicate   = "duplicate"
	WebhookIgnored     = "ignored"
	WebhookUnknownRef  = "unknown_reference"
	WebhookRateLimited = "rate_limited"
)

type WebhookResult struct {
	Outcome          string `json:"outcome"`
	PaymentReference string `json:"payment_reference,omitempty"`
	PaymentStatus    string `json:"payment_status,omitempty"`
}
