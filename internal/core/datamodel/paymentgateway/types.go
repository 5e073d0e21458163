package paymentgateway

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ProviderStatus is the transaction status reported by the gateway.
type ProviderStatus string

const (
	ProviderStatusSuccessful ProviderStatus = "successful"
	ProviderStatusFailed     ProviderStatus = "failed"
	ProviderStatusCancelled  ProviderStatus = "cancelled"
	ProviderStatusPending    ProviderStatus = "pending"
)

const (
	EventChargeCompleted = "charge.completed"
	EventChargeFailed    = "charge.failed"
)

const ResponseStatusSuccess = "success"

// IsFinal reports whether the provider has reached a verdict.
func (s ProviderStatus) IsFinal() bool {
	switch s {
	case ProviderStatusSuccessful, ProviderStatusFailed, ProviderStatusCancelled:
		return true
	}
	return false
}

func NormalizeStatus(s string) ProviderStatus {
	return ProviderStatus(strings.ToLower(strings.TrimSpace(s)))
}

type Customer struct {
	Email       string `json:"email"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type Customizations struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
}

// InitiateRequest is the hosted-payment initialization body.
type InitiateRequest struct {
	TxRef          string                 `json:"tx_ref"`
	Amount         json.Number            `json:"amount"`
	Currency       string                 `json:"currency"`
	RedirectURL    string                 `json:"redirect_url"`
	PaymentOptions string                 `json:"payment_options,omitempty"`
	Customer       Customer               `json:"customer"`
	Customizations Customizations         `json:"customizations"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
}

type APIResponse[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type InitiateData struct {
	Link   string `json:"link"`
	FlwRef string `json:"flw_ref,omitempty"`
}

// TransactionData is shared by verify responses and webhook bodies.
type TransactionData struct {
	ID                int64       `json:"id"`
	TxRef             string      `json:"tx_ref"`
	FlwRef            string      `json:"flw_ref"`
	Amount            json.Number `json:"amount"`
	ChargedAmount     json.Number `json:"charged_amount,omitempty"`
	Currency          string      `json:"currency"`
	Status            string      `json:"status"`
	PaymentType       string      `json:"payment_type"`
	ProcessorResponse string      `json:"processor_response"`
	Customer          *Customer   `json:"customer,omitempty"`
	CreatedAt         string      `json:"created_at,omitempty"`
}

func (d TransactionData) AmountDecimal() (decimal.Decimal, error) {
	if d.Amount == "" {
		return decimal.Zero, errors.New("amount missing")
	}
	return decimal.NewFromString(d.Amount.String())
}

// MissingFields lists the required verification fields that are absent.
func (d TransactionData) MissingFields() []string {
	var missing []string
	if d.ID == 0 {
		missing = append(missing, "id")
	}
	if d.TxRef == "" {
		missing = append(missing, "tx_ref")
	}
	if d.Amount == "" {
		missing = append(missing, "amount")
	}
	if d.Status == "" {
		missing = append(missing, "status")
	}
	if d.Currency == "" {
		missing = append(missing, "currency")
	}
	return missing
}

type WebhookPayload struct {
	Event string          `json:"event"`
	Data  TransactionData `json:"data"`
}
