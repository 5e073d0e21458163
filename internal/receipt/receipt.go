package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
)

const MetaKey = "receipt"

type Receipt struct {
	Number            string    `json:"number"`
	PaymentReference  string    `json:"payment_reference"`
	TxRef             string    `json:"tx_ref"`
	BuyerName         string    `json:"buyer_name"`
	BuyerEmail        string    `json:"buyer_email"`
	Description       string    `json:"description"`
	PaymentType       string    `json:"payment_type"`
	PaymentMethod     string    `json:"payment_method,omitempty"`
	InstallmentNumber *int      `json:"installment_number,omitempty"`
	Amount            string    `json:"amount"`
	Currency          string    `json:"currency"`
	PaidAt            time.Time `json:"paid_at"`
	IssuedAt          time.Time `json:"issued_at"`
}

// Number is derived from the payment reference, so rendering the same
// payment twice yields the same receipt number.
func Number(paymentReference string) string {
	return "RCP-" + paymentReference
}

var textTemplate = template.Must(template.New("receipt").
	Funcs(template.FuncMap{"deref": func(n *int) int { return *n }}).
	Parse(`RECEIPT {{.Number}}
Issued:    {{.IssuedAt.Format "2006-01-02 15:04 MST"}}
Buyer:     {{.BuyerName}} <{{.BuyerEmail}}>
For:       {{.Description}}{{if .InstallmentNumber}} (installment {{deref .InstallmentNumber}}){{end}}
Amount:    {{.Currency}} {{.Amount}}
Method:    {{if .PaymentMethod}}{{.PaymentMethod}}{{else}}-{{end}}
Paid:      {{.PaidAt.Format "2006-01-02 15:04 MST"}}
Reference: {{.PaymentReference}}
`))

type Renderer struct {
	now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{now: func() time.Time { return time.Now().UTC() }}
}

func (r *Renderer) WithClock(now func() time.Time) *Renderer {
	r.now = now
	return r
}

// Render builds the receipt for a completed payment.
func (r *Renderer) Render(p *payment.Payment) (*Receipt, error) {
	if p.Status != payment.StatusCompleted {
		return nil, fmt.Errorf("receipt: payment %s is %s, not completed", p.Reference, p.Status)
	}
	paidAt := r.now()
	if p.PaidDate != nil {
		paidAt = p.PaidDate.UTC()
	}
	return &Receipt{
		Number:            Number(p.Reference),
		PaymentReference:  p.Reference,
		TxRef:             p.TxRef,
		BuyerName:         p.CustomerName,
		BuyerEmail:        p.CustomerEmail,
		Description:       p.Description,
		PaymentType:       p.PaymentType,
		PaymentMethod:     p.PaymentMethod,
		InstallmentNumber: p.InstallmentNumber,
		Amount:            p.Amount.StringFixed(2),
		Currency:          strings.ToUpper(p.Currency),
		PaidAt:            paidAt,
		IssuedAt:          r.now(),
	}, nil
}

func (rc *Receipt) Text() (string, error) {
	var buf bytes.Buffer
	if err := textTemplate.Execute(&buf, rc); err != nil {
		return "", fmt.Errorf("render receipt %s: %w", rc.Number, err)
	}
	return buf.String(), nil
}

// Metadata is the form stored on the payment under MetaKey.
func (rc *Receipt) Metadata() map[string]interface{} {
	m := map[string]interface{}{
		"number":       rc.Number,
		"amount":       rc.Amount,
		"currency":     rc.Currency,
		"payment_type": rc.PaymentType,
		"paid_at":      rc.PaidAt.Format(time.RFC3339),
		"issued_at":    rc.IssuedAt.Format(time.RFC3339),
	}
	if rc.InstallmentNumber != nil {
		m["installment_number"] = *rc.InstallmentNumber
	}
	return m
}
