package paymentgateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/common/validation"
	paymentgatewaytypes "github.com/frahmantamala/land-payment/internal/core/datamodel/paymentgateway"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultRetryDelay  = time.Second
	defaultCurrency    = "NGN"
	maxCustomerName    = 200
	maxCustomerPhone   = 20
	integrationType    = "land_sales"
	userAgent          = "landpay-gateway-client/1.0"
	initializePath     = "/payments"
	verifyPath         = "/transactions/%d/verify"
	verifyByReference  = "/transactions/verify_by_reference"
	defaultPaymentOpts = "card,banktransfer,mobilemoney"
)

// Config is passed explicitly at construction; the client never reads
// credentials from the environment.
type Config struct {
	BaseURL        string
	SecretKey      string
	WebhookHash    string
	ClientID       string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxAmount      decimal.Decimal
	Currency       string
	RedirectURL    string
	PaymentOptions []string
	Title          string
	LogoURL        string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

type ChargeRequest struct {
	TxRef       string
	Amount      decimal.Decimal
	Currency    string
	RedirectURL string
	Customer    paymentgatewaytypes.Customer
	Description string
	Meta        map[string]interface{}
}

type InitiateResult struct {
	PaymentLink string
	ProviderRef string
	Raw         json.RawMessage
}

type Verification struct {
	TransactionID     int64
	TxRef             string
	ProviderRef       string
	Amount            decimal.Decimal
	Currency          string
	Status            paymentgatewaytypes.ProviderStatus
	PaymentType       string
	ProcessorResponse string
	Raw               json.RawMessage
}

type WebhookEvent struct {
	Event string
	Data  paymentgatewaytypes.TransactionData
	Raw   json.RawMessage
}

type Client struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.MaxAmount.IsZero() {
		cfg.MaxAmount = decimal.NewFromInt(100_000_000)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
	if cfg.ClientID != "" {
		rc.SetHeader("X-Client-ID", cfg.ClientID)
	}

	return &Client{
		cfg:    cfg,
		http:   rc,
		logger: logger.With("component", "gateway_client"),
	}
}

// Initiate opens a hosted payment for the charge and returns the link the
// buyer is redirected to. Invalid input is rejected before any network call.
func (c *Client) Initiate(ctx context.Context, req ChargeRequest) (*InitiateResult, error) {
	customer := sanitizeCustomer(req.Customer)
	if err := validation.ValidateChargeAmount(req.Amount, c.cfg.MaxAmount); err != nil {
		return nil, err
	}
	if err := validation.ValidateCustomer(customer.Email, customer.Name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.TxRef) == "" {
		return nil, internal.NewValidationFieldError("tx_ref", "tx_ref is required", internal.ErrCodeValidationFailed)
	}

	currency := req.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	redirect := req.RedirectURL
	if redirect == "" {
		redirect = c.cfg.RedirectURL
	}

	meta := map[string]interface{}{"integration_type": integrationType}
	for k, v := range req.Meta {
		meta[k] = v
	}

	body := paymentgatewaytypes.InitiateRequest{
		TxRef:          req.TxRef,
		Amount:         json.Number(req.Amount.StringFixed(2)),
		Currency:       strings.ToUpper(currency),
		RedirectURL:    redirect,
		PaymentOptions: c.paymentOptions(),
		Customer:       customer,
		Customizations: paymentgatewaytypes.Customizations{
			Title:       c.cfg.Title,
			Description: req.Description,
			Logo:        c.cfg.LogoURL,
		},
		Meta: meta,
	}

	c.logger.Info("initializing gateway payment",
		"tx_ref", req.TxRef,
		"amount", body.Amount,
		"currency", body.Currency)

	status, raw, err := c.do(ctx, http.MethodPost, initializePath, nil, body)
	if err != nil {
		return nil, err
	}

	var resp paymentgatewaytypes.APIResponse[paymentgatewaytypes.InitiateData]
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Error("gateway returned malformed initialize response", "tx_ref", req.TxRef, "status_code", status, "error", err)
		return nil, internal.NewExternalError("Payment gateway returned an unreadable response", internal.ErrCodeGatewayMalformed)
	}

	if status != http.StatusOK || resp.Status != paymentgatewaytypes.ResponseStatusSuccess || resp.Data.Link == "" {
		c.logger.Warn("gateway rejected payment initialization",
			"tx_ref", req.TxRef,
			"status_code", status,
			"gateway_status", resp.Status,
			"gateway_message", resp.Message)
		return nil, rejected(resp.Message, "Payment initialization failed", raw)
	}

	c.logger.Info("gateway payment initialized", "tx_ref", req.TxRef, "flw_ref", resp.Data.FlwRef)

	return &InitiateResult{
		PaymentLink: resp.Data.Link,
		ProviderRef: resp.Data.FlwRef,
		Raw:         raw,
	}, nil
}

// Verify asks the provider for the authoritative state of a transaction id.
func (c *Client) Verify(ctx context.Context, transactionID int64) (*Verification, error) {
	if transactionID <= 0 {
		return nil, internal.NewValidationFieldError("transaction_id", "transaction_id must be positive", internal.ErrCodeValidationFailed)
	}
	status, raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf(verifyPath, transactionID), nil, nil)
	if err != nil {
		return nil, err
	}
	return c.parseVerification(status, raw, strconv.FormatInt(transactionID, 10))
}

// VerifyByReference looks a transaction up by the tx_ref we generated.
func (c *Client) VerifyByReference(ctx context.Context, txRef string) (*Verification, error) {
	if strings.TrimSpace(txRef) == "" {
		return nil, internal.NewValidationFieldError("tx_ref", "tx_ref is required", internal.ErrCodeValidationFailed)
	}
	status, raw, err := c.do(ctx, http.MethodGet, verifyByReference, map[string]string{"tx_ref": txRef}, nil)
	if err != nil {
		return nil, err
	}
	return c.parseVerification(status, raw, txRef)
}

func (c *Client) parseVerification(status int, raw []byte, lookup string) (*Verification, error) {
	if status == http.StatusNotFound {
		return nil, internal.NewNotFoundError("Transaction not found at payment gateway", internal.ErrCodePaymentNotFound)
	}

	var resp paymentgatewaytypes.APIResponse[paymentgatewaytypes.TransactionData]
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Error("gateway returned malformed verify response", "lookup", lookup, "status_code", status, "error", err)
		return nil, internal.NewExternalError("Payment gateway returned an unreadable response", internal.ErrCodeGatewayMalformed)
	}
	if status != http.StatusOK || resp.Status != paymentgatewaytypes.ResponseStatusSuccess {
		c.logger.Warn("gateway verification failed",
			"lookup", lookup,
			"status_code", status,
			"gateway_message", resp.Message)
		return nil, rejected(resp.Message, "Payment verification failed", raw)
	}

	if missing := resp.Data.MissingFields(); len(missing) > 0 {
		c.logger.Error("gateway verification missing fields", "lookup", lookup, "missing", missing)
		return nil, internal.NewExternalError("Payment gateway response is incomplete", internal.ErrCodeGatewayMalformed).
			WithDetails(map[string]interface{}{"missing_fields": missing})
	}

	amount, err := resp.Data.AmountDecimal()
	if err != nil || !amount.IsPositive() || amount.GreaterThan(c.cfg.MaxAmount) {
		c.logger.Error("gateway verification amount out of range", "lookup", lookup, "amount", resp.Data.Amount.String())
		return nil, internal.NewExternalError("Payment gateway reported an invalid amount", internal.ErrCodeGatewayMalformed)
	}

	return &Verification{
		TransactionID:     resp.Data.ID,
		TxRef:             resp.Data.TxRef,
		ProviderRef:       resp.Data.FlwRef,
		Amount:            amount,
		Currency:          strings.ToUpper(resp.Data.Currency),
		Status:            paymentgatewaytypes.NormalizeStatus(resp.Data.Status),
		PaymentType:       resp.Data.PaymentType,
		ProcessorResponse: resp.Data.ProcessorResponse,
		Raw:               raw,
	}, nil
}

// ParseWebhook checks the structural shape of a webhook body. The signature
// must already have been validated by the caller.
func (c *Client) ParseWebhook(raw []byte) (*WebhookEvent, error) {
	var payload paymentgatewaytypes.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, internal.NewValidationError("Webhook payload is not valid JSON", internal.ErrCodeInvalidPayload)
	}
	if payload.Event == "" {
		return nil, internal.NewValidationFieldError("event", "event is required", internal.ErrCodeInvalidPayload)
	}
	if payload.Data.TxRef == "" {
		return nil, internal.NewValidationFieldError("data.tx_ref", "data.tx_ref is required", internal.ErrCodeInvalidPayload)
	}
	return &WebhookEvent{Event: payload.Event, Data: payload.Data, Raw: raw}, nil
}

// ValidateSignature compares the supplied signature against an HMAC of the
// body computed with the shared webhook secret.
func (c *Client) ValidateSignature(raw []byte, signature string) bool {
	if signature == "" || c.cfg.WebhookHash == "" {
		c.logger.Warn("webhook signature or secret missing")
		return false
	}
	ok, err := VerifySignature(c.cfg.WebhookHash, raw, signature)
	if err != nil {
		c.logger.Warn("webhook signature could not be computed", "error", err)
		return false
	}
	if !ok {
		c.logger.Warn("webhook signature mismatch")
	}
	return ok
}

func (c *Client) paymentOptions() string {
	if len(c.cfg.PaymentOptions) == 0 {
		return defaultPaymentOpts
	}
	return strings.Join(c.cfg.PaymentOptions, ",")
}

// do performs one logical call, retrying transport-level transient failures
// with linear backoff. The call is detached from caller cancellation and bounded
// by the configured timeout per try.
func (c *Client) do(ctx context.Context, method, path string, query map[string]string, body interface{}) (int, []byte, error) {
	ctx = context.WithoutCancel(ctx)

	var (
		statusCode int
		raw        []byte
		tries      int
	)

	err := retry.Do(ctx, linearBackoff(c.cfg.RetryDelay, c.cfg.MaxRetries), func(ctx context.Context) error {
		tries++
		req := c.http.R().SetContext(ctx)
		if query != nil {
			req.SetQueryParams(query)
		}
		if body != nil {
			req.SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			if isTransient(err) {
				c.logger.Warn("gateway request failed, retrying",
					"method", method,
					"path", path,
					"try", tries,
					"error", err)
				return retry.RetryableError(err)
			}
			return err
		}

		statusCode = resp.StatusCode()
		raw = resp.Body()
		if statusCode == http.StatusBadGateway || statusCode == http.StatusServiceUnavailable || statusCode == http.StatusGatewayTimeout {
			c.logger.Warn("gateway unavailable, retrying", "path", path, "status_code", statusCode, "try", tries)
			return retry.RetryableError(fmt.Errorf("gateway returned %d", statusCode))
		}
		return nil
	})
	if err == nil {
		return statusCode, raw, nil
	}

	if isTLSFailure(err) {
		c.logger.Error("gateway TLS verification failed", "path", path, "error", err)
		return 0, nil, internal.NewExternalError("Secure connection to payment gateway failed", internal.ErrCodeGatewayInsecure).WithCause(err)
	}
	c.logger.Error("gateway request failed", "method", method, "path", path, "tries", tries, "error", err)
	return 0, nil, internal.NewServiceUnavailableError("Payment service temporarily unavailable", err)
}

func linearBackoff(base time.Duration, maxRetries int) retry.Backoff {
	var n int64
	step := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return time.Duration(n) * base, false
	})
	return retry.WithMaxRetries(uint64(maxRetries), step)
}

func isTransient(err error) bool {
	if err == nil || isTLSFailure(err) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isTLSFailure(err error) bool {
	var (
		verifyErr  *tls.CertificateVerificationError
		recordErr  tls.RecordHeaderError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

func rejected(message, fallback string, raw []byte) *internal.AppError {
	if message == "" {
		message = fallback
	}
	appErr := internal.NewExternalError(message, internal.ErrCodeGatewayRejected)
	if len(raw) > 0 && json.Valid(raw) {
		appErr = appErr.WithDetails(map[string]interface{}{"gateway_response": json.RawMessage(raw)})
	}
	return appErr
}

func sanitizeCustomer(c paymentgatewaytypes.Customer) paymentgatewaytypes.Customer {
	out := paymentgatewaytypes.Customer{
		Email:       strings.ToLower(strings.TrimSpace(c.Email)),
		Name:        strings.TrimSpace(c.Name),
		PhoneNumber: strings.TrimSpace(c.PhoneNumber),
	}
	if len(out.Name) > maxCustomerName {
		out.Name = out.Name[:maxCustomerName]
	}
	if len(out.PhoneNumber) > maxCustomerPhone {
		out.PhoneNumber = out.PhoneNumber[:maxCustomerPhone]
	}
	return out
}
