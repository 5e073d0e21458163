package payment

import (
	"io"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
	"github.com/frahmantamala/land-payment/internal/transport"
	"github.com/frahmantamala/land-payment/pkg/logger"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	service ServiceAPI
}

func NewWebhookHandler(service ServiceAPI) *WebhookHandler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &WebhookHandler{
		BaseHandler: transport.NewBaseHandler(lg),
		service:     service,
	}
}

// HandlePaymentWebhook handles POST /api/v1/payments/webhook. A 2xx tells the
// provider to stop retrying, so only a bad signature, a malformed body or an
// internal failure answer with anything else.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Error("failed to read webhook body", "error", err)
		h.WriteErrorResponse(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	h.Logger.Info("payment webhook received",
		"content_length", len(raw),
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent())

	result, err := h.service.HandleWebhook(r.Context(), raw, r.Header.Get(paymentgateway.SignatureHeader))
	if err != nil {
		appErr, ok := errors.IsAppError(err)
		switch {
		case ok && appErr.Type == errors.ErrorTypeUnauthorized:
			h.Logger.Warn("webhook rejected: invalid signature", "remote_addr", r.RemoteAddr)
			h.WriteErrorResponse(w, http.StatusUnauthorized, "Invalid signature")
		case ok && appErr.Type == errors.ErrorTypeValidation:
			h.Logger.Warn("webhook rejected: malformed payload", "error", err)
			h.WriteErrorResponse(w, http.StatusBadRequest, appErr.Error())
		default:
			h.Logger.Error("webhook processing failed", "error", err)
			h.WriteErrorResponse(w, http.StatusInternalServerError, "Failed to process webhook")
		}
		return
	}

	h.Logger.Info("payment webhook handled",
		"outcome", result.Outcome,
		"payment_reference", result.PaymentReference,
		"payment_status", result.PaymentStatus)

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"outcome": result.Outcome,
	})
}

func (h *WebhookHandler) WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.WriteJSON(w, statusCode, map[string]string{"error": message})
}
