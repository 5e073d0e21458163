package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/transport"
	"github.com/frahmantamala/land-payment/pkg/logger"
)

type ServiceAPI interface {
	Initiate(ctx context.Context, req StartRequest) (*InitiateResponse, error)
	PayInstallment(ctx context.Context, buyerID, purchaseID int64, number int, req PayInstallmentRequest) (*InitiateResponse, error)
	Verify(ctx context.Context, buyerID int64, reference string, req VerifyRequest) (*ReconcileResult, error)
	Retry(ctx context.Context, buyerID int64, reference, redirectURL string) (*InitiateResponse, error)
	Cancel(ctx context.Context, buyerID int64, reference string) (*ReconcileResult, error)
	History(ctx context.Context, buyerID int64, limit, offset int) (*PaymentList, error)
	Get(ctx context.Context, buyerID int64, reference string) (*PaymentDetail, error)
	AdminReconcile(ctx context.Context, reference string) (*ReconcileResult, error)
	HandleWebhook(ctx context.Context, raw []byte, signature string) (*WebhookResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// InitiatePayment handles POST /api/v1/lands/{landID}/payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	landID, ok := h.Int64Param(w, r, "landID")
	if !ok {
		return
	}

	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("InitiatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleError(w, err)
		return
	}

	resp, err := h.Service.Initiate(r.Context(), StartRequest{
		BuyerID:           userID,
		LandID:            landID,
		PaymentType:       req.PaymentType,
		InstallmentPlanID: req.InstallmentPlanID,
		PaymentMethod:     req.PaymentMethod,
		ReservationFee:    req.ReservationFee,
		RedirectURL:       req.RedirectURL,
	})
	if err != nil {
		h.Logger.Warn("InitiatePayment: service error", "error", err, "land_id", landID, "user_id", userID)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

// PayInstallment handles POST /api/v1/purchases/{id}/installments/{number}/pay
func (h *Handler) PayInstallment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	purchaseID, ok := h.Int64Param(w, r, "id")
	if !ok {
		return
	}
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		h.WriteError(w, http.StatusBadRequest, "invalid number")
		return
	}

	var req PayInstallmentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}
	if err := req.Validate(); err != nil {
		h.HandleError(w, err)
		return
	}

	resp, err := h.Service.PayInstallment(r.Context(), userID, purchaseID, number, req)
	if err != nil {
		h.Logger.Warn("PayInstallment: service error", "error", err, "purchase_id", purchaseID, "installment_number", number)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, resp)
}

// VerifyPayment handles POST /api/v1/payments/{reference}/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	var req VerifyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}
	if err := req.Validate(); err != nil {
		h.HandleError(w, err)
		return
	}

	result, err := h.Service.Verify(r.Context(), userID, reference, req)
	if err != nil {
		h.Logger.Warn("VerifyPayment: service error", "error", err, "payment_reference", reference)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// RetryPayment handles POST /api/v1/payments/{reference}/retry
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	var req PayInstallmentRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}

	resp, err := h.Service.Retry(r.Context(), userID, reference, req.RedirectURL)
	if err != nil {
		h.Logger.Warn("RetryPayment: service error", "error", err, "payment_reference", reference, "user_id", userID)
		h.HandleError(w, err)
		return
	}

	h.Logger.Info("RetryPayment: payment retry initiated",
		"payment_reference", reference,
		"new_reference", resp.Reference,
		"user_id", userID)
	h.WriteJSON(w, http.StatusCreated, resp)
}

// CancelPayment handles POST /api/v1/payments/{reference}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	result, err := h.Service.Cancel(r.Context(), userID, reference)
	if err != nil {
		h.Logger.Warn("CancelPayment: service error", "error", err, "payment_reference", reference)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// ListPayments handles GET /api/v1/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	limit, offset := transport.Pagination(r)

	list, err := h.Service.History(r.Context(), userID, limit, offset)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, list)
}

// GetPayment handles GET /api/v1/payments/{reference}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	detail, err := h.Service.Get(r.Context(), userID, reference)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, detail)
}

// AdminReconcile handles POST /api/v1/admin/payments/{reference}/reconcile
func (h *Handler) AdminReconcile(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	result, err := h.Service.AdminReconcile(r.Context(), reference)
	if err != nil {
		h.Logger.Warn("AdminReconcile: service error", "error", err, "payment_reference", reference)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}
