package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/land-payment/internal/payment"
	"github.com/frahmantamala/land-payment/internal/paymentgateway"
)

type stubService struct {
	err error

	startReq      paymentpkg.StartRequest
	verifyBuyer   int64
	verifyRef     string
	verifyReq     paymentpkg.VerifyRequest
	webhookRaw    []byte
	webhookSig    string
	webhookResult *paymentpkg.WebhookResult
	historyLimit  int
	historyOffset int
}

func (s *stubService) Initiate(ctx context.Context, req paymentpkg.StartRequest) (*paymentpkg.InitiateResponse, error) {
	s.startReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.InitiateResponse{
		PaymentView:       paymentpkg.PaymentView{Reference: "LAND-PAY-20260301100000-ABCDEF", Status: payment.StatusProcessing, Amount: decimal.NewFromInt(1000)},
		PurchaseReference: "LAND-20260301100000-ABCDEF",
		PaymentLink:       "https://checkout.test/pay/1",
	}, nil
}

func (s *stubService) PayInstallment(ctx context.Context, buyerID, purchaseID int64, number int, req paymentpkg.PayInstallmentRequest) (*paymentpkg.InitiateResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.InitiateResponse{PaymentView: paymentpkg.PaymentView{InstallmentNumber: &number}}, nil
}

func (s *stubService) Verify(ctx context.Context, buyerID int64, reference string, req paymentpkg.VerifyRequest) (*paymentpkg.ReconcileResult, error) {
	s.verifyBuyer, s.verifyRef, s.verifyReq = buyerID, reference, req
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.ReconcileResult{
		Payment:        paymentpkg.PaymentView{Reference: reference, Status: payment.StatusCompleted},
		Applied:        true,
		ProviderStatus: "successful",
	}, nil
}

func (s *stubService) Retry(ctx context.Context, buyerID int64, reference, redirectURL string) (*paymentpkg.InitiateResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.InitiateResponse{PaymentView: paymentpkg.PaymentView{Reference: "LAND-PAY-NEW"}}, nil
}

func (s *stubService) Cancel(ctx context.Context, buyerID int64, reference string) (*paymentpkg.ReconcileResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.ReconcileResult{Payment: paymentpkg.PaymentView{Reference: reference, Status: payment.StatusCancelled}, Applied: true}, nil
}

func (s *stubService) History(ctx context.Context, buyerID int64, limit, offset int) (*paymentpkg.PaymentList, error) {
	s.historyLimit, s.historyOffset = limit, offset
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.PaymentList{Payments: []paymentpkg.PaymentView{}, Limit: limit, Offset: offset}, nil
}

func (s *stubService) Get(ctx context.Context, buyerID int64, reference string) (*paymentpkg.PaymentDetail, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.PaymentDetail{PaymentView: paymentpkg.PaymentView{Reference: reference}}, nil
}

func (s *stubService) AdminReconcile(ctx context.Context, reference string) (*paymentpkg.ReconcileResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &paymentpkg.ReconcileResult{Payment: paymentpkg.PaymentView{Reference: reference}}, nil
}

func (s *stubService) HandleWebhook(ctx context.Context, raw []byte, signature string) (*paymentpkg.WebhookResult, error) {
	s.webhookRaw, s.webhookSig = raw, signature
	if s.err != nil {
		return nil, s.err
	}
	if s.webhookResult != nil {
		return s.webhookResult, nil
	}
	return &paymentpkg.WebhookResult{Outcome: paymentpkg.WebhookProcessed}, nil
}

func asBuyer(id int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(internal.ContextWithUserID(r.Context(), id)))
		})
	}
}

var _ = ginkgo.Describe("Handler", func() {
	var (
		svc    *stubService
		router chi.Router
	)

	ginkgo.BeforeEach(func() {
		svc = &stubService{}
		h := paymentpkg.NewHandler(svc)
		router = chi.NewRouter()
		router.Group(func(r chi.Router) {
			r.Use(asBuyer(42))
			r.Post("/lands/{landID}/payments", h.InitiatePayment)
			r.Post("/purchases/{id}/installments/{number}/pay", h.PayInstallment)
			r.Get("/payments", h.ListPayments)
			r.Get("/payments/{reference}", h.GetPayment)
			r.Post("/payments/{reference}/verify", h.VerifyPayment)
			r.Post("/payments/{reference}/retry", h.RetryPayment)
			r.Post("/payments/{reference}/cancel", h.CancelPayment)
		})
		router.Post("/anonymous/payments/{reference}/verify", h.VerifyPayment)
	})

	serve := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	ginkgo.Describe("InitiatePayment", func() {
		ginkgo.It("passes the buyer and parcel to the service and returns 201", func() {
			// Given
			body := []byte(`{"payment_type":"full_payment"}`)

			// When
			rec := serve(http.MethodPost, "/lands/9/payments", body)

			// Then
			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(svc.startReq.BuyerID).To(gomega.Equal(int64(42)))
			gomega.Expect(svc.startReq.LandID).To(gomega.Equal(int64(9)))
			gomega.Expect(svc.startReq.PaymentType).To(gomega.Equal(payment.TypeFullPayment))

			var resp map[string]interface{}
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp["payment_link"]).To(gomega.Equal("https://checkout.test/pay/1"))
			gomega.Expect(resp["purchase_reference"]).To(gomega.Equal("LAND-20260301100000-ABCDEF"))
		})

		ginkgo.It("rejects an unknown payment type", func() {
			rec := serve(http.MethodPost, "/lands/9/payments", []byte(`{"payment_type":"barter"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
			gomega.Expect(svc.startReq.LandID).To(gomega.BeZero())
		})

		ginkgo.It("rejects a malformed land id", func() {
			rec := serve(http.MethodPost, "/lands/abc/payments", []byte(`{"payment_type":"full_payment"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})

		ginkgo.It("maps an unavailable parcel to 400", func() {
			svc.err = internal.ErrLandUnavailable

			rec := serve(http.MethodPost, "/lands/9/payments", []byte(`{"payment_type":"full_payment"}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("PayInstallment", func() {
		ginkgo.It("reports a busy installment as a conflict", func() {
			svc.err = internal.ErrInstallmentBusy

			rec := serve(http.MethodPost, "/purchases/3/installments/2/pay", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusConflict))
		})

		ginkgo.It("rejects installment number zero", func() {
			rec := serve(http.MethodPost, "/purchases/3/installments/0/pay", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("VerifyPayment", func() {
		ginkgo.It("verifies with an empty body", func() {
			rec := serve(http.MethodPost, "/payments/LAND-PAY-1/verify", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.verifyBuyer).To(gomega.Equal(int64(42)))
			gomega.Expect(svc.verifyRef).To(gomega.Equal("LAND-PAY-1"))
			gomega.Expect(svc.verifyReq.TransactionID).To(gomega.BeNil())

			var resp paymentpkg.ReconcileResult
			gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
			gomega.Expect(resp.Applied).To(gomega.BeTrue())
			gomega.Expect(resp.Payment.Status).To(gomega.Equal(payment.StatusCompleted))
		})

		ginkgo.It("forwards the transaction id from the redirect", func() {
			rec := serve(http.MethodPost, "/payments/LAND-PAY-1/verify", []byte(`{"transaction_id":880011}`))

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.verifyReq.TransactionID).NotTo(gomega.BeNil())
			gomega.Expect(*svc.verifyReq.TransactionID).To(gomega.Equal(int64(880011)))
		})

		ginkgo.It("returns 404 for a payment the buyer does not own", func() {
			svc.err = internal.ErrPaymentNotFound

			rec := serve(http.MethodPost, "/payments/LAND-PAY-1/verify", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusNotFound))
		})

		ginkgo.It("returns 503 when the gateway is down", func() {
			svc.err = internal.NewServiceUnavailableError("Payment service temporarily unavailable", errors.New("dial tcp: timeout"))

			rec := serve(http.MethodPost, "/payments/LAND-PAY-1/verify", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusServiceUnavailable))
		})

		ginkgo.It("requires an authenticated buyer", func() {
			rec := serve(http.MethodPost, "/anonymous/payments/LAND-PAY-1/verify", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
			gomega.Expect(svc.verifyRef).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("RetryPayment", func() {
		ginkgo.It("returns 201 with the new payment", func() {
			rec := serve(http.MethodPost, "/payments/LAND-PAY-1/retry", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusCreated))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring("LAND-PAY-NEW"))
		})

		ginkgo.It("refuses a payment that has not failed", func() {
			svc.err = internal.ErrInvalidStatus

			rec := serve(http.MethodPost, "/payments/LAND-PAY-1/retry", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
		})
	})

	ginkgo.Describe("ListPayments", func() {
		ginkgo.It("clamps pagination", func() {
			rec := serve(http.MethodGet, "/payments?limit=500&offset=10", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(svc.historyLimit).To(gomega.Equal(20))
			gomega.Expect(svc.historyOffset).To(gomega.Equal(10))
		})
	})

	ginkgo.Describe("CancelPayment", func() {
		ginkgo.It("returns the cancelled payment", func() {
			rec := serve(http.MethodPost, "/payments/LAND-PAY-1/cancel", nil)

			gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
			gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(payment.StatusCancelled))
		})
	})
})

var _ = ginkgo.Describe("WebhookHandler", func() {
	var (
		svc     *stubService
		handler *paymentpkg.WebhookHandler
	)

	ginkgo.BeforeEach(func() {
		svc = &stubService{}
		handler = paymentpkg.NewWebhookHandler(svc)
	})

	deliver := func(body, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewBufferString(body))
		if signature != "" {
			req.Header.Set(paymentgateway.SignatureHeader, signature)
		}
		rec := httptest.NewRecorder()
		handler.HandlePaymentWebhook(rec, req)
		return rec
	}

	ginkgo.It("passes the raw body and signature header through", func() {
		// When
		rec := deliver(`{"event":"charge.completed"}`, "abc123")

		// Then
		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(string(svc.webhookRaw)).To(gomega.Equal(`{"event":"charge.completed"}`))
		gomega.Expect(svc.webhookSig).To(gomega.Equal("abc123"))

		var resp map[string]string
		gomega.Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(gomega.Succeed())
		gomega.Expect(resp["status"]).To(gomega.Equal("success"))
		gomega.Expect(resp["outcome"]).To(gomega.Equal(paymentpkg.WebhookProcessed))
	})

	ginkgo.It("acknowledges unknown references with 200", func() {
		svc.webhookResult = &paymentpkg.WebhookResult{Outcome: paymentpkg.WebhookUnknownRef}

		rec := deliver(`{}`, "abc123")

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring(paymentpkg.WebhookUnknownRef))
	})

	ginkgo.It("answers 401 for an invalid signature", func() {
		svc.err = internal.ErrSignatureInvalid

		rec := deliver(`{}`, "bad")

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusUnauthorized))
		gomega.Expect(rec.Body.String()).To(gomega.ContainSubstring("Invalid signature"))
	})

	ginkgo.It("answers 400 for a malformed payload", func() {
		svc.err = internal.NewValidationFieldError("data.tx_ref", "data.tx_ref is required", internal.ErrCodeInvalidPayload)

		rec := deliver(`{"event":"charge.completed"}`, "abc123")

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusBadRequest))
	})

	ginkgo.It("answers 500 so the provider redelivers after an internal failure", func() {
		svc.err = internal.NewInternalError("Failed to record payment outcome", errors.New("connection reset"))

		rec := deliver(`{}`, "abc123")

		gomega.Expect(rec.Code).To(gomega.Equal(http.StatusInternalServerError))
	})
})
