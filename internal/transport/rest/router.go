package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/land-payment/internal/auth"
	"github.com/frahmantamala/land-payment/internal/payment"
	"github.com/frahmantamala/land-payment/internal/purchase"
	"github.com/frahmantamala/land-payment/internal/transport/middleware"
	"github.com/frahmantamala/land-payment/internal/transport/swagger"
	"github.com/frahmantamala/land-payment/internal/user"
)

const PermissionManagePayments = "manage_payments"

type Handlers struct {
	Health   *HealthHandler
	Auth     *auth.Handler
	User     *user.Handler
	Payment  *payment.Handler
	Webhook  *payment.WebhookHandler
	Purchase *purchase.Handler
}

type RouterConfig struct {
	AllowedOrigins string
	OpenAPIPath    string
}

func RegisterAllRoutes(router chi.Router, h Handlers, cfg RouterConfig, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	openAPIPath := cfg.OpenAPIPath
	if openAPIPath == "" {
		openAPIPath = "./api/openapi.yml"
	}
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openAPIPath)
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.HealthCheck)
			r.Get("/ping", h.Health.Ping)
		}

		// The provider authenticates with the webhook signature, not a token.
		if h.Webhook != nil {
			r.Post("/payments/webhook", h.Webhook.HandlePaymentWebhook)
		}

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(ar chi.Router) {
			ar.Post("/login", h.Auth.Login)
			ar.Post("/refresh", h.Auth.RefreshToken)
			ar.Post("/2fa/verify", h.Auth.VerifyTwoFactor)
			ar.With(h.Auth.AuthMiddleware).Post("/2fa/enroll", h.Auth.EnrollTwoFactor)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			if h.User != nil {
				pr.Get("/users/me", h.User.GetCurrentUser)
			}

			if h.Payment != nil {
				pr.Post("/lands/{landID}/payments", h.Payment.InitiatePayment)
				pr.Post("/purchases/{id}/installments/{number}/pay", h.Payment.PayInstallment)

				pr.Route("/payments", func(pm chi.Router) {
					pm.Get("/", h.Payment.ListPayments)
					pm.Get("/{reference}", h.Payment.GetPayment)
					pm.Post("/{reference}/verify", h.Payment.VerifyPayment)
					pm.Post("/{reference}/retry", h.Payment.RetryPayment)
					pm.Post("/{reference}/cancel", h.Payment.CancelPayment)
				})

				pr.Group(func(ad chi.Router) {
					ad.Use(middleware.RequirePermission(PermissionManagePayments))
					ad.Post("/admin/payments/{reference}/reconcile", h.Payment.AdminReconcile)
				})
			}

			if h.Purchase != nil {
				pr.Get("/purchases/{id}/schedule", h.Purchase.GetSchedule)
			}
		})
	})
}
