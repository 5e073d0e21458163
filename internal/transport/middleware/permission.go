package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/land-payment/internal"
	"github.com/frahmantamala/land-payment/internal/transport"
)

// RequirePermission lets the request through only when the authenticated
// user holds permission. It must run after the auth middleware.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	h := transport.NewBaseHandler(nil)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := internal.UserIDFromContext(r.Context())
			if !ok {
				h.HandleError(w, internal.NewUnauthorizedError("Authentication required", internal.ErrCodeInvalidToken))
				return
			}

			for _, p := range internal.PermissionsFromContext(r.Context()) {
				if p == permission {
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Warn("access denied: missing permission",
				"user_id", userID,
				"required_permission", permission)
			h.HandleError(w, internal.NewForbiddenError("Insufficient permissions", internal.ErrCodeUnauthorizedAccess))
		})
	}
}
