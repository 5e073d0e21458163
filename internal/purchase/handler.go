package purchase

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/land-payment/internal/transport"
	"github.com/frahmantamala/land-payment/pkg/logger"
)

type ServiceAPI interface {
	GetSchedule(ctx context.Context, purchaseID, buyerID int64) (*ScheduleResponse, error)
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

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.RequireUserID(w, r)
	if !ok {
		return
	}
	purchaseID, ok := h.Int64Param(w, r, "id")
	if !ok {
		return
	}

	schedule, err := h.Service.GetSchedule(r.Context(), purchaseID, userID)
	if err != nil {
		h.Logger.Warn("GetSchedule: service error", "error", err, "purchase_id", purchaseID, "user_id", userID)
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, schedule)
}
