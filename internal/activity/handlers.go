package activity

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
)

// Handler serves a merchant's activity
type Handler struct {
	log    *Log
	logger *slog.Logger
}

// NewHandler creates a new activity handler
func NewHandler(log *Log, logger *slog.Logger) *Handler {
	return &Handler{log: log, logger: logger}
}

// Routes returns the activity routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := api.GetPaginationParams(r, 20, 100)
	list, total, err := h.log.List(r.Context(), middleware.GetMerchantID(r.Context()), page.Limit, page.Offset)
	if err != nil {
		h.logger.Error("listing activity failed", "error", err)
		api.InternalError(w, api.GenericRetryMessage)
		return
	}
	if list == nil {
		list = []*Entry{}
	}
	api.WritePaginated(w, list, &api.Pagination{
		Limit:   page.Limit,
		Offset:  page.Offset,
		Total:   total,
		HasMore: int64(page.Offset+len(list)) < total,
	})
}
