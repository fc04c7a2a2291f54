package recon

import (
	"log/slog"
	"net/http"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
)

// Handler serves reconciliation reports
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new reconciliation handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// GetReport checks the calling merchant's wallet
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Check(r.Context(), middleware.GetMerchantID(r.Context()))
	if err != nil {
		h.logger.Error("reconciliation check failed", "error", err)
		api.InternalError(w, api.GenericRetryMessage)
		return
	}
	api.WriteData(w, http.StatusOK, report)
}
