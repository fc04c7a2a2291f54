package withdrawal

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	ledgerapi "github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Handler handles withdrawal HTTP requests
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new withdrawal handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the merchant-scoped withdrawal routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{reference}", h.Get)
	r.Post("/payouts", h.RequestPayout)

	return r
}

// AdminRoutes returns the operator routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/payouts", h.PendingPayouts)
	r.Post("/{reference}/resolve", h.Resolve)
	return r
}

// RequestPayout queues a manual payout and answers 202: an operator settles it.
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	wd, err := h.service.RequestPayout(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusAccepted, wd)
}

func (h *Handler) PendingPayouts(w http.ResponseWriter, r *http.Request) {
	page := api.GetPaginationParams(r, 50, 200)
	list, err := h.service.PendingPayouts(r.Context(), page.Limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*Withdrawal{}
	}
	api.WriteData(w, http.StatusOK, list)
}

// Create answers 201 once the processor accepted the transfer and 202 when
// the outcome is unknown and the withdrawal waits for the processor.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	wd, err := h.service.Request(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		if wd != nil && wd.Status == StatusPending && errors.Is(err, providers.ErrUpstreamUnavailable) {
			api.WriteData(w, http.StatusAccepted, wd)
			return
		}
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, wd)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := api.GetPaginationParams(r, 20, 100)
	list, total, err := h.service.List(r.Context(), middleware.GetMerchantID(r.Context()), page.Limit, page.Offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*Withdrawal{}
	}
	api.WritePaginated(w, list, &api.Pagination{
		Limit:   page.Limit,
		Offset:  page.Offset,
		Total:   total,
		HasMore: int64(page.Offset+len(list)) < total,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	wd, err := h.service.Get(r.Context(), middleware.GetMerchantID(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, wd)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	wd, err := h.service.ResolveManually(r.Context(), chi.URLParam(r, "reference"), middleware.GetActor(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, wd)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBankAccountNotConfigured):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeBankAccountNotConfigured, "Add and verify a payout bank account first")
	case errors.Is(err, ErrTransferRejected):
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeTransferRejected, "The transfer was declined and your balance has been restored")
	case errors.Is(err, ErrNotFound):
		api.NotFound(w, "Withdrawal not found")
	case errors.Is(err, merchant.ErrNotFound):
		api.NotFound(w, "Merchant not found")
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrInvalidTransition):
		api.WriteError(w, http.StatusConflict, api.ErrCodeInvalidTransition, "Withdrawal is already resolved")
	case providers.WriteError(w, err):
	default:
		h.logger.Warn("withdrawal request failed", "error", err)
		ledgerapi.WriteError(w, err)
	}
}
