package payment

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Handler handles charge HTTP requests
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the transaction routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Initialize)
	r.Get("/{reference}", h.Get)
	r.Post("/{reference}/verify", h.Verify)

	return r
}

// InitializeResponse is returned when a charge is started
type InitializeResponse struct {
	Reference  string `json:"reference"`
	PaymentURL string `json:"payment_url"`
	Status     Status `json:"status"`
}

func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	t, err := h.service.Initialize(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		if t != nil && errors.Is(err, providers.ErrUpstreamUnavailable) {
			api.UpstreamUnavailable(w, map[string]string{"reference": t.Reference})
			return
		}
		h.writeError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, InitializeResponse{
		Reference:  t.Reference,
		PaymentURL: t.PaymentURL,
		Status:     t.Status,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), middleware.GetMerchantID(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, t)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Verify(r.Context(), middleware.GetMerchantID(r.Context()), chi.URLParam(r, "reference"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, t)
}

func (h *Handler) InitializeTopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	topUp, err := h.service.InitializeTopUp(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, topUp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		api.ValidationError(w, err)
	case errors.Is(err, money.ErrUnknownCurrency), errors.Is(err, ErrUnsupportedCurrency):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.Is(err, ErrNotFound):
		api.NotFound(w, "Transaction not found")
	case errors.Is(err, merchant.ErrNotFound):
		api.NotFound(w, "Merchant not found")
	case errors.Is(err, ErrInvalidTransition):
		api.WriteError(w, http.StatusConflict, api.ErrCodeInvalidTransition, "Transaction can no longer change")
	case errors.Is(err, ErrAmountMismatch):
		h.logger.Error("processor reported a different amount", "error", err)
		api.Conflict(w, "Processor reported a different amount")
	case providers.WriteError(w, err):
	default:
		h.logger.Error("payment request failed", "error", err)
		api.InternalError(w, api.GenericRetryMessage)
	}
}
