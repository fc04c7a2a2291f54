package virtualaccount

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Handler handles virtual account requests
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new virtual account handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the merchant-scoped virtual account routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/{id}", h.Delete)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), middleware.GetMerchantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*VirtualAccount{}
	}
	api.WriteData(w, http.StatusOK, list)
}

// Create answers 201 for a new account and 200 when the merchant already
// holds one in the currency. An empty body asks for NGN.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		api.WriteDecodeError(w, err)
		return
	}

	va, created, err := h.service.Create(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	api.WriteData(w, status, va)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), middleware.GetMerchantID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, ErrNotFound):
		api.NotFound(w, "Virtual account not found")
	case errors.Is(err, merchant.ErrNotFound):
		api.NotFound(w, "Merchant not found")
	case errors.Is(err, ErrForbidden):
		api.Forbidden(w, "You can only delete your own virtual accounts")
	case errors.Is(err, ErrBVNRequired):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "Add your BVN to your profile to create an NGN account")
	case errors.Is(err, ErrUnsupportedCurrency):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.As(err, &validationErrors):
		api.ValidationError(w, err)
	case providers.WriteError(w, err):
	default:
		h.logger.Error("virtual account request failed", "error", err)
		api.InternalError(w, api.GenericRetryMessage)
	}
}
