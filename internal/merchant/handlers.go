package merchant

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Handler handles merchant profile requests
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new merchant handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the merchant routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetMerchant)
	r.Put("/", h.UpdateProfile)
	r.Post("/bank-account", h.VerifyBankAccount)
	r.Post("/processor-credentials", h.SaveProcessorCredentials)
	return r
}

// AdminRoutes returns the operator routes for onboarding merchants
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Provision)
	r.Get("/{id}", h.GetByID)
	return r
}

func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	m, err := h.service.Provision(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, m)
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, m)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	m, err := h.service.UpdateProfile(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, m)
}

func (h *Handler) SaveProcessorCredentials(w http.ResponseWriter, r *http.Request) {
	var req ProcessorCredentialsRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	c, err := h.service.SaveProcessorCredentials(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, c)
}

func (h *Handler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Get(r.Context(), middleware.GetMerchantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, m)
}

func (h *Handler) VerifyBankAccount(w http.ResponseWriter, r *http.Request) {
	var req VerifyBankAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}

	account, err := h.service.VerifyBankAccount(r.Context(), middleware.GetMerchantID(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, account)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, ErrNotFound):
		api.NotFound(w, "Merchant not found")
	case errors.Is(err, ErrAlreadyExists):
		api.Conflict(w, "Merchant already exists")
	case errors.As(err, &validationErrors):
		api.ValidationError(w, err)
	case providers.IsRejected(err):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, "Bank account could not be resolved")
	case providers.WriteError(w, err):
	default:
		h.logger.Error("merchant request failed", "error", err)
		api.InternalError(w, api.GenericRetryMessage)
	}
}
