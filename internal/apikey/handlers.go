package apikey

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
)

// Handler serves a merchant's API keys
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a new API key handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes returns the API key routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/{id}/rotate", h.Rotate)
	r.Delete("/{id}", h.Revoke)
	return r
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.List(r.Context(), middleware.GetMerchantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if keys == nil {
		keys = []*Key{}
	}
	api.WriteData(w, http.StatusOK, keys)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	issued, err := h.service.Create(r.Context(), middleware.GetMerchantID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, issued)
}

func (h *Handler) Rotate(w http.ResponseWriter, r *http.Request) {
	issued, err := h.service.Rotate(r.Context(), middleware.GetMerchantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, issued)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Revoke(r.Context(), middleware.GetMerchantID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		api.NotFound(w, "API key not found")
	default:
		h.logger.Error("api key request failed", "error", err)
		api.InternalError(w, api.GenericRetryMessage)
	}
}
