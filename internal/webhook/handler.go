package webhook

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// MaxBodyBytes bounds a notification body
const MaxBodyBytes = 1 << 20

// Handler exposes the reconciler to processors
type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{reconciler: reconciler, logger: logger}
}

// Routes mounts POST /webhook-{processor}
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhook-{processor}", h.Receive)
	return r
}

// Receive answers 200 with the business outcome, 401 when the signature
// does not verify and 503 when the notification should be redelivered.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	processor, err := providers.ParseName(chi.URLParam(r, "processor"))
	if err != nil {
		api.NotFound(w, "Unknown processor")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.logger.Warn("reading webhook body", "processor", processor, "error", err)
		api.BadRequest(w, "Unreadable body")
		return
	}

	res, err := h.reconciler.Process(r.Context(), processor, r.Header, body)
	switch {
	case err == nil:
		api.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, providers.ErrInvalidSignature):
		api.Unauthorized(w, "Invalid signature")
	case errors.Is(err, providers.ErrUnknownProcessor), errors.Is(err, providers.ErrUnsupported):
		api.NotFound(w, "Processor not configured")
	default:
		api.UpstreamUnavailable(w, nil)
	}
}
