package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
)

// Handler handles wallet and ledger HTTP requests
type Handler struct {
	service *ledger.Service
}

// NewHandler creates a new ledger handler
func NewHandler(service *ledger.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the merchant-scoped wallet routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetWallet)
	r.Get("/entries", h.ListEntries)
	r.Get("/stats", h.GetStats)

	return r
}

// AdminRoutes returns the operator routes
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/entries", h.AppendEntry)
	return r
}

// WalletResponse is the API view of a wallet
type WalletResponse struct {
	MerchantID       string    `json:"merchant_id"`
	Balance          int64     `json:"balance"`
	AvailableBalance int64     `json:"available_balance"`
	Reserved         int64     `json:"reserved"`
	Currency         string    `json:"currency"`
	Display          string    `json:"display"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		MerchantID:       w.MerchantID,
		Balance:          w.Balance,
		AvailableBalance: w.AvailableBalance,
		Reserved:         w.Reserved(),
		Currency:         string(w.Currency),
		Display:          money.New(w.AvailableBalance, w.Currency).String(),
		UpdatedAt:        w.UpdatedAt,
	}
}

// GetWallet handles GET /wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	merchantID := middleware.GetMerchantID(r.Context())

	wallet, err := h.service.GetWallet(r.Context(), merchantID)
	if err != nil {
		api.InternalError(w, api.GenericRetryMessage)
		return
	}

	api.WriteData(w, http.StatusOK, toWalletResponse(wallet))
}

// ListEntries handles GET /wallet/entries?limit=&cursor=&type=
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	merchantID := middleware.GetMerchantID(r.Context())
	page := api.GetPaginationParams(r, 50, 100)

	q := ledger.EntryQuery{MerchantID: merchantID, Limit: page.Limit}

	if page.Cursor != "" {
		cursor, err := ledger.ParseCursor(page.Cursor)
		if err != nil {
			api.BadRequest(w, "invalid cursor")
			return
		}
		q.After = cursor
	}

	types, err := parseTypes(r.URL.Query().Get("type"))
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	q.Types = types

	entries, next, err := h.service.ListEntries(r.Context(), q)
	if err != nil {
		api.InternalError(w, api.GenericRetryMessage)
		return
	}
	if entries == nil {
		entries = []*domain.Entry{}
	}

	p := &api.Pagination{Limit: q.Limit, HasMore: next != nil}
	if next != nil {
		p.NextCursor = next.Encode()
	}
	api.WritePaginated(w, entries, p)
}

// StatsResponse summarizes a merchant's entries
type StatsResponse struct {
	Since  *time.Time         `json:"since,omitempty"`
	Totals []ledger.TypeTotal `json:"totals"`
}

// GetStats handles GET /wallet/stats?since=RFC3339&type=
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	merchantID := middleware.GetMerchantID(r.Context())

	var since *time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			api.BadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	types, err := parseTypes(r.URL.Query().Get("type"))
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	totals, err := h.service.SumByTypeSince(r.Context(), merchantID, types, since)
	if err != nil {
		api.InternalError(w, api.GenericRetryMessage)
		return
	}
	if totals == nil {
		totals = []ledger.TypeTotal{}
	}

	api.WriteData(w, http.StatusOK, StatsResponse{Since: since, Totals: totals})
}

// AppendEntry handles POST /admin/ledger/entries
func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req ledger.AppendRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	if actor := middleware.GetActor(r.Context()); actor != "" {
		req.Metadata["actor"] = actor
	}

	posted, err := h.service.Append(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, posted)
}

// WriteError maps ledger errors onto the API envelope
func WriteError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient):
		api.InsufficientBalance(w,
			strconv.FormatInt(insufficient.Available, 10),
			strconv.FormatInt(insufficient.Requested, 10),
		)
	case errors.Is(err, domain.ErrDuplicateReference):
		api.Conflict(w, "an entry with this reference already exists")
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrReservationMismatch):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.Is(err, domain.ErrWalletNotFound):
		api.NotFound(w, "wallet not found")
	case errors.As(err, new(validator.ValidationErrors)):
		api.ValidationError(w, err)
	default:
		api.InternalError(w, api.GenericRetryMessage)
	}
}

func parseTypes(raw string) ([]domain.EntryType, error) {
	if raw == "" {
		return nil, nil
	}
	var types []domain.EntryType
	for _, part := range strings.Split(raw, ",") {
		t, err := domain.ParseEntryType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}
