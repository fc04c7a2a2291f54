package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
)

// Cursor is a keyset position in a merchant's entries, newest first.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the cursor for use in a query string
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a cursor produced by Encode
func ParseCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return nil, errors.New("malformed cursor")
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// EntryQuery selects a page of a merchant's entries ordered by created_at desc.
type EntryQuery struct {
	MerchantID string
	Types      []domain.EntryType
	After      *Cursor
	Limit      int
}

// TypeTotal aggregates entries of one type
type TypeTotal struct {
	EntryType domain.EntryType `json:"entry_type"`
	Count     int64            `json:"count"`
	Total     int64            `json:"total"`
}

// Store is the persistence the ledger service needs
type Store interface {
	// InTx runs fn as one atomic unit, retrying on serialization failures.
	InTx(ctx context.Context, fn func(Tx) error) error
	GetWallet(ctx context.Context, merchantID string) (*domain.Wallet, error)
	ListEntries(ctx context.Context, q EntryQuery) ([]*domain.Entry, error)
	SumByTypeSince(ctx context.Context, merchantID string, types []domain.EntryType, since *time.Time) ([]TypeTotal, error)
}

// Service provides ledger operations
type Service struct {
	store           Store
	defaultCurrency money.Currency
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// NewService creates a new ledger service
func NewService(store Store, defaultCurrency money.Currency, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:           store,
		defaultCurrency: defaultCurrency,
		metrics:         m,
		logger:          logger,
	}
}

// AppendRequest is a manual ledger posting. Amount is signed.
type AppendRequest struct {
	MerchantID string           `json:"merchant_id" validate:"required"`
	EntryType  domain.EntryType `json:"entry_type" validate:"required,oneof=CREDIT DEBIT WITHDRAWAL REVERSAL TOPUP_PENDING"`
	Amount     int64            `json:"amount"`
	Currency   money.Currency   `json:"currency" validate:"omitempty,len=3"`
	Reference  string           `json:"reference" validate:"required,max=128"`
	Metadata   map[string]any   `json:"metadata"`
}

// Append posts one entry together with its wallet update in a single unit.
// Replays of the same (reference, entry_type) fail with ErrDuplicateReference.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*Posted, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.EntryType, req.Amount); err != nil {
		return nil, err
	}

	p := Posting{
		MerchantID: req.MerchantID,
		Amount:     abs(req.Amount),
		Currency:   req.Currency,
		Reference:  req.Reference,
		Metadata:   req.Metadata,
	}

	var posted *Posted
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		switch req.EntryType {
		case domain.EntryTypeCredit:
			posted, err = Credit(ctx, tx, p)
		case domain.EntryTypeDebit:
			posted, err = Debit(ctx, tx, p)
		case domain.EntryTypeWithdrawal:
			posted, err = Reserve(ctx, tx, p)
		case domain.EntryTypeReversal:
			posted, err = Release(ctx, tx, p)
		case domain.EntryTypeTopUpPending:
			var entry *domain.Entry
			entry, err = MarkTopUpPending(ctx, tx, p)
			posted = &Posted{Entry: entry}
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.EntryPosted(string(req.EntryType))
	s.logger.Info("ledger entry appended",
		"merchant_id", req.MerchantID,
		"entry_type", req.EntryType,
		"amount", req.Amount,
		"reference", req.Reference,
	)

	return posted, nil
}

// GetWallet returns the merchant's wallet. A merchant that never received
// funds has an empty wallet in the default currency.
func (s *Service) GetWallet(ctx context.Context, merchantID string) (*domain.Wallet, error) {
	w, err := s.store.GetWallet(ctx, merchantID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return &domain.Wallet{MerchantID: merchantID, Currency: s.defaultCurrency}, nil
	}
	return w, err
}

// ListEntries returns one page and the cursor of the next page, if any.
func (s *Service) ListEntries(ctx context.Context, q EntryQuery) ([]*domain.Entry, *Cursor, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 100 {
		q.Limit = 100
	}

	want := q.Limit
	q.Limit++
	entries, err := s.store.ListEntries(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) <= want {
		return entries, nil, nil
	}
	entries = entries[:want]
	last := entries[want-1]
	return entries, &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

// ListByMerchant yields a merchant's entries newest first, fetching pages
// lazily. Each range over the returned sequence starts again from the top.
func (s *Service) ListByMerchant(ctx context.Context, merchantID string, pageSize int) iter.Seq2[*domain.Entry, error] {
	return func(yield func(*domain.Entry, error) bool) {
		q := EntryQuery{MerchantID: merchantID, Limit: pageSize}
		for {
			page, next, err := s.ListEntries(ctx, q)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			q.After = next
		}
	}
}

// SumByTypeSince aggregates a merchant's entries by type, optionally from a
// point in time.
func (s *Service) SumByTypeSince(ctx context.Context, merchantID string, types []domain.EntryType, since *time.Time) ([]TypeTotal, error) {
	if len(types) == 0 {
		types = domain.AllTypes
	}
	return s.store.SumByTypeSince(ctx, merchantID, types, since)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
