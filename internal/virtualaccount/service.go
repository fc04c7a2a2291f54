package virtualaccount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Service issues and manages virtual accounts
type Service struct {
	store     Store
	merchants merchant.Directory
	registry  *providers.Registry
	processor providers.Name
	logger    *slog.Logger
}

// NewService creates a virtual account service issuing through processor
func NewService(store Store, merchants merchant.Directory, registry *providers.Registry, processor providers.Name, logger *slog.Logger) *Service {
	if processor == "" {
		processor = providers.Flutterwave
	}
	return &Service{
		store:     store,
		merchants: merchants,
		registry:  registry,
		processor: processor,
		logger:    logger,
	}
}

// CreateRequest asks for an account in a currency, NGN when empty
type CreateRequest struct {
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// Create returns the merchant's account in the currency, issuing one when
// none exists. created is false when an existing account is returned.
func (s *Service) Create(ctx context.Context, merchantID string, req CreateRequest) (va *VirtualAccount, created bool, err error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, false, err
	}
	currency := money.NGN
	if req.Currency != "" {
		c, err := money.ParseCurrency(req.Currency)
		if err != nil || !slices.Contains(Supported, c) {
			return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
		}
		currency = c
	}

	existing, err := s.store.FindByCurrency(ctx, merchantID, currency)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, false, err
	}
	if currency == money.NGN && strings.TrimSpace(m.BVN) == "" {
		return nil, false, ErrBVNRequired
	}
	issuer, err := s.registry.VirtualAccountIssuer(s.processor)
	if err != nil {
		return nil, false, err
	}

	issueReq := providers.VirtualAccountRequest{
		Reference: issueReference(merchantID, currency),
		Email:     m.Email,
		Name:      m.DisplayName(),
		Currency:  currency,
	}
	if currency == money.NGN {
		issueReq.BVN = m.BVN
	}
	issued, err := issuer.IssueVirtualAccount(ctx, issueReq)
	if err != nil {
		return nil, false, fmt.Errorf("issuing virtual account: %w", err)
	}

	va = &VirtualAccount{
		ID:            ulid.Make().String(),
		MerchantID:    merchantID,
		AccountNumber: issued.AccountNumber,
		BankName:      issued.BankName,
		AccountName:   issued.AccountName,
		Currency:      currency,
		OrderRef:      issued.OrderRef,
		Processor:     s.processor,
		CreatedAt:     time.Now().UTC(),
	}
	if va.AccountName == "" {
		va.AccountName = m.DisplayName()
	}
	if err := s.store.Insert(ctx, va); err != nil {
		if errors.Is(err, ErrExists) {
			// A concurrent create won.
			if existing, ferr := s.store.FindByCurrency(ctx, merchantID, currency); ferr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	s.logger.Info("virtual account created",
		"merchant_id", merchantID,
		"currency", currency,
		"account_number", va.AccountNumber,
		"processor", s.processor,
	)
	return va, true, nil
}

// List returns the merchant's accounts
func (s *Service) List(ctx context.Context, merchantID string) ([]*VirtualAccount, error) {
	return s.store.ListByMerchant(ctx, merchantID)
}

// Delete removes one of the merchant's accounts. Accounts owned by another
// merchant return ErrForbidden.
func (s *Service) Delete(ctx context.Context, merchantID, id string) error {
	va, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if va.MerchantID != merchantID {
		return ErrForbidden
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("virtual account deleted", "merchant_id", merchantID, "id", id, "currency", va.Currency)
	return nil
}

// Lookup routes an incoming transfer by account number
func (s *Service) Lookup(ctx context.Context, accountNumber string) (*VirtualAccount, error) {
	return s.store.FindByAccountNumber(ctx, accountNumber)
}
