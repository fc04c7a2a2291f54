package merchant

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/middleware"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Service manages merchant profiles
type Service struct {
	store     Store
	registry  *providers.Registry
	processor providers.Name
	activity  *activity.Log
	logger    *slog.Logger
}

// NewService creates a merchant service. Bank accounts are resolved through
// processor.
func NewService(store Store, registry *providers.Registry, processor providers.Name, activity *activity.Log, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		registry:  registry,
		processor: processor,
		activity:  activity,
		logger:    logger,
	}
}

// ProvisionRequest creates a merchant account
type ProvisionRequest struct {
	ID                 string `json:"id" validate:"omitempty,max=64"`
	Email              string `json:"email" validate:"required,email,max=255"`
	BusinessName       string `json:"business_name" validate:"required,max=255"`
	Phone              string `json:"phone" validate:"omitempty,max=32"`
	BVN                string `json:"bvn" validate:"omitempty,numeric,len=11"`
	VirtualAccountName string `json:"virtual_account_name" validate:"max=255"`
}

// Provision creates a merchant. An empty id is generated.
func (s *Service) Provision(ctx context.Context, req ProvisionRequest) (*Merchant, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	m := &Merchant{
		ID:                 req.ID,
		Email:              strings.ToLower(req.Email),
		BusinessName:       req.BusinessName,
		Phone:              req.Phone,
		BVN:                req.BVN,
		VirtualAccountName: req.VirtualAccountName,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info("merchant provisioned", "merchant_id", m.ID)
	s.activity.Record(ctx, activity.Entry{
		MerchantID:   m.ID,
		Action:       activity.ActionMerchantProvisioned,
		ResourceType: "merchant",
		ResourceID:   m.ID,
		Metadata:     map[string]any{"actor": middleware.GetActor(ctx)},
	})
	return m, nil
}

// UpdateProfileRequest edits the merchant profile. Omitted fields keep their
// value.
type UpdateProfileRequest struct {
	BusinessName string `json:"business_name" validate:"omitempty,max=255"`
	Phone        string `json:"phone" validate:"omitempty,max=32"`
}

// UpdateProfile applies the non-empty fields of req
func (s *Service) UpdateProfile(ctx context.Context, merchantID string, req UpdateProfileRequest) (*Merchant, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	if req.BusinessName == "" && req.Phone == "" {
		return s.store.Get(ctx, merchantID)
	}
	m, err := s.store.UpdateProfile(ctx, merchantID, Profile{BusinessName: req.BusinessName, Phone: req.Phone})
	if err != nil {
		return nil, err
	}

	var changed []string
	if req.BusinessName != "" {
		changed = append(changed, "business_name")
	}
	if req.Phone != "" {
		changed = append(changed, "phone")
	}
	s.activity.Record(ctx, activity.Entry{
		MerchantID:   merchantID,
		Action:       activity.ActionProfileUpdated,
		ResourceType: "merchant",
		ResourceID:   merchantID,
		Metadata:     map[string]any{"fields": changed},
	})
	return m, nil
}

// ProcessorCredentialsRequest saves the merchant's own processor keys
type ProcessorCredentialsRequest struct {
	Processor   string            `json:"processor" validate:"required"`
	Credentials map[string]string `json:"credentials" validate:"required,min=1,dive,keys,required,max=64,endkeys,required,max=512"`
}

// SaveProcessorCredentials stores the merchant's credentials for a processor
func (s *Service) SaveProcessorCredentials(ctx context.Context, merchantID string, req ProcessorCredentialsRequest) (*ProcessorCredentials, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	processor, err := providers.ParseName(req.Processor)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, merchantID); err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(req.Credentials))
	for k := range req.Credentials {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	c := &ProcessorCredentials{
		MerchantID:  merchantID,
		Processor:   processor,
		Credentials: req.Credentials,
		Fields:      fields,
		Active:      true,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.UpsertProcessorCredentials(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("processor credentials saved", "merchant_id", merchantID, "processor", processor)
	s.activity.Record(ctx, activity.Entry{
		MerchantID:   merchantID,
		Action:       activity.ActionCredentialsSaved,
		ResourceType: "processor_credentials",
		ResourceID:   string(processor),
		Metadata:     map[string]any{"fields": fields},
	})
	return c, nil
}

// Get returns a merchant
func (s *Service) Get(ctx context.Context, id string) (*Merchant, error) {
	return s.store.Get(ctx, id)
}

// VerifyBankAccountRequest names the account to pay withdrawals into
type VerifyBankAccountRequest struct {
	AccountNumber string `json:"account_number" validate:"required,numeric,min=10,max=10"`
	BankCode      string `json:"bank_code" validate:"required,max=16"`
	BankName      string `json:"bank_name" validate:"max=128"`
}

// VerifyBankAccount resolves the holder name with the processor and saves
// the account as the merchant's payout destination.
func (s *Service) VerifyBankAccount(ctx context.Context, merchantID string, req VerifyBankAccountRequest) (*PayoutAccount, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, merchantID); err != nil {
		return nil, err
	}

	resolver, err := s.registry.BankResolver(s.processor)
	if err != nil {
		return nil, err
	}
	resolved, err := resolver.ResolveBankAccount(ctx, req.AccountNumber, req.BankCode)
	if err != nil {
		return nil, fmt.Errorf("resolving bank account: %w", err)
	}

	account := PayoutAccount{
		BankCode:      req.BankCode,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountName:   resolved.AccountName,
	}
	if err := s.store.SavePayoutAccount(ctx, merchantID, account); err != nil {
		return nil, err
	}

	s.logger.Info("payout account verified",
		"merchant_id", merchantID,
		"bank_code", req.BankCode,
		"processor", s.processor,
	)
	return &account, nil
}
