package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Store persists transactions.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	// Get returns the merchant's transaction by reference.
	Get(ctx context.Context, merchantID, reference string) (*Transaction, error)
	// SaveCheckout records the processor's payment URL and reference.
	SaveCheckout(ctx context.Context, t *Transaction) error
	// WalletCurrency returns the currency of the merchant's wallet, or ""
	// when the merchant has no wallet yet.
	WalletCurrency(ctx context.Context, merchantID string) (money.Currency, error)
	// InTx runs fn as one unit shared with the ledger.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx extends the ledger unit with transaction status changes.
type Tx interface {
	ledger.Tx
	// LockTransaction locks the transaction row. Returns ErrNotFound.
	LockTransaction(ctx context.Context, reference string) (*Transaction, error)
	UpdateStatus(ctx context.Context, t *Transaction) error
}

// Config holds payment configuration.
type Config struct {
	TopUpProcessor  providers.Name
	DefaultCurrency money.Currency
}

// Service starts and settles charges.
type Service struct {
	store     Store
	merchants merchant.Directory
	registry  *providers.Registry
	config    Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService creates a new payment service.
func NewService(store Store, merchants merchant.Directory, registry *providers.Registry, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = money.NGN
	}
	if cfg.TopUpProcessor == "" {
		cfg.TopUpProcessor = providers.Flutterwave
	}
	return &Service{
		store:     store,
		merchants: merchants,
		registry:  registry,
		config:    cfg,
		metrics:   m,
		logger:    logger,
	}
}

// InitializeRequest is the request to start a charge.
type InitializeRequest struct {
	Amount        int64          `json:"amount" validate:"gt=0"`
	Currency      string         `json:"currency" validate:"omitempty,len=3"`
	Processor     string         `json:"processor" validate:"required"`
	CallbackURL   string         `json:"callback_url" validate:"omitempty,url"`
	CustomerEmail string         `json:"customer_email" validate:"omitempty,email"`
	CustomerName  string         `json:"customer_name" validate:"max=128"`
	Metadata      map[string]any `json:"metadata"`
}

// Initialize creates a pending transaction and asks the processor for a
// checkout link. When the processor call fails the pending transaction is
// still returned beside the error.
func (s *Service) Initialize(ctx context.Context, merchantID string, req InitializeRequest) (*Transaction, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	processor, err := providers.ParseName(req.Processor)
	if err != nil {
		return nil, err
	}
	currency := s.config.DefaultCurrency
	if req.Currency != "" {
		if currency, err = money.ParseCurrency(req.Currency); err != nil {
			return nil, err
		}
	}
	initializer, err := s.registry.ChargeInitializer(processor)
	if err != nil {
		return nil, err
	}
	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWalletCurrency(ctx, merchantID, currency); err != nil {
		return nil, err
	}

	t, err := NewTransaction(merchantID, money.New(req.Amount, currency), processor, req.CallbackURL, req.Metadata)
	if err != nil {
		return nil, err
	}
	t.CustomerEmail = req.CustomerEmail
	if t.CustomerEmail == "" {
		t.CustomerEmail = m.Email
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	name := req.CustomerName
	if name == "" {
		name = m.DisplayName()
	}
	charge, err := initializer.InitializeCharge(ctx, providers.ChargeRequest{
		Reference:   t.Reference,
		Amount:      t.Money(),
		Email:       t.CustomerEmail,
		Name:        name,
		CallbackURL: t.CallbackURL,
		Metadata:    map[string]any{"merchant_id": merchantID},
	})
	if err != nil {
		s.logger.Warn("charge initialization failed",
			"merchant_id", merchantID,
			"reference", t.Reference,
			"processor", processor,
			"error", err,
		)
		return t, fmt.Errorf("initializing charge with %s: %w", processor, err)
	}

	t.PaymentURL = charge.PaymentURL
	t.ProcessorReference = charge.ProcessorReference
	if err := s.store.SaveCheckout(ctx, t); err != nil {
		return t, err
	}

	s.logger.Info("charge initialized",
		"merchant_id", merchantID,
		"reference", t.Reference,
		"processor", processor,
		"amount", t.Amount,
	)
	return t, nil
}

// checkWalletCurrency rejects charges the merchant's wallet could never be
// credited with. A merchant without a wallet gets one in the default
// currency on first credit.
func (s *Service) checkWalletCurrency(ctx context.Context, merchantID string, currency money.Currency) error {
	walletCurrency, err := s.store.WalletCurrency(ctx, merchantID)
	if err != nil {
		return err
	}
	if walletCurrency == "" {
		walletCurrency = s.config.DefaultCurrency
	}
	if currency != walletCurrency {
		return fmt.Errorf("%w: wallet holds %s, charge is %s", ErrUnsupportedCurrency, walletCurrency, currency)
	}
	return nil
}

// Get returns a merchant's transaction
func (s *Service) Get(ctx context.Context, merchantID, reference string) (*Transaction, error) {
	return s.store.Get(ctx, merchantID, reference)
}

// Verify asks the processor for the charge status and applies it. A charge
// that is still open leaves the transaction unchanged.
func (s *Service) Verify(ctx context.Context, merchantID, reference string) (*Transaction, error) {
	t, err := s.store.Get(ctx, merchantID, reference)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return t, nil
	}

	verifier, err := s.registry.ChargeVerifier(t.Processor)
	if err != nil {
		return nil, err
	}
	status, err := verifier.VerifyCharge(ctx, t.Reference)
	if err != nil {
		return nil, fmt.Errorf("verifying charge with %s: %w", t.Processor, err)
	}

	switch status.State {
	case providers.ChargeSucceeded:
		reported := status.Amount
		if reported.AmountMinor == 0 {
			reported = t.Money()
		}
		settled, err := s.SettleCredit(ctx, t.Reference, status.ProcessorReference, reported)
		if errors.Is(err, ErrAlreadySettled) {
			return settled, nil
		}
		return settled, err
	case providers.ChargeFailed:
		return s.Fail(ctx, t.Reference)
	}
	return t, nil
}

// SettleCredit moves a transaction to success and credits its merchant in
// one unit. A transaction that already succeeded is returned with
// ErrAlreadySettled and nothing is posted.
func (s *Service) SettleCredit(ctx context.Context, reference, processorReference string, reported money.Money) (*Transaction, error) {
	var settled *Transaction
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTransaction(ctx, reference)
		if err != nil {
			return err
		}
		settled = t
		if t.Status == StatusSuccess {
			return ErrAlreadySettled
		}
		if err := t.CheckReported(reported); err != nil {
			return err
		}
		if err := t.TransitionTo(StatusSuccess); err != nil {
			return err
		}
		if processorReference != "" {
			t.ProcessorReference = processorReference
		}

		_, err = ledger.Credit(ctx, tx, ledger.Posting{
			MerchantID: t.MerchantID,
			Amount:     t.Amount,
			Currency:   t.Currency,
			Reference:  t.Reference,
			Metadata: map[string]any{
				"source":              "transaction",
				"processor":           string(t.Processor),
				"processor_reference": t.ProcessorReference,
			},
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, t); err != nil {
			return err
		}
		return emit(ctx, tx, events.EventTransactionSucceeded, t)
	})
	if err != nil {
		return settled, err
	}

	s.metrics.EntryPosted("CREDIT")
	s.logger.Info("transaction settled",
		"merchant_id", settled.MerchantID,
		"reference", reference,
		"amount", settled.Amount,
	)
	return settled, nil
}

// Fail marks an open transaction failed
func (s *Service) Fail(ctx context.Context, reference string) (*Transaction, error) {
	var failed *Transaction
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.LockTransaction(ctx, reference)
		if err != nil {
			return err
		}
		if err := t.TransitionTo(StatusFailed); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, t); err != nil {
			return err
		}
		failed = t
		return emit(ctx, tx, events.EventTransactionFailed, t)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transaction failed", "merchant_id", failed.MerchantID, "reference", reference)
	return failed, nil
}

// TopUpRequest is the request to fund the merchant's own wallet.
type TopUpRequest struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	RedirectURL string `json:"redirect_url" validate:"omitempty,url"`
}

// TopUp is a started wallet top-up
type TopUp struct {
	Reference  string         `json:"reference"`
	PaymentURL string         `json:"payment_url"`
	Amount     int64          `json:"amount"`
	Currency   money.Currency `json:"currency"`
}

// InitializeTopUp asks the top-up processor for a payment link and records a
// TOPUP_PENDING marker. The wallet is credited when the processor's webhook
// for the reference arrives.
func (s *Service) InitializeTopUp(ctx context.Context, merchantID string, req TopUpRequest) (*TopUp, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	initializer, err := s.registry.ChargeInitializer(s.config.TopUpProcessor)
	if err != nil {
		return nil, err
	}
	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	reference := providers.TopUpReference(merchantID, ulid.Make().String())
	amount := money.New(req.Amount, s.config.DefaultCurrency)
	charge, err := initializer.InitializeCharge(ctx, providers.ChargeRequest{
		Reference:   reference,
		Amount:      amount,
		Email:       m.Email,
		Name:        m.DisplayName(),
		CallbackURL: req.RedirectURL,
		Metadata:    map[string]any{"merchant_id": merchantID, "purpose": "wallet_topup"},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing top-up with %s: %w", s.config.TopUpProcessor, err)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		_, err := ledger.MarkTopUpPending(ctx, tx, ledger.Posting{
			MerchantID: merchantID,
			Amount:     amount.AmountMinor,
			Currency:   amount.Currency,
			Reference:  reference,
			Metadata: map[string]any{
				"processor":   string(s.config.TopUpProcessor),
				"payment_url": charge.PaymentURL,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("top-up initialized", "merchant_id", merchantID, "reference", reference, "amount", amount.AmountMinor)
	return &TopUp{
		Reference:  reference,
		PaymentURL: charge.PaymentURL,
		Amount:     amount.AmountMinor,
		Currency:   amount.Currency,
	}, nil
}

func emit(ctx context.Context, tx Tx, eventType string, t *Transaction) error {
	evt, err := events.NewEvent(eventType, t.MerchantID, events.AggregateTransaction, t.ID, events.TransactionData{
		Reference: t.Reference,
		Processor: string(t.Processor),
		Amount:    t.Amount,
		Currency:  string(t.Currency),
		Status:    string(t.Status),
	})
	if err != nil {
		return fmt.Errorf("building %s event: %w", eventType, err)
	}
	return tx.Emit(ctx, evt)
}
