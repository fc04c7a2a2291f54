package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/activity"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/api"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/merchant"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Store persists withdrawals.
type Store interface {
	Get(ctx context.Context, merchantID, reference string) (*Withdrawal, error)
	List(ctx context.Context, merchantID string, limit, offset int) ([]*Withdrawal, int64, error)
	// ListPending returns pending withdrawals created before cutoff, oldest first.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*Withdrawal, error)
	SaveTransfer(ctx context.Context, reference, transferID string) error
	// InTx runs fn as one unit shared with the ledger.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx extends the ledger unit with withdrawal rows.
type Tx interface {
	ledger.Tx
	Insert(ctx context.Context, w *Withdrawal) error
	// LockWithdrawal locks the withdrawal row. Returns ErrNotFound.
	LockWithdrawal(ctx context.Context, reference string) (*Withdrawal, error)
	UpdateStatus(ctx context.Context, w *Withdrawal) error
}

// Config holds withdrawal configuration.
type Config struct {
	Processor   providers.Name
	CallbackURL string
	Narration   string
}

// Service orchestrates withdrawals.
type Service struct {
	store     Store
	merchants merchant.Directory
	registry  *providers.Registry
	config    Config
	metrics   *metrics.Metrics
	activity  *activity.Log
	logger    *slog.Logger
}

// NewService creates a new withdrawal service.
func NewService(store Store, merchants merchant.Directory, registry *providers.Registry, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.Processor == "" {
		cfg.Processor = providers.Flutterwave
	}
	if cfg.Narration == "" {
		cfg.Narration = "Wallet withdrawal"
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

// WithActivity records payout requests in the merchant's activity log.
func (s *Service) WithActivity(log *activity.Log) *Service {
	s.activity = log
	return s
}

// CreateRequest is the request to withdraw to the payout account.
type CreateRequest struct {
	Amount    int64  `json:"amount" validate:"gt=0"`
	Narration string `json:"narration" validate:"max=100"`
}

// Request reserves the amount and submits the transfer.
//
// A transfer the processor refuses outright is compensated at once and the
// error wraps ErrTransferRejected. Any other transfer failure, or a submitted
// transfer whose id could not be recorded, leaves the withdrawal pending with
// its funds reserved; the returned withdrawal is non-nil and the error wraps
// providers.ErrUpstreamUnavailable.
func (s *Service) Request(ctx context.Context, merchantID string, req CreateRequest) (*Withdrawal, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !m.Payout.Configured() {
		return nil, ErrBankAccountNotConfigured
	}
	transferer, err := s.registry.Transferer(s.config.Processor)
	if err != nil {
		return nil, err
	}

	w := NewWithdrawal(merchantID, req.Amount, s.config.Processor, m.Payout.BankCode, m.Payout.AccountNumber, m.Payout.AccountName)
	if err := s.reserve(ctx, w); err != nil {
		return nil, err
	}

	narration := req.Narration
	if narration == "" {
		narration = s.config.Narration
	}
	transfer, err := transferer.InitiateTransfer(ctx, providers.TransferRequest{
		Reference:     w.Reference,
		Amount:        w.Money(),
		BankCode:      w.BankCode,
		AccountNumber: w.AccountNumber,
		AccountName:   w.AccountName,
		Narration:     narration,
		CallbackURL:   s.config.CallbackURL,
	})
	if err != nil {
		if providers.IsRejected(err) {
			return s.compensate(ctx, w, err)
		}
		s.metrics.WithdrawalChanged(string(StatusPending))
		s.logger.Warn("transfer outcome unknown, withdrawal left pending",
			"merchant_id", merchantID,
			"reference", w.Reference,
			"error", err,
		)
		return w, fmt.Errorf("submitting transfer: %w", providers.ErrUpstreamUnavailable)
	}

	w.TransferID = transfer.ID
	if err := s.store.SaveTransfer(ctx, w.Reference, transfer.ID); err != nil {
		// The transfer is in flight and completion is matched by reference,
		// so the caller sees the same pending outcome as an unknown submit.
		s.metrics.WithdrawalChanged(string(StatusPending))
		s.logger.Error("saving transfer id",
			"merchant_id", merchantID,
			"reference", w.Reference,
			"transfer_id", transfer.ID,
			"error", err,
		)
		return w, fmt.Errorf("%w: recording transfer %s: %w", providers.ErrUpstreamUnavailable, transfer.ID, err)
	}

	s.metrics.WithdrawalChanged(string(StatusPending))
	s.logger.Info("withdrawal submitted",
		"merchant_id", merchantID,
		"reference", w.Reference,
		"amount", w.Amount,
		"transfer_id", transfer.ID,
	)
	return w, nil
}

// reserve holds the amount and inserts the pending withdrawal in one unit.
func (s *Service) reserve(ctx context.Context, w *Withdrawal) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		posted, err := ledger.Reserve(ctx, tx, ledger.Posting{
			MerchantID: w.MerchantID,
			Amount:     w.Amount,
			Reference:  w.Reference,
			Metadata: map[string]any{
				"withdrawal_id":  w.ID,
				"bank_code":      w.BankCode,
				"account_number": w.AccountNumber,
			},
		})
		if err != nil {
			return err
		}
		w.Currency = posted.Wallet.Currency
		if err := tx.Insert(ctx, w); err != nil {
			return err
		}
		return emit(ctx, tx, events.EventWithdrawalRequested, w)
	})
	if err != nil {
		return err
	}
	s.metrics.EntryPosted(string(domain.EntryTypeWithdrawal))
	return nil
}

// PayoutRequest asks an operator to pay out part of the balance by hand.
type PayoutRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Note   string `json:"note" validate:"max=256"`
}

// RequestPayout reserves the amount and queues a payout for an operator. No
// processor is called; the payout stays pending until ResolveManually.
func (s *Service) RequestPayout(ctx context.Context, merchantID string, req PayoutRequest) (*Withdrawal, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	m, err := s.merchants.Get(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if !m.Payout.Configured() {
		return nil, ErrBankAccountNotConfigured
	}

	w := NewWithdrawal(merchantID, req.Amount, ManualProcessor, m.Payout.BankCode, m.Payout.AccountNumber, m.Payout.AccountName)
	w.Reference = PayoutPrefix + w.ID
	if err := s.reserve(ctx, w); err != nil {
		return nil, err
	}

	s.metrics.WithdrawalChanged(string(StatusPending))
	s.logger.Info("payout requested",
		"merchant_id", merchantID,
		"reference", w.Reference,
		"amount", w.Amount,
	)
	s.activity.Record(ctx, activity.Entry{
		MerchantID:   merchantID,
		Action:       activity.ActionPayoutRequested,
		ResourceType: "withdrawal",
		ResourceID:   w.Reference,
		Metadata:     map[string]any{"amount": w.Amount, "currency": w.Currency, "note": req.Note},
	})
	return w, nil
}

// PendingPayouts lists payouts waiting for an operator, oldest first
func (s *Service) PendingPayouts(ctx context.Context, limit int) ([]*Withdrawal, error) {
	pending, err := s.store.ListPending(ctx, time.Now().UTC(), limit)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(pending, func(w *Withdrawal) bool { return !w.IsPayout() }), nil
}

func (s *Service) compensate(ctx context.Context, w *Withdrawal, cause error) (*Withdrawal, error) {
	var rejected *providers.RejectedError
	reason := cause.Error()
	if errors.As(cause, &rejected) && rejected.Message != "" {
		reason = rejected.Message
	}

	failed, err := s.Complete(ctx, Completion{Reference: w.Reference, Succeeded: false, Reason: reason})
	if err != nil {
		s.logger.Error("compensating rejected transfer",
			"merchant_id", w.MerchantID,
			"reference", w.Reference,
			"error", err,
		)
		return w, fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}
	return failed, fmt.Errorf("%w: %w", ErrTransferRejected, cause)
}

// Completion is the processor's final word on a transfer.
type Completion struct {
	Reference  string
	TransferID string
	Succeeded  bool
	Reason     string
}

// Complete resolves a pending withdrawal in one unit. Success makes the
// reservation permanent; failure releases it with a REVERSAL of the full
// amount. A withdrawal that is already resolved returns ErrAlreadyResolved.
func (s *Service) Complete(ctx context.Context, c Completion) (*Withdrawal, error) {
	var resolved *Withdrawal
	err := s.store.InTx(ctx, func(tx Tx) error {
		w, err := tx.LockWithdrawal(ctx, c.Reference)
		if err != nil {
			return err
		}
		resolved = w
		if w.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, w.Reference, w.Status)
		}
		if c.TransferID != "" && w.TransferID == "" {
			w.TransferID = c.TransferID
		}

		eventType := events.EventWithdrawalSucceeded
		if c.Succeeded {
			if err := w.TransitionTo(StatusSuccess); err != nil {
				return err
			}
			if _, err := ledger.SettleReservation(ctx, tx, w.MerchantID, w.Amount, w.Reference); err != nil {
				return err
			}
		} else {
			eventType = events.EventWithdrawalFailed
			if err := w.TransitionTo(StatusFailed); err != nil {
				return err
			}
			w.FailureReason = c.Reason
			_, err := ledger.Release(ctx, tx, ledger.Posting{
				MerchantID: w.MerchantID,
				Amount:     w.Amount,
				Currency:   w.Currency,
				Reference:  domain.ReversalReference(w.Reference),
				Metadata: map[string]any{
					"withdrawal_id":      w.ID,
					"original_reference": w.Reference,
					"reason":             c.Reason,
				},
			})
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateStatus(ctx, w); err != nil {
			return err
		}
		return emit(ctx, tx, eventType, w)
	})
	if err != nil {
		return resolved, err
	}

	if !c.Succeeded {
		s.metrics.EntryPosted(string(domain.EntryTypeReversal))
	}
	s.metrics.WithdrawalChanged(string(resolved.Status))
	s.logger.Info("withdrawal resolved",
		"merchant_id", resolved.MerchantID,
		"reference", resolved.Reference,
		"status", resolved.Status,
		"reason", c.Reason,
	)
	return resolved, nil
}

// ResolveRequest is an operator's resolution of a withdrawal whose transfer
// outcome never arrived.
type ResolveRequest struct {
	Status string `json:"status" validate:"required,oneof=success failed"`
	Reason string `json:"reason" validate:"required,max=256"`
}

// ResolveManually applies an operator's resolution with the same logic as a
// transfer-completion webhook.
func (s *Service) ResolveManually(ctx context.Context, reference, actor string, req ResolveRequest) (*Withdrawal, error) {
	if err := api.Validate.Struct(req); err != nil {
		return nil, err
	}
	s.logger.Warn("manual withdrawal resolution", "reference", reference, "status", req.Status, "actor", actor)
	return s.Complete(ctx, Completion{
		Reference: reference,
		Succeeded: Status(req.Status) == StatusSuccess,
		Reason:    "manual: " + req.Reason,
	})
}

// Get returns a merchant's withdrawal
func (s *Service) Get(ctx context.Context, merchantID, reference string) (*Withdrawal, error) {
	return s.store.Get(ctx, merchantID, reference)
}

// List returns a page of a merchant's withdrawals, newest first
func (s *Service) List(ctx context.Context, merchantID string, limit, offset int) ([]*Withdrawal, int64, error) {
	return s.store.List(ctx, merchantID, limit, offset)
}

// Stale returns withdrawals still pending after age
func (s *Service) Stale(ctx context.Context, age time.Duration, limit int) ([]*Withdrawal, error) {
	return s.store.ListPending(ctx, time.Now().UTC().Add(-age), limit)
}

func emit(ctx context.Context, tx Tx, eventType string, w *Withdrawal) error {
	evt, err := events.NewEvent(eventType, w.MerchantID, events.AggregateWithdrawal, w.ID, events.WithdrawalData{
		Reference:  w.Reference,
		Amount:     w.Amount,
		Currency:   string(w.Currency),
		Status:     string(w.Status),
		TransferID: w.TransferID,
		Reason:     w.FailureReason,
	})
	if err != nil {
		return fmt.Errorf("building %s event: %w", eventType, err)
	}
	return tx.Emit(ctx, evt)
}
