// Package webhook reconciles processor notifications against the ledger.
// Every notification is verified, decoded once into a providers.Event and
// then either posted in a single unit or ignored with a reason. Replays of a
// posted notification are answered as already processed and change nothing.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/payment"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/virtualaccount"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/withdrawal"
)

// Outcome statuses reported back to the processor
const (
	StatusSuccess          = "success"
	StatusIgnored          = "ignored"
	StatusAlreadyProcessed = "already_processed"
	StatusAmountMismatch   = "amount_mismatch"
	StatusInvalidPayload   = "invalid_payload"
)

// Ignore reasons beyond those the adapters report
const (
	ReasonMissingAccountNumber = "missing_account_number"
	ReasonMissingReference     = "missing_reference"
	ReasonAccountNotFound      = "virtual_account_not_found"
	ReasonTransactionNotFound  = "transaction_not_found"
	ReasonTransactionNotOpen   = "transaction_not_open"
	ReasonWithdrawalNotFound   = "withdrawal_not_found"
	ReasonCurrencyMismatch     = "currency_mismatch"
	ReasonTopUpNotFound        = "topup_not_found"
)

var (
	errTopUpNotFound       = errors.New("no pending top-up for reference")
	errTopUpAmountMismatch = errors.New("top-up amount does not match marker")
)

// Result is the business outcome of one notification
type Result struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Event      string `json:"event,omitempty"`
	Reference  string `json:"reference,omitempty"`
	MerchantID string `json:"-"`
}

// Ledger runs atomic units against the ledger
type Ledger interface {
	InTx(ctx context.Context, fn func(ledger.Tx) error) error
}

// Accounts routes transfers received on virtual account numbers
type Accounts interface {
	Lookup(ctx context.Context, accountNumber string) (*virtualaccount.VirtualAccount, error)
}

// Payments settles charges started by the payment gateway
type Payments interface {
	SettleCredit(ctx context.Context, reference, processorReference string, reported money.Money) (*payment.Transaction, error)
}

// Withdrawals resolves submitted transfers
type Withdrawals interface {
	Complete(ctx context.Context, c withdrawal.Completion) (*withdrawal.Withdrawal, error)
}

// Reconciler applies verified notifications
type Reconciler struct {
	registry    *providers.Registry
	ledger      Ledger
	accounts    Accounts
	payments    Payments
	withdrawals Withdrawals
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(registry *providers.Registry, l Ledger, accounts Accounts, payments Payments, withdrawals Withdrawals, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		registry:    registry,
		ledger:      l,
		accounts:    accounts,
		payments:    payments,
		withdrawals: withdrawals,
		metrics:     m,
		logger:      logger,
	}
}

// Process verifies and applies one notification. It returns
// providers.ErrInvalidSignature when the body is not authentic and
// providers.ErrUnknownProcessor for an unregistered processor. Any other
// error is transient and the processor should redeliver.
func (r *Reconciler) Process(ctx context.Context, processor providers.Name, header http.Header, body []byte) (Result, error) {
	decoder, err := r.registry.WebhookDecoder(processor)
	if err != nil {
		return Result{}, err
	}
	if err := decoder.VerifyWebhook(header, body); err != nil {
		r.metrics.WebhookHandled(string(processor), "unknown", "rejected")
		r.logger.Warn("webhook signature rejected", "processor", processor, "error", err)
		return Result{}, fmt.Errorf("%w: %w", providers.ErrInvalidSignature, err)
	}

	evt, err := decoder.DecodeWebhook(body)
	if err != nil {
		if errors.Is(err, providers.ErrInvalidPayload) {
			r.metrics.WebhookHandled(string(processor), "unknown", StatusInvalidPayload)
			r.logger.Error("webhook payload rejected", "processor", processor, "error", err)
			return Result{Status: StatusInvalidPayload}, nil
		}
		return Result{}, err
	}

	res, err := r.apply(ctx, processor, evt)
	if err != nil {
		r.metrics.WebhookHandled(string(processor), evt.Kind(), "error")
		r.logger.Error("webhook processing failed",
			"processor", processor,
			"kind", evt.Kind(),
			"error", err,
		)
		return Result{}, err
	}

	r.metrics.WebhookHandled(string(processor), evt.Kind(), res.Status)
	r.logger.Info("webhook handled",
		"processor", processor,
		"kind", evt.Kind(),
		"status", res.Status,
		"reason", res.Reason,
		"reference", res.Reference,
		"merchant_id", res.MerchantID,
	)
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, processor providers.Name, evt providers.Event) (Result, error) {
	switch e := evt.(type) {
	case providers.VirtualAccountCredit:
		return r.creditVirtualAccount(ctx, processor, e)
	case providers.TopUpCredit:
		return r.creditTopUp(ctx, processor, e)
	case providers.TransactionCredit:
		return r.settleTransaction(ctx, e)
	case providers.TransferCompletion:
		return r.completeTransfer(ctx, e)
	case providers.Unhandled:
		return Result{Status: StatusIgnored, Reason: e.Reason, Event: e.EventType}, nil
	}
	return Result{}, fmt.Errorf("unexpected event %T", evt)
}

func (r *Reconciler) creditVirtualAccount(ctx context.Context, processor providers.Name, e providers.VirtualAccountCredit) (Result, error) {
	if e.AccountNumber == "" {
		return Result{Status: StatusIgnored, Reason: ReasonMissingAccountNumber}, nil
	}
	if e.Reference == "" {
		return Result{Status: StatusIgnored, Reason: ReasonMissingReference}, nil
	}
	va, err := r.accounts.Lookup(ctx, e.AccountNumber)
	if err != nil {
		if errors.Is(err, virtualaccount.ErrNotFound) {
			r.logger.Warn("credit to unknown virtual account", "account_number", e.AccountNumber, "reference", e.Reference)
			return Result{Status: StatusIgnored, Reason: ReasonAccountNotFound, Reference: e.Reference}, nil
		}
		return Result{}, fmt.Errorf("looking up virtual account: %w", err)
	}

	return r.credit(ctx, nil, ledger.Posting{
		MerchantID: va.MerchantID,
		Amount:     e.Amount.AmountMinor,
		Currency:   e.Amount.Currency,
		Reference:  e.Reference,
		Metadata: map[string]any{
			"source":         "virtual_account",
			"processor":      string(processor),
			"account_number": e.AccountNumber,
			"customer_name":  e.CustomerName,
		},
	})
}

// creditTopUp credits a top-up only against the TOPUP_PENDING marker the
// merchant started, and only for the amount the marker recorded.
func (r *Reconciler) creditTopUp(ctx context.Context, processor providers.Name, e providers.TopUpCredit) (Result, error) {
	guard := func(tx ledger.Tx) error {
		marker, err := tx.FindEntry(ctx, e.MerchantID, e.Reference, domain.EntryTypeTopUpPending)
		if errors.Is(err, domain.ErrEntryNotFound) {
			return errTopUpNotFound
		}
		if err != nil {
			return err
		}
		if marker.Amount != e.Amount.AmountMinor {
			return fmt.Errorf("%w: marker %d, reported %d", errTopUpAmountMismatch, marker.Amount, e.Amount.AmountMinor)
		}
		return nil
	}

	res, err := r.credit(ctx, guard, ledger.Posting{
		MerchantID: e.MerchantID,
		Amount:     e.Amount.AmountMinor,
		Currency:   e.Amount.Currency,
		Reference:  e.Reference,
		Metadata: map[string]any{
			"source":    "topup",
			"processor": string(processor),
		},
	})
	switch {
	case errors.Is(err, errTopUpNotFound):
		r.logger.Warn("credit for unknown top-up", "merchant_id", e.MerchantID, "reference", e.Reference)
		return Result{Status: StatusIgnored, Reason: ReasonTopUpNotFound, Reference: e.Reference}, nil
	case errors.Is(err, errTopUpAmountMismatch):
		r.logger.Error("top-up amount does not match marker",
			"merchant_id", e.MerchantID,
			"reference", e.Reference,
			"error", err,
		)
		return Result{Status: StatusAmountMismatch, Reference: e.Reference, MerchantID: e.MerchantID}, nil
	}
	return res, err
}

// credit posts a CREDIT unless the merchant already has one for the
// reference. The existence check, guard and posting share the unit, and a
// concurrent replay that wins the race surfaces as a duplicate reference.
// Guard errors are returned unwrapped.
func (r *Reconciler) credit(ctx context.Context, guard func(ledger.Tx) error, p ledger.Posting) (Result, error) {
	res := Result{Status: StatusSuccess, Reference: p.Reference, MerchantID: p.MerchantID}
	var guardErr error
	err := r.ledger.InTx(ctx, func(tx ledger.Tx) error {
		exists, err := tx.EntryExists(ctx, p.MerchantID, p.Reference, domain.EntryTypeCredit)
		if err != nil {
			return err
		}
		if exists {
			res.Status = StatusAlreadyProcessed
			return nil
		}
		if guard != nil {
			if guardErr = guard(tx); guardErr != nil {
				return guardErr
			}
		}
		_, err = ledger.Credit(ctx, tx, p)
		return err
	})
	if guardErr != nil && errors.Is(err, guardErr) {
		return Result{}, guardErr
	}
	switch {
	case errors.Is(err, domain.ErrDuplicateReference):
		res.Status = StatusAlreadyProcessed
		return res, nil
	case errors.Is(err, domain.ErrCurrencyMismatch):
		r.logger.Error("credit currency does not match wallet",
			"merchant_id", p.MerchantID,
			"reference", p.Reference,
			"currency", p.Currency,
		)
		res.Status, res.Reason = StatusIgnored, ReasonCurrencyMismatch
		return res, nil
	case err != nil:
		return Result{}, fmt.Errorf("posting credit %s: %w", p.Reference, err)
	}
	if res.Status == StatusSuccess {
		r.metrics.EntryPosted(string(domain.EntryTypeCredit))
	}
	return res, nil
}

func (r *Reconciler) settleTransaction(ctx context.Context, e providers.TransactionCredit) (Result, error) {
	res := Result{Status: StatusSuccess, Reference: e.Reference}
	if e.Reference == "" {
		res.Status, res.Reason = StatusIgnored, ReasonMissingReference
		return res, nil
	}

	t, err := r.payments.SettleCredit(ctx, e.Reference, e.ProcessorReference, e.Amount)
	if t != nil {
		res.MerchantID = t.MerchantID
	}
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, payment.ErrAlreadySettled):
		res.Status = StatusAlreadyProcessed
	case errors.Is(err, payment.ErrNotFound):
		res.Status, res.Reason = StatusIgnored, ReasonTransactionNotFound
	case errors.Is(err, payment.ErrAmountMismatch):
		r.logger.Error("charge amount does not match transaction",
			"reference", e.Reference,
			"reported", e.Amount.String(),
			"error", err,
		)
		res.Status = StatusAmountMismatch
	case errors.Is(err, payment.ErrInvalidTransition):
		res.Status, res.Reason = StatusIgnored, ReasonTransactionNotOpen
	case errors.Is(err, domain.ErrCurrencyMismatch):
		r.logger.Error("charge currency does not match wallet",
			"reference", e.Reference,
			"reported", e.Amount.String(),
			"error", err,
		)
		res.Status, res.Reason = StatusIgnored, ReasonCurrencyMismatch
	default:
		return Result{}, fmt.Errorf("settling transaction %s: %w", e.Reference, err)
	}
	return res, nil
}

func (r *Reconciler) completeTransfer(ctx context.Context, e providers.TransferCompletion) (Result, error) {
	res := Result{Status: StatusSuccess, Reference: e.Reference}
	if e.Reference == "" {
		res.Status, res.Reason = StatusIgnored, ReasonMissingReference
		return res, nil
	}

	w, err := r.withdrawals.Complete(ctx, withdrawal.Completion{
		Reference:  e.Reference,
		TransferID: e.TransferID,
		Succeeded:  e.Succeeded,
		Reason:     e.Reason,
	})
	if w != nil {
		res.MerchantID = w.MerchantID
	}
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, withdrawal.ErrAlreadyResolved):
		res.Status = StatusAlreadyProcessed
	case errors.Is(err, withdrawal.ErrNotFound):
		res.Status, res.Reason = StatusIgnored, ReasonWithdrawalNotFound
	default:
		return Result{}, fmt.Errorf("completing withdrawal %s: %w", e.Reference, err)
	}
	return res, nil
}
