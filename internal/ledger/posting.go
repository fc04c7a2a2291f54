package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/ledger/domain"
)

// Tx is one atomic unit against the ledger. Every mutation of a wallet and the
// entry paired with it go through the same Tx; the wallet row is locked for
// the remainder of the unit once LockWallet or EnsureWallet returns.
type Tx interface {
	// EnsureWallet creates the wallet if missing and locks it.
	EnsureWallet(ctx context.Context, merchantID string, currency money.Currency) (*domain.Wallet, error)
	// LockWallet locks an existing wallet. Returns domain.ErrWalletNotFound.
	LockWallet(ctx context.Context, merchantID string) (*domain.Wallet, error)
	// UpdateWallet writes balances guarded by the version read at lock time.
	UpdateWallet(ctx context.Context, w *domain.Wallet) error
	// InsertEntry appends an entry. Returns domain.ErrDuplicateReference when
	// (reference, entry_type) exists.
	InsertEntry(ctx context.Context, e *domain.Entry) error
	// EntryExists reports whether the merchant has an entry with reference
	// and any of types.
	EntryExists(ctx context.Context, merchantID, reference string, types ...domain.EntryType) (bool, error)
	// FindEntry returns the merchant's entry for (reference, entryType).
	// Returns domain.ErrEntryNotFound.
	FindEntry(ctx context.Context, merchantID, reference string, entryType domain.EntryType) (*domain.Entry, error)
	// Emit stores an event for the outbox relay.
	Emit(ctx context.Context, evt *events.Event) error
}

// Posting describes one balance movement. Amount is the positive magnitude;
// the sign stored on the entry follows the entry type.
type Posting struct {
	MerchantID string
	Amount     int64
	Currency   money.Currency
	Reference  string
	Metadata   map[string]any
}

// Posted is the result of a posting.
type Posted struct {
	Entry  *domain.Entry  `json:"entry,omitempty"`
	Wallet *domain.Wallet `json:"wallet"`
}

func checkCurrency(w *domain.Wallet, c money.Currency) error {
	if c != "" && w.Currency != c {
		return fmt.Errorf("%w: wallet is %s, posting is %s", domain.ErrCurrencyMismatch, w.Currency, c)
	}
	return nil
}

func emitMovement(ctx context.Context, tx Tx, eventType string, w *domain.Wallet, e *domain.Entry, amount int64, reference string) error {
	data := events.WalletMovedData{
		Amount:           amount,
		Currency:         string(w.Currency),
		Reference:        reference,
		Balance:          w.Balance,
		AvailableBalance: w.AvailableBalance,
	}
	if e != nil {
		data.EntryID = e.ID
		data.EntryType = string(e.EntryType)
	}
	evt, err := events.NewEvent(eventType, w.MerchantID, events.AggregateWallet, w.MerchantID, data)
	if err != nil {
		return fmt.Errorf("building %s event: %w", eventType, err)
	}
	return tx.Emit(ctx, evt)
}

// apply runs the shared shape of every balance-affecting posting: mutate the
// locked wallet, append the paired entry, persist the wallet, emit.
func apply(ctx context.Context, tx Tx, w *domain.Wallet, p Posting, t domain.EntryType, eventType string, mutate func(*domain.Wallet, int64) error) (*Posted, error) {
	if err := checkCurrency(w, p.Currency); err != nil {
		return nil, err
	}
	if err := mutate(w, p.Amount); err != nil {
		return nil, err
	}

	signed := p.Amount
	if t.Outflow() {
		signed = -signed
	}
	entry, err := domain.NewEntry(ulid.Make().String(), p.MerchantID, t, signed, p.Reference, p.Metadata)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.UpdateWallet(ctx, w); err != nil {
		return nil, err
	}
	if err := emitMovement(ctx, tx, eventType, w, entry, p.Amount, p.Reference); err != nil {
		return nil, err
	}
	return &Posted{Entry: entry, Wallet: w}, nil
}

func validate(p Posting) error {
	if p.MerchantID == "" {
		return errors.New("merchant id is required")
	}
	if p.Reference == "" {
		return errors.New("reference is required")
	}
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidAmount)
	}
	return nil
}

// Credit appends a CREDIT and raises both balances. A missing wallet is
// created in the posting's currency.
func Credit(ctx context.Context, tx Tx, p Posting) (*Posted, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	currency := p.Currency
	if currency == "" {
		currency = money.NGN
	}
	w, err := tx.EnsureWallet(ctx, p.MerchantID, currency)
	if err != nil {
		return nil, err
	}
	return apply(ctx, tx, w, p, domain.EntryTypeCredit, events.EventWalletCredited, (*domain.Wallet).Credit)
}

// Debit appends a DEBIT and lowers both balances.
func Debit(ctx context.Context, tx Tx, p Posting) (*Posted, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	w, err := lockForOutflow(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	return apply(ctx, tx, w, p, domain.EntryTypeDebit, events.EventWalletDebited, (*domain.Wallet).Debit)
}

// Reserve appends a WITHDRAWAL and lowers the available balance. It fails
// with *domain.InsufficientBalanceError when available < amount.
func Reserve(ctx context.Context, tx Tx, p Posting) (*Posted, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	w, err := lockForOutflow(ctx, tx, p)
	if err != nil {
		return nil, err
	}
	return apply(ctx, tx, w, p, domain.EntryTypeWithdrawal, events.EventWalletReserved, (*domain.Wallet).Reserve)
}

// Release appends a REVERSAL with p.Reference and returns a reservation to
// the available balance.
func Release(ctx context.Context, tx Tx, p Posting) (*Posted, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	w, err := tx.LockWallet(ctx, p.MerchantID)
	if err != nil {
		return nil, err
	}
	return apply(ctx, tx, w, p, domain.EntryTypeReversal, events.EventWalletReleased, (*domain.Wallet).Release)
}

// SettleReservation makes a reservation permanent once its transfer
// succeeded. The WITHDRAWAL appended by Reserve is the entry paired with
// this change, so nothing new is appended.
func SettleReservation(ctx context.Context, tx Tx, merchantID string, amount int64, reference string) (*domain.Wallet, error) {
	w, err := tx.LockWallet(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	if err := w.SettleReservation(amount); err != nil {
		return nil, err
	}
	if err := tx.UpdateWallet(ctx, w); err != nil {
		return nil, err
	}
	if err := emitMovement(ctx, tx, events.EventWalletSettled, w, nil, amount, reference); err != nil {
		return nil, err
	}
	return w, nil
}

// MarkTopUpPending appends the TOPUP_PENDING marker for a started top-up.
// Markers never touch the wallet.
func MarkTopUpPending(ctx context.Context, tx Tx, p Posting) (*domain.Entry, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	entry, err := domain.NewEntry(ulid.Make().String(), p.MerchantID, domain.EntryTypeTopUpPending, p.Amount, p.Reference, p.Metadata)
	if err != nil {
		return nil, err
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	evt, err := events.NewEvent(events.EventTopUpInitialized, p.MerchantID, events.AggregateWallet, p.MerchantID, events.WalletMovedData{
		EntryID:   entry.ID,
		EntryType: string(entry.EntryType),
		Amount:    p.Amount,
		Currency:  string(p.Currency),
		Reference: p.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("building %s event: %w", events.EventTopUpInitialized, err)
	}
	if err := tx.Emit(ctx, evt); err != nil {
		return nil, err
	}
	return entry, nil
}

func lockForOutflow(ctx context.Context, tx Tx, p Posting) (*domain.Wallet, error) {
	w, err := tx.LockWallet(ctx, p.MerchantID)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return nil, &domain.InsufficientBalanceError{Requested: p.Amount, Currency: p.Currency}
	}
	return w, err
}
