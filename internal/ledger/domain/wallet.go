package domain

import (
	"fmt"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
)

// Wallet is the per-merchant balance projection over the ledger.
//
// AvailableBalance is the signed sum of the merchant's CREDIT, DEBIT,
// WITHDRAWAL and REVERSAL entries. Balance additionally includes funds
// reserved for withdrawals whose transfer has not completed yet, so
// 0 <= AvailableBalance <= Balance always holds.
type Wallet struct {
	MerchantID       string         `json:"merchant_id"`
	Balance          int64          `json:"balance"`
	AvailableBalance int64          `json:"available_balance"`
	Currency         money.Currency `json:"currency"`
	Version          int64          `json:"-"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Reserved is the amount held for in-flight withdrawals
func (w *Wallet) Reserved() int64 {
	return w.Balance - w.AvailableBalance
}

// InsufficientBalanceError carries the balance the caller must be shown.
type InsufficientBalanceError struct {
	Available int64
	Requested int64
	Currency  money.Currency
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func positive(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return nil
}

func (w *Wallet) insufficient(amount int64) error {
	return &InsufficientBalanceError{Available: w.AvailableBalance, Requested: amount, Currency: w.Currency}
}

// Credit adds settled funds
func (w *Wallet) Credit(amount int64) error {
	if err := positive(amount); err != nil {
		return err
	}
	w.Balance += amount
	w.AvailableBalance += amount
	return nil
}

// Debit removes settled funds immediately
func (w *Wallet) Debit(amount int64) error {
	if err := positive(amount); err != nil {
		return err
	}
	if w.AvailableBalance < amount {
		return w.insufficient(amount)
	}
	w.Balance -= amount
	w.AvailableBalance -= amount
	return nil
}

// Reserve holds funds for an outbound transfer. It never partially reserves.
func (w *Wallet) Reserve(amount int64) error {
	if err := positive(amount); err != nil {
		return err
	}
	if w.AvailableBalance < amount {
		return w.insufficient(amount)
	}
	w.AvailableBalance -= amount
	return nil
}

// Release returns a reservation to the available balance
func (w *Wallet) Release(amount int64) error {
	if err := positive(amount); err != nil {
		return err
	}
	if amount > w.Reserved() {
		return fmt.Errorf("%w: releasing %d with %d reserved", ErrReservationMismatch, amount, w.Reserved())
	}
	w.AvailableBalance += amount
	return nil
}

// SettleReservation turns a reservation into a permanent reduction
func (w *Wallet) SettleReservation(amount int64) error {
	if err := positive(amount); err != nil {
		return err
	}
	if amount > w.Reserved() {
		return fmt.Errorf("%w: settling %d with %d reserved", ErrReservationMismatch, amount, w.Reserved())
	}
	w.Balance -= amount
	return nil
}
