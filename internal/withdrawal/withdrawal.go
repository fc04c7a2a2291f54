// Package withdrawal pays merchant balances out to their bank accounts. Funds
// are reserved before the transfer is submitted and stay reserved until the
// processor reports the outcome.
package withdrawal

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Status represents the status of a withdrawal
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusSuccess, StatusFailed},
}

// CanTransition reports whether from -> to is legal
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

var (
	ErrNotFound                 = errors.New("withdrawal not found")
	ErrInvalidTransition        = errors.New("invalid withdrawal transition")
	ErrAlreadyResolved          = errors.New("withdrawal already resolved")
	ErrBankAccountNotConfigured = errors.New("payout bank account not configured")
	ErrTransferRejected         = errors.New("transfer rejected")
)

const (
	// ReferencePrefix marks withdrawal references
	ReferencePrefix = "WD_"
	// PayoutPrefix marks payouts an operator pays by hand
	PayoutPrefix = "PYO_"
)

// ManualProcessor records payouts settled outside any processor.
const ManualProcessor providers.Name = "manual"

// Withdrawal is a payout of a merchant's balance. Amount is in minor units.
type Withdrawal struct {
	ID            string         `json:"id"`
	MerchantID    string         `json:"merchant_id"`
	Amount        int64          `json:"amount"`
	Currency      money.Currency `json:"currency"`
	Status        Status         `json:"status"`
	Reference     string         `json:"reference"`
	TransferID    string         `json:"transfer_id,omitempty"`
	Processor     providers.Name `json:"processor"`
	BankCode      string         `json:"bank_code"`
	AccountNumber string         `json:"account_number"`
	AccountName   string         `json:"account_name"`
	FailureReason string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewWithdrawal creates a pending withdrawal with a fresh reference
func NewWithdrawal(merchantID string, amount int64, processor providers.Name, bankCode, accountNumber, accountName string) *Withdrawal {
	now := time.Now().UTC()
	return &Withdrawal{
		ID:            ulid.Make().String(),
		MerchantID:    merchantID,
		Amount:        amount,
		Status:        StatusPending,
		Reference:     ReferencePrefix + ulid.Make().String(),
		Processor:     processor,
		BankCode:      bankCode,
		AccountNumber: accountNumber,
		AccountName:   accountName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsPayout reports whether an operator settles the withdrawal by hand
func (w *Withdrawal) IsPayout() bool {
	return w.Processor == ManualProcessor
}

// IsTerminal returns true once the withdrawal can no longer change.
func (w *Withdrawal) IsTerminal() bool {
	return len(transitions[w.Status]) == 0
}

// TransitionTo moves the withdrawal to next
func (w *Withdrawal) TransitionTo(next Status) error {
	if !CanTransition(w.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, next)
	}
	w.Status = next
	w.UpdatedAt = time.Now().UTC()
	return nil
}

// Money returns the withdrawn amount
func (w *Withdrawal) Money() money.Money {
	return money.New(w.Amount, w.Currency)
}
