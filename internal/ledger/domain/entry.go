package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntryType represents the type of ledger entry
type EntryType string

const (
	EntryTypeCredit       EntryType = "CREDIT"
	EntryTypeDebit        EntryType = "DEBIT"
	EntryTypeWithdrawal   EntryType = "WITHDRAWAL"
	EntryTypeReversal     EntryType = "REVERSAL"
	EntryTypeTopUpPending EntryType = "TOPUP_PENDING"
)

// BalanceTypes are the entry types that move money. TOPUP_PENDING is a marker.
var BalanceTypes = []EntryType{
	EntryTypeCredit,
	EntryTypeDebit,
	EntryTypeWithdrawal,
	EntryTypeReversal,
}

// AllTypes lists every entry type
var AllTypes = []EntryType{
	EntryTypeCredit,
	EntryTypeDebit,
	EntryTypeWithdrawal,
	EntryTypeReversal,
	EntryTypeTopUpPending,
}

// ParseEntryType validates an entry type, case-insensitively
func ParseEntryType(s string) (EntryType, error) {
	t := EntryType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case EntryTypeCredit, EntryTypeDebit, EntryTypeWithdrawal, EntryTypeReversal, EntryTypeTopUpPending:
		return t, nil
	}
	return "", fmt.Errorf("unknown entry type %q", s)
}

// AffectsBalance reports whether entries of this type count toward the wallet.
func (t EntryType) AffectsBalance() bool {
	return t != EntryTypeTopUpPending
}

// Outflow reports whether entries of this type carry a negative amount.
func (t EntryType) Outflow() bool {
	return t == EntryTypeDebit || t == EntryTypeWithdrawal
}

// Errors
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicateReference  = errors.New("duplicate reference")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrEntryNotFound       = errors.New("entry not found")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConcurrentUpdate    = errors.New("wallet was modified concurrently")
	ErrReservationMismatch = errors.New("reservation exceeds reserved funds")
)

// Entry is an immutable record of a single money movement. Amount is signed
// and in minor units.
type Entry struct {
	ID         string         `json:"id"`
	MerchantID string         `json:"merchant_id"`
	EntryType  EntryType      `json:"entry_type"`
	Amount     int64          `json:"amount"`
	Reference  string         `json:"reference"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ValidateAmount checks that a signed amount is non-zero and carries the sign
// its entry type requires.
func ValidateAmount(t EntryType, amount int64) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrInvalidAmount)
	}
	if t.Outflow() && amount > 0 {
		return fmt.Errorf("%w: %s entries must be negative", ErrInvalidAmount, t)
	}
	if !t.Outflow() && amount < 0 {
		return fmt.Errorf("%w: %s entries must be positive", ErrInvalidAmount, t)
	}
	return nil
}

// NewEntry creates a new ledger entry
func NewEntry(id, merchantID string, entryType EntryType, amount int64, reference string, metadata map[string]any) (*Entry, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if merchantID == "" {
		return nil, errors.New("merchant_id is required")
	}
	if reference == "" {
		return nil, errors.New("reference is required")
	}
	if err := ValidateAmount(entryType, amount); err != nil {
		return nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	return &Entry{
		ID:         id,
		MerchantID: merchantID,
		EntryType:  entryType,
		Amount:     amount,
		Reference:  reference,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// ReversalReference returns the reference of the REVERSAL that compensates ref.
func ReversalReference(ref string) string {
	return "REV_" + ref
}

// SignedSum adds up the balance-affecting entries.
func SignedSum(entries []*Entry) int64 {
	var sum int64
	for _, e := range entries {
		if e.EntryType.AffectsBalance() {
			sum += e.Amount
		}
	}
	return sum
}
