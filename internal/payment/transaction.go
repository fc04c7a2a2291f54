// Package payment starts hosted-checkout charges and settles them into the
// ledger once the processor confirms them.
package payment

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Status represents the status of a transaction
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// transitions lists the legal next states. success and failed are terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusSuccess, StatusFailed},
	StatusProcessing: {StatusSuccess, StatusFailed},
}

// CanTransition reports whether from -> to is legal
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

var (
	ErrNotFound            = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid transaction transition")
	ErrAlreadySettled      = errors.New("transaction already settled")
	ErrAmountMismatch      = errors.New("reported amount differs from transaction")
	ErrUnsupportedCurrency = errors.New("currency not supported by wallet")
)

// ReferencePrefix marks charge references
const ReferencePrefix = providers.ChargePrefix

// NewReference returns a globally unique charge reference
func NewReference() string {
	return ReferencePrefix + ulid.Make().String()
}

// Transaction is a merchant's charge against a processor. Amount is in minor
// units.
type Transaction struct {
	ID                 string         `json:"id"`
	MerchantID         string         `json:"merchant_id"`
	Amount             int64          `json:"amount"`
	Currency           money.Currency `json:"currency"`
	Processor          providers.Name `json:"processor"`
	Reference          string         `json:"reference"`
	Status             Status         `json:"status"`
	PaymentURL         string         `json:"payment_url"`
	ProcessorReference string         `json:"processor_reference,omitempty"`
	CallbackURL        string         `json:"callback_url,omitempty"`
	CustomerEmail      string         `json:"customer_email,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewTransaction creates a pending transaction with a fresh reference
func NewTransaction(merchantID string, amount money.Money, processor providers.Name, callbackURL string, metadata map[string]any) (*Transaction, error) {
	if merchantID == "" {
		return nil, errors.New("merchant_id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	now := time.Now().UTC()
	return &Transaction{
		ID:          ulid.Make().String(),
		MerchantID:  merchantID,
		Amount:      amount.AmountMinor,
		Currency:    amount.Currency,
		Processor:   processor,
		Reference:   NewReference(),
		Status:      StatusPending,
		CallbackURL: callbackURL,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Money returns the charged amount
func (t *Transaction) Money() money.Money {
	return money.New(t.Amount, t.Currency)
}

// IsTerminal returns true once the transaction can no longer change.
func (t *Transaction) IsTerminal() bool {
	return len(transitions[t.Status]) == 0
}

// TransitionTo moves the transaction to next
func (t *Transaction) TransitionTo(next Status) error {
	if !CanTransition(t.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// CheckReported compares a processor-reported amount with the stored one.
// An empty reported currency is not compared.
func (t *Transaction) CheckReported(reported money.Money) error {
	if reported.AmountMinor != t.Amount || (reported.Currency != "" && reported.Currency != t.Currency) {
		return fmt.Errorf("%w: stored %s, reported %s", ErrAmountMismatch, t.Money(), reported)
	}
	return nil
}
