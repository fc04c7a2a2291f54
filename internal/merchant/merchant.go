// Package merchant holds the merchant profile the payment flows read: the
// payout bank account and the details processors need to issue accounts.
package merchant

import (
	"context"
	"errors"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

var (
	ErrNotFound      = errors.New("merchant not found")
	ErrAlreadyExists = errors.New("merchant already exists")
)

// PayoutAccount is the bank account withdrawals are paid into
type PayoutAccount struct {
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// Configured reports whether withdrawals have a destination
func (p PayoutAccount) Configured() bool {
	return p.BankCode != "" && p.AccountNumber != ""
}

// Merchant is a business collecting payments
type Merchant struct {
	ID                 string        `json:"id"`
	Email              string        `json:"email"`
	BusinessName       string        `json:"business_name"`
	Phone              string        `json:"phone,omitempty"`
	BVN                string        `json:"-"`
	VirtualAccountName string        `json:"virtual_account_name,omitempty"`
	Payout             PayoutAccount `json:"payout_account"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// DisplayName is the name shown to payers
func (m *Merchant) DisplayName() string {
	if m.VirtualAccountName != "" {
		return m.VirtualAccountName
	}
	return m.BusinessName
}

// Directory looks merchants up by id
type Directory interface {
	Get(ctx context.Context, id string) (*Merchant, error)
}

// Profile holds the fields a merchant may edit. Empty fields are left
// unchanged.
type Profile struct {
	BusinessName string
	Phone        string
}

// ProcessorCredentials are a merchant's own keys for a processor. Secrets
// are write-only: reads expose only which fields are set.
type ProcessorCredentials struct {
	MerchantID  string            `json:"merchant_id"`
	Processor   providers.Name    `json:"processor"`
	Credentials map[string]string `json:"-"`
	Fields      []string          `json:"fields"`
	Active      bool              `json:"is_active"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store persists merchants
type Store interface {
	Directory
	// Create inserts m, returning ErrAlreadyExists when the id or email is taken.
	Create(ctx context.Context, m *Merchant) error
	UpdateProfile(ctx context.Context, id string, p Profile) (*Merchant, error)
	SavePayoutAccount(ctx context.Context, id string, account PayoutAccount) error
	// UpsertProcessorCredentials stores one credential set per merchant and processor.
	UpsertProcessorCredentials(ctx context.Context, c *ProcessorCredentials) error
}
