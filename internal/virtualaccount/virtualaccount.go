// Package virtualaccount manages the dedicated account numbers merchants
// collect bank transfers on. The account number is the routing key the
// webhook reconciler uses to find the merchant to credit.
package virtualaccount

import (
	"context"
	"errors"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

var (
	ErrNotFound            = errors.New("virtual account not found")
	ErrExists              = errors.New("virtual account already exists")
	ErrForbidden           = errors.New("virtual account belongs to another merchant")
	ErrBVNRequired         = errors.New("BVN is required for NGN virtual accounts")
	ErrUnsupportedCurrency = errors.New("currency not supported for virtual accounts")
)

// Supported lists the currencies accounts can be issued in
var Supported = []money.Currency{money.NGN, money.USD, money.GBP, money.EUR, money.KES, money.GHS, money.ZAR}

// VirtualAccount is a processor-issued account number owned by one merchant.
// A merchant holds at most one per currency.
type VirtualAccount struct {
	ID            string         `json:"id"`
	MerchantID    string         `json:"merchant_id"`
	AccountNumber string         `json:"account_number"`
	BankName      string         `json:"bank_name"`
	AccountName   string         `json:"account_name"`
	Currency      money.Currency `json:"currency"`
	OrderRef      string         `json:"order_ref,omitempty"`
	Processor     providers.Name `json:"processor"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Store persists virtual accounts
type Store interface {
	// Insert returns ErrExists when the merchant already holds one in the
	// currency or the account number is taken.
	Insert(ctx context.Context, va *VirtualAccount) error
	Get(ctx context.Context, id string) (*VirtualAccount, error)
	FindByCurrency(ctx context.Context, merchantID string, currency money.Currency) (*VirtualAccount, error)
	FindByAccountNumber(ctx context.Context, accountNumber string) (*VirtualAccount, error)
	ListByMerchant(ctx context.Context, merchantID string) ([]*VirtualAccount, error)
	Delete(ctx context.Context, id string) error
}

// issueReference is stable per merchant and currency so a retried issue
// returns the account the processor already created.
func issueReference(merchantID string, currency money.Currency) string {
	return "VA_" + merchantID + "_" + string(currency)
}
