// Package providers defines the narrow capability contract the wallet core
// needs from payment processors, and the webhook events they decode into.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/money"
)

// Name identifies a processor
type Name string

const (
	Paystack    Name = "paystack"
	Flutterwave Name = "flutterwave"
	Monnify     Name = "monnify"
	Chapa       Name = "chapa"
)

// ParseName validates a processor name, case-insensitively
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	switch n {
	case Paystack, Flutterwave, Monnify, Chapa:
		return n, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProcessor, s)
}

// Errors
var (
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrUpstreamUnavailable = errors.New("processor unavailable")
	ErrUnknownProcessor    = errors.New("unknown processor")
	ErrUnsupported         = errors.New("capability not supported by processor")
	ErrInvalidPayload      = errors.New("invalid webhook payload")
)

// RejectedError is an explicit refusal by the processor. Unlike
// ErrUpstreamUnavailable the outcome is known.
type RejectedError struct {
	Processor  Name
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s rejected request (status %d): %s", e.Processor, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Processor, e.Message)
}

// IsRejected reports whether err carries an explicit processor rejection
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// ChargeRequest starts a hosted checkout
type ChargeRequest struct {
	Reference   string
	Amount      money.Money
	Email       string
	Name        string
	CallbackURL string
	Metadata    map[string]any
}

// Charge is the processor's answer to ChargeRequest
type Charge struct {
	PaymentURL         string
	ProcessorReference string
}

// ChargeState is a processor's view of a charge
type ChargeState string

const (
	ChargePending   ChargeState = "pending"
	ChargeSucceeded ChargeState = "success"
	ChargeFailed    ChargeState = "failed"
)

// ChargeStatus is the result of verifying a charge
type ChargeStatus struct {
	Reference          string
	ProcessorReference string
	State              ChargeState
	Amount             money.Money
}

// BankAccount is a resolved payout destination
type BankAccount struct {
	AccountNumber string
	BankCode      string
	AccountName   string
}

// TransferRequest pays out to a bank account
type TransferRequest struct {
	Reference     string
	Amount        money.Money
	BankCode      string
	AccountNumber string
	AccountName   string
	Narration     string
	CallbackURL   string
}

// Transfer is an accepted transfer. Completion arrives by webhook.
type Transfer struct {
	ID     string
	Status string
}

// VirtualAccountRequest asks the processor for a dedicated account number
type VirtualAccountRequest struct {
	Reference string
	Email     string
	Name      string
	BVN       string
	Currency  money.Currency
}

// IssuedVirtualAccount is a processor-issued account number
type IssuedVirtualAccount struct {
	AccountNumber string
	BankName      string
	AccountName   string
	OrderRef      string
}

// ChargeInitializer starts hosted checkouts
type ChargeInitializer interface {
	InitializeCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// ChargeVerifier checks the status of a charge by our reference
type ChargeVerifier interface {
	VerifyCharge(ctx context.Context, reference string) (*ChargeStatus, error)
}

// BankResolver looks up the holder name of a bank account
type BankResolver interface {
	ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*BankAccount, error)
}

// Transferer pays out to bank accounts. Implementations never retry: a
// repeated call could move money twice.
type Transferer interface {
	InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
}

// VirtualAccountIssuer issues dedicated account numbers
type VirtualAccountIssuer interface {
	IssueVirtualAccount(ctx context.Context, req VirtualAccountRequest) (*IssuedVirtualAccount, error)
}

// WebhookDecoder authenticates and decodes a processor's notifications
type WebhookDecoder interface {
	Name() Name
	// VerifyWebhook checks the signature over the raw body. It returns
	// ErrInvalidSignature when the header is missing or wrong, or when no
	// secret is configured.
	VerifyWebhook(header http.Header, body []byte) error
	// DecodeWebhook parses a verified body into exactly one Event. Malformed
	// JSON returns ErrInvalidPayload.
	DecodeWebhook(body []byte) (Event, error)
}
