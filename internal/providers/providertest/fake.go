// Package providertest provides a scriptable processor for tests.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/providers"
)

// Fake implements every processor capability. Each call returns the
// matching field's value; nil funcs fall back to a plausible success.
type Fake struct {
	ProcessorName providers.Name

	Charge      func(providers.ChargeRequest) (*providers.Charge, error)
	Verify      func(reference string) (*providers.ChargeStatus, error)
	Resolve     func(accountNumber, bankCode string) (*providers.BankAccount, error)
	Transfer    func(providers.TransferRequest) (*providers.Transfer, error)
	IssueVA     func(providers.VirtualAccountRequest) (*providers.IssuedVirtualAccount, error)
	WebhookAuth error
	// Decode maps a raw body to an event. The default decodes the body as
	// FakeEvent.
	Decode func(body []byte) (providers.Event, error)

	mu        sync.Mutex
	charges   []providers.ChargeRequest
	transfers []providers.TransferRequest
}

var (
	_ providers.ChargeInitializer    = (*Fake)(nil)
	_ providers.ChargeVerifier       = (*Fake)(nil)
	_ providers.BankResolver         = (*Fake)(nil)
	_ providers.Transferer           = (*Fake)(nil)
	_ providers.VirtualAccountIssuer = (*Fake)(nil)
	_ providers.WebhookDecoder       = (*Fake)(nil)
)

// Registry returns a registry holding only f
func (f *Fake) Registry() *providers.Registry {
	r := providers.NewRegistry()
	r.Register(f.Name(), f)
	return r
}

func (f *Fake) Name() providers.Name {
	if f.ProcessorName == "" {
		return providers.Flutterwave
	}
	return f.ProcessorName
}

func (f *Fake) InitializeCharge(_ context.Context, req providers.ChargeRequest) (*providers.Charge, error) {
	f.mu.Lock()
	f.charges = append(f.charges, req)
	f.mu.Unlock()
	if f.Charge != nil {
		return f.Charge(req)
	}
	return &providers.Charge{PaymentURL: "https://checkout.test/" + req.Reference, ProcessorReference: "proc_" + req.Reference}, nil
}

func (f *Fake) VerifyCharge(_ context.Context, reference string) (*providers.ChargeStatus, error) {
	if f.Verify != nil {
		return f.Verify(reference)
	}
	return &providers.ChargeStatus{Reference: reference, State: providers.ChargePending}, nil
}

func (f *Fake) ResolveBankAccount(_ context.Context, accountNumber, bankCode string) (*providers.BankAccount, error) {
	if f.Resolve != nil {
		return f.Resolve(accountNumber, bankCode)
	}
	return &providers.BankAccount{AccountNumber: accountNumber, BankCode: bankCode, AccountName: "ADA OKAFOR"}, nil
}

func (f *Fake) InitiateTransfer(_ context.Context, req providers.TransferRequest) (*providers.Transfer, error) {
	f.mu.Lock()
	f.transfers = append(f.transfers, req)
	f.mu.Unlock()
	if f.Transfer != nil {
		return f.Transfer(req)
	}
	return &providers.Transfer{ID: "trf_" + req.Reference, Status: "NEW"}, nil
}

func (f *Fake) IssueVirtualAccount(_ context.Context, req providers.VirtualAccountRequest) (*providers.IssuedVirtualAccount, error) {
	if f.IssueVA != nil {
		return f.IssueVA(req)
	}
	return &providers.IssuedVirtualAccount{
		AccountNumber: "9900000001",
		BankName:      "Wema Bank",
		AccountName:   req.Name,
		OrderRef:      "URF_" + req.Reference,
	}, nil
}

func (f *Fake) VerifyWebhook(http.Header, []byte) error {
	return f.WebhookAuth
}

// FakeEvent is the default wire form understood by DecodeWebhook
type FakeEvent struct {
	Kind          string `json:"kind"`
	Reference     string `json:"reference"`
	AccountNumber string `json:"account_number"`
	MerchantID    string `json:"merchant_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Succeeded     bool   `json:"succeeded"`
}

func (f *Fake) DecodeWebhook(body []byte) (providers.Event, error) {
	if f.Decode != nil {
		return f.Decode(body)
	}
	var e FakeEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrInvalidPayload, err)
	}
	return e.Event(), nil
}

// Charges returns the charge requests seen so far
func (f *Fake) Charges() []providers.ChargeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.ChargeRequest(nil), f.charges...)
}

// Transfers returns the transfer requests seen so far
func (f *Fake) Transfers() []providers.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]providers.TransferRequest(nil), f.transfers...)
}
